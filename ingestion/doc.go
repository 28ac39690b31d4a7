// Package ingestion coordinates what happens after a feed sync.
//
// The Pipeline observes scheduler results. New and changed article ids
// are put on the embedding queue, and a queue drain is submitted to the
// embedding worker pool. A drain embeds queued articles tenant by tenant
// within each tenant's daily embeddings budget. Transient provider errors
// are retried with backoff, and exhausted items go to the dead-letter
// queue. Once a drain embeds anything for a tenant, a clustering run for
// that tenant is submitted to the clustering pool.
//
// Failures inside the pipeline are logged and never fail the sync that
// triggered them.
package ingestion
