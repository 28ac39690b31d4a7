// Package reembed backfills the embedding queue from stored articles.
//
// A backfill walks every article in id order and re-enqueues the ones whose
// embedding is pending or failed. With Config.All set it resets every
// article so a new embedding model can be rolled out. Progress is persisted
// as a checkpoint after each batch so an interrupted run resumes where it
// stopped.
package reembed
