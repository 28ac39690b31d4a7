package badger

import (
	"encoding/binary"
	"time"

	"github.com/poiesic/feedsync/core"
)

// Key prefixes for different data types.
// Every prefix ends in ':' so that no prefix is a prefix of another.
const (
	feedPrefix            = "feed:"
	feedURLPrefix         = "feedurl:"
	feedNextSyncPrefix    = "feednext:"
	feedIDSeq             = "seq:feed"
	articlePrefix         = "art:"
	articleGUIDPrefix     = "artguid:"
	articleFeedDatePrefix = "artfeed:"
	articleDatePrefix     = "artdate:"
	articleIDSeq          = "seq:art"
	queuePrefix           = "embq:"
	deadLetterPrefix      = "dlq:"
	deadLetterIDPrefix    = "dlqid:"
	usageLogPrefix        = "usagelog:"
	usageDailyPrefix      = "usageday:"
	clusterPrefix         = "clu:"
	clusterTenantPrefix   = "clutenant:"
	clusterIDSeq          = "seq:clu"
	catalogPrefix         = "cat:"
	checkpointPrefix      = "ckpt:"
)

// keyBuilder assembles composite keys.
// Integers are written BigEndian so lexicographic order matches numeric order.
type keyBuilder struct {
	buf []byte
}

func newKey(prefix string) *keyBuilder {
	return &keyBuilder{buf: append(make([]byte, 0, len(prefix)+32), prefix...)}
}

func (k *keyBuilder) uint64(v uint64) *keyBuilder {
	k.buf = binary.BigEndian.AppendUint64(k.buf, v)
	return k
}

func (k *keyBuilder) time(t time.Time) *keyBuilder {
	return k.uint64(uint64(t.UnixMicro()))
}

// str appends s followed by a NUL separator.
func (k *keyBuilder) str(s string) *keyBuilder {
	k.buf = append(k.buf, s...)
	k.buf = append(k.buf, 0)
	return k
}

// raw appends s without a separator; use only for the final component.
func (k *keyBuilder) raw(s string) *keyBuilder {
	k.buf = append(k.buf, s...)
	return k
}

func (k *keyBuilder) bytes() []byte {
	return k.buf
}

// makeFeedKey generates a key for a feed by ID.
func makeFeedKey(id core.ID) []byte {
	return newKey(feedPrefix).uint64(uint64(id)).bytes()
}

// makeFeedURLKey generates the (tenant, url) uniqueness index key.
func makeFeedURLKey(tenant core.TenantID, url string) []byte {
	return newKey(feedURLPrefix).str(string(tenant)).raw(core.NormalizeURL(url)).bytes()
}

// makeFeedNextSyncKey generates the due-time index key.
// Format: prefix:nextSyncMicros:id, where a nil next sync sorts first.
func makeFeedNextSyncKey(next *time.Time, id core.ID) []byte {
	k := newKey(feedNextSyncPrefix)
	if next == nil {
		k.uint64(0)
	} else {
		k.time(*next)
	}
	return k.uint64(uint64(id)).bytes()
}

// nextSyncFromKey extracts the timestamp component of a due-time index key.
func nextSyncFromKey(key []byte) int64 {
	offset := len(feedNextSyncPrefix)
	return int64(binary.BigEndian.Uint64(key[offset : offset+8]))
}

// makeArticleKey generates a key for an article by ID.
func makeArticleKey(id core.ID) []byte {
	return newKey(articlePrefix).uint64(uint64(id)).bytes()
}

// makeArticleGUIDKey generates the (feed, guid) dedup index key.
func makeArticleGUIDKey(feedID core.ID, guid string) []byte {
	return newKey(articleGUIDPrefix).uint64(uint64(feedID)).raw(guid).bytes()
}

// makeArticleFeedDateKey generates the per-feed insertion index key.
// Format: prefix:feedID:insertedMicros:id
func makeArticleFeedDateKey(feedID core.ID, inserted time.Time, id core.ID) []byte {
	return newKey(articleFeedDatePrefix).uint64(uint64(feedID)).time(inserted).uint64(uint64(id)).bytes()
}

// makePartialArticleFeedKey generates the per-feed index prefix.
func makePartialArticleFeedKey(feedID core.ID) []byte {
	return newKey(articleFeedDatePrefix).uint64(uint64(feedID)).bytes()
}

// makeArticleDateKey generates the global insertion index key.
func makeArticleDateKey(inserted time.Time, id core.ID) []byte {
	return newKey(articleDatePrefix).time(inserted).uint64(uint64(id)).bytes()
}

// makePartialArticleDateKey generates a seek key for insertion-time ranges.
func makePartialArticleDateKey(inserted time.Time) []byte {
	return newKey(articleDatePrefix).time(inserted).bytes()
}

// makeQueueKey generates a key for an embedding queue entry.
func makeQueueKey(articleID core.ID) []byte {
	return newKey(queuePrefix).uint64(uint64(articleID)).bytes()
}

// makeDeadLetterKey generates a time-ordered key for a dead-letter item.
func makeDeadLetterKey(inserted time.Time, id string) []byte {
	return newKey(deadLetterPrefix).time(inserted).raw(id).bytes()
}

// makeDeadLetterIDKey generates the id -> primary key index entry.
func makeDeadLetterIDKey(id string) []byte {
	return newKey(deadLetterIDPrefix).raw(id).bytes()
}

// makeUsageLogKey generates a key for a usage-log entry.
// Format: prefix:tenant\0date\0timestampMicros:id
func makeUsageLogKey(record *core.UsageRecord) []byte {
	return newKey(usageLogPrefix).
		str(string(record.Tenant)).
		str(core.UsageDate(record.Timestamp)).
		time(record.Timestamp).
		raw(record.Id).
		bytes()
}

// makePartialUsageLogKey generates the prefix for one tenant-day of the log.
func makePartialUsageLogKey(tenant core.TenantID, date string) []byte {
	return newKey(usageLogPrefix).str(string(tenant)).str(date).bytes()
}

// makeUsageDailyKey generates a key for a daily aggregate.
func makeUsageDailyKey(tenant core.TenantID, date string) []byte {
	return newKey(usageDailyPrefix).str(string(tenant)).raw(date).bytes()
}

// makeClusterKey generates a key for a cluster by ID.
func makeClusterKey(id core.ID) []byte {
	return newKey(clusterPrefix).uint64(uint64(id)).bytes()
}

// makeClusterTenantKey generates the tenant index key for a cluster.
func makeClusterTenantKey(tenant core.TenantID, id core.ID) []byte {
	return newKey(clusterTenantPrefix).str(string(tenant)).uint64(uint64(id)).bytes()
}

// makePartialClusterTenantKey generates the tenant index prefix.
func makePartialClusterTenantKey(tenant core.TenantID) []byte {
	return newKey(clusterTenantPrefix).str(string(tenant)).bytes()
}

// makeCatalogKey generates a key for a catalog entry by normalized URL.
func makeCatalogKey(url string) []byte {
	return newKey(catalogPrefix).raw(core.NormalizeURL(url)).bytes()
}

// makeCheckpointKey generates a key for a job checkpoint.
func makeCheckpointKey(job string) []byte {
	return newKey(checkpointPrefix).raw(job).bytes()
}
