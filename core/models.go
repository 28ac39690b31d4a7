package core

import (
	"encoding/binary"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ID is a unique identifier for domain entities.
// It is generated using content-based hashing or database sequences.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// This ensures that identical content produces identical IDs.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// TenantID identifies the subscriber that owns feeds and usage budgets.
type TenantID string

// FeedStatus is the lifecycle state of a feed.
type FeedStatus string

const (
	FeedStatusActive FeedStatus = "active"
	FeedStatusPaused FeedStatus = "paused"
	FeedStatusError  FeedStatus = "error"
)

// Valid reports whether s is a known feed status.
func (s FeedStatus) Valid() bool {
	switch s {
	case FeedStatusActive, FeedStatusPaused, FeedStatusError:
		return true
	}
	return false
}

// SyncPriority selects the polling tier of a feed.
type SyncPriority string

const (
	PriorityHigh   SyncPriority = "high"
	PriorityMedium SyncPriority = "medium"
	PriorityLow    SyncPriority = "low"
)

// Priorities lists the tiers from most to least frequent.
var Priorities = []SyncPriority{PriorityHigh, PriorityMedium, PriorityLow}

// Valid reports whether p is one of the three tiers.
func (p SyncPriority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// EmbeddingStatus tracks enrichment of a single article.
type EmbeddingStatus string

const (
	EmbeddingPending   EmbeddingStatus = "pending"
	EmbeddingCompleted EmbeddingStatus = "completed"
	EmbeddingFailed    EmbeddingStatus = "failed"
	EmbeddingSkipped   EmbeddingStatus = "skipped"
)

// QueueStatus is the state of an embedding queue entry.
type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueFailed     QueueStatus = "failed"
)

// Operation is a metered provider operation type.
type Operation string

const (
	OpEmbeddings  Operation = "embeddings"
	OpClusterings Operation = "clusterings"
	OpSearches    Operation = "searches"
	OpSummaries   Operation = "summaries"
)

// Operations lists every metered operation.
var Operations = []Operation{OpEmbeddings, OpClusterings, OpSearches, OpSummaries}

// Valid reports whether op is a metered operation.
func (op Operation) Valid() bool {
	switch op {
	case OpEmbeddings, OpClusterings, OpSearches, OpSummaries:
		return true
	}
	return false
}

// Feed is a syndication source subscribed to by a tenant.
type Feed struct {
	Id                  ID
	Tenant              TenantID
	URL                 string
	Title               string
	Status              FeedStatus
	Priority            SyncPriority
	SyncIntervalHours   int
	NextSyncAt          *time.Time // nil means due immediately
	ETag                string
	LastModified        string
	LastFetchedAt       *time.Time
	LastError           string
	ConsecutiveFailures int
	InsertedAt          time.Time
	UpdatedAt           time.Time
}

// Article is a single item discovered in a feed.
type Article struct {
	Id              ID
	FeedId          ID
	GUID            string
	Title           string
	URL             string
	Content         string // sanitized HTML
	Excerpt         string // plain text
	ImageURL        string
	Author          string
	Language        string // ISO 639-1, empty when unknown
	PublishedAt     *time.Time
	Embedding       []float32
	EmbeddingStatus EmbeddingStatus
	ClusterId       ID // 0 when not clustered
	InsertedAt      time.Time
	UpdatedAt       time.Time
}

// EmbeddingText returns the text submitted to the embedder for this article.
func (a *Article) EmbeddingText() string {
	if a.Excerpt == "" {
		return a.Title
	}
	return a.Title + "\n\n" + a.Excerpt
}

// EmbeddingQueueEntry is a pending enrichment request for one article.
type EmbeddingQueueEntry struct {
	ArticleId   ID
	Tenant      TenantID
	Priority    int // lower runs first
	Attempts    int
	MaxAttempts int
	Status      QueueStatus
	LastError   string
	InsertedAt  time.Time
	UpdatedAt   time.Time
}

// DeadLetterItem is a durable record of work that exhausted its retries.
type DeadLetterItem struct {
	Id         string
	Operation  Operation
	Provider   string
	Tenant     TenantID
	Payload    []byte
	Error      string
	Attempts   int
	InsertedAt time.Time
}

// UsageRecord is an immutable usage-log entry.
type UsageRecord struct {
	Id           string
	Tenant       TenantID
	Operation    Operation
	Provider     string
	Model        string
	Count        int
	InputTokens  int
	OutputTokens int
	Cost         float64
	Timestamp    time.Time
}

// DailyLimits caps each metered operation per tenant per UTC day.
type DailyLimits struct {
	Embeddings  int `yaml:"embeddings"`
	Clusterings int `yaml:"clusterings"`
	Searches    int `yaml:"searches"`
	Summaries   int `yaml:"summaries"`
}

// Limit returns the cap for op.
func (l DailyLimits) Limit(op Operation) int {
	switch op {
	case OpEmbeddings:
		return l.Embeddings
	case OpClusterings:
		return l.Clusterings
	case OpSearches:
		return l.Searches
	case OpSummaries:
		return l.Summaries
	}
	return 0
}

// IsZero reports whether no limit has been set.
func (l DailyLimits) IsZero() bool {
	return l == DailyLimits{}
}

// AIUsageDaily aggregates one tenant's usage for one UTC date.
type AIUsageDaily struct {
	Tenant           TenantID
	Date             string // YYYY-MM-DD
	Counts           map[Operation]int
	TokensByProvider map[string]int
	CostUSD          float64
	Limits           DailyLimits // snapshot taken on the first write of the day
	UpdatedAt        time.Time
}

// Count returns the counter for op.
func (u *AIUsageDaily) Count(op Operation) int {
	if u == nil || u.Counts == nil {
		return 0
	}
	return u.Counts[op]
}

// Apply adds delta to the aggregate.
func (u *AIUsageDaily) Apply(delta UsageDelta) {
	if u.Counts == nil {
		u.Counts = make(map[Operation]int)
	}
	if u.TokensByProvider == nil {
		u.TokensByProvider = make(map[string]int)
	}
	u.Counts[delta.Operation] += delta.Count
	if delta.Provider != "" {
		u.TokensByProvider[delta.Provider] += delta.Tokens
	}
	u.CostUSD += delta.Cost
	if u.Limits.IsZero() {
		u.Limits = delta.Limits
	}
}

// UsageDelta is one increment of the daily aggregate.
type UsageDelta struct {
	Operation Operation
	Count     int
	Provider  string
	Tokens    int
	Cost      float64
	Limits    DailyLimits
}

// UsageDate formats t as the UTC day key used for daily aggregates.
func UsageDate(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

// Cluster groups semantically related articles from distinct feeds.
type Cluster struct {
	Id             ID
	Tenant         TenantID
	ArticleIds     []ID
	FeedIds        []ID
	AvgSimilarity  float64
	RelevanceScore int
	Title          string
	Summary        string
	TimeframeStart time.Time
	TimeframeEnd   time.Time
	ExpiresAt      time.Time
	SupersededAt   *time.Time
	InsertedAt     time.Time
}

// Active reports whether the cluster is neither expired nor superseded at now.
func (c *Cluster) Active(now time.Time) bool {
	return c.SupersededAt == nil && now.Before(c.ExpiresAt)
}

// CatalogEntry is a recommended feed from the static catalog.
type CatalogEntry struct {
	URL      string       `yaml:"url"`
	Title    string       `yaml:"title"`
	Category string       `yaml:"category"`
	Priority SyncPriority `yaml:"priority"`
}

// ScoredArticle is an article with a similarity score.
type ScoredArticle struct {
	Article *Article
	Score   float64
}

// Checkpoint records how far a resumable batch job has progressed.
type Checkpoint struct {
	Job       string
	LastID    ID
	Processed int
	UpdatedAt time.Time
}
