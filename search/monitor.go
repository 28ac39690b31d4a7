package search

import "github.com/poiesic/feedsync/core"

// SearchMonitor observes the steps of a search. Useful for debugging and
// for CLI tracing.
type SearchMonitor interface {
	Start(tenant core.TenantID, query string)
	AfterEmbedding(dimensions int)
	AfterSemanticSearch(ids []core.ID)
	SemanticHit(article *core.Article, similarity float64)
	VerbatimHit(article *core.Article)
	Finish(results []*Result)
}

type noopMonitor struct{}

var _ SearchMonitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ core.TenantID, _ string)        {}
func (n *noopMonitor) AfterEmbedding(_ int)                   {}
func (n *noopMonitor) AfterSemanticSearch(_ []core.ID)        {}
func (n *noopMonitor) SemanticHit(_ *core.Article, _ float64) {}
func (n *noopMonitor) VerbatimHit(_ *core.Article)            {}
func (n *noopMonitor) Finish(_ []*Result)                     {}
