package mock

import (
	"context"
	"strings"
	"sync"

	"github.com/poiesic/feedsync/ai"
)

// MockSummarizer is a test double for ai.Summarizer.
type MockSummarizer struct {
	// SummarizeClusterFunc is called by SummarizeCluster if set.
	// If nil, the first title becomes the headline.
	SummarizeClusterFunc func(ctx context.Context, titles []string) (*ai.ClusterSummary, error)

	mu        sync.Mutex
	callCount int
}

// NewMockSummarizer creates a mock summarizer with default behavior.
func NewMockSummarizer() *MockSummarizer {
	return &MockSummarizer{}
}

// SummarizeCluster returns a canned summary built from the titles.
func (m *MockSummarizer) SummarizeCluster(ctx context.Context, titles []string) (*ai.ClusterSummary, error) {
	m.mu.Lock()
	m.callCount++
	m.mu.Unlock()

	if m.SummarizeClusterFunc != nil {
		return m.SummarizeClusterFunc(ctx, titles)
	}
	if len(titles) == 0 {
		return &ai.ClusterSummary{}, nil
	}
	return &ai.ClusterSummary{
		Title:   titles[0],
		Summary: strings.Join(titles, "; "),
	}, nil
}

// CallCount returns the number of times SummarizeCluster was called.
func (m *MockSummarizer) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// Reset clears the call count and custom functions.
func (m *MockSummarizer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount = 0
	m.SummarizeClusterFunc = nil
}
