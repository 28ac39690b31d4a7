package mock

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockEmbedder_Deterministic(t *testing.T) {
	m := NewMockEmbedder()
	ctx := context.Background()

	a, err := m.EmbedText(ctx, "hello")
	require.NoError(t, err)
	b, err := m.EmbedText(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 384)
	assert.Equal(t, 2, m.CallCount())

	var sum float64
	for _, v := range a {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-4)
}

func TestMockEmbedder_CustomFunc(t *testing.T) {
	m := &MockEmbedder{Dimensions: 3}
	m.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		return nil, assert.AnError
	}
	_, err := m.EmbedTexts(context.Background(), []string{"x"})
	assert.ErrorIs(t, err, assert.AnError)

	m.Reset()
	vecs, err := m.EmbedTexts(context.Background(), []string{"x", "y"})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)
	assert.Len(t, vecs[0], 3)
	assert.Equal(t, 1, m.CallCount())
}

func TestMockProvider(t *testing.T) {
	p := NewMockProvider()
	summary, err := p.Summarizer().SummarizeCluster(context.Background(), []string{"First", "Second"})
	require.NoError(t, err)
	assert.Equal(t, "First", summary.Title)
	assert.Equal(t, "mock", p.Info().Name)
	assert.Equal(t, 1, p.(*MockProvider).GetMockSummarizer().CallCount())
	assert.NoError(t, p.Close())
}
