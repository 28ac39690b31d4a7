package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/poiesic/feedsync/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalUnmarshalID(t *testing.T) {
	tests := []struct {
		name string
		id   core.ID
	}{
		{"zero ID", core.ID(0)},
		{"small ID", core.ID(42)},
		{"large ID", core.ID(18446744073709551615)},
		{"content-based ID", core.IDFromContent("test content")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := MarshalID(tt.id)
			require.Len(t, data, 8)

			decoded, err := UnmarshalID(data)
			require.NoError(t, err)
			assert.Equal(t, tt.id, decoded)
		})
	}
}

func TestUnmarshalID_Invalid(t *testing.T) {
	_, err := UnmarshalID([]byte{1, 2, 3})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSerializationFailed))
}

func TestMarshalArticle_PreservesOptionalFields(t *testing.T) {
	published := time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC)
	article := &core.Article{
		Id:              7,
		FeedId:          3,
		GUID:            "guid-7",
		Title:           "A title",
		PublishedAt:     &published,
		Embedding:       []float32{0.25, 0.5},
		EmbeddingStatus: core.EmbeddingCompleted,
	}

	data, err := Marshal(article)
	require.NoError(t, err)

	decoded, err := Unmarshal[core.Article](data)
	require.NoError(t, err)
	require.NotNil(t, decoded.PublishedAt)
	assert.True(t, published.Equal(*decoded.PublishedAt))
	assert.Equal(t, article.Embedding, decoded.Embedding)
	assert.Equal(t, core.EmbeddingCompleted, decoded.EmbeddingStatus)
}

func TestUnmarshal_Corrupt(t *testing.T) {
	_, err := Unmarshal[core.Feed]([]byte("{not json"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSerializationFailed))
}
