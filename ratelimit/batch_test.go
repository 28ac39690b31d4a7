package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/poiesic/feedsync/core"
	"github.com/poiesic/feedsync/storage"
	"github.com/poiesic/feedsync/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type embedItem struct {
	ArticleID core.ID
	Tenant    core.TenantID
}

func newTestDLQ(t *testing.T) *DeadLetterQueueManager {
	t.Helper()
	store, err := badger.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	dlq, err := NewDeadLetterQueueManager(store.DeadLetters, nil)
	require.NoError(t, err)
	return dlq
}

func TestProcessBatch_DeadLettersExhaustedItem(t *testing.T) {
	ctx := context.Background()
	dlq := newTestDLQ(t)
	processor := NewBatchProcessor(core.OpEmbeddings, "openai", dlq,
		WithBackoff[embedItem](fastBackoff),
		WithTenantFunc(func(i embedItem) core.TenantID { return i.Tenant }))

	items := []embedItem{{1, tenant}, {2, tenant}, {3, tenant}}
	calls := map[core.ID]int{}
	result := processor.ProcessBatch(ctx, items, func(ctx context.Context, item embedItem) error {
		calls[item.ArticleID]++
		if item.ArticleID == 2 {
			return errors.New("429 rate limit exceeded")
		}
		return nil
	})

	assert.Equal(t, []embedItem{items[0], items[2]}, result.Successful)
	assert.Empty(t, result.Failed)
	require.Len(t, result.DeadLettered, 1)
	assert.Equal(t, items[1], result.DeadLettered[0].Item)
	assert.Equal(t, fastBackoff.MaxAttempts, result.DeadLettered[0].Attempts)
	assert.Equal(t, fastBackoff.MaxAttempts, calls[2])
	assert.Equal(t, 1, calls[1])
	assert.Equal(t, 1, calls[3])

	stored, err := dlq.GetItems(ctx, 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, result.DeadLettered[0].DeadLetterID, stored[0].Id)
	assert.Equal(t, core.OpEmbeddings, stored[0].Operation)
	assert.Equal(t, "openai", stored[0].Provider)
	assert.Equal(t, tenant, stored[0].Tenant)
	assert.Equal(t, 3, stored[0].Attempts)
	assert.Contains(t, stored[0].Error, "rate limit")

	var payload embedItem
	require.NoError(t, json.Unmarshal(stored[0].Payload, &payload))
	assert.Equal(t, items[1], payload)
}

func TestProcessBatch_NonRetryableGoesToFailed(t *testing.T) {
	ctx := context.Background()
	dlq := newTestDLQ(t)
	processor := NewBatchProcessor(core.OpEmbeddings, "openai", dlq, WithBackoff[int](fastBackoff))

	calls := 0
	result := processor.ProcessBatch(ctx, []int{1, 2}, func(ctx context.Context, item int) error {
		calls++
		if item == 1 {
			return errors.New("input too long")
		}
		return nil
	})

	assert.Equal(t, []int{2}, result.Successful)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, 1, result.Failed[0].Attempts)
	assert.Empty(t, result.DeadLettered)
	assert.Equal(t, 2, calls)

	stored, err := dlq.GetItems(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, stored, "non-retryable failures are not dead-lettered")
}

func TestProcessBatch_NilDLQ(t *testing.T) {
	processor := NewBatchProcessor[int](core.OpEmbeddings, "mock", nil, WithBackoff[int](fastBackoff))
	result := processor.ProcessBatch(context.Background(), []int{1}, func(context.Context, int) error {
		return Retryable(errors.New("flaky"))
	})
	require.Len(t, result.DeadLettered, 1)
	assert.Empty(t, result.DeadLettered[0].DeadLetterID)
}

func TestDeadLetterQueueManager_Replay(t *testing.T) {
	ctx := context.Background()
	dlq := newTestDLQ(t)

	id, err := dlq.AddToQueue(ctx, core.OpSummaries, "openai", []byte(`{"cluster":1}`), errors.New("503"), 3, tenant)
	require.NoError(t, err)

	err = dlq.Replay(ctx, id, func(context.Context, *core.DeadLetterItem) error {
		return errors.New("still broken")
	})
	require.Error(t, err)
	_, err = dlq.GetItem(ctx, id)
	require.NoError(t, err, "failed replay keeps the item")

	var replayed *core.DeadLetterItem
	err = dlq.Replay(ctx, id, func(_ context.Context, item *core.DeadLetterItem) error {
		replayed = item
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, `{"cluster":1}`, string(replayed.Payload))

	_, err = dlq.GetItem(ctx, id)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDeadLetterQueueManager_RemoveItem(t *testing.T) {
	ctx := context.Background()
	dlq := newTestDLQ(t)

	first, err := dlq.AddToQueue(ctx, core.OpEmbeddings, "openai", nil, errors.New("timeout"), 3, "")
	require.NoError(t, err)
	_, err = dlq.AddToQueue(ctx, core.OpEmbeddings, "openai", nil, errors.New("timeout"), 3, "")
	require.NoError(t, err)

	items, err := dlq.GetItems(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, items, 1)

	require.NoError(t, dlq.RemoveItem(ctx, first))
	assert.ErrorIs(t, dlq.RemoveItem(ctx, first), storage.ErrNotFound)

	items, err = dlq.GetItems(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestNewDeadLetterQueueManager_RequiresRepo(t *testing.T) {
	_, err := NewDeadLetterQueueManager(nil, nil)
	assert.ErrorIs(t, err, ErrDeadLetterRepositoryRequired)
}
