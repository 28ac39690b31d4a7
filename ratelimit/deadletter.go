package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/poiesic/feedsync/core"
	"github.com/poiesic/feedsync/storage"
)

// DeadLetterQueueManager records work that exhausted its retries and
// supports inspection, removal and replay. Items stay until removed.
type DeadLetterQueueManager struct {
	repo   storage.DeadLetterRepository
	clock  func() time.Time
	logger *slog.Logger
}

// NewDeadLetterQueueManager creates a manager over repo.
func NewDeadLetterQueueManager(repo storage.DeadLetterRepository, logger *slog.Logger) (*DeadLetterQueueManager, error) {
	if repo == nil {
		return nil, ErrDeadLetterRepositoryRequired
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DeadLetterQueueManager{
		repo:   repo,
		clock:  time.Now,
		logger: logger.With("component", "dead-letter-queue"),
	}, nil
}

// AddToQueue stores a failed operation and returns its id.
func (m *DeadLetterQueueManager) AddToQueue(ctx context.Context, op core.Operation, provider string, payload []byte, cause error, attempts int, tenant core.TenantID) (string, error) {
	item := &core.DeadLetterItem{
		Id:         uuid.NewString(),
		Operation:  op,
		Provider:   provider,
		Tenant:     tenant,
		Payload:    payload,
		Attempts:   attempts,
		InsertedAt: m.clock().UTC(),
	}
	if cause != nil {
		item.Error = cause.Error()
	}
	if err := m.repo.AddDeadLetter(ctx, item); err != nil {
		return "", fmt.Errorf("add dead letter: %w", err)
	}
	m.logger.Warn("operation dead-lettered",
		"id", item.Id,
		"operation", op,
		"provider", provider,
		"tenant", tenant,
		"attempts", attempts,
		"err", item.Error)
	return item.Id, nil
}

// GetItems returns up to limit items, oldest first. A limit <= 0 returns all.
func (m *DeadLetterQueueManager) GetItems(ctx context.Context, limit int) ([]*core.DeadLetterItem, error) {
	return m.repo.GetDeadLetters(ctx, limit)
}

// GetItem returns one item.
func (m *DeadLetterQueueManager) GetItem(ctx context.Context, id string) (*core.DeadLetterItem, error) {
	return m.repo.GetDeadLetter(ctx, id)
}

// RemoveItem deletes an item.
func (m *DeadLetterQueueManager) RemoveItem(ctx context.Context, id string) error {
	return m.repo.RemoveDeadLetter(ctx, id)
}

// Replay runs fn against the stored item and removes it when fn succeeds.
// A failed replay leaves the item in place.
func (m *DeadLetterQueueManager) Replay(ctx context.Context, id string, fn func(context.Context, *core.DeadLetterItem) error) error {
	item, err := m.repo.GetDeadLetter(ctx, id)
	if err != nil {
		return err
	}
	if err := fn(ctx, item); err != nil {
		m.logger.Info("replay failed", "id", id, "err", err)
		return fmt.Errorf("replay %s: %w", id, err)
	}
	return m.repo.RemoveDeadLetter(ctx, id)
}
