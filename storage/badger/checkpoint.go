// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package badger

import (
	"context"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/feedsync/core"
	"github.com/poiesic/feedsync/storage"
)

// CheckpointRepository implements storage.CheckpointRepository for BadgerDB.
type CheckpointRepository struct {
	backend *Backend
}

var _ storage.CheckpointRepository = (*CheckpointRepository)(nil)

// NewCheckpointRepository creates a new CheckpointRepository.
func NewCheckpointRepository(backend *Backend) *CheckpointRepository {
	return &CheckpointRepository{
		backend: backend,
	}
}

// SaveCheckpoint persists a checkpoint for a job.
func (r *CheckpointRepository) SaveCheckpoint(ctx context.Context, checkpoint *core.Checkpoint) error {
	checkpoint.UpdatedAt = time.Now().UTC()
	return r.backend.Update(func(tx *badger.Txn) error {
		return setValue(tx, makeCheckpointKey(checkpoint.Job), checkpoint)
	})
}

// LoadCheckpoint retrieves the checkpoint for a job.
// Returns nil, nil if no checkpoint exists.
func (r *CheckpointRepository) LoadCheckpoint(ctx context.Context, job string) (*core.Checkpoint, error) {
	var checkpoint *core.Checkpoint
	err := r.backend.View(func(tx *badger.Txn) error {
		var err error
		checkpoint, err = getValue[core.Checkpoint](tx, makeCheckpointKey(job))
		return err
	})
	return checkpoint, err
}

// ClearCheckpoint removes the checkpoint for a job.
func (r *CheckpointRepository) ClearCheckpoint(ctx context.Context, job string) error {
	return r.backend.Update(func(tx *badger.Txn) error {
		return tx.Delete(makeCheckpointKey(job))
	})
}
