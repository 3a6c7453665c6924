package store

import (
	"context"

	"conductor/internal/models"
)

// BatchStore persists one BatchRecord per completed scheduler run. Records
// are append-only: a later save supersedes but never overwrites an earlier
// one, so the store always keeps history and exposes "latest".
type BatchStore interface {
	// Save writes a new record for the outcomes and returns its identifier.
	Save(ctx context.Context, outcomes []models.TaskOutcome) (string, error)
	// Load returns the record saved under recordID.
	Load(ctx context.Context, recordID string) (*models.BatchRecord, error)
	// LoadLatest returns the most recently saved record and its identifier.
	LoadLatest(ctx context.Context) (*models.BatchRecord, string, error)
	// LoadFailedFromLatest filters the latest record down to failed outcomes.
	LoadFailedFromLatest(ctx context.Context) ([]models.TaskOutcome, string, error)
}
