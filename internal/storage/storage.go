package storage

import (
	"context"

	"github.com/shohag/risebridge/internal/models"
)

// InstallationStore keeps one token record per instance id.
//
// Writes are last-writer-wins and implementations give no read-modify-write
// guarantees. Callers that refresh a record must serialize per instance id
// themselves (see token.Manager).
type InstallationStore interface {
	// Put inserts or overwrites the record for inst.InstanceID.
	Put(ctx context.Context, inst *models.Installation) error
	// Get returns nil, nil when no record exists.
	Get(ctx context.Context, instanceID string) (*models.Installation, error)
	// Delete removes the record. Deleting an absent id is not an error.
	Delete(ctx context.Context, instanceID string) error
	List(ctx context.Context) ([]models.Installation, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
