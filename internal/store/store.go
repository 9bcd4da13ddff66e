// Package store persists room snapshots so battles survive a restart.
package store

import (
	"context"
	"time"

	"github.com/ethanchen143/LoopBop-sub001/internal/engine"
)

// Record is the latest persisted snapshot of one room.
type Record struct {
	Code    string
	Version int
	State   engine.State
}

type Store interface {
	// Save upserts rec, keeping the newer version when both exist.
	Save(ctx context.Context, rec Record) error
	Delete(ctx context.Context, code string) error
	// DeleteCreatedBefore removes rooms created before cutoff and reports how many.
	DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	// LoadActive returns rooms created at or after since.
	LoadActive(ctx context.Context, since time.Time) ([]Record, error)
}
