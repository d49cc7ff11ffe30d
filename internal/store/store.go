// Package store persists fetched responses and report runs in SQLite.
package store

import (
	"context"
	"time"
)

// Cache is a namespaced byte cache with per-entry expiry. Tile sources and
// the census client share one Cache under different namespaces.
type Cache interface {
	// Get returns the cached value and true, or nil and false on a miss or
	// an expired entry.
	Get(ctx context.Context, namespace, key string) ([]byte, bool, error)
	Set(ctx context.Context, namespace, key string, data []byte, ttl time.Duration) error
}

// RunStatus is the lifecycle state of a report run.
type RunStatus string

// Run statuses.
const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run records one report invocation.
type Run struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Status    RunStatus `json:"status"`
	Outputs   []string  `json:"outputs,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
