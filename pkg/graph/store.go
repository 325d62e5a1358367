package graph

import "context"

// Store is the capability every persistence consumer (the batcher, the
// replication engine's apply path) depends on. It is a narrow interface,
// not a concrete driver, so test doubles and the two real
// implementations (pkg/store/bolt for local/dev use, pkg/store/age for
// production Apache AGE/PostgreSQL) can stand in for each other — this is
// the Go replacement for the original's dynamic-dispatch persistence
// trait, see DESIGN.md.
type Store interface {
	// MergeEntity upserts a single EntityVersion by its (EntityType, Key),
	// applying merge resolution against any existing version.
	MergeEntity(ctx context.Context, ev EntityVersion) error

	// MergeBatch upserts many EntityVersions in one round-trip. A failure
	// must not partially apply: callers fall back to per-item MergeEntity
	// calls when MergeBatch fails.
	MergeBatch(ctx context.Context, evs []EntityVersion) error

	// GetEntity looks up the current EntityVersion for a key, used by
	// the merge resolver to find the local side of a merge.
	GetEntity(ctx context.Context, entityType, key string) (EntityVersion, bool, error)

	// Ping checks store reachability for health checks.
	Ping(ctx context.Context) error

	Close() error
}
