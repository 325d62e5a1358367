// Package bolt is a bbolt-backed graph.Store: a local/dev and
// test-friendly Apache-AGE stand-in that keeps one bucket per entity
// type and resolves conflicting writes through pkg/merge instead of plain
// overwrite.
package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/vigil/pkg/graph"
	"github.com/cuemby/vigil/pkg/merge"
)

// Store is a bbolt-backed graph.Store. Each entity type gets its own
// bucket, created on first write; entities are keyed within their bucket
// by their canonical key.
type Store struct {
	db       *bolt.DB
	resolver *merge.Resolver
}

// Open creates or opens a bbolt database file under dataDir, named
// "vigil-graph.db", and returns a Store configured with the given merge
// resolution rules.
func Open(dataDir string, cfg merge.Config) (*Store, error) {
	dbPath := filepath.Join(dataDir, "vigil-graph.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open graph database: %w", err)
	}

	return &Store{db: db, resolver: merge.NewResolver(cfg)}, nil
}

func bucketName(entityType string) []byte {
	return []byte("entity:" + entityType)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(_ context.Context) error {
	return s.db.View(func(tx *bolt.Tx) error { return nil })
}

// GetEntity implements graph.Store.
func (s *Store) GetEntity(_ context.Context, entityType, key string) (graph.EntityVersion, bool, error) {
	var ev graph.EntityVersion
	var found bool

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName(entityType))
		if b == nil {
			return nil
		}
		data := b.Get([]byte(key))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &ev); err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return graph.EntityVersion{}, false, err
	}
	return ev, found, nil
}

// MergeEntity implements graph.Store: it looks up any existing version of
// the same (EntityType, Key), resolves a merge against the incoming
// version, and writes the result back.
func (s *Store) MergeEntity(ctx context.Context, ev graph.EntityVersion) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketName(ev.EntityType))
		if err != nil {
			return err
		}

		merged := ev
		if existing := b.Get([]byte(ev.Key)); existing != nil {
			var local graph.EntityVersion
			if err := json.Unmarshal(existing, &local); err != nil {
				return err
			}
			merged, err = s.resolver.Merge(local, ev)
			if err != nil {
				return err
			}
		}

		data, err := json.Marshal(merged)
		if err != nil {
			return err
		}
		return b.Put([]byte(ev.Key), data)
	})
}

// MergeBatch implements graph.Store. bbolt transactions are all-or-nothing,
// so a batch either fully applies or fully fails — callers still get the
// documented per-item fallback contract from the persistence batcher when
// this returns an error.
func (s *Store) MergeBatch(ctx context.Context, evs []graph.EntityVersion) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, ev := range evs {
			b, err := tx.CreateBucketIfNotExists(bucketName(ev.EntityType))
			if err != nil {
				return err
			}

			merged := ev
			if existing := b.Get([]byte(ev.Key)); existing != nil {
				var local graph.EntityVersion
				if err := json.Unmarshal(existing, &local); err != nil {
					return err
				}
				merged, err = s.resolver.Merge(local, ev)
				if err != nil {
					return err
				}
			}

			data, err := json.Marshal(merged)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(ev.Key), data); err != nil {
				return err
			}
		}
		return nil
	})
}
