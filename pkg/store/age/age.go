// Package age adapts vigil's graph.Store contract to Apache AGE running
// atop PostgreSQL, the production persistence layer — see DESIGN.md and
// pkg/store/bolt for the local/dev counterpart these two implementations
// are kept interchangeable with.
package age

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cuemby/vigil/pkg/graph"
	"github.com/cuemby/vigil/pkg/merge"
	"github.com/cuemby/vigil/pkg/vigilerr"
)

// reserved property keys used to round-trip an EntityVersion's version
// vector and tombstone state through AGE vertex properties alongside its
// domain Props.
const (
	propOrigin    = "_origin"
	propTimestamp = "_timestamp"
	propCounter   = "_version"
	propTombstone = "_tombstone"
)

// querier is the subset of *pgxpool.Pool and pgx.Tx this package needs, so
// the read/write helpers below work identically against the pool (for
// MergeEntity) or a transaction (for MergeBatch).
type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Store is an Apache-AGE-backed graph.Store. Every write goes through a
// parameterized `cypher()` call: labels (entity types) are restricted to
// graph.SanitizeIdentifier output and interpolated, since AGE requires the
// graph name and query text as literals, but every property value is
// bound through the query's agtype parameter, never interpolated.
type Store struct {
	pool     *pgxpool.Pool
	graph    string
	resolver *merge.Resolver
}

// Connect opens a pgx connection pool against databaseURL and returns a
// Store targeting the named AGE graph.
func Connect(ctx context.Context, databaseURL, graphName string, cfg merge.Config) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, vigilerr.Wrap(vigilerr.KindStoreUnavailable, "failed to open database pool", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, vigilerr.Wrap(vigilerr.KindStoreUnavailable, "failed to reach database", err)
	}
	return &Store{pool: pool, graph: graphName, resolver: merge.NewResolver(cfg)}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return vigilerr.Wrap(vigilerr.KindStoreUnavailable, "database ping failed", err)
	}
	return nil
}

// propsToAgtype encodes an EntityVersion's domain props plus its reserved
// version/tombstone fields into the JSON object AGE's cypher() binds as
// the query's agtype parameter.
func propsToAgtype(ev graph.EntityVersion) (string, error) {
	sanitized := graph.SanitizeProps(ev.Props)

	props := make(map[string]interface{}, len(sanitized)+4)
	for k, v := range sanitized {
		props[k] = v
	}
	props[propOrigin] = ev.Version.Origin
	props[propTimestamp] = ev.Version.Timestamp.UTC().Format("2006-01-02T15:04:05Z")
	props[propCounter] = ev.Version.Version
	props[propTombstone] = ev.Tombstone

	params := map[string]interface{}{
		"key":   ev.Key,
		"props": props,
	}

	data, err := json.Marshal(params)
	if err != nil {
		return "", vigilerr.Wrap(vigilerr.KindStoreUnavailable, "failed to encode vertex properties", err)
	}
	return string(data), nil
}

// MergeEntity implements graph.Store: it reads any existing vertex with
// the same label and canonical key, resolves a merge against the
// incoming version, and upserts the merged property set.
func (s *Store) MergeEntity(ctx context.Context, ev graph.EntityVersion) error {
	return s.mergeOne(ctx, s.pool, ev)
}

// MergeBatch implements graph.Store. Each item is merged independently
// within one transaction; a failure rolls back the whole batch so callers
// can safely fall back to per-item MergeEntity calls.
func (s *Store) MergeBatch(ctx context.Context, evs []graph.EntityVersion) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return vigilerr.Wrap(vigilerr.KindStoreUnavailable, "failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	for _, ev := range evs {
		if err := s.mergeOne(ctx, tx, ev); err != nil {
			return vigilerr.Wrap(vigilerr.KindBatchFailed, "batch merge failed", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return vigilerr.Wrap(vigilerr.KindBatchFailed, "failed to commit batch", err)
	}
	return nil
}

func (s *Store) mergeOne(ctx context.Context, q querier, ev graph.EntityVersion) error {
	existing, found, err := s.getEntity(ctx, q, ev.EntityType, ev.Key)
	if err != nil {
		return err
	}

	merged := ev
	if found {
		merged, err = s.resolver.Merge(existing, ev)
		if err != nil {
			return err
		}
	}

	label := graph.SanitizeIdentifier(merged.EntityType)
	paramsJSON, err := propsToAgtype(merged)
	if err != nil {
		return err
	}

	cypher := fmt.Sprintf(`MERGE (n:%s {canonical_key: $key}) SET n = $props RETURN n`, label)
	sql := fmt.Sprintf(`SELECT * FROM cypher('%s', $$ %s $$, $1::agtype) as (v agtype)`, s.graph, cypher)

	if _, err := q.Exec(ctx, sql, paramsJSON); err != nil {
		return vigilerr.Wrap(vigilerr.KindStoreUnavailable, "failed to merge entity", err)
	}
	return nil
}

// GetEntity implements graph.Store.
func (s *Store) GetEntity(ctx context.Context, entityType, key string) (graph.EntityVersion, bool, error) {
	return s.getEntity(ctx, s.pool, entityType, key)
}

func (s *Store) getEntity(ctx context.Context, q querier, entityType, key string) (graph.EntityVersion, bool, error) {
	label := graph.SanitizeIdentifier(entityType)

	cypher := fmt.Sprintf(`MATCH (n:%s {canonical_key: $key}) RETURN n`, label)
	sql := fmt.Sprintf(`SELECT * FROM cypher('%s', $$ %s $$, $1::agtype) as (v agtype)`, s.graph, cypher)

	paramsJSON, err := json.Marshal(map[string]string{"key": key})
	if err != nil {
		return graph.EntityVersion{}, false, vigilerr.Wrap(vigilerr.KindStoreUnavailable, "failed to encode lookup key", err)
	}

	var raw string
	if err := q.QueryRow(ctx, sql, string(paramsJSON)).Scan(&raw); err != nil {
		if err == pgx.ErrNoRows {
			return graph.EntityVersion{}, false, nil
		}
		return graph.EntityVersion{}, false, vigilerr.Wrap(vigilerr.KindStoreUnavailable, "failed to look up entity", err)
	}

	ev, err := parseVertex(raw, entityType, key)
	if err != nil {
		return graph.EntityVersion{}, false, err
	}
	return ev, true, nil
}

func parseUTC(s string) (time.Time, error) {
	return time.Parse("2006-01-02T15:04:05Z", s)
}

// parseVertex decodes AGE's textual agtype vertex representation —
// `{"id": ..., "label": ..., "properties": {...}}::vertex` — into an
// EntityVersion, splitting reserved version/tombstone fields back out of
// the property map.
func parseVertex(raw, entityType, key string) (graph.EntityVersion, error) {
	jsonPart := strings.TrimSuffix(raw, "::vertex")

	var vertex struct {
		Properties map[string]interface{} `json:"properties"`
	}
	if err := json.Unmarshal([]byte(jsonPart), &vertex); err != nil {
		return graph.EntityVersion{}, vigilerr.Wrap(vigilerr.KindStoreUnavailable, "failed to decode vertex", err)
	}

	props := make(map[string]string, len(vertex.Properties))
	ev := graph.EntityVersion{EntityType: entityType, Key: key}
	for k, v := range vertex.Properties {
		s := fmt.Sprintf("%v", v)
		switch k {
		case propOrigin:
			ev.Version.Origin = s
		case propTimestamp:
			if t, err := parseUTC(s); err == nil {
				ev.Version.Timestamp = t
			}
		case propCounter:
			if n, ok := v.(float64); ok {
				ev.Version.Version = uint64(n)
			}
		case propTombstone:
			ev.Tombstone = s == "true"
		default:
			props[k] = s
		}
	}
	ev.Props = props

	return ev, nil
}
