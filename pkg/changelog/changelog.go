// Package changelog implements the append-only, per-origin change log
// that pkg/replication's Server serves peer Pull requests from and
// appends peer-pushed entries to. The ingest path (pkg/ingesthttp) does
// not append its local upserts here, and nothing calls the replication
// Agent's Enqueue, so locally ingested entities reach peers by neither
// Push nor Pull.
package changelog

import (
	"sync"
	"time"

	"github.com/cuemby/vigil/pkg/graph"
)

// Recorder is the append/replay surface pkg/replication needs from a
// change log, satisfied by both the in-memory Log and the bbolt-backed
// BoltLog so callers can choose durability without replication caring
// which one it was handed.
type Recorder interface {
	Append(label, key string, props map[string]string, tombstone bool, versionVector map[string]uint64) graph.ChangeLogEntry
	Since(sinceTS time.Time) []graph.ChangeLogEntry
	Len() int
	Origin() string
}

// Log is an in-memory, append-only change log for a single origin. IDs are
// assigned sequentially starting at 1 and timestamps are non-decreasing,
// enforced by Append.
type Log struct {
	mu      sync.RWMutex
	origin  string
	nextID  uint64
	lastTS  time.Time
	entries []graph.ChangeLogEntry
}

// New creates an empty Log for the given origin.
func New(origin string) *Log {
	return &Log{origin: origin, nextID: 1}
}

// Append records a new entry for label/key/props/tombstone, assigning the
// next sequential ID and a timestamp no earlier than the previous entry's.
func (l *Log) Append(label, key string, props map[string]string, tombstone bool, versionVector map[string]uint64) graph.ChangeLogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().UTC()
	if !l.lastTS.IsZero() && now.Before(l.lastTS) {
		now = l.lastTS
	}
	l.lastTS = now

	entry := graph.ChangeLogEntry{
		ID:        l.nextID,
		Timestamp: now,
		Label:     label,
		Key:       key,
		Props:     props,
		Origin:    l.origin,
		Version:   versionVector,
		Tombstone: tombstone,
	}
	l.nextID++
	l.entries = append(l.entries, entry)
	return entry
}

// Since returns every entry with Timestamp strictly after sinceTS, in
// append order — the feed pkg/replication's Pull handler serves.
func (l *Log) Since(sinceTS time.Time) []graph.ChangeLogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]graph.ChangeLogEntry, 0, len(l.entries))
	for _, e := range l.entries {
		if e.Timestamp.After(sinceTS) {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of entries recorded so far.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Origin returns the log's origin ID.
func (l *Log) Origin() string {
	return l.origin
}

var _ Recorder = (*Log)(nil)
