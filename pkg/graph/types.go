// Package graph defines the property-graph data model vigil normalizes
// telemetry dumps into, plus the Store contract persistence and
// replication bind against.
package graph

import "time"

// NormalizedRecord is a single canonicalized field extracted from an
// ingest dump: its declared field type, the raw value as uploaded, and the
// canonical form produced by pkg/canon.
type NormalizedRecord struct {
	FieldType string `json:"field_type"`
	Raw       string `json:"raw"`
	Canonical string `json:"canonical"`
	CanonKey  string `json:"canon_key"`
}

// Entity is a deduplicated graph node identified by its canonical key.
type Entity struct {
	EntityType string            `json:"entity_type"`
	Key        string            `json:"key"`
	Props      map[string]string `json:"props"`
}

// Sighting records one observation of an Entity within a Dump, preserving
// provenance (which dump, which row, when it was seen).
type Sighting struct {
	EntityKey string    `json:"entity_key"`
	DumpID    string    `json:"dump_id"`
	RowIndex  int       `json:"row_index"`
	SeenAt    time.Time `json:"seen_at"`
}

// Row is one source row of a Dump, holding every NormalizedRecord
// extracted from it.
type Row struct {
	Index   int                `json:"index"`
	Records []NormalizedRecord `json:"records"`
}

// Dump is one uploaded telemetry file, tracked for provenance.
type Dump struct {
	ID          string    `json:"id"`
	Format      string    `json:"format"`
	ReceivedAt  time.Time `json:"received_at"`
	SourceLabel string    `json:"source_label"`
	RowCount    int       `json:"row_count"`
}

// CooccurrenceEdge links two entities observed together in the same row of
// the same dump.
type CooccurrenceEdge struct {
	FromKey string `json:"from_key"`
	ToKey   string `json:"to_key"`
	DumpID  string `json:"dump_id"`
	Weight  int    `json:"weight"`
}

// CredentialEdge links an email entity to a hash entity observed together,
// the credential-leak-specific edge shape.
type CredentialEdge struct {
	EmailKey string `json:"email_key"`
	HashKey  string `json:"hash_key"`
	DumpID   string `json:"dump_id"`
}

// VersionVector timestamps an entity mutation at a single origin. Newer-
// than ordering compares Timestamp first, then falls back to lexicographic
// comparison of Origin to break ties deterministically.
type VersionVector struct {
	Origin    string    `json:"origin"`
	Timestamp time.Time `json:"timestamp"`
	Version   uint64    `json:"version"`
}

// NewerThan reports whether v happened strictly after other under the
// deterministic ordering merge resolution requires.
func (v VersionVector) NewerThan(other VersionVector) bool {
	if !v.Timestamp.Equal(other.Timestamp) {
		return v.Timestamp.After(other.Timestamp)
	}
	return v.Origin > other.Origin
}

// EntityVersion is the unit merge resolution operates on: an entity's
// property set as of one VersionVector, possibly tombstoned.
type EntityVersion struct {
	EntityType string            `json:"entity_type"`
	Key        string            `json:"key"`
	Props      map[string]string `json:"props"`
	Version    VersionVector     `json:"version"`
	Tombstone  bool              `json:"tombstone"`
}

// ChangeLogEntry is one append-only record in a per-origin change log, the
// source of truth replication pushes and pulls from.
type ChangeLogEntry struct {
	ID        uint64            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Label     string            `json:"label"`
	Key       string            `json:"key"`
	Props     map[string]string `json:"props"`
	Origin    string            `json:"origin"`
	Version   map[string]uint64 `json:"version_vector"`
	Tombstone bool              `json:"tombstone"`
}
