package changelog

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/vigil/pkg/graph"
	"github.com/cuemby/vigil/pkg/log"
)

var bucketEntries = []byte("changelog_entries")

// BoltLog is an optionally-durable Log: every Append is mirrored to a
// bbolt file so the change log (and therefore replication's view of local
// history) survives a restart. Durability is optional per SPEC_FULL.md;
// callers that don't need it can use New instead.
type BoltLog struct {
	*Log
	db *bolt.DB
}

// OpenBolt opens (creating if necessary) a bbolt-backed change log under
// dataDir named "<origin>-changelog.db", replaying any existing entries to
// rebuild in-memory state.
func OpenBolt(dataDir, origin string) (*BoltLog, error) {
	dbPath := filepath.Join(dataDir, origin+"-changelog.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open change log database: %w", err)
	}

	l := New(origin)

	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketEntries)
		if err != nil {
			return err
		}
		return b.ForEach(func(_, v []byte) error {
			var e graph.ChangeLogEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			l.entries = append(l.entries, e)
			if e.ID >= l.nextID {
				l.nextID = e.ID + 1
			}
			if e.Timestamp.After(l.lastTS) {
				l.lastTS = e.Timestamp
			}
			return nil
		})
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltLog{Log: l, db: db}, nil
}

// Append records the entry in memory and persists it to bbolt, keyed by
// its big-endian ID so ForEach replays in ID order. Matches Recorder's
// signature: a persistence failure is logged rather than returned, since
// the in-memory Append it wraps can't fail either and callers (pkg/replication)
// treat every local append as authoritative once it returns.
func (b *BoltLog) Append(label, key string, props map[string]string, tombstone bool, versionVector map[string]uint64) graph.ChangeLogEntry {
	entry := b.Log.Append(label, key, props, tombstone, versionVector)

	data, err := json.Marshal(entry)
	if err != nil {
		log.WithComponent("changelog").Error().Err(err).Uint64("id", entry.ID).Msg("failed to marshal change log entry for persistence")
		return entry
	}

	idKey := make([]byte, 8)
	binary.BigEndian.PutUint64(idKey, entry.ID)

	err = b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketEntries)
		return bkt.Put(idKey, data)
	})
	if err != nil {
		log.WithComponent("changelog").Error().Err(err).Uint64("id", entry.ID).Msg("failed to persist change log entry")
	}
	return entry
}

var _ Recorder = (*BoltLog)(nil)

func (b *BoltLog) Close() error {
	return b.db.Close()
}
