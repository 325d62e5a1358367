package replication

import (
	"encoding/binary"
	"path/filepath"
	"sync"

	bolt "go.etcd.io/bbolt"
)

// Watermarks tracks, per peer, the Unix-second timestamp of the newest
// change log entry already pulled from that peer.
type Watermarks interface {
	Get(peerID string) int64
	Set(peerID string, unixSeconds int64) error
}

// MemWatermarks is an in-memory Watermarks, sufficient when a restart is
// allowed to re-pull from zero.
type MemWatermarks struct {
	mu   sync.RWMutex
	vals map[string]int64
}

// NewMemWatermarks builds an empty in-memory watermark tracker.
func NewMemWatermarks() *MemWatermarks {
	return &MemWatermarks{vals: make(map[string]int64)}
}

func (m *MemWatermarks) Get(peerID string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.vals[peerID]
}

func (m *MemWatermarks) Set(peerID string, unixSeconds int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vals[peerID] = unixSeconds
	return nil
}

var bucketWatermarks = []byte("replication_watermarks")

// BoltWatermarks is a bbolt-backed Watermarks, surviving a restart so
// replication resumes from the last acknowledged point instead of
// re-pulling full history.
type BoltWatermarks struct {
	mu   sync.RWMutex
	vals map[string]int64
	db   *bolt.DB
}

// OpenBoltWatermarks opens (creating if necessary) a bbolt-backed
// watermark store under dataDir, loading any previously recorded values.
func OpenBoltWatermarks(dataDir string) (*BoltWatermarks, error) {
	db, err := bolt.Open(filepath.Join(dataDir, "watermarks.db"), 0600, nil)
	if err != nil {
		return nil, err
	}

	vals := make(map[string]int64)
	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketWatermarks)
		if err != nil {
			return err
		}
		return b.ForEach(func(k, v []byte) error {
			vals[string(k)] = int64(binary.BigEndian.Uint64(v))
			return nil
		})
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltWatermarks{vals: vals, db: db}, nil
}

func (b *BoltWatermarks) Get(peerID string) int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.vals[peerID]
}

func (b *BoltWatermarks) Set(peerID string, unixSeconds int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.vals[peerID] = unixSeconds

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(unixSeconds))
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWatermarks).Put([]byte(peerID), buf[:])
	})
}

func (b *BoltWatermarks) Close() error {
	return b.db.Close()
}
