package merge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/vigil/pkg/graph"
	"github.com/cuemby/vigil/pkg/vigilerr"
)

func vv(origin string, unixSeconds int64) graph.VersionVector {
	return graph.VersionVector{Origin: origin, Timestamp: time.Unix(unixSeconds, 0).UTC()}
}

func TestVersionVectorNewerThan(t *testing.T) {
	v1 := vv("node1", 1000)
	v2 := vv("node2", 2000)
	v3 := vv("node1", 2000)

	assert.False(t, v1.NewerThan(v2))
	assert.True(t, v2.NewerThan(v1))
	assert.True(t, v3.NewerThan(v1))

	// Tie-break by origin string.
	v4 := vv("node1", 2000)
	v5 := vv("node2", 2000)
	assert.True(t, v5.NewerThan(v4))
}

func TestMergeLWW(t *testing.T) {
	cfg := Config{DefaultStrategy: LastWriterWins}
	r := NewResolver(cfg)

	local := graph.EntityVersion{
		EntityType: "FieldValue", Key: "test_key",
		Props: map[string]string{"value": "old"}, Version: vv("node1", 1000),
	}
	remote := graph.EntityVersion{
		EntityType: "FieldValue", Key: "test_key",
		Props: map[string]string{"value": "new"}, Version: vv("node2", 2000),
	}

	merged, err := r.Merge(local, remote)
	require.NoError(t, err)
	assert.Equal(t, "new", merged.Props["value"])
	assert.Equal(t, int64(2000), merged.Version.Timestamp.Unix())
}

func TestMergeSightings(t *testing.T) {
	cfg := Config{Rules: map[string]Rule{
		"Sighting": {Strategy: MergeSightings, MergeFields: []string{"count", "last_seen"}},
	}}
	r := NewResolver(cfg)

	local := graph.EntityVersion{
		EntityType: "Sighting", Key: "test_key",
		Props: map[string]string{"count": "5", "last_seen": "1000"}, Version: vv("node1", 1000),
	}
	remote := graph.EntityVersion{
		EntityType: "Sighting", Key: "test_key",
		Props: map[string]string{"count": "3", "last_seen": "2000"}, Version: vv("node2", 2000),
	}

	merged, err := r.Merge(local, remote)
	require.NoError(t, err)
	assert.Equal(t, "8", merged.Props["count"])
	assert.Equal(t, "2000", merged.Props["last_seen"])
}

func TestMergeSightingsFirstSeenKeepsOlder(t *testing.T) {
	cfg := Config{Rules: map[string]Rule{
		"Sighting": {Strategy: MergeSightings, MergeFields: []string{"first_seen"}},
	}}
	r := NewResolver(cfg)

	local := graph.EntityVersion{
		EntityType: "Sighting", Key: "k",
		Props: map[string]string{"first_seen": "1000"}, Version: vv("node1", 1000),
	}
	remote := graph.EntityVersion{
		EntityType: "Sighting", Key: "k",
		Props: map[string]string{"first_seen": "500"}, Version: vv("node2", 2000),
	}

	merged, err := r.Merge(local, remote)
	require.NoError(t, err)
	assert.Equal(t, "500", merged.Props["first_seen"])
}

func TestMergeSightingsPreservesLocalUnknownFields(t *testing.T) {
	// Documented asymmetry: fields absent from MergeFields/LWWFields come
	// only from the local side, never the remote.
	cfg := Config{Rules: map[string]Rule{
		"Sighting": {Strategy: MergeSightings},
	}}
	r := NewResolver(cfg)

	local := graph.EntityVersion{
		EntityType: "Sighting", Key: "k",
		Props: map[string]string{"note": "local-note"}, Version: vv("node1", 1000),
	}
	remote := graph.EntityVersion{
		EntityType: "Sighting", Key: "k",
		Props: map[string]string{"note": "remote-note"}, Version: vv("node2", 2000),
	}

	merged, err := r.Merge(local, remote)
	require.NoError(t, err)
	assert.Equal(t, "local-note", merged.Props["note"])
}

func TestTombstoneWins(t *testing.T) {
	cfg := Config{DefaultStrategy: Tombstone}
	r := NewResolver(cfg)

	local := graph.EntityVersion{
		EntityType: "FieldValue", Key: "test_key",
		Props: map[string]string{"value": "exists"}, Version: vv("node1", 1000),
	}
	remote := graph.EntityVersion{
		EntityType: "FieldValue", Key: "test_key",
		Props: map[string]string{}, Version: vv("node2", 2000), Tombstone: true,
	}

	merged, err := r.Merge(local, remote)
	require.NoError(t, err)
	assert.True(t, merged.Tombstone)
	assert.Equal(t, int64(2000), merged.Version.Timestamp.Unix())
}

func TestTombstoneBothSidesUsesNewer(t *testing.T) {
	cfg := Config{DefaultStrategy: Tombstone}
	r := NewResolver(cfg)

	local := graph.EntityVersion{EntityType: "t", Key: "k", Version: vv("node1", 1000), Tombstone: true}
	remote := graph.EntityVersion{EntityType: "t", Key: "k", Version: vv("node2", 2000), Tombstone: true}

	merged, err := r.Merge(local, remote)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), merged.Version.Timestamp.Unix())
}

func TestConfigDefaultRule(t *testing.T) {
	cfg := Config{DefaultStrategy: MergeSightings}
	rule := cfg.RuleFor("UnknownType")
	assert.Equal(t, MergeSightings, rule.Strategy)
}

func TestMergeDifferentTypesError(t *testing.T) {
	r := NewResolver(Config{})

	local := graph.EntityVersion{EntityType: "FieldValue", Key: "key1", Version: vv("node1", 1000)}
	remote := graph.EntityVersion{EntityType: "Sighting", Key: "key1", Version: vv("node2", 2000)}

	_, err := r.Merge(local, remote)
	require.Error(t, err)
	ve, ok := vigilerr.As(err)
	require.True(t, ok)
	assert.Equal(t, vigilerr.KindIncompatibleMerge, ve.Kind)
}

func TestMergeDifferentKeysError(t *testing.T) {
	r := NewResolver(Config{})

	local := graph.EntityVersion{EntityType: "FieldValue", Key: "key1", Version: vv("node1", 1000)}
	remote := graph.EntityVersion{EntityType: "FieldValue", Key: "key2", Version: vv("node2", 2000)}

	_, err := r.Merge(local, remote)
	require.Error(t, err)
}

// TestMergeIdempotent checks merge(a, merge(a, b)) == merge(a, b) for LWW,
// one of the testable properties every strategy's convergence depends on.
func TestMergeIdempotent(t *testing.T) {
	r := NewResolver(Config{DefaultStrategy: LastWriterWins})

	a := graph.EntityVersion{EntityType: "t", Key: "k", Props: map[string]string{"v": "a"}, Version: vv("n1", 1000)}
	b := graph.EntityVersion{EntityType: "t", Key: "k", Props: map[string]string{"v": "b"}, Version: vv("n2", 2000)}

	ab, err := r.Merge(a, b)
	require.NoError(t, err)

	a_ab, err := r.Merge(a, ab)
	require.NoError(t, err)

	assert.Equal(t, ab, a_ab)
}

// TestMergeCommutative checks merge(a, b) == merge(b, a) for pure LWW.
func TestMergeCommutative(t *testing.T) {
	r := NewResolver(Config{DefaultStrategy: LastWriterWins})

	a := graph.EntityVersion{EntityType: "t", Key: "k", Props: map[string]string{"v": "a"}, Version: vv("n1", 1000)}
	b := graph.EntityVersion{EntityType: "t", Key: "k", Props: map[string]string{"v": "b"}, Version: vv("n2", 2000)}

	ab, err := r.Merge(a, b)
	require.NoError(t, err)
	ba, err := r.Merge(b, a)
	require.NoError(t, err)

	assert.Equal(t, ab, ba)
}
