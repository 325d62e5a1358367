package age

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/vigil/pkg/graph"
)

func TestPropsToAgtypeEncodesPropsAndReservedFields(t *testing.T) {
	ev := graph.EntityVersion{
		EntityType: "ip",
		Key:        "abc123",
		Props:      map[string]string{"hits": "3", "bad key!": "x"},
		Version: graph.VersionVector{
			Origin:    "node-a",
			Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
			Version:   7,
		},
	}

	raw, err := propsToAgtype(ev)
	require.NoError(t, err)
	assert.Contains(t, raw, `"key":"abc123"`)
	assert.Contains(t, raw, `"bad_key_"`)
	assert.Contains(t, raw, `"_origin":"node-a"`)
	assert.Contains(t, raw, `"_timestamp":"2026-01-02T03:04:05Z"`)
}

func TestParseVertexSplitsReservedFields(t *testing.T) {
	raw := `{"id": 1, "label": "ip", "properties": ` +
		`{"hits": "3", "_origin": "node-a", "_timestamp": "2026-01-02T03:04:05Z", ` +
		`"_version": 7, "_tombstone": "false"}}::vertex`

	ev, err := parseVertex(raw, "ip", "abc123")
	require.NoError(t, err)
	assert.Equal(t, "ip", ev.EntityType)
	assert.Equal(t, "abc123", ev.Key)
	assert.Equal(t, "3", ev.Props["hits"])
	assert.Equal(t, "node-a", ev.Version.Origin)
	assert.Equal(t, uint64(7), ev.Version.Version)
	assert.False(t, ev.Tombstone)
	assert.True(t, ev.Version.Timestamp.Equal(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)))

	_, hasOrigin := ev.Props[propOrigin]
	assert.False(t, hasOrigin)
}

func TestParseVertexTombstoned(t *testing.T) {
	raw := `{"id": 1, "label": "ip", "properties": {"_tombstone": "true"}}::vertex`

	ev, err := parseVertex(raw, "ip", "k")
	require.NoError(t, err)
	assert.True(t, ev.Tombstone)
}

func TestParseUTC(t *testing.T) {
	ts, err := parseUTC("2026-01-02T03:04:05Z")
	require.NoError(t, err)
	assert.Equal(t, 2026, ts.Year())
}
