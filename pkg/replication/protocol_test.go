package replication

import (
	"bufio"
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/vigil/pkg/graph"
	"github.com/cuemby/vigil/pkg/vigilerr"
)

func TestWriteReadMessageRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)

	original := Message{
		Type: TypePush,
		Entries: []graph.ChangeLogEntry{
			{ID: 1, Timestamp: time.Now().UTC().Truncate(time.Second), Label: "Entity", Key: "k1"},
		},
	}

	require.NoError(t, WriteMessage(w, original))

	got, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, TypePush, got.Type)
	require.Len(t, got.Entries, 1)
	assert.Equal(t, "k1", got.Entries[0].Key)
}

func TestWriteMessageRejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)

	huge := make([]graph.ChangeLogEntry, 0, 200000)
	for i := 0; i < 200000; i++ {
		huge = append(huge, graph.ChangeLogEntry{Key: "0123456789012345678901234567890123456789"})
	}

	err := WriteMessage(w, Message{Type: TypePush, Entries: huge})
	require.Error(t, err)
	verr, ok := err.(*vigilerr.Error)
	require.True(t, ok)
	assert.Equal(t, vigilerr.KindFrameTooLarge, verr.Kind)
}

func TestReadMessageRejectsClaimedOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF}) // huge length prefix

	_, err := ReadMessage(&buf)
	require.Error(t, err)
	verr, ok := err.(*vigilerr.Error)
	require.True(t, ok)
	assert.Equal(t, vigilerr.KindFrameTooLarge, verr.Kind)
}

func TestMemWatermarksGetSet(t *testing.T) {
	w := NewMemWatermarks()
	assert.Equal(t, int64(0), w.Get("peer-a"))

	require.NoError(t, w.Set("peer-a", 12345))
	assert.Equal(t, int64(12345), w.Get("peer-a"))
	assert.Equal(t, int64(0), w.Get("peer-b"))
}

func TestBoltWatermarksPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	w1, err := OpenBoltWatermarks(dir)
	require.NoError(t, err)
	require.NoError(t, w1.Set("peer-a", 999))
	require.NoError(t, w1.Close())

	w2, err := OpenBoltWatermarks(dir)
	require.NoError(t, err)
	defer w2.Close()
	assert.Equal(t, int64(999), w2.Get("peer-a"))
}
