package changelog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAssignsSequentialIDs(t *testing.T) {
	l := New("node-a")

	e1 := l.Append("Entity", "k1", nil, false, nil)
	e2 := l.Append("Entity", "k2", nil, false, nil)

	assert.Equal(t, uint64(1), e1.ID)
	assert.Equal(t, uint64(2), e2.ID)
	assert.Equal(t, "node-a", e1.Origin)
	assert.Equal(t, 2, l.Len())
}

func TestAppendTimestampsNonDecreasing(t *testing.T) {
	l := New("node-a")

	var prev time.Time
	for i := 0; i < 50; i++ {
		e := l.Append("Entity", "k", nil, false, nil)
		require.False(t, e.Timestamp.Before(prev))
		prev = e.Timestamp
	}
}

func TestSinceFiltersByTimestamp(t *testing.T) {
	l := New("node-a")
	l.Append("Entity", "k1", nil, false, nil)
	cutoff := time.Now().UTC()
	time.Sleep(time.Millisecond)
	e2 := l.Append("Entity", "k2", nil, false, nil)

	since := l.Since(cutoff)
	require.Len(t, since, 1)
	assert.Equal(t, e2.ID, since[0].ID)
}
