package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCSVStreamBasic(t *testing.T) {
	data := "field_type,value\nip,192.168.1.1\ndomain,Example.COM\n"

	recs, err := ParseCSVStream(strings.NewReader(data), ',', "salt")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "ip", recs[0].FieldType)
	assert.Equal(t, "192.168.1.1", recs[0].Canonical)
	assert.Equal(t, "domain", recs[1].FieldType)
	assert.Equal(t, "example.com", recs[1].Canonical)
}

func TestParseCSVStreamSkipsShortRows(t *testing.T) {
	data := "field_type,value\nip\nip,10.0.0.1\n"

	recs, err := ParseCSVStream(strings.NewReader(data), ',', "salt")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "10.0.0.1", recs[0].Canonical)
}

func TestParseCSVStreamSkipsBadCanonicalization(t *testing.T) {
	data := "field_type,value\nip,not-an-ip\nip,10.0.0.2\n"

	recs, err := ParseCSVStream(strings.NewReader(data), ',', "salt")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "10.0.0.2", recs[0].Canonical)
}

func TestParseCSVStreamTabDelimiter(t *testing.T) {
	data := "field_type\tvalue\nip\t172.16.0.1\n"

	recs, err := ParseCSVStream(strings.NewReader(data), '\t', "salt")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "172.16.0.1", recs[0].Canonical)
}
