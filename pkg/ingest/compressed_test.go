package ingest

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gzipBytes(t *testing.T, payload string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte(payload))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func zipBytes(t *testing.T, name, payload string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(name)
	require.NoError(t, err)
	_, err = w.Write([]byte(payload))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestDecompressGzip(t *testing.T) {
	out, err := DecompressGzip(bytes.NewReader(gzipBytes(t, "field_type,value\nip,10.0.0.1\n")))
	require.NoError(t, err)
	assert.Equal(t, "field_type,value\nip,10.0.0.1\n", string(out))
}

func TestDecompressGzipRejectsInvalidStream(t *testing.T) {
	_, err := DecompressGzip(bytes.NewReader([]byte("not gzip data")))
	require.Error(t, err)
}

func TestExtractFirstZipEntry(t *testing.T) {
	data := zipBytes(t, "dump.csv", "field_type,value\ndomain,example.com\n")

	out, err := ExtractFirstZipEntry(data)
	require.NoError(t, err)
	assert.Equal(t, "field_type,value\ndomain,example.com\n", string(out))
}

func TestExtractFirstZipEntryRejectsInvalidArchive(t *testing.T) {
	_, err := ExtractFirstZipEntry([]byte("not a zip file"))
	require.Error(t, err)
}
