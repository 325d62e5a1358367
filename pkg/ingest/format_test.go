package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectFormat(t *testing.T) {
	t.Run("gzip magic", func(t *testing.T) {
		f, compressed := DetectFormat([]byte{0x1f, 0x8b, 0x08, 0x00, 0x00}, "")
		assert.Equal(t, FormatGzip, f)
		assert.True(t, compressed)
	})

	t.Run("zip magic", func(t *testing.T) {
		f, compressed := DetectFormat([]byte{0x50, 0x4b, 0x03, 0x04, 0x00}, "")
		assert.Equal(t, FormatZip, f)
		assert.True(t, compressed)
	})

	t.Run("ndjson", func(t *testing.T) {
		f, compressed := DetectFormat([]byte("{\"a\":1}\n{\"b\":2}\n"), "")
		assert.Equal(t, FormatNDJSON, f)
		assert.False(t, compressed)
	})

	t.Run("json", func(t *testing.T) {
		f, _ := DetectFormat([]byte("{\n  \"a\": 1,\n  \"b\": 2\n}\n"), "")
		assert.Equal(t, FormatJSON, f)
	})

	t.Run("csv", func(t *testing.T) {
		f, _ := DetectFormat([]byte("col1,col2\n1,2\n"), "")
		assert.Equal(t, FormatCSV, f)
	})

	t.Run("tsv", func(t *testing.T) {
		f, _ := DetectFormat([]byte("col1\tcol2\n1\t2\n"), "")
		assert.Equal(t, FormatTSV, f)
	})

	t.Run("hint is trusted", func(t *testing.T) {
		f, _ := DetectFormat([]byte("some data"), "csv")
		assert.Equal(t, FormatCSV, f)

		f, _ = DetectFormat([]byte("some data"), "ndjson")
		assert.Equal(t, FormatNDJSON, f)
	})

	t.Run("binary", func(t *testing.T) {
		f, compressed := DetectFormat([]byte{0xff, 0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06}, "")
		assert.Equal(t, FormatBinary, f)
		assert.False(t, compressed)
	})

	t.Run("empty peek defaults to text", func(t *testing.T) {
		f, _ := DetectFormat(nil, "")
		assert.Equal(t, FormatText, f)
	})
}
