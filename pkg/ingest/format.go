// Package ingest implements streaming format detection and per-format
// parsing for uploaded telemetry dumps: NDJSON, JSON, CSV, TSV, XLSX, gzip,
// and zip. Every parser here emits values through pkg/canon; there is no
// second, permissive normalization path.
package ingest

import (
	"strings"
)

// FormatType is a detected stream format.
type FormatType string

const (
	FormatCSV    FormatType = "csv"
	FormatTSV    FormatType = "tsv"
	FormatNDJSON FormatType = "ndjson"
	FormatJSON   FormatType = "json"
	FormatXLSX   FormatType = "xlsx"
	FormatGzip   FormatType = "gzip"
	FormatZip    FormatType = "zip"
	FormatBinary FormatType = "binary"
	FormatText   FormatType = "text"
)

// FormatFromHint parses a user-supplied format hint string.
func FormatFromHint(hint string) (FormatType, bool) {
	switch strings.ToLower(hint) {
	case "csv":
		return FormatCSV, true
	case "tsv":
		return FormatTSV, true
	case "ndjson", "jsonl":
		return FormatNDJSON, true
	case "json":
		return FormatJSON, true
	case "xlsx", "excel":
		return FormatXLSX, true
	case "gzip", "gz":
		return FormatGzip, true
	case "zip":
		return FormatZip, true
	default:
		return "", false
	}
}

// DetectFormat inspects a peek buffer (and optional hint) and returns the
// detected format along with whether the stream is compressed. hint, when
// it maps to a known FormatType, is trusted outright. Otherwise detection
// falls through: gzip/zip magic bytes, printable-ratio binary check,
// JSON/NDJSON shape, then CSV/TSV first-line delimiter, else plain text.
func DetectFormat(peek []byte, hint string) (format FormatType, compressed bool) {
	if hint != "" {
		if f, ok := FormatFromHint(hint); ok {
			return f, f == FormatGzip || f == FormatZip
		}
	}

	if len(peek) >= 2 && peek[0] == 0x1f && peek[1] == 0x8b {
		return FormatGzip, true
	}

	if len(peek) >= 4 && peek[0] == 0x50 && peek[1] == 0x4b {
		// All "PK"-prefixed archives are reported as generic zip; telling
		// xlsx apart from a generic zip needs [Content_Types].xml sniffing,
		// which we don't do (see SPEC_FULL.md Open Question). Callers that
		// know they're uploading Excel should pass hint=xlsx.
		return FormatZip, true
	}

	printable := 0
	for _, b := range peek {
		if isPrintable(b) {
			printable++
		}
	}
	ratio := 1.0
	if len(peek) > 0 {
		ratio = float64(printable) / float64(len(peek))
	}
	if ratio < 0.7 {
		return FormatBinary, false
	}

	text := string(peek)
	trimmed := strings.TrimLeft(text, " \t\r\n")

	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		lines := strings.Split(text, "\n")
		if len(lines) > 1 {
			ndjsonLike := true
			for _, l := range lines {
				l = strings.TrimSpace(l)
				if l == "" || strings.HasPrefix(l, "{") || strings.HasPrefix(l, "[") {
					continue
				}
				ndjsonLike = false
				break
			}
			if ndjsonLike {
				return FormatNDJSON, false
			}
		}
		return FormatJSON, false
	}

	firstLine := text
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		firstLine = text[:nl]
	}
	if strings.Contains(firstLine, ",") {
		return FormatCSV, false
	}
	if strings.Contains(firstLine, "\t") {
		return FormatTSV, false
	}

	return FormatText, false
}

func isPrintable(b byte) bool {
	switch b {
	case 0x09, 0x0A, 0x0D:
		return true
	}
	return b >= 0x20 && b <= 0x7E
}
