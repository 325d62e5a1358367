package ingest

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/cuemby/vigil/pkg/graph"
	"github.com/cuemby/vigil/pkg/log"
	"github.com/cuemby/vigil/pkg/vigilerr"
)

// ParseNDJSONStream parses newline-delimited JSON from r, one record per
// line. Each line may be an object (looked up by field_type/type/field and
// value/v/raw/val keys), a two-element array [field_type, value], or a
// "field_type,value" string as a last resort. Unparseable lines and lines
// that fail canonicalization are skipped and logged.
func ParseNDJSONStream(r io.Reader, salt string) ([]graph.NormalizedRecord, error) {
	logger := log.WithComponent("ingest.ndjson")

	var out []graph.NormalizedRecord
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		fieldType, raw, ok := extractFieldAndValue(line)
		if !ok {
			logger.Debug().Str("line", line).Msg("skipping line: could not extract field_type/value")
			continue
		}

		rec, err := Canonicalize(fieldType, raw, salt)
		if err != nil {
			logger.Debug().Err(err).Str("field_type", fieldType).Msg("skipping line: canonicalization failed")
			continue
		}
		out = append(out, rec)
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return nil, vigilerr.Wrap(vigilerr.KindLineTooLong, "ndjson line exceeds 10 MiB", err)
		}
		return nil, err
	}

	return out, nil
}

func extractFieldAndValue(line string) (fieldType, raw string, ok bool) {
	var v interface{}
	if err := json.Unmarshal([]byte(line), &v); err != nil {
		return csvFallback(line)
	}

	switch val := v.(type) {
	case map[string]interface{}:
		for k, vv := range val {
			s, isStr := vv.(string)
			if !isStr {
				continue
			}
			switch k {
			case "field_type", "type", "field":
				fieldType = strings.ToLower(strings.TrimSpace(s))
			case "value", "v", "raw", "val":
				raw = strings.TrimSpace(s)
			}
		}
		if fieldType == "" || raw == "" {
			return "", "", false
		}
		return fieldType, raw, true
	case []interface{}:
		if len(val) < 2 {
			return "", "", false
		}
		ft, ftOK := val[0].(string)
		rv, rvOK := val[1].(string)
		if !ftOK || !rvOK {
			return "", "", false
		}
		return strings.ToLower(strings.TrimSpace(ft)), strings.TrimSpace(rv), true
	case string:
		return csvFallback(val)
	default:
		return "", "", false
	}
}

func csvFallback(line string) (fieldType, raw string, ok bool) {
	idx := strings.IndexByte(line, ',')
	if idx < 0 {
		return "", "", false
	}
	return strings.ToLower(strings.TrimSpace(line[:idx])), strings.TrimSpace(line[idx+1:]), true
}
