package ingest

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/cuemby/vigil/pkg/graph"
	"github.com/cuemby/vigil/pkg/log"
)

// ParseCSVStream parses CSV (or TSV, with delimiter set to '\t') data from
// r, where every row is a (field_type, value) pair preceded by a header
// row. Rows with fewer than two columns, or whose value fails
// canonicalization for its declared field type, are skipped and logged
// rather than aborting the whole dump.
func ParseCSVStream(r io.Reader, delimiter rune, salt string) ([]graph.NormalizedRecord, error) {
	if delimiter == 0 {
		delimiter = ','
	}

	reader := csv.NewReader(r)
	reader.Comma = delimiter
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	logger := log.WithComponent("ingest.csv")

	var out []graph.NormalizedRecord
	first := true
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv: %w", err)
		}
		if first {
			first = false
			continue // header row
		}
		if len(row) < 2 {
			continue
		}

		rec, err := Canonicalize(row[0], row[1], salt)
		if err != nil {
			logger.Debug().Err(err).Str("field_type", row[0]).Msg("skipping row: canonicalization failed")
			continue
		}
		out = append(out, rec)
	}

	return out, nil
}
