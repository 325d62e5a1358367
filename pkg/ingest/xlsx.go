package ingest

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/cuemby/vigil/pkg/graph"
	"github.com/cuemby/vigil/pkg/log"
	"github.com/cuemby/vigil/pkg/vigilerr"
)

// ParseXLSXStream parses the first worksheet of an Excel workbook read
// from r. The first row is treated as a header and skipped; each
// subsequent row is expected to hold (field_type, value) in its first two
// columns.
func ParseXLSXStream(r io.Reader, salt string) ([]graph.NormalizedRecord, error) {
	wb, err := excelize.OpenReader(r)
	if err != nil {
		return nil, vigilerr.Wrap(vigilerr.KindUnsupportedFormat, "failed to open Excel workbook", err)
	}
	defer wb.Close()

	sheets := wb.GetSheetList()
	if len(sheets) == 0 {
		return nil, vigilerr.New(vigilerr.KindUnsupportedFormat, "Excel workbook has no sheets")
	}

	rows, err := wb.GetRows(sheets[0])
	if err != nil {
		return nil, vigilerr.Wrap(vigilerr.KindUnsupportedFormat, fmt.Sprintf("failed to read worksheet %q", sheets[0]), err)
	}

	logger := log.WithComponent("ingest.xlsx")

	var out []graph.NormalizedRecord
	for i, row := range rows {
		if i == 0 {
			continue // header
		}
		if len(row) < 2 {
			continue
		}

		fieldType := strings.ToLower(strings.TrimSpace(row[0]))
		raw := strings.TrimSpace(row[1])
		if fieldType == "" || raw == "" {
			continue
		}

		rec, err := Canonicalize(fieldType, raw, salt)
		if err != nil {
			logger.Debug().Err(err).Str("field_type", fieldType).Msg("skipping row: canonicalization failed")
			continue
		}
		out = append(out, rec)
	}

	return out, nil
}
