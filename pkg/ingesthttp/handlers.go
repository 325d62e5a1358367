package ingesthttp

import (
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/vigil/pkg/graph"
	"github.com/cuemby/vigil/pkg/ingest"
	"github.com/cuemby/vigil/pkg/log"
	"github.com/cuemby/vigil/pkg/vigilerr"
)

// originLabel tags every EntityVersion this process writes. A real
// multi-site deployment derives this from the configured site identity;
// this package only runs the single-process ingest surface, so a fixed
// label is enough to keep the version vector well-formed.
const originLabel = "ingest"

// fieldValueLabel is the entity type every canonicalized record upserts
// under, matching the original's "FieldValue" label.
const fieldValueLabel = "FieldValue"

func writeError(w http.ResponseWriter, err error) {
	kind := vigilerr.KindUnsupportedFormat
	if ve, ok := vigilerr.As(err); ok {
		kind = ve.Kind
	}
	status := vigilerr.HTTPStatus(kind)
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, "%v", err)
}

// persistRecord builds an EntityVersion from a NormalizedRecord, running
// its canonical value through the PII policy engine before the value ever
// reaches the graph store, then submits it to the batcher, falling back to
// a synchronous store write on back-pressure — the same fallback the
// original handler performs on a full/closed persistence channel.
// dumpID ties the upsert back to the upload it was extracted from
// (Sighting provenance); callers that have no dump context (tests) may
// pass an empty string.
func (s *appState) persistRecord(ctx context.Context, rec graph.NormalizedRecord, dumpID string) error {
	value := rec.Canonical
	if s.pii != nil {
		protected, err := s.pii.Apply(rec.FieldType, rec.Canonical)
		if err != nil {
			return vigilerr.Wrap(vigilerr.KindUnsupportedFormat, "PII policy application failed", err)
		}
		value = protected
	}

	props := map[string]string{
		"field_type": rec.FieldType,
		"value":      value,
	}
	if dumpID != "" {
		props["dump_id"] = dumpID
	}

	ev := graph.EntityVersion{
		EntityType: fieldValueLabel,
		Key:        rec.CanonKey,
		Props:      props,
		Version: graph.VersionVector{
			Origin:    originLabel,
			Timestamp: time.Now().UTC(),
			Version:   1,
		},
	}

	if err := s.batcher.Submit(ev); err != nil {
		s.metrics.IngestErrorsTotal.WithLabelValues("queue_backpressure").Inc()
		if err2 := s.store.MergeEntity(ctx, ev); err2 != nil {
			return vigilerr.Wrap(vigilerr.KindStoreUnavailable, "synchronous fallback persist failed", err2)
		}
	}

	s.metrics.IngestRecordsTotal.WithLabelValues(rec.FieldType).Inc()
	return nil
}

// handleNDJSON implements POST /ingest/ndjson: parses the streamed body as
// newline-delimited JSON and responds with the JSON array of
// NormalizedRecords it extracted.
func (s *appState) handleNDJSON(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	recs, err := ingest.ParseNDJSONStream(r.Body, s.salt)
	if err != nil {
		s.metrics.IngestErrorsTotal.WithLabelValues("ndjson_parse").Inc()
		writeError(w, err)
		return
	}

	dumpID := uuid.NewString()
	log.WithDumpID(dumpID).Debug().Int("records", len(recs)).Msg("ndjson dump received")

	for _, rec := range recs {
		if err := s.persistRecord(r.Context(), rec, dumpID); err != nil {
			writeError(w, err)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(recs)
}

// bulkResponse is the response body for POST /ingest/bulk.
type bulkResponse struct {
	Kind       string `json:"kind"`
	Preview    string `json:"preview"`
	Bytes      int    `json:"bytes"`
	Filename   string `json:"filename"`
	Compressed bool   `json:"compressed"`
	DumpID     string `json:"dump_id"`
}

const peekSize = 64 * 1024

// handleBulk implements POST /ingest/bulk: streams the raw body to a temp
// file, detects its format from a peek buffer, and optionally hands it to
// the background normalizer when auto-processing is enabled.
func (s *appState) handleBulk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	dumpID := uuid.NewString()
	tmpPath := filepath.Join(os.TempDir(), fmt.Sprintf("vigil_dump_%s.bin", dumpID))
	f, err := os.Create(tmpPath)
	if err != nil {
		writeError(w, vigilerr.Wrap(vigilerr.KindStoreUnavailable, "failed to create temp file", err))
		return
	}
	defer f.Close()

	peek := make([]byte, 0, peekSize)
	buf := make([]byte, 32*1024)
	total := 0

	for {
		n, rerr := r.Body.Read(buf)
		if n > 0 {
			total += n
			if len(peek) < peekSize {
				take := peekSize - len(peek)
				if take > n {
					take = n
				}
				peek = append(peek, buf[:take]...)
			}
			if _, werr := f.Write(buf[:n]); werr != nil {
				writeError(w, vigilerr.Wrap(vigilerr.KindStoreUnavailable, "failed writing temp file", werr))
				return
			}
		}
		if rerr != nil {
			break
		}
	}

	format, compressed := ingest.DetectFormat(peek, r.URL.Query().Get("format"))

	preview := string(peek)
	if len(preview) > 256 {
		preview = preview[:256]
	}

	resp := bulkResponse{
		Kind:       string(format),
		Preview:    preview,
		Bytes:      total,
		Filename:   tmpPath,
		Compressed: compressed,
		DumpID:     dumpID,
	}

	s.metrics.IngestBytesTotal.Add(float64(total))

	log.WithDumpID(dumpID).Info().Str("format", string(format)).Int("bytes", total).Msg("bulk dump received")

	if s.autoProcessBulk {
		go s.processBulkDump(tmpPath, dumpID, format, compressed)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// processBulkDump parses a completed bulk upload in the background and
// persists every record it yields, mirroring the original's gated
// auto-process path. Errors are logged, never surfaced — the upload
// response has already been sent.
func (s *appState) processBulkDump(path, dumpID string, format ingest.FormatType, compressed bool) {
	logger := log.WithDumpID(dumpID)

	data, err := os.ReadFile(path)
	if err != nil {
		logger.Error().Err(err).Str("path", path).Msg("failed to reopen bulk dump for background processing")
		return
	}

	if compressed {
		switch format {
		case ingest.FormatGzip:
			decompressed, derr := ingest.DecompressGzip(strings.NewReader(string(data)))
			if derr != nil {
				logger.Error().Err(derr).Msg("failed to decompress gzip bulk dump")
				return
			}
			data = decompressed
		case ingest.FormatZip:
			decompressed, derr := ingest.ExtractFirstZipEntry(data)
			if derr != nil {
				logger.Error().Err(derr).Msg("failed to extract zip bulk dump")
				return
			}
			data = decompressed
		}
	}

	var recs []graph.NormalizedRecord
	var perr error
	switch format {
	case ingest.FormatNDJSON:
		recs, perr = ingest.ParseNDJSONStream(strings.NewReader(string(data)), s.salt)
	case ingest.FormatCSV:
		recs, perr = ingest.ParseCSVStream(strings.NewReader(string(data)), ',', s.salt)
	case ingest.FormatTSV:
		recs, perr = ingest.ParseCSVStream(strings.NewReader(string(data)), '\t', s.salt)
	case ingest.FormatXLSX:
		recs, perr = ingest.ParseXLSXStream(strings.NewReader(string(data)), s.salt)
	default:
		logger.Debug().Str("format", string(format)).Msg("bulk dump format not auto-processable, skipping")
		return
	}
	if perr != nil {
		logger.Error().Err(perr).Msg("failed to parse bulk dump")
		return
	}

	ctx := context.Background()
	for _, rec := range recs {
		if err := s.persistRecord(ctx, rec, dumpID); err != nil {
			logger.Error().Err(err).Str("canon_key", rec.CanonKey).Msg("failed to persist record from bulk dump")
		}
	}
}

// multipartResponse is the response body for POST /ingest/multipart.
type multipartResponse struct {
	Format       string `json:"format"`
	Compressed   bool   `json:"compressed"`
	RecordsCount int    `json:"records_count"`
	DumpID       string `json:"dump_id"`
}

// handleMultipart implements POST /ingest/multipart: a multipart form with
// a "format" field naming the parser to use and a "file" part holding the
// dump.
func (s *appState) handleMultipart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(maxBodyBytes); err != nil {
		writeError(w, vigilerr.Wrap(vigilerr.KindMalformedFrame, "failed to parse multipart form", err))
		return
	}

	formatHint := r.FormValue("format")
	format, ok := ingest.FormatFromHint(formatHint)
	if !ok {
		writeError(w, vigilerr.New(vigilerr.KindUnsupportedFormat, fmt.Sprintf("unrecognized format hint: %s", formatHint)))
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, vigilerr.Wrap(vigilerr.KindMalformedFrame, "missing file part", err))
		return
	}
	defer file.Close()

	compressed := format == ingest.FormatGzip || format == ingest.FormatZip

	recs, err := parseMultipartFile(file, format, s.salt)
	if err != nil {
		writeError(w, err)
		return
	}

	dumpID := uuid.NewString()
	log.WithDumpID(dumpID).Debug().Str("format", string(format)).Int("records", len(recs)).Msg("multipart dump received")

	for _, rec := range recs {
		if err := s.persistRecord(r.Context(), rec, dumpID); err != nil {
			writeError(w, err)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(multipartResponse{
		Format:       string(format),
		Compressed:   compressed,
		RecordsCount: len(recs),
		DumpID:       dumpID,
	})
}

func parseMultipartFile(file multipart.File, format ingest.FormatType, salt string) ([]graph.NormalizedRecord, error) {
	switch format {
	case ingest.FormatNDJSON:
		return ingest.ParseNDJSONStream(file, salt)
	case ingest.FormatCSV:
		return ingest.ParseCSVStream(file, ',', salt)
	case ingest.FormatTSV:
		return ingest.ParseCSVStream(file, '\t', salt)
	case ingest.FormatXLSX:
		return ingest.ParseXLSXStream(file, salt)
	default:
		return nil, vigilerr.New(vigilerr.KindUnsupportedFormat, fmt.Sprintf("multipart ingest does not support format %q", format))
	}
}

// handleHealth implements GET /health: a bare liveness check.
func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleHealthDB implements GET /health/db: pings the graph store and
// reports 503 on failure.
func (s *appState) handleHealthDB(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	w.Header().Set("Content-Type", "text/plain")
	if err := s.store.Ping(ctx); err != nil {
		log.WithComponent("ingesthttp").Warn().Err(err).Msg("database health check failed")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
