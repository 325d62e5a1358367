package ingesthttp

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/vigil/pkg/graph"
	"github.com/cuemby/vigil/pkg/metrics"
	"github.com/cuemby/vigil/pkg/persist"
	"github.com/cuemby/vigil/pkg/pii"
)

type fakeStore struct {
	mu     sync.Mutex
	merged []graph.EntityVersion
	fail   bool
}

func (f *fakeStore) MergeBatch(ctx context.Context, evs []graph.EntityVersion) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return assert.AnError
	}
	f.merged = append(f.merged, evs...)
	return nil
}

func (f *fakeStore) MergeEntity(ctx context.Context, ev graph.EntityVersion) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.merged = append(f.merged, ev)
	return nil
}

func (f *fakeStore) GetEntity(ctx context.Context, entityType, key string) (graph.EntityVersion, bool, error) {
	return graph.EntityVersion{}, false, nil
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.fail {
		return assert.AnError
	}
	return nil
}
func (f *fakeStore) Close() error { return nil }

func (f *fakeStore) snapshot() []graph.EntityVersion {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]graph.EntityVersion, len(f.merged))
	copy(out, f.merged)
	return out
}

func testPiiEngine(t *testing.T) *pii.Engine {
	t.Helper()
	key := make([]byte, 32)
	eng, err := pii.NewEngine(pii.PolicyConfig{DefaultAction: pii.ActionPassthrough}, key, "test-key")
	require.NoError(t, err)
	return eng
}

func newTestServer(t *testing.T, store *fakeStore) (*Server, *fakeStore) {
	t.Helper()
	b := persist.New(store, metrics.New(), persist.Config{BatchSize: 1, ChannelCapacity: 16})
	t.Cleanup(b.Close)

	srv := NewServer(Config{
		Addr:           "127.0.0.1:0",
		Store:          store,
		Batcher:        b,
		Metrics:        metrics.New(),
		Gatherer:       prometheus.NewRegistry(),
		PII:            testPiiEngine(t),
		CanonSalt:      "salt",
		RateLimitRPS:   1000,
		RateLimitBurst: 1000,
	})
	return srv, store
}

func TestHandleHealth(t *testing.T) {
	srv, _ := newTestServer(t, &fakeStore{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestHandleHealthDB(t *testing.T) {
	srv, _ := newTestServer(t, &fakeStore{})

	req := httptest.NewRequest(http.MethodGet, "/health/db", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleHealthDBUnavailable(t *testing.T) {
	srv, _ := newTestServer(t, &fakeStore{fail: true})

	req := httptest.NewRequest(http.MethodGet, "/health/db", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleNDJSON(t *testing.T) {
	srv, store := newTestServer(t, &fakeStore{})

	body := `{"field_type":"ip","value":"10.0.0.1"}` + "\n"
	req := httptest.NewRequest(http.MethodPost, "/ingest/ndjson", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool {
		return len(store.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestHandleMultipartCSV(t *testing.T) {
	srv, store := newTestServer(t, &fakeStore{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("format", "csv"))
	fw, err := mw.CreateFormFile("file", "dump.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte("field_type,value\nip,10.0.0.2\n"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/ingest/multipart", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	_ = store
}

func TestRateLimitExceeded(t *testing.T) {
	b := persist.New(&fakeStore{}, metrics.New(), persist.Config{})
	t.Cleanup(b.Close)

	srv := NewServer(Config{
		Store:          &fakeStore{},
		Batcher:        b,
		Metrics:        metrics.New(),
		Gatherer:       prometheus.NewRegistry(),
		PII:            testPiiEngine(t),
		RateLimitRPS:   0,
		RateLimitBurst: 1,
	})

	req1 := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec1 := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec1, req1)
	assert.Equal(t, http.StatusOK, rec1.Code)

	req2 := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec2 := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec2, req2)
	assert.Equal(t, http.StatusTooManyRequests, rec2.Code)
}

func TestSecurityHeadersSet(t *testing.T) {
	srv, _ := newTestServer(t, &fakeStore{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.NotEmpty(t, rec.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, rec.Header().Get("Strict-Transport-Security"))
}
