package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/htmlchunk/internal/config"
	"github.com/dgallion1/htmlchunk/internal/pathstore"
	"github.com/dgallion1/htmlchunk/internal/pipeline"
	"github.com/dgallion1/htmlchunk/internal/stats"
)

type fakeStore struct {
	mu    sync.Mutex
	nodes map[string]any
}

func newFakeStore() *fakeStore {
	return &fakeStore{nodes: make(map[string]any)}
}

func (f *fakeStore) PutNode(_ context.Context, key string, req pathstore.NodeRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nodes[key] = req.Value
	return nil
}

func (f *fakeStore) GetNode(_ context.Context, key string) (*pathstore.NodeResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.nodes[key]
	if !ok {
		return nil, nil
	}
	return &pathstore.NodeResponse{Key: key, Value: v}, nil
}

func (f *fakeStore) DeleteNode(_ context.Context, key string, recursive bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k := range f.nodes {
		if k == key || (recursive && strings.HasPrefix(k, key+"/")) {
			delete(f.nodes, k)
		}
	}
	return nil
}

// ListChildren returns keys in lexical order and honors limit, like the
// pathstore prefix scan.
func (f *fakeStore) ListChildren(_ context.Context, key string, limit int) ([]pathstore.ListChildrenResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.nodes {
		if strings.HasPrefix(k, key+"/") {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	out := make([]pathstore.ListChildrenResponse, 0, len(keys))
	for _, k := range keys {
		out = append(out, pathstore.ListChildrenResponse{Key: k, Value: f.nodes[k]})
	}
	return out, nil
}

func (f *fakeStore) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.nodes[key]
	return ok
}

func (f *fakeStore) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.nodes)
}

type testEnv struct {
	srv   *Server
	orch  *pipeline.Orchestrator
	store *fakeStore
}

func newTestEnv(t *testing.T, apiKey string, withStore bool) *testEnv {
	t.Helper()
	cfg := config.Config{
		APIKey:             apiKey,
		WorkerCount:        2,
		MaxQueueSize:       8,
		MaxConcurrentStore: 2,
		MaxUploadBytes:     1 << 20,
		JobTTL:             time.Hour,
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	chunkStats := stats.New(time.Hour)

	env := &testEnv{}
	var store pipeline.ChunkStore
	if withStore {
		env.store = newFakeStore()
		store = env.store
	}
	env.orch = pipeline.NewOrchestrator(cfg, store, chunkStats, log)
	env.orch.Start(context.Background())
	t.Cleanup(env.orch.Stop)
	env.srv = NewServer(env.orch, chunkStats, log, cfg)
	return env
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func multipartBody(t *testing.T, field string, files map[string]string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for name, content := range files {
		fw, err := mw.CreateFormFile(field, name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func waitForJob(t *testing.T, e *testEnv, jobID string) pipeline.JobSnapshot {
	t.Helper()
	var snap pipeline.JobSnapshot
	require.Eventually(t, func() bool {
		job := e.orch.GetJob(jobID)
		if job == nil {
			return false
		}
		snap = job.Snapshot()
		switch snap.Status {
		case pipeline.StatusCompleted, pipeline.StatusFailed, pipeline.StatusPartial, pipeline.StatusDupSkipped:
			return true
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
	return snap
}

const guideHTML = `<h1>Guide</h1><p>Intro.</p><h3>Deep</h3><ol><li>one</li><li></li><li>two</li></ol>`

func TestHealth(t *testing.T) {
	e := newTestEnv(t, "secret", false)
	rec := e.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestAuth(t *testing.T) {
	e := newTestEnv(t, "secret", false)

	rec := e.do(httptest.NewRequest(http.MethodPost, "/api/chunk", strings.NewReader("<p>x</p>")))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "missing authorization", decode(t, rec)["error"])

	req := httptest.NewRequest(http.MethodPost, "/api/chunk", strings.NewReader("<p>x</p>"))
	req.Header.Set("Authorization", "Bearer wrong")
	rec = e.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/chunk", strings.NewReader("<p>x</p>"))
	req.Header.Set("Authorization", "Bearer secret")
	rec = e.do(req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthDisabledWithoutKey(t *testing.T) {
	e := newTestEnv(t, "", false)
	rec := e.do(httptest.NewRequest(http.MethodPost, "/api/chunk", strings.NewReader("<p>x</p>")))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestChunk_RawHTML(t *testing.T) {
	e := newTestEnv(t, "", false)
	req := httptest.NewRequest(http.MethodPost, "/api/chunk", strings.NewReader(guideHTML))
	req.Header.Set("Content-Type", "text/html; charset=utf-8")
	rec := e.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, float64(2), out["count"])
	assert.Equal(t, []any{
		`# Guide\nIntro.`,
		`# Guide\n### Deep\n1. one\n2. two`,
	}, out["chunks"])
}

func TestChunk_JSONBody(t *testing.T) {
	e := newTestEnv(t, "", false)
	req := httptest.NewRequest(http.MethodPost, "/api/chunk", strings.NewReader(`{"html":"<h2>Intro</h2><p>Hi</p>"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := e.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{`# Intro\nHi`}, decode(t, rec)["chunks"])
}

func TestChunk_InvalidJSON(t *testing.T) {
	e := newTestEnv(t, "", false)
	req := httptest.NewRequest(http.MethodPost, "/api/chunk", strings.NewReader(`{"html":`))
	req.Header.Set("Content-Type", "application/json")
	rec := e.do(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChunk_EmptyBodyReturnsEmptyList(t *testing.T) {
	e := newTestEnv(t, "", false)
	rec := e.do(httptest.NewRequest(http.MethodPost, "/api/chunk", strings.NewReader("")))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"chunks":[],"count":0}`, rec.Body.String())
}

func TestChunk_Sections(t *testing.T) {
	e := newTestEnv(t, "", false)
	req := httptest.NewRequest(http.MethodPost, "/api/chunk?format=sections", strings.NewReader(guideHTML))
	rec := e.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	chunks, ok := out["chunks"].([]any)
	require.True(t, ok)
	require.Len(t, chunks, 2)

	second := chunks[1].(map[string]any)
	assert.Equal(t, float64(1), second["index"])
	assert.Equal(t, "ol", second["element"])
	assert.Equal(t, []any{"Guide", "Deep"}, second["breadcrumb"])
	assert.Equal(t, `1. one\n2. two`, second["content"])
	assert.Greater(t, out["estimated_tokens"], float64(0))
}

func TestChunk_TooLarge(t *testing.T) {
	e := newTestEnv(t, "", false)
	big := "<p>" + strings.Repeat("x", 2<<20) + "</p>"
	rec := e.do(httptest.NewRequest(http.MethodPost, "/api/chunk", strings.NewReader(big)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestChunk_RecordsStats(t *testing.T) {
	e := newTestEnv(t, "", false)
	e.do(httptest.NewRequest(http.MethodPost, "/api/chunk", strings.NewReader(guideHTML)))

	rec := e.do(httptest.NewRequest(http.MethodGet, "/api/stats/chunking", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	chunking := out["chunking"].(map[string]any)
	assert.Equal(t, float64(1), chunking["count"])
	byFormat := chunking["by_format"].(map[string]any)
	assert.Equal(t, float64(2), byFormat["html"].(map[string]any)["chunks"])
	assert.Equal(t, false, out["storage"])
}

func TestIngest_ProcessesJob(t *testing.T) {
	e := newTestEnv(t, "", true)
	body, ct := multipartBody(t, "file",
		map[string]string{"guide.html": guideHTML},
		map[string]string{"user_id": "u1", "doc_id": "doc1"})
	req := httptest.NewRequest(http.MethodPost, "/api/ingest", body)
	req.Header.Set("Content-Type", ct)
	rec := e.do(req)

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	out := decode(t, rec)
	jobID := out["job_id"].(string)
	assert.Equal(t, "doc1", out["doc_id"])
	assert.Equal(t, "/api/ingest/"+jobID+"/status", out["poll_url"])

	snap := waitForJob(t, e, jobID)
	assert.Equal(t, pipeline.StatusCompleted, snap.Status)

	rec = e.do(httptest.NewRequest(http.MethodGet, "/api/ingest/"+jobID+"/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode(t, rec)
	assert.Equal(t, "completed", status["status"])
	assert.Equal(t, "guide", status["title"])

	rec = e.do(httptest.NewRequest(http.MethodGet, "/api/ingest/"+jobID+"/chunks", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	chunks := decode(t, rec)
	assert.Equal(t, float64(2), chunks["count"])

	rec = e.do(httptest.NewRequest(http.MethodGet, "/api/documents?user_id=u1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	docs := decode(t, rec)["documents"].([]any)
	require.Len(t, docs, 1)
	assert.Equal(t, "doc1", docs[0].(map[string]any)["doc_id"])

	rec = e.do(httptest.NewRequest(http.MethodDelete, "/api/documents/doc1?user_id=u1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	deleted := decode(t, rec)
	assert.Equal(t, true, deleted["hash_index_deleted"])
	assert.Equal(t, 0, e.store.len())
}

func TestIngest_Validation(t *testing.T) {
	e := newTestEnv(t, "", false)

	body, ct := multipartBody(t, "file", map[string]string{"a.html": "<p>a</p>"}, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/ingest", body)
	req.Header.Set("Content-Type", ct)
	rec := e.do(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "user_id is required", decode(t, rec)["error"])

	body, ct = multipartBody(t, "file", map[string]string{"a.exe": "MZ"}, map[string]string{"user_id": "u1"})
	req = httptest.NewRequest(http.MethodPost, "/api/ingest", body)
	req.Header.Set("Content-Type", ct)
	rec = e.do(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "unsupported file type")

	req = httptest.NewRequest(http.MethodPost, "/api/ingest", strings.NewReader("not multipart"))
	rec = e.do(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBatchIngest(t *testing.T) {
	e := newTestEnv(t, "", false)
	body, ct := multipartBody(t, "files",
		map[string]string{"a.html": "<p>a</p>", "b.md": "# B\n\nbody\n", "c.bin": "x"},
		map[string]string{"user_id": "u1"})
	req := httptest.NewRequest(http.MethodPost, "/api/ingest/batch", body)
	req.Header.Set("Content-Type", ct)
	rec := e.do(req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	jobs := decode(t, rec)["jobs"].([]any)
	require.Len(t, jobs, 3)

	accepted := 0
	for _, j := range jobs {
		m := j.(map[string]any)
		if id, ok := m["job_id"].(string); ok {
			accepted++
			assert.Equal(t, pipeline.StatusCompleted, waitForJob(t, e, id).Status)
			continue
		}
		assert.Equal(t, "c.bin", m["filename"])
	}
	assert.Equal(t, 2, accepted)
}

func TestIngestStatus_NotFound(t *testing.T) {
	e := newTestEnv(t, "", false)
	rec := e.do(httptest.NewRequest(http.MethodGet, "/api/ingest/missing/status", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = e.do(httptest.NewRequest(http.MethodGet, "/api/ingest/missing/chunks", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDocuments_RequireStore(t *testing.T) {
	e := newTestEnv(t, "", false)
	rec := e.do(httptest.NewRequest(http.MethodGet, "/api/documents?user_id=u1", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	rec = e.do(httptest.NewRequest(http.MethodDelete, "/api/documents/d?user_id=u1", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDocuments_RequireUserID(t *testing.T) {
	e := newTestEnv(t, "", true)
	rec := e.do(httptest.NewRequest(http.MethodGet, "/api/documents", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"report.html":      "report.html",
		"../../etc/passwd": "passwd",
		`C:\docs\notes.md`: "notes.md",
		"":                 "unnamed",
		"a..b.txt":         "a_b.txt",
	}
	for in, want := range tests {
		assert.Equal(t, want, sanitizeFilename(in), "input %q", in)
	}
}

func ingest(t *testing.T, e *testEnv, filename, content string, fields map[string]string) pipeline.JobSnapshot {
	t.Helper()
	body, ct := multipartBody(t, "file", map[string]string{filename: content}, fields)
	req := httptest.NewRequest(http.MethodPost, "/api/ingest", body)
	req.Header.Set("Content-Type", ct)
	rec := e.do(req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	return waitForJob(t, e, decode(t, rec)["job_id"].(string))
}

func TestDocuments_ListSurvivesLargeDocuments(t *testing.T) {
	e := newTestEnv(t, "", true)

	var big strings.Builder
	big.WriteString("<h1>Big</h1>")
	for i := range 250 {
		fmt.Fprintf(&big, "<p>paragraph %d</p>", i)
	}
	snap := ingest(t, e, "big.html", big.String(), map[string]string{"user_id": "u1", "doc_id": "big"})
	require.Equal(t, pipeline.StatusCompleted, snap.Status)
	snap = ingest(t, e, "small.html", "<p>small</p>", map[string]string{"user_id": "u1", "doc_id": "small"})
	require.Equal(t, pipeline.StatusCompleted, snap.Status)

	rec := e.do(httptest.NewRequest(http.MethodGet, "/api/documents?user_id=u1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	docs := decode(t, rec)["documents"].([]any)
	require.Len(t, docs, 2)

	ids := []string{docs[0].(map[string]any)["doc_id"].(string), docs[1].(map[string]any)["doc_id"].(string)}
	assert.ElementsMatch(t, []string{"big", "small"}, ids)
	bigMeta := docs[0].(map[string]any)["meta"].(map[string]any)
	assert.Equal(t, float64(250), bigMeta["total_chunks"])
}

func TestDocuments_ListAndDelete(t *testing.T) {
	e := newTestEnv(t, "", true)
	ctx := context.Background()
	meta := map[string]any{"doc_id": "d1", "title": "Guide", "content_hash": "abc"}
	for key, value := range map[string]any{
		pipeline.DocIndexKey("u1", "d1"):    meta,
		pipeline.MetaKey("u1", "d1"):        meta,
		pipeline.ChunkKey("u1", "d1", 0):    map[string]any{"text": "x"},
		pipeline.HashKey("u1", "abc", "d1"): map[string]any{},
		pipeline.DocIndexKey("u2", "d9"):    map[string]any{"doc_id": "d9"},
	} {
		require.NoError(t, e.store.PutNode(ctx, key, pathstore.NodeRequest{Value: value}))
	}

	rec := e.do(httptest.NewRequest(http.MethodGet, "/api/documents?user_id=u1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, float64(1), out["count"])
	doc := out["documents"].([]any)[0].(map[string]any)
	assert.Equal(t, "d1", doc["doc_id"])
	assert.Equal(t, "Guide", doc["meta"].(map[string]any)["title"])

	rec = e.do(httptest.NewRequest(http.MethodGet, "/api/documents?user_id=u1&limit=zero", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(httptest.NewRequest(http.MethodDelete, "/api/documents/d1?user_id=u1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	deleted := decode(t, rec)
	assert.Equal(t, "d1", deleted["doc_id"])
	assert.Equal(t, true, deleted["hash_index_deleted"])

	assert.False(t, e.store.has(pipeline.MetaKey("u1", "d1")))
	assert.False(t, e.store.has(pipeline.ChunkKey("u1", "d1", 0)))
	assert.False(t, e.store.has(pipeline.DocIndexKey("u1", "d1")))
	assert.False(t, e.store.has(pipeline.HashKey("u1", "abc", "d1")))
	assert.True(t, e.store.has(pipeline.DocIndexKey("u2", "d9")), "other users are untouched")

	rec = e.do(httptest.NewRequest(http.MethodGet, "/api/documents?user_id=u1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), decode(t, rec)["count"])
}

func TestIngest_RejectsUnsafeIDs(t *testing.T) {
	e := newTestEnv(t, "", true)
	for _, fields := range []map[string]string{
		{"user_id": ".."},
		{"user_id": "u1", "doc_id": ".."},
		{"user_id": "u1", "doc_id": "bad\x00id"},
		{"user_id": strings.Repeat("u", 300)},
	} {
		body, ct := multipartBody(t, "file", map[string]string{"a.html": "<p>a</p>"}, fields)
		req := httptest.NewRequest(http.MethodPost, "/api/ingest", body)
		req.Header.Set("Content-Type", ct)
		rec := e.do(req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "fields %v", fields)
	}

	rec := e.do(httptest.NewRequest(http.MethodDelete, "/api/documents/..?user_id=u1", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngest_EscapesIDsInKeys(t *testing.T) {
	e := newTestEnv(t, "", true)
	snap := ingest(t, e, "a.html", "<p>a</p>", map[string]string{"user_id": "u1/../u2", "doc_id": "d?x#y"})
	require.Equal(t, pipeline.StatusCompleted, snap.Status)

	assert.True(t, e.store.has("htmlchunk/users/u1%2F..%2Fu2/documents/d%3Fx%23y/meta"))

	rec := e.do(httptest.NewRequest(http.MethodGet, "/api/documents?user_id=u2", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), decode(t, rec)["count"])

	rec = e.do(httptest.NewRequest(http.MethodGet, "/api/documents?user_id=u1%2F..%2Fu2", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	docs := decode(t, rec)["documents"].([]any)
	require.Len(t, docs, 1)
	assert.Equal(t, "d?x#y", docs[0].(map[string]any)["doc_id"])
}
