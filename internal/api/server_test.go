package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/layered-crawler/internal/crawler"
	"github.com/JakeFAU/layered-crawler/internal/dispatcher"
	"github.com/JakeFAU/layered-crawler/internal/progress/sinks"
	queueMemory "github.com/JakeFAU/layered-crawler/internal/queue/memory"
	"github.com/JakeFAU/layered-crawler/internal/storage/memory"
)

func TestSubmitCrawlQueuesRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{DefaultDepth: 2, DefaultExcludes: []string{"/logout"}})
	rec := h.do(http.MethodPost, "/v1/crawls", `{"url":"https://example.com/","excludes":["/admin","/logout"]}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp crawlResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "run-1", resp.RunID)
	require.Equal(t, crawler.RunStatusQueued, resp.Status)

	submitted := h.submitter.submitted()
	require.Len(t, submitted, 1)
	require.Equal(t, "https://example.com/", submitted[0].Parameters.Seed)
	require.Equal(t, 2, submitted[0].Parameters.Depth)
	require.Equal(t, []string{"/logout", "/admin"}, submitted[0].Parameters.Excludes)

	stored, err := h.runs.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, crawler.RunStatusQueued, stored.Status)
	require.Equal(t, h.clock.now, stored.Submitted)
}

func TestSubmitCrawlExplicitZeroDepth(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{DefaultDepth: 3})
	rec := h.do(http.MethodPost, "/v1/crawls", `{"url":"https://example.com/","depth":0}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Zero(t, h.submitter.submitted()[0].Parameters.Depth)
}

func TestSubmitCrawlRejectsBadRequests(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
		want string
	}{
		{name: "invalid json", body: "{invalid", want: "invalid JSON"},
		{name: "unknown field", body: `{"url":"https://example.com","pages":3}`, want: "invalid JSON"},
		{name: "missing url", body: `{}`, want: "url required"},
		{name: "no host", body: `{"url":"https:///path"}`, want: "missing host"},
		{name: "negative depth", body: `{"url":"https://example.com","depth":-1}`, want: "depth must be >= 0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, Config{DefaultDepth: 1})
			rec := h.do(http.MethodPost, "/v1/crawls", tc.body)

			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Contains(t, rec.Body.String(), tc.want)
			require.Empty(t, h.submitter.submitted())
			require.Zero(t, h.runs.Len())
		})
	}
}

func TestSubmitCrawlWhenWorkerRejects(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		code int
	}{
		{name: "closed", err: fmt.Errorf("submit run: %w", dispatcher.ErrClosed), code: http.StatusServiceUnavailable},
		{name: "full", err: fmt.Errorf("submit run: %w", queueMemory.ErrQueueFull), code: http.StatusServiceUnavailable},
		{name: "other", err: errors.New("boom"), code: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, Config{DefaultDepth: 1})
			h.submitter.err = tc.err
			rec := h.do(http.MethodPost, "/v1/crawls", `{"url":"https://example.com/"}`)

			require.Equal(t, tc.code, rec.Code)
			stored, err := h.runs.GetRun(context.Background(), "run-1")
			require.NoError(t, err)
			require.Equal(t, crawler.RunStatusFailed, stored.Status)
			require.NotNil(t, stored.Finished)
			require.Contains(t, stored.ErrorText, tc.err.Error())
		})
	}
}

func TestGetCrawlReturnsRunAndProgress(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{DefaultDepth: 1})
	finished := time.Unix(200, 0).UTC()
	run := crawler.Run{
		ID:         "run-done",
		Status:     crawler.RunStatusSucceeded,
		Submitted:  time.Unix(100, 0).UTC(),
		Finished:   &finished,
		Parameters: crawler.RunParameters{Seed: "https://example.com/", Depth: 1},
		Result: &crawler.Result{
			Downloaded: []string{"https://example.com/"},
			Errors:     map[string]error{"https://example.com/missing": errors.New("page not found")},
		},
	}
	require.NoError(t, h.runs.CreateRun(context.Background(), run))
	h.progress.set("run-done", sinks.RunProgress{Fetched: 1, FetchFailed: 1, Done: true})

	rec := h.do(http.MethodGet, "/v1/crawls/run-done", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Run struct {
			ID     string `json:"id"`
			Status string `json:"status"`
			Result struct {
				Downloaded []string          `json:"downloaded"`
				Errors     map[string]string `json:"errors"`
			} `json:"result"`
		} `json:"run"`
		Progress *sinks.RunProgress `json:"progress"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "run-done", body.Run.ID)
	require.Equal(t, "succeeded", body.Run.Status)
	require.Equal(t, []string{"https://example.com/"}, body.Run.Result.Downloaded)
	require.Equal(t, "page not found", body.Run.Result.Errors["https://example.com/missing"])
	require.NotNil(t, body.Progress)
	require.True(t, body.Progress.Done)
}

func TestGetCrawlUnknownRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{DefaultDepth: 1})
	rec := h.do(http.MethodGet, "/v1/crawls/missing", "")

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetCrawlStoreError(t *testing.T) {
	t.Parallel()

	srv, err := NewServer(Dependencies{
		Runs:      failingRunStore{},
		Submitter: &fakeSubmitter{},
		IDs:       &fakeIDGen{},
		Clock:     &fakeClock{},
	}, Config{}, zap.NewNop())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/crawls/any", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGetProgress(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{DefaultDepth: 1})
	h.progress.set("run-live", sinks.RunProgress{Layer: 1, Frontier: 4, Fetched: 2})

	rec := h.do(http.MethodGet, "/v1/crawls/run-live/progress", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"frontier":4`)

	rec = h.do(http.MethodGet, "/v1/crawls/other/progress", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetProgressWithoutTracker(t *testing.T) {
	t.Parallel()

	srv, err := NewServer(Dependencies{
		Runs:      memory.NewRunStore(),
		Submitter: &fakeSubmitter{},
		IDs:       &fakeIDGen{},
		Clock:     &fakeClock{},
	}, Config{}, nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/crawls/run/progress", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestProbes(t *testing.T) {
	t.Parallel()

	ready := errors.New("database unreachable")
	var mu sync.Mutex
	srv, err := NewServer(Dependencies{
		Runs:      memory.NewRunStore(),
		Submitter: &fakeSubmitter{},
		IDs:       &fakeIDGen{},
		Clock:     &fakeClock{},
		Ready: func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			return ready
		},
	}, Config{}, zap.NewNop())
	require.NoError(t, err)

	get := func(path string) int {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec.Code
	}

	require.Equal(t, http.StatusOK, get("/healthz"))
	require.Equal(t, http.StatusServiceUnavailable, get("/readyz"))

	mu.Lock()
	ready = nil
	mu.Unlock()
	require.Equal(t, http.StatusOK, get("/readyz"))
	require.Equal(t, http.StatusOK, get("/metrics"))
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{AuthEnabled: true, APIKey: "secret", DefaultDepth: 1})

	rec := h.do(http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(http.MethodPost, "/v1/crawls", `{"url":"https://example.com/"}`)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Empty(t, h.submitter.submitted())

	req := httptest.NewRequest(http.MethodPost, "/v1/crawls", bytes.NewBufferString(`{"url":"https://example.com/"}`))
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = h.do(http.MethodGet, "/v1/crawls/run-1?api_key=secret", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestNewServerValidates(t *testing.T) {
	t.Parallel()

	_, err := NewServer(Dependencies{}, Config{}, nil)
	require.ErrorContains(t, err, "required")

	_, err = NewServer(Dependencies{
		Runs:      memory.NewRunStore(),
		Submitter: &fakeSubmitter{},
		IDs:       &fakeIDGen{},
		Clock:     &fakeClock{},
	}, Config{AuthEnabled: true}, nil)
	require.ErrorContains(t, err, "api key is required")
}

func TestRequestIDMiddleware(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	rec := h.do(http.MethodGet, "/healthz", "")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "caller-id")
	rec = httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, "caller-id", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	handler := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "internal server error")
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rw.Hijack()
	require.EqualError(t, err, "hijacker not supported")

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	require.NoError(t, err)
	require.NotNil(t, buf)
	require.NoError(t, conn.Close())
	require.NoError(t, h.CloseClient())
}

// --- helpers/fakes ---

type harness struct {
	server    *Server
	runs      *memory.RunStore
	submitter *fakeSubmitter
	progress  *fakeProgress
	clock     *fakeClock
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		runs:      memory.NewRunStore(),
		submitter: &fakeSubmitter{},
		progress:  &fakeProgress{runs: make(map[string]sinks.RunProgress)},
		clock:     &fakeClock{now: time.Unix(100, 0).UTC()},
	}
	srv, err := NewServer(Dependencies{
		Runs:      h.runs,
		Submitter: h.submitter,
		IDs:       &fakeIDGen{ids: []string{"run-1", "run-2"}},
		Clock:     h.clock,
		Progress:  h.progress,
	}, cfg, zap.NewNop())
	require.NoError(t, err)
	h.server = srv
	return h
}

func (h *harness) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
	}
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	return rec
}

type fakeSubmitter struct {
	mu   sync.Mutex
	runs []crawler.Run
	err  error
}

func (f *fakeSubmitter) Submit(run crawler.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.runs = append(f.runs, run)
	return nil
}

func (f *fakeSubmitter) submitted() []crawler.Run {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]crawler.Run(nil), f.runs...)
}

type fakeProgress struct {
	mu   sync.Mutex
	runs map[string]sinks.RunProgress
}

func (f *fakeProgress) set(runID string, p sinks.RunProgress) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[runID] = p
}

func (f *fakeProgress) Progress(runID string) (sinks.RunProgress, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.runs[runID]
	return p, ok
}

type failingRunStore struct{}

func (failingRunStore) CreateRun(context.Context, crawler.Run) error { return errors.New("db down") }
func (failingRunStore) UpdateRun(context.Context, crawler.Run) error { return errors.New("db down") }
func (failingRunStore) GetRun(context.Context, string) (crawler.Run, error) {
	return crawler.Run{}, errors.New("db down")
}

type fakeIDGen struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeIDGen) NewID() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.ids) == 0 {
		return "id-default", nil
	}
	id := f.ids[0]
	f.ids = f.ids[1:]
	return id, nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}
