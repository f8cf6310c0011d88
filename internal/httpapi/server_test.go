package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/MimeLyc/livesub/internal/export"
	"github.com/MimeLyc/livesub/internal/jobs"
	"github.com/MimeLyc/livesub/internal/service"
	"github.com/MimeLyc/livesub/internal/session"
	"github.com/MimeLyc/livesub/internal/sink"
)

type fakeController struct {
	mu        sync.Mutex
	state     *session.State
	bindings  *session.Bindings
	subtitles *sink.Broadcaster
	jobs      []*jobs.DeliveryJob
	stopped   bool
	endErr    error
	changeErr error
	lastPair  session.LanguagePair
}

func newFakeController() *fakeController {
	state := session.NewState("s-test", session.LanguagePair{Source: language.English, Target: language.Hindi})
	state.Append(session.Line{Recognized: "hello", Translated: "namaste", Pair: state.Pair(), Timestamp: time.Now()})
	now := time.Now()
	return &fakeController{
		state:     state,
		bindings:  session.DefaultBindings(),
		subtitles: sink.NewBroadcaster(),
		jobs: []*jobs.DeliveryJob{
			{ID: "job-2", Status: jobs.StatusFailed, CreatedAt: now},
			{ID: "job-1", Status: jobs.StatusSuccess, CreatedAt: now.Add(-time.Minute)},
		},
	}
}

func (f *fakeController) Status() service.Status {
	return service.Status{Snapshot: f.state.Snapshot(), Phase: "listening", Breaker: "closed"}
}

func (f *fakeController) Transcript() []session.Line { return f.state.Lines() }
func (f *fakeController) Bindings() *session.Bindings { return f.bindings }
func (f *fakeController) Subtitles() *sink.Broadcaster { return f.subtitles }
func (f *fakeController) Deliveries() []*jobs.DeliveryJob { return f.jobs }

func (f *fakeController) Stop() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

func (f *fakeController) End(context.Context) (*jobs.DeliveryJob, error) {
	if f.endErr != nil {
		return nil, f.endErr
	}
	f.Stop()
	return &jobs.DeliveryJob{ID: "job-3", Source: service.SourceStop, Status: jobs.StatusPending}, nil
}

func (f *fakeController) ChangeLanguage(_ context.Context, source, target string) (session.LanguagePair, error) {
	if f.changeErr != nil {
		return session.LanguagePair{}, f.changeErr
	}
	pair, err := f.bindings.Resolve(source, target)
	if err != nil {
		return session.LanguagePair{}, service.WrapError(err, service.ErrConfig, "invalid languages")
	}
	f.lastPair = pair
	return pair, nil
}

func (f *fakeController) Snapshot(context.Context) (export.Artifact, error) {
	return export.Artifact{Path: "/tmp/out.md", Name: "out.md", Data: []byte("# doc")}, nil
}

func (f *fakeController) Delivery(id string) (*jobs.DeliveryJob, bool) {
	for _, j := range f.jobs {
		if j.ID == id {
			return j, true
		}
	}
	return nil, false
}

func do(t *testing.T, srv *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_SessionAndTranscript(t *testing.T) {
	srv := NewServer(newFakeController())

	rec := do(t, srv, http.MethodGet, "/api/session", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "s-test", status["id"])
	assert.Equal(t, "listening", status["phase"])

	rec = do(t, srv, http.MethodGet, "/api/transcript", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var transcript transcriptResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &transcript))
	require.Len(t, transcript.Lines, 1)
	assert.Equal(t, "namaste", transcript.Lines[0].Translated)

	rec = do(t, srv, http.MethodPost, "/api/session", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer_StopAndEnd(t *testing.T) {
	ctrl := newFakeController()
	srv := NewServer(ctrl)

	rec := do(t, srv, http.MethodGet, "/api/session/stop", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/session/stop", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, ctrl.stopped)

	rec = do(t, srv, http.MethodPost, "/api/session/end", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	var job jobs.DeliveryJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, "job-3", job.ID)

	ctrl.endErr = service.WrapError(service.ErrNotStarted, service.ErrSession, "cannot end session")
	rec = do(t, srv, http.MethodPost, "/api/session/end", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestServer_ChangeLanguage(t *testing.T) {
	ctrl := newFakeController()
	srv := NewServer(ctrl)

	tests := []struct {
		name string
		body string
		code int
	}{
		{name: "by name", body: `{"source":"english","target":"telugu"}`, code: http.StatusOK},
		{name: "by code", body: `{"source":"hi","target":"fr"}`, code: http.StatusOK},
		{name: "unknown language", body: `{"source":"english","target":"klingon"}`, code: http.StatusBadRequest},
		{name: "missing target", body: `{"source":"english"}`, code: http.StatusBadRequest},
		{name: "bad json", body: `{`, code: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv, http.MethodPost, "/api/session/language", tt.body)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
		})
	}

	rec := do(t, srv, http.MethodPost, "/api/session/language", `{"source":"english","target":"telugu"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp languageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "English", resp.Source)
	assert.Equal(t, "Telugu", resp.Target)

	ctrl.changeErr = service.WrapError(context.DeadlineExceeded, service.ErrEngine, "failed to switch")
	rec = do(t, srv, http.MethodPost, "/api/session/language", `{"source":"english","target":"telugu"}`)
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestServer_Deliveries(t *testing.T) {
	srv := NewServer(newFakeController())

	rec := do(t, srv, http.MethodGet, "/api/deliveries", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var all []jobs.DeliveryJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	assert.Len(t, all, 2)

	rec = do(t, srv, http.MethodGet, "/api/deliveries?status=failed", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	require.Len(t, all, 1)
	assert.Equal(t, "job-2", all[0].ID)

	rec = do(t, srv, http.MethodGet, "/api/deliveries/job-1", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/deliveries/job-9", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ExportAndLanguages(t *testing.T) {
	srv := NewServer(newFakeController())

	rec := do(t, srv, http.MethodPost, "/api/export", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp exportResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "out.md", resp.Name)
	assert.Equal(t, 5, resp.Bytes)

	rec = do(t, srv, http.MethodGet, "/api/languages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var bindings []session.Binding
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bindings))
	assert.Len(t, bindings, 6)
}

func TestServer_LatestSubtitle(t *testing.T) {
	ctrl := newFakeController()
	srv := NewServer(ctrl)

	rec := do(t, srv, http.MethodGet, "/api/subtitles/latest", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	ctrl.subtitles.Show(sink.Subtitle{Kind: sink.KindLine, Text: "namaste"})
	rec = do(t, srv, http.MethodGet, "/api/subtitles/latest", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "namaste")
}

func readEvent(t *testing.T, r *bufio.Reader) sink.Subtitle {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			var sub sink.Subtitle
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &sub))
			return sub
		}
	}
}

func TestServer_SubtitleStream(t *testing.T) {
	ctrl := newFakeController()
	ctrl.subtitles.Show(sink.Subtitle{Kind: sink.KindInitial, Text: "waiting"})
	ts := httptest.NewServer(NewServer(ctrl).Handler())
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/subtitles/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	first := readEvent(t, reader)
	assert.Equal(t, "waiting", first.Text)

	require.Eventually(t, func() bool { return ctrl.subtitles.Subscribers() == 1 }, time.Second, 10*time.Millisecond)
	ctrl.subtitles.Show(sink.Subtitle{Kind: sink.KindLine, Text: "namaste"})
	next := readEvent(t, reader)
	assert.Equal(t, "namaste", next.Text)
	assert.Equal(t, first.Sequence+1, next.Sequence)

	cancel()
	require.Eventually(t, func() bool { return ctrl.subtitles.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestServer_SubtitleSocket(t *testing.T) {
	ctrl := newFakeController()
	ts := httptest.NewServer(NewServer(ctrl).Handler())
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/api/subtitles/ws", nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.Eventually(t, func() bool { return ctrl.subtitles.Subscribers() == 1 }, time.Second, 10*time.Millisecond)
	ctrl.subtitles.Show(sink.Subtitle{Kind: sink.KindLine, Text: "namaste", Recognized: "hello"})

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var sub sink.Subtitle
	require.NoError(t, json.Unmarshal(data, &sub))
	assert.Equal(t, "namaste", sub.Text)
	assert.Equal(t, "hello", sub.Recognized)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "bye"))
	require.Eventually(t, func() bool { return ctrl.subtitles.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestServer_SubtitleSocketChecksOrigin(t *testing.T) {
	ctrl := newFakeController()
	ts := httptest.NewServer(NewServer(ctrl, WithOriginPatterns("obs.example.com")).Handler())
	t.Cleanup(ts.Close)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/subtitles/ws"

	tests := []struct {
		origin string
		ok     bool
	}{
		{origin: ts.URL, ok: true},
		{origin: "https://obs.example.com", ok: true},
		{origin: "https://evil.example.com", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			conn, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{
				HTTPHeader: http.Header{"Origin": []string{tt.origin}},
			})
			if !tt.ok {
				require.Error(t, err)
				require.NotNil(t, resp)
				assert.Equal(t, http.StatusForbidden, resp.StatusCode)
				return
			}
			require.NoError(t, err)
			conn.CloseNow()
		})
	}
}

func TestServer_MetricsAndUI(t *testing.T) {
	staticDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(staticDir, "index.html"), []byte("<html>overlay</html>"), 0o644))

	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("livesub_lines_published_total 3\n"))
	})
	srv := NewServer(newFakeController(), WithUI(staticDir, true), WithMetricsHandler(metrics))

	rec := do(t, srv, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "livesub_lines_published_total")

	for _, target := range []string{"/", "/overlay/big"} {
		rec = do(t, srv, http.MethodGet, target, "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "overlay")
	}

	rec = do(t, srv, http.MethodGet, "/api/unknown", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
