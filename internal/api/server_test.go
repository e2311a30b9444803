package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FocuswithJustin/docmerge/core/docx"
	"github.com/FocuswithJustin/docmerge/core/docx/docxtest"
	"github.com/FocuswithJustin/docmerge/core/errors"
	"github.com/FocuswithJustin/docmerge/core/merge"
	"github.com/FocuswithJustin/docmerge/internal/config"
	"github.com/FocuswithJustin/docmerge/internal/history"
)

type fakePreviewer struct {
	mu    sync.Mutex
	paths []string
	pdf   []byte
	err   error
}

func (f *fakePreviewer) Convert(ctx context.Context, path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, path)
	if f.err != nil {
		return nil, f.err
	}
	return f.pdf, nil
}

type testEnv struct {
	root    string
	server  *Server
	handler http.Handler
	preview *fakePreviewer
}

func newTestEnv(t *testing.T, edit func(*config.Config), opts ...Option) *testEnv {
	t.Helper()
	root := t.TempDir()
	docxtest.New().Paragraph("Alpha").WriteFile(t, root, "contracts/a.docx")
	docxtest.New().Paragraph("Beta").WriteFile(t, root, "contracts/b.docx")
	docxtest.New().Image("rId7", "media/image1.png", docxtest.PNG).WriteFile(t, root, "images/one.docx")
	docxtest.New().Image("rId7", "media/image1.png", append(append([]byte{}, docxtest.PNG...), 0)).WriteFile(t, root, "images/two.docx")

	cfg := config.Default()
	cfg.Repository = root
	cfg.ListingTTL = 0
	if edit != nil {
		edit(&cfg)
	}
	require.NoError(t, cfg.Validate())

	fake := &fakePreviewer{pdf: []byte("%PDF-1.4 fake")}
	s, err := New(cfg, append([]Option{WithPreviewer(fake)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return &testEnv{root: root, server: s, handler: s.Handler(), preview: fake}
}

func (e *testEnv) do(t *testing.T, method, target string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

func assertAPIError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) APIResponse {
	t.Helper()
	require.Equal(t, status, w.Code, w.Body.String())
	resp := decodeEnvelope(t, w)
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, code, resp.Error.Code)
	require.NotNil(t, resp.Meta)
	assert.NotEmpty(t, resp.Meta.Timestamp)
	return resp
}

func TestRootAndHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeEnvelope(t, w)
	assert.True(t, resp.Success)
	assert.Contains(t, w.Body.String(), "POST /api/merge-documents")

	assertAPIError(t, env.do(t, http.MethodGet, "/nope", ""), http.StatusNotFound, "NOT_FOUND")

	w = env.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)
	assert.Contains(t, w.Body.String(), `"history":false`)
	assert.NotContains(t, w.Body.String(), `"conflicts"`)

	w = env.do(t, http.MethodPost, "/health", "")
	assertAPIError(t, w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED")
	assert.Equal(t, http.MethodGet, w.Header().Get("Allow"))
}

func TestMiddlewareHeaders(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, http.MethodGet, "/health", "")

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Contains(t, w.Header().Get("Content-Security-Policy"), "default-src 'none'")
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestGetDocuments(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, http.MethodGet, "/api/get-documents", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var listing map[string][]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing), "listing is a bare object")
	assert.Equal(t, map[string][]string{
		"contracts": {"a.docx", "b.docx"},
		"images":    {"one.docx", "two.docx"},
	}, listing)
}

func TestPreview(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/api/get-document-preview-pdf?path=/contracts/a.docx", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="document_preview.pdf"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, "%PDF-1.4 fake", w.Body.String())
	require.Len(t, env.preview.paths, 1)
	assert.Equal(t, filepath.Join(env.server.Repository().Root(), "contracts", "a.docx"), env.preview.paths[0])
}

func TestPreviewErrors(t *testing.T) {
	tests := []struct {
		name   string
		target string
		err    error
		status int
		code   string
	}{
		{"missing parameter", "/api/get-document-preview-pdf", nil, http.StatusBadRequest, "MISSING_PATH"},
		{"traversal", "/api/get-document-preview-pdf?path=../../etc/passwd", nil, http.StatusBadRequest, "INVALID_PATH"},
		{"missing file", "/api/get-document-preview-pdf?path=contracts/zzz.docx", nil, http.StatusNotFound, "DOCUMENT_NOT_FOUND"},
		{
			"render failure",
			"/api/get-document-preview-pdf?path=contracts/a.docx",
			errors.NewRender("wkhtmltopdf", "/srv/repo/contracts/a.docx", "cannot connect to X server", nil),
			http.StatusBadGateway, "RENDER_FAILED",
		},
		{
			"unreadable document",
			"/api/get-document-preview-pdf?path=contracts/a.docx",
			errors.NewDocumentLoad("/srv/repo/contracts/a.docx", "cannot extract text", nil),
			http.StatusUnprocessableEntity, "DOCUMENT_LOAD_ERROR",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			env.preview.err = tt.err
			resp := assertAPIError(t, env.do(t, http.MethodGet, tt.target, ""), tt.status, tt.code)
			if tt.code == "DOCUMENT_NOT_FOUND" {
				assert.Equal(t, "File not found: contracts/zzz.docx", resp.Error.Message)
			}
			if tt.err != nil {
				assert.Contains(t, resp.Error.Message, "contracts/a.docx")
				assert.NotContains(t, resp.Error.Message, "/srv/repo")
			}
		})
	}
}

func TestMergeDocuments(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/api/merge-documents", `{"document_order": ["contracts/a.docx", "/contracts/b.docx"]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, docxContentType, w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="merged_document.docx"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, "0", w.Header().Get("X-Merge-Conflicts"))

	doc, err := docx.Read(bytes.NewReader(w.Body.Bytes()), int64(w.Body.Len()), "merged")
	require.NoError(t, err)
	var texts []string
	for _, n := range doc.Body() {
		if s := docx.Text(n); s != "" {
			texts = append(texts, s)
		}
	}
	assert.Equal(t, []string{"Alpha", "Beta"}, texts)
}

func TestMergeDocumentsEmptyOrder(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, http.MethodPost, "/api/merge-documents", `{"document_order": []}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	_, err := docx.Read(bytes.NewReader(w.Body.Bytes()), int64(w.Body.Len()), "empty")
	assert.NoError(t, err)
}

func TestMergeDocumentsConflicts(t *testing.T) {
	env := newTestEnv(t, nil)
	order := `{"document_order": ["images/one.docx", "images/two.docx"]%s}`

	w := env.do(t, http.MethodPost, "/api/merge-documents", strings.Replace(order, "%s", "", 1))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "1", w.Header().Get("X-Merge-Conflicts"))

	w = env.do(t, http.MethodPost, "/api/merge-documents", strings.Replace(order, "%s", `, "policy": "first-wins"`, 1))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "1", w.Header().Get("X-Merge-Conflicts"))
}

func TestMergeDocumentsErrors(t *testing.T) {
	env := newTestEnv(t, nil)
	docxtest.New().Paragraph("x").WriteFile(t, env.root, "broken/ok.docx")
	require.NoError(t, writeRaw(filepath.Join(env.root, "broken", "bad.docx"), "not a zip"))

	tests := []struct {
		name   string
		body   string
		status int
		code   string
		msg    string
	}{
		{"invalid json", `{"document_order": [`, http.StatusBadRequest, "INVALID_JSON", ""},
		{"missing order", `{"policy": "remap"}`, http.StatusBadRequest, "MISSING_DOCUMENT_ORDER", ""},
		{"not found", `{"document_order": ["contracts/a.docx", "gone.docx"]}`, http.StatusBadRequest, "DOCUMENT_NOT_FOUND", "File not found: gone.docx"},
		{"traversal", `{"document_order": ["../outside.docx"]}`, http.StatusBadRequest, "INVALID_PATH", ""},
		{"load error", `{"document_order": ["broken/ok.docx", "broken/bad.docx"]}`, http.StatusUnprocessableEntity, "DOCUMENT_LOAD_ERROR", ""},
		{"bad policy", `{"document_order": ["contracts/a.docx"], "policy": "last-wins"}`, http.StatusBadRequest, "INVALID_POLICY", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := assertAPIError(t, env.do(t, http.MethodPost, "/api/merge-documents", tt.body), tt.status, tt.code)
			if tt.msg != "" {
				assert.Equal(t, tt.msg, resp.Error.Message)
			}
		})
	}

	t.Run("load error names the location", func(t *testing.T) {
		resp := assertAPIError(t, env.do(t, http.MethodPost, "/api/merge-documents", `{"document_order": ["broken/bad.docx"]}`),
			http.StatusUnprocessableEntity, "DOCUMENT_LOAD_ERROR")
		assert.Contains(t, resp.Error.Message, "failed to parse DOCX at broken/bad.docx")
		assert.NotContains(t, resp.Error.Message, env.root)
	})

	t.Run("wrong method", func(t *testing.T) {
		assertAPIError(t, env.do(t, http.MethodGet, "/api/merge-documents", ""), http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED")
	})

	t.Run("wrong content type", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/merge-documents", strings.NewReader(`{"document_order": []}`))
		req.Header.Set("Content-Type", "text/plain")
		w := httptest.NewRecorder()
		env.handler.ServeHTTP(w, req)
		assertAPIError(t, w, http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA_TYPE")
	})

	t.Run("body too large", func(t *testing.T) {
		big := `{"document_order": ["` + strings.Repeat("a", maxRequestBody) + `"]}`
		assertAPIError(t, env.do(t, http.MethodPost, "/api/merge-documents", big), http.StatusRequestEntityTooLarge, "REQUEST_TOO_LARGE")
	})
}

func TestMergeHistory(t *testing.T) {
	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	env := newTestEnv(t, nil, WithHistory(store))

	env.do(t, http.MethodPost, "/api/merge-documents", `{"document_order": ["images/one.docx", "images/two.docx"]}`)
	env.do(t, http.MethodPost, "/api/merge-documents", `{"document_order": ["missing.docx"], "policy": "first-wins"}`)

	w := env.do(t, http.MethodGet, "/api/merges?limit=10", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Success bool            `json:"success"`
		Data    []history.Entry `json:"data"`
		Meta    APIMeta         `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 2)
	assert.Equal(t, 2, resp.Meta.Total)

	failed, ok := resp.Data[0], resp.Data[1]
	if failed.Status != history.StatusFailed {
		failed, ok = ok, failed
	}
	assert.Equal(t, history.StatusFailed, failed.Status)
	assert.Equal(t, "first-wins", failed.Policy)
	assert.Contains(t, failed.Error, "missing.docx")
	assert.Equal(t, history.StatusOK, ok.Status)
	assert.Equal(t, 1, ok.Conflicts)
	assert.Equal(t, "remap", ok.Policy)
	assert.Positive(t, ok.OutputBytes)

	total, err := store.ConflictTotal(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	w = env.do(t, http.MethodGet, "/health", "")
	assert.Contains(t, w.Body.String(), `"history":true`)
	assert.Contains(t, w.Body.String(), `"conflicts":1`)

	assertAPIError(t, env.do(t, http.MethodGet, "/api/merges?limit=0", ""), http.StatusBadRequest, "INVALID_LIMIT")
}

func TestMergesWithoutHistory(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, http.MethodGet, "/api/merges", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"data":[]`)
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.RateLimit = config.RateLimitConfig{RequestsPerMinute: 1, Burst: 1}
	})

	w := env.do(t, http.MethodGet, "/api/get-document-preview-pdf?path=contracts/a.docx", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/api/get-document-preview-pdf?path=contracts/a.docx", "")
	assertAPIError(t, w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED")
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	// listing is not limited
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/get-documents", "").Code)
	}
}

func TestNewRejectsMissingRepository(t *testing.T) {
	cfg := config.Default()
	cfg.Repository = filepath.Join(t.TempDir(), "absent")
	_, err := New(cfg)
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", errors.NewDocumentNotFound("a.docx"), http.StatusNotFound, "DOCUMENT_NOT_FOUND"},
		{"load", errors.NewDocumentLoad("a.docx", "bad zip", nil), http.StatusUnprocessableEntity, "DOCUMENT_LOAD_ERROR"},
		{"traversal", &errors.ValidationError{Field: "location", Err: errors.ErrPathTraversal}, http.StatusBadRequest, "INVALID_PATH"},
		{"validation", errors.NewValidation("location", "empty"), http.StatusBadRequest, "INVALID_PATH"},
		{"render", errors.NewRender("wkhtmltopdf", "a.docx", "", nil), http.StatusBadGateway, "RENDER_FAILED"},
		{"cancelled", context.Canceled, http.StatusServiceUnavailable, "REQUEST_CANCELLED"},
		{"io", errors.NewIO("read", "a.docx", nil), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code := errorStatus(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestWebSocketMergeEvents(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env.server.Start(ctx)

	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return env.server.hub.ClientCount(ctx) == 1
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Post(ts.URL+"/api/merge-documents", "application/json",
		strings.NewReader(`{"document_order": ["images/one.docx", "images/two.docx"]}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var types []merge.EventType
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var msg ProgressMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		assert.NotEmpty(t, msg.RequestID)
		types = append(types, msg.Type)
		if msg.Type == merge.EventCompleted {
			break
		}
	}
	assert.Equal(t, []merge.EventType{
		merge.EventStarted,
		merge.EventDocumentAppended,
		merge.EventResourceConflict,
		merge.EventDocumentAppended,
		merge.EventCompleted,
	}, types)
}

func TestWebSocketRequestScopedFeed(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env.server.Start(ctx)

	ts := httptest.NewServer(env.handler)
	defer ts.Close()
	base := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	mine, _, err := websocket.DefaultDialer.Dial(base+"?request_id=merge-mine", nil)
	require.NoError(t, err)
	defer mine.Close()
	other, _, err := websocket.DefaultDialer.Dial(base+"?request_id=merge-other", nil)
	require.NoError(t, err)
	defer other.Close()

	require.Eventually(t, func() bool {
		return env.server.hub.ClientCount(ctx) == 2
	}, 2*time.Second, 10*time.Millisecond)

	post := func(requestID string) {
		req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/merge-documents",
			strings.NewReader(`{"document_order": ["contracts/a.docx", "contracts/b.docx"]}`))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Request-ID", requestID)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	readAll := func(conn *websocket.Conn) []string {
		var ids []string
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		for {
			_, data, err := conn.ReadMessage()
			require.NoError(t, err)
			var msg ProgressMessage
			require.NoError(t, json.Unmarshal(data, &msg))
			ids = append(ids, msg.RequestID)
			if msg.Type == merge.EventCompleted {
				return ids
			}
		}
	}

	post("merge-mine")
	post("merge-other")

	// events arrive in order, so anything from the first merge would come first
	for _, id := range readAll(mine) {
		assert.Equal(t, "merge-mine", id)
	}
	for _, id := range readAll(other) {
		assert.Equal(t, "merge-other", id)
	}
}

func TestWebSocketOrigin(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.AllowedOrigins = []string{"https://app.example.com"} })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env.server.Start(ctx)

	ts := httptest.NewServer(env.handler)
	defer ts.Close()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example.com"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://app.example.com"}})
	require.NoError(t, err)
	conn.Close()
}
