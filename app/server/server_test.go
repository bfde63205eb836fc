package server

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
	"net/textproto"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragbase/bootstrap"
	"ragbase/config"
	"ragbase/types"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Config{
		StoreDriver:    "memory",
		BlobDriver:     "disk",
		BlobDir:        filepath.Join(dir, "raw"),
		Embedding:      config.EmbeddingConfig{Driver: "hash", Dimension: 64, BatchSize: 8},
		MaxUploadBytes: 1 << 20,
		ProfilePath:    filepath.Join(dir, "pipeline.yaml"),
	}
	app, err := bootstrap.New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { app.Close() })
	return NewServer(app)
}

func upload(t *testing.T, s *Server, filename, contentType, data string) *http.Response {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename))
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	require.NoError(t, err)
	_, err = io.WriteString(part, data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest("POST", "/api/v1/documents", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	resp, err := s.Public().Test(req)
	require.NoError(t, err)
	return resp
}

func postJSON(t *testing.T, app interface {
	Test(*http.Request, ...int) (*http.Response, error)
}, path string, v any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	req := httptest.NewRequest("POST", path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp
}

func readJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestServer_DirectLaneRoundTrip(t *testing.T) {
	s := newTestServer(t)

	resp := upload(t, s, "guide.md", "text/markdown", "# Install\n\nRun the installer and accept the licence.")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	summary := readJSON[types.DocumentSummary](t, resp)
	assert.Equal(t, types.StatusCompleted, summary.Status)
	assert.Equal(t, types.LaneDirect, summary.Lane)

	resp = upload(t, s, "copy.md", "text/markdown", "# Install\n\nRun the installer and accept the licence.")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, err := s.Public().Test(httptest.NewRequest("GET", "/api/v1/documents/"+summary.ID.String(), nil))
	require.NoError(t, err)
	report := readJSON[types.StatusReport](t, resp)
	require.NotNil(t, report.ChunkCount)
	assert.Equal(t, 1, *report.ChunkCount)

	resp = postJSON(t, s.Public(), "/api/v1/query", map[string]any{"text": "run the installer"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	results := readJSON[[]types.SearchResult](t, resp)
	require.Len(t, results, 1)
	assert.Equal(t, summary.ID, results[0].DocumentID)
	assert.Equal(t, "Install", results[0].Metadata.Heading)
}

func TestServer_DeferredLaneViaCallback(t *testing.T) {
	s := newTestServer(t)

	resp := upload(t, s, "scan.pdf", "application/pdf", "%PDF-1.4 scanned")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	summary := readJSON[types.DocumentSummary](t, resp)
	assert.Equal(t, types.LaneDeferred, summary.Lane)

	resp = postJSON(t, s.Public(), "/internal/callback", map[string]any{})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "callback route must not exist on the public app")

	payload := map[string]any{
		"documentId": summary.ID,
		"success":    true,
		"result": map[string]any{
			"markdown":  strings.Repeat("Scanned invoices list totals per customer. ", 4),
			"pageCount": 1,
		},
	}
	resp = postJSON(t, s.Internal(), "/internal/callback", payload)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "applied", readJSON[map[string]string](t, resp)["status"])

	resp = postJSON(t, s.Internal(), "/internal/callback", payload)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ignored", readJSON[map[string]string](t, resp)["status"])

	resp = postJSON(t, s.Internal(), "/internal/callback", map[string]any{"documentId": "x"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestServer_UploadErrors(t *testing.T) {
	s := newTestServer(t)

	resp := upload(t, s, "tool.exe", "application/x-msdownload", "MZ")
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)

	resp = upload(t, s, "blank.txt", "text/plain", "   \n")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, err := s.Public().Test(httptest.NewRequest("GET", "/check/healthy", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = s.Public().Test(httptest.NewRequest("GET", "/check/ready", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = s.Public().Test(httptest.NewRequest("GET", "/api/v1/config", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
