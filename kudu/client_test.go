package kudu_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/numtide/appservice-cert-wizard/errs"
	"github.com/numtide/appservice-cert-wizard/kudu"
)

// fakeVFS mimics the deployment host's file API. Writes without If-Match
// over an existing file are rejected with 412 like the real host does.
type fakeVFS struct {
	mu    sync.Mutex
	files map[string][]byte
	auth  []string
}

func newFakeVFS() *fakeVFS {
	return &fakeVFS{files: map[string][]byte{}}
}

func (f *fakeVFS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.auth = append(f.auth, r.Header.Get("Authorization"))
	path := strings.TrimPrefix(r.URL.Path, "/api/vfs/")

	switch r.Method {
	case http.MethodGet:
		if strings.HasSuffix(path, "/") {
			var entries []kudu.Entry
			for name := range f.files {
				if strings.HasPrefix(name, path) {
					entries = append(entries, kudu.Entry{Name: strings.TrimPrefix(name, path), Path: name, Mime: "text/plain"})
				}
			}
			if entries == nil {
				http.Error(w, "directory not found", http.StatusNotFound)
				return
			}
			_ = json.NewEncoder(w).Encode(entries)
			return
		}
		content, ok := f.files[path]
		if !ok {
			http.Error(w, "file not found", http.StatusNotFound)
			return
		}
		_, _ = w.Write(content)
	case http.MethodPut:
		if _, exists := f.files[path]; exists && r.Header.Get("If-Match") != "*" {
			http.Error(w, "etag mismatch", http.StatusPreconditionFailed)
			return
		}
		content, _ := io.ReadAll(r.Body)
		f.files[path] = content
		w.WriteHeader(http.StatusNoContent)
	case http.MethodDelete:
		if _, ok := f.files[path]; !ok {
			http.Error(w, "file not found", http.StatusNotFound)
			return
		}
		delete(f.files, path)
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestClient(t *testing.T, h http.Handler) *kudu.Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return kudu.NewClient(srv.URL, "$site", "secret", kudu.WithHTTPClient(srv.Client()))
}

func TestWriteThenReadReturnsSameBytes(t *testing.T) {
	vfs := newFakeVFS()
	c := newTestClient(t, vfs)
	ctx := context.Background()

	content := []byte("token.keyauth\x00\xff")
	require.NoError(t, c.WriteFile(ctx, "site/wwwroot/.well-known/acme-challenge/abc", content))

	got, err := c.ReadFile(ctx, "site/wwwroot/.well-known/acme-challenge/abc")
	require.NoError(t, err)
	assert.Equal(t, content, got)
	assert.Equal(t, "Basic JHNpdGU6c2VjcmV0", vfs.auth[0])
}

func TestWriteFileOverwritesExistingFile(t *testing.T) {
	vfs := newFakeVFS()
	vfs.files["site/wwwroot/web.config"] = []byte("old")
	c := newTestClient(t, vfs)
	ctx := context.Background()

	require.NoError(t, c.WriteFile(ctx, "site/wwwroot/web.config", []byte("new")))

	got, err := c.ReadFile(ctx, "site/wwwroot/web.config")
	require.NoError(t, err)
	assert.Equal(t, "new", string(got))
}

func TestReadFileMissing(t *testing.T) {
	c := newTestClient(t, newFakeVFS())

	_, err := c.ReadFile(context.Background(), "nope.txt")
	require.Error(t, err)
	assert.True(t, errs.IsNotFound(err))
}

func TestReadDirectory(t *testing.T) {
	vfs := newFakeVFS()
	vfs.files["site/wwwroot/a.txt"] = []byte("a")
	vfs.files["site/wwwroot/b.txt"] = []byte("b")
	c := newTestClient(t, vfs)

	entries, err := c.ReadDirectory(context.Background(), "site/wwwroot")
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	_, err = c.ReadDirectory(context.Background(), "missing")
	var remote *errs.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, http.StatusNotFound, remote.StatusCode)
}

func TestWriteFileRemoteError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "disk full", http.StatusInternalServerError)
	}))

	err := c.WriteFile(context.Background(), "x", []byte("y"))
	var remote *errs.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, http.StatusInternalServerError, remote.StatusCode)
	assert.Contains(t, remote.Body, "disk full")
}

func TestDeleteFileIgnoresMissing(t *testing.T) {
	vfs := newFakeVFS()
	vfs.files["a"] = []byte("1")
	c := newTestClient(t, vfs)
	ctx := context.Background()

	require.NoError(t, c.DeleteFile(ctx, "a"))
	require.NoError(t, c.DeleteFile(ctx, "a"))
	assert.Empty(t, vfs.files)
}

func TestPathsAreEscapedPerSegment(t *testing.T) {
	vfs := newFakeVFS()
	c := newTestClient(t, vfs)
	ctx := context.Background()

	require.NoError(t, c.WriteFile(ctx, "site/wwwroot/notes #1?.txt", []byte("x")))

	assert.Contains(t, vfs.files, "site/wwwroot/notes #1?.txt")
	assert.NotContains(t, vfs.files, "site/wwwroot/notes ")

	got, err := c.ReadFile(ctx, "/site/wwwroot/notes #1?.txt")
	require.NoError(t, err)
	assert.Equal(t, "x", string(got))
}
