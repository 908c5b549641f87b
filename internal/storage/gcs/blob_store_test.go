package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newTestStore(t *testing.T, handler http.Handler) *BlobStore {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	store, err := Dial(context.Background(), Config{Bucket: "raw-payloads"},
		option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPutObjectUploadsSnapshot(t *testing.T) {
	t.Parallel()

	objectName := "snapshots/alice/2024-01-02/run-1.json"
	var (
		mu                       sync.Mutex
		gotBody, gotPath, gotName string
	)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotPath = r.URL.Path
		gotName = r.URL.Query().Get("name")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		fmt.Fprintln(w, `{"name":"`+objectName+`","bucket":"raw-payloads"}`)
	})
	store := newTestStore(t, handler)

	uri, err := store.PutObject(context.Background(), "/"+objectName, "application/json",
		strings.NewReader(`{"data":{"recentAcSubmissionList":[]}}`))
	require.NoError(t, err)
	require.Equal(t, "gs://raw-payloads/"+objectName, uri)
	mu.Lock()
	defer mu.Unlock()
	require.Contains(t, gotPath, "/upload/storage/v1/b/raw-payloads/o")
	require.Equal(t, objectName, gotName)
	require.Contains(t, gotBody, "recentAcSubmissionList")
	require.Contains(t, gotBody, "application/json")
}

func TestPutObjectSurfacesServerErrors(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"code":403,"message":"denied"}}`, http.StatusForbidden)
	})
	store := newTestStore(t, handler)

	_, err := store.PutObject(context.Background(), "snapshots/x.json", "application/json", strings.NewReader("{}"))
	require.Error(t, err)
}

func TestPutObjectRequiresPath(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, http.NotFoundHandler())
	_, err := store.PutObject(context.Background(), "  ", "", strings.NewReader(""))
	require.Error(t, err)
}

func TestNewValidatesArguments(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)
}
