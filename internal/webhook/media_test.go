package webhook

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/config"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/media/providers/localfs"
)

func TestServeMedia(t *testing.T) {
	store, err := localfs.New(t.TempDir(), "http://localhost:8000/media")
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), "c1/conv1/m1.jpg", strings.NewReader("jpeg-bytes")))

	s, _ := newTestServer(t, config.HTTPConfig{})
	s.ServeMedia("/media/", store)

	rec := do(t, s, http.MethodGet, "/media/c1/conv1/m1.jpg", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, "jpeg-bytes", rec.Body.String())

	testCases := []struct {
		name string
		path string
	}{
		{name: "missing object", path: "/media/c1/conv1/nope.jpg"},
		{name: "directory", path: "/media/c1/conv1"},
		{name: "traversal", path: "/media/../../etc/passwd"},
		{name: "empty key", path: "/media/"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, s, http.MethodGet, tc.path, "", nil)
			assert.Equal(t, http.StatusNotFound, rec.Code)
		})
	}
}

func TestServeMedia_UnknownExtensionIsOctetStream(t *testing.T) {
	store, err := localfs.New(t.TempDir(), "http://localhost:8000/media")
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), "c1/conv1/m1.bin9", strings.NewReader("raw")))

	s, _ := newTestServer(t, config.HTTPConfig{})
	s.ServeMedia("media", store)

	rec := do(t, s, http.MethodGet, "/media/c1/conv1/m1.bin9", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))
}
