package update

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "mounterctl/internal/errors"
)

func TestHTTPFetcherReportsProgress(t *testing.T) {
	payload := bytes.Repeat([]byte("m"), 64*1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	var buf bytes.Buffer
	var last, total int64
	err := NewHTTPFetcher().Fetch(context.Background(), srv.URL, &buf, func(done, size int64) {
		last, total = done, size
	})
	require.NoError(t, err)
	assert.Equal(t, payload, buf.Bytes())
	assert.Equal(t, int64(len(payload)), last)
	assert.Equal(t, int64(len(payload)), total)
}

func TestHTTPFetcherStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	err := NewHTTPFetcher().Fetch(context.Background(), srv.URL, &bytes.Buffer{}, nil)
	require.Error(t, err)
	assert.True(t, appErrors.IsCode(err, appErrors.CodeNetworkFailure))
}

func TestPackageURL(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		source string
		want   string
		fails  bool
	}{
		{name: "absolute", path: "https://cdn.example.com/p.zip", source: "https://m.example.com/manifest.json", want: "https://cdn.example.com/p.zip"},
		{name: "relative file", path: "p.zip", source: "https://m.example.com/mounter/manifest.json", want: "https://m.example.com/mounter/p.zip"},
		{name: "rooted", path: "/pkgs/p.zip", source: "https://m.example.com/mounter/manifest.json", want: "https://m.example.com/pkgs/p.zip"},
		{name: "relative without source", path: "p.zip", source: "", fails: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := packageURL(tt.path, tt.source)
			if tt.fails {
				assert.True(t, appErrors.IsCode(err, appErrors.CodeDownloadFailed), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
