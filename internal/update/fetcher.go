package update

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	appErrors "mounterctl/internal/errors"
)

const userAgent = "mounterctl-updater"

// TransferFunc receives byte counts while a download is in flight. total is
// -1 when the server did not announce a length.
type TransferFunc func(done, total int64)

// Fetcher copies the resource at rawURL into dst.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, dst io.Writer, progress TransferFunc) error
}

// HTTPFetcher downloads packages over HTTP(S).
type HTTPFetcher struct {
	httpClient *http.Client
}

// FetcherOption configures an HTTPFetcher.
type FetcherOption func(*HTTPFetcher)

// WithFetcherHTTPClient sets a custom HTTP client for downloads.
func WithFetcherHTTPClient(client *http.Client) FetcherOption {
	return func(f *HTTPFetcher) {
		f.httpClient = client
	}
}

// NewHTTPFetcher creates a fetcher. By default no timeout is applied so
// large packages are not cut off.
func NewHTTPFetcher(opts ...FetcherOption) *HTTPFetcher {
	f := &HTTPFetcher{
		httpClient: &http.Client{
			Timeout: 0,
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string, dst io.Writer, progress TransferFunc) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return appErrors.New(appErrors.CodeDownloadFailed, "create request", err)
	}
	req.Header.Set("Accept", "application/octet-stream")
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return appErrors.New(appErrors.CodeNetworkFailure, fmt.Sprintf("download %s", rawURL), err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return appErrors.New(appErrors.CodeNetworkFailure, fmt.Sprintf("download %s: status %d", rawURL, resp.StatusCode), nil)
	}

	counter := &progressWriter{total: resp.ContentLength, report: progress}
	if counter.total <= 0 {
		counter.total = -1
	}
	//nolint:gosec // G110: packages come from configured mirrors
	if _, err := io.Copy(io.MultiWriter(dst, counter), resp.Body); err != nil {
		return appErrors.New(appErrors.CodeDownloadFailed, fmt.Sprintf("download %s", rawURL), err)
	}
	return nil
}

type progressWriter struct {
	done   int64
	total  int64
	report TransferFunc
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.done += int64(len(p))
	if w.report != nil {
		w.report(w.done, w.total)
	}
	return len(p), nil
}

// packageURL turns a manifest path into an absolute URL. Relative paths
// are resolved against the mirror that served the manifest.
func packageURL(path, source string) (string, error) {
	path = strings.TrimSpace(path)
	target, err := url.Parse(path)
	if err != nil {
		return "", appErrors.New(appErrors.CodeDownloadFailed, fmt.Sprintf("invalid package path %q", path), err)
	}
	if target.IsAbs() {
		return target.String(), nil
	}
	base, err := url.Parse(source)
	if err != nil || !base.IsAbs() {
		return "", appErrors.New(appErrors.CodeDownloadFailed, fmt.Sprintf("cannot resolve relative package path %q", path), err)
	}
	return base.ResolveReference(target).String(), nil
}
