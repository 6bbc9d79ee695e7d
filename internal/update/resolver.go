package update

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"mounterctl/internal/debug"
	"mounterctl/internal/domain"
	appErrors "mounterctl/internal/errors"
)

// maxManifestBytes bounds how much of a mirror response is parsed.
const maxManifestBytes = 1 << 20

// Resolver fetches the package manifest from the first mirror that serves
// a valid one.
type Resolver struct {
	mirrors    []string
	httpClient *http.Client
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithHTTPClient sets a custom HTTP client for the resolver.
func WithHTTPClient(client *http.Client) ResolverOption {
	return func(r *Resolver) {
		r.httpClient = client
	}
}

// NewResolver creates a resolver over mirrors, tried in declaration order.
func NewResolver(mirrors []string, opts ...ResolverOption) (*Resolver, error) {
	cleaned := make([]string, 0, len(mirrors))
	for _, m := range mirrors {
		if m = strings.TrimSpace(m); m != "" {
			cleaned = append(cleaned, m)
		}
	}
	if len(cleaned) == 0 {
		return nil, appErrors.New(appErrors.CodeConfigurationError, "no manifest mirrors configured", nil)
	}
	r := &Resolver{
		mirrors: cleaned,
		// No timeout: transport defaults apply.
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Mirrors returns the configured mirror URLs in order.
func (r *Resolver) Mirrors() []string {
	out := make([]string, len(r.mirrors))
	copy(out, r.mirrors)
	return out
}

// Resolve returns the manifest of the first mirror that can be fetched and
// parsed. Remaining mirrors are not contacted. When every mirror fails the
// error carries CodeNoManifest.
func (r *Resolver) Resolve(ctx context.Context) (domain.PackageManifest, error) {
	var attempts []error
	for _, mirror := range r.mirrors {
		if err := ctx.Err(); err != nil {
			attempts = append(attempts, err)
			break
		}
		manifest, err := r.fetch(ctx, mirror)
		if err != nil {
			debug.Logf("resolver: mirror %s failed: %v", mirror, err)
			attempts = append(attempts, err)
			continue
		}
		debug.Logf("resolver: %s offers version %s at %s", mirror, manifest.Version, manifest.Path)
		return manifest, nil
	}
	return domain.PackageManifest{}, appErrors.New(appErrors.CodeNoManifest, "no manifest available", errors.Join(attempts...))
}

func (r *Resolver) fetch(ctx context.Context, mirror string) (domain.PackageManifest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mirror, nil)
	if err != nil {
		return domain.PackageManifest{}, fmt.Errorf("create request for %s: %w", mirror, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return domain.PackageManifest{}, appErrors.New(appErrors.CodeNetworkFailure, mirror, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return domain.PackageManifest{}, appErrors.New(appErrors.CodeNetworkFailure, fmt.Sprintf("%s: status %d", mirror, resp.StatusCode), nil)
	}

	var manifest domain.PackageManifest
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxManifestBytes)).Decode(&manifest); err != nil {
		return domain.PackageManifest{}, fmt.Errorf("decode manifest from %s: %w", mirror, err)
	}
	if err := manifest.Validate(); err != nil {
		return domain.PackageManifest{}, fmt.Errorf("%s: %w", mirror, err)
	}
	manifest.Source = mirror
	return manifest, nil
}
