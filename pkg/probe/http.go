package probe

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"
)

// HTTPChecker probes an HTTP(S) health endpoint
type HTTPChecker struct {
	// URL is the full URL to check (e.g., "https://127.0.0.1:6443/readyz")
	URL string

	// ExpectedStatusMin is the minimum acceptable status code
	ExpectedStatusMin int

	// ExpectedStatusMax is the maximum acceptable status code
	ExpectedStatusMax int

	// Client is the HTTP client to use (allows custom TLS configuration)
	Client *http.Client
}

// NewHTTPChecker creates an HTTP probe with plain transport
func NewHTTPChecker(url string) *HTTPChecker {
	return &HTTPChecker{
		URL:               url,
		ExpectedStatusMin: 200,
		ExpectedStatusMax: 399,
		Client: &http.Client{
			Timeout: 3 * time.Second,
		},
	}
}

// NewHTTPSChecker creates an HTTPS probe with the given TLS configuration.
// A nil config skips certificate verification, which is what the
// control-plane daemons serving self-signed local certs need.
func NewHTTPSChecker(url string, tlsConfig *tls.Config) *HTTPChecker {
	if tlsConfig == nil {
		tlsConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402 local dev probe
	}
	c := NewHTTPChecker(url)
	c.Client.Transport = &http.Transport{TLSClientConfig: tlsConfig}
	return c
}

// Check performs the HTTP probe
func (h *HTTPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("invalid request: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("request failed: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < h.ExpectedStatusMin || resp.StatusCode > h.ExpectedStatusMax {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("unexpected status %d from %s", resp.StatusCode, h.URL),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	return Result{
		Healthy:   true,
		Message:   fmt.Sprintf("HTTP %d from %s", resp.StatusCode, h.URL),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the probe type
func (h *HTTPChecker) Type() CheckType {
	return CheckTypeHTTP
}
