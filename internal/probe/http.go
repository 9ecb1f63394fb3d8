package probe

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// HTTPProbe issues a GET against a single URL and fails on transport errors
// or status codes >= 400.
type HTTPProbe struct {
	name string
	url  string
	log  *slog.Logger

	client *http.Client
}

func NewHTTP(name, url string, log *slog.Logger) *HTTPProbe {
	if log == nil {
		log = slog.Default()
	}
	return &HTTPProbe{
		name: name,
		url:  url,
		log:  log,
		client: &http.Client{
			// Per-run deadlines come from the caller's ctx; this is a
			// backstop against a missing timeout.
			Timeout: 2 * time.Minute,
		},
	}
}

func (p *HTTPProbe) Name() string { return p.name }
func (p *HTTPProbe) Type() string { return "http" }

func (p *HTTPProbe) Run(ctx context.Context) (*Result, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "paced-probe")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", p.url, err)
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	took := time.Since(start)
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("get %s: status %s", p.url, resp.Status)
	}

	p.log.Debug("http probe ok",
		slog.String("probe", p.name),
		slog.String("status", resp.Status),
		slog.Duration("took", took),
	)
	return &Result{
		Probe:    p.name,
		Type:     p.Type(),
		Started:  start,
		Duration: took,
		Detail:   fmt.Sprintf("%s in %s", resp.Status, took.Round(time.Millisecond)),
	}, nil
}
