package liveness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Result is the outcome of a liveness probe. Timeouts and transport errors
// are reported through Reason, never as Go errors.
type Result struct {
	OK     bool
	Status int
	Reason string
}

// Strategy probes one URL. Implementations apply the deadline carried by ctx
// and return the shared Result shape so the checker needs no knowledge of
// strategy internals.
type Strategy interface {
	Probe(ctx context.Context, client *http.Client, rawURL string) Result
}

// matcher decides whether a strategy owns a URL.
type matcher func(u *url.URL) bool

type strategyEntry struct {
	name  string
	match matcher
	probe Strategy
}

type Config struct {
	Timeout       time.Duration
	MinContentLen int64
	UserAgent     string
}

// Checker validates that media URLs still resolve to real content. Platform
// strategies are consulted first by host; everything else goes through the
// generic HEAD/GET probe.
type Checker struct {
	client     *http.Client
	timeout    time.Duration
	logger     *slog.Logger
	strategies []strategyEntry
	generic    Strategy
}

func NewChecker(cfg Config, logger *slog.Logger) *Checker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MinContentLen <= 0 {
		cfg.MinContentLen = 1024
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "pizza-content-importer/1.0"
	}

	c := &Checker{
		client: &http.Client{
			// The per-check context carries the deadline; no client-level
			// timeout so strategies stay in control.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return errors.New("too many redirects")
				}
				return nil
			},
		},
		timeout: cfg.Timeout,
		logger:  logger,
		generic: &genericStrategy{
			minContentLen: cfg.MinContentLen,
			userAgent:     cfg.UserAgent,
		},
	}

	c.Register("youtube", hostSuffix("youtube.com", "youtu.be"), &oEmbedStrategy{
		endpoint: "https://www.youtube.com/oembed",
	})
	c.Register("vimeo", hostSuffix("vimeo.com"), &oEmbedStrategy{
		endpoint: "https://vimeo.com/api/oembed.json",
	})

	return c
}

// Register adds a platform strategy. Later registrations are consulted after
// earlier ones; the generic probe remains the fallback.
func (c *Checker) Register(name string, match func(u *url.URL) bool, s Strategy) {
	c.strategies = append(c.strategies, strategyEntry{name: name, match: match, probe: s})
}

func hostSuffix(suffixes ...string) matcher {
	return func(u *url.URL) bool {
		host := strings.ToLower(u.Hostname())
		for _, s := range suffixes {
			if host == s || strings.HasSuffix(host, "."+s) {
				return true
			}
		}
		return false
	}
}

// Check probes rawURL within the configured timeout.
func (c *Checker) Check(ctx context.Context, rawURL string) Result {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return Result{OK: false, Reason: "invalid url"}
	}

	probeCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	for _, entry := range c.strategies {
		if entry.match(u) {
			c.logger.Debug("liveness check", "strategy", entry.name, "url", rawURL)
			return entry.probe.Probe(probeCtx, c.client, rawURL)
		}
	}
	return c.generic.Probe(probeCtx, c.client, rawURL)
}

// BatchResult pairs an input URL with its probe outcome.
type BatchResult struct {
	URL    string
	Result Result
}

// CheckBatch probes urls with bounded parallelism: chunks of size
// concurrency run in parallel, each chunk fully awaited before the next
// starts. Results stream on the returned channel as they complete within a
// chunk; the channel closes when all urls are done.
func (c *Checker) CheckBatch(ctx context.Context, urls []string, concurrency int) <-chan BatchResult {
	if concurrency <= 0 {
		concurrency = 1
	}

	out := make(chan BatchResult)
	go func() {
		defer close(out)

		for start := 0; start < len(urls); start += concurrency {
			end := min(start+concurrency, len(urls))

			var wg sync.WaitGroup
			for _, u := range urls[start:end] {
				u := u
				wg.Add(1)
				go func() {
					defer wg.Done()
					out <- BatchResult{URL: u, Result: c.Check(ctx, u)}
				}()
			}
			wg.Wait()

			if ctx.Err() != nil {
				return
			}
		}
	}()
	return out
}

// genericStrategy issues a HEAD request, retrying once with GET when the
// server rejects HEAD outright.
type genericStrategy struct {
	minContentLen int64
	userAgent     string
}

func (g *genericStrategy) Probe(ctx context.Context, client *http.Client, rawURL string) Result {
	resp, err := g.do(ctx, client, http.MethodHead, rawURL)
	if err != nil {
		return resultFromTransportError(err)
	}
	resp.Body.Close()

	if resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented {
		resp, err = g.do(ctx, client, http.MethodGet, rawURL)
		if err != nil {
			return resultFromTransportError(err)
		}
		resp.Body.Close()
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return Result{OK: false, Status: resp.StatusCode, Reason: fmt.Sprintf("status %d", resp.StatusCode)}
	}

	if resp.ContentLength >= 0 && resp.ContentLength < g.minContentLen {
		return Result{OK: false, Status: resp.StatusCode, Reason: "too small"}
	}

	contentType := resp.Header.Get("Content-Type")
	if resp.ContentLength < 0 && !isMediaType(contentType) {
		return Result{OK: false, Status: resp.StatusCode, Reason: fmt.Sprintf("unexpected content type %q", contentType)}
	}

	return Result{OK: true, Status: resp.StatusCode}
}

func (g *genericStrategy) do(ctx context.Context, client *http.Client, method, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", g.userAgent)
	return client.Do(req)
}

func isMediaType(contentType string) bool {
	return strings.HasPrefix(contentType, "image/") || strings.HasPrefix(contentType, "video/")
}

// oEmbedStrategy asks a video host's oEmbed endpoint about the URL. A 200
// means the video still exists; 401/403/404 mean it is gone or private.
type oEmbedStrategy struct {
	endpoint string
}

func (o *oEmbedStrategy) Probe(ctx context.Context, client *http.Client, rawURL string) Result {
	probeURL := fmt.Sprintf("%s?url=%s&format=json", o.endpoint, url.QueryEscape(rawURL))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
	if err != nil {
		return Result{OK: false, Reason: err.Error()}
	}

	resp, err := client.Do(req)
	if err != nil {
		return resultFromTransportError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return Result{OK: true, Status: resp.StatusCode}
	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusNotFound,
		resp.StatusCode == http.StatusGone:
		return Result{OK: false, Status: resp.StatusCode, Reason: "gone"}
	default:
		return Result{OK: false, Status: resp.StatusCode, Reason: fmt.Sprintf("status %d", resp.StatusCode)}
	}
}

func resultFromTransportError(err error) Result {
	if errors.Is(err, context.DeadlineExceeded) {
		return Result{OK: false, Reason: "timeout"}
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Result{OK: false, Reason: "timeout"}
	}
	return Result{OK: false, Reason: err.Error()}
}
