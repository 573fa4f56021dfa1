package liveness

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestChecker(minLen int64) *Checker {
	return NewChecker(Config{
		Timeout:       2 * time.Second,
		MinContentLen: minLen,
	}, testLogger())
}

func TestCheck_OKImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Content-Length", "50000")
	}))
	defer srv.Close()

	res := newTestChecker(1024).Check(context.Background(), srv.URL+"/photo.jpg")
	assert.True(t, res.OK)
	assert.Equal(t, http.StatusOK, res.Status)
}

func TestCheck_TooSmall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/gif")
		w.Header().Set("Content-Length", "500")
	}))
	defer srv.Close()

	res := newTestChecker(1024).Check(context.Background(), srv.URL)
	assert.False(t, res.OK)
	assert.Equal(t, "too small", res.Reason)
	assert.Equal(t, http.StatusOK, res.Status)
}

func TestCheck_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	res := newTestChecker(1024).Check(context.Background(), srv.URL)
	assert.False(t, res.OK)
	assert.Equal(t, http.StatusNotFound, res.Status)
	assert.Equal(t, "status 404", res.Reason)
}

func TestCheck_HeadRejectedFallsBackToGet(t *testing.T) {
	var heads, gets atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodHead:
			heads.Add(1)
			w.WriteHeader(http.StatusMethodNotAllowed)
		case http.MethodGet:
			gets.Add(1)
			w.Header().Set("Content-Type", "video/mp4")
			w.Header().Set("Content-Length", "2048")
			w.Write(make([]byte, 2048))
		}
	}))
	defer srv.Close()

	res := newTestChecker(1024).Check(context.Background(), srv.URL)
	assert.True(t, res.OK)
	assert.Equal(t, int32(1), heads.Load())
	assert.Equal(t, int32(1), gets.Load())
}

func TestCheck_NonMediaContentTypeWithoutLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		// flush forces chunked transfer, so no Content-Length is sent
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		w.Write([]byte("<html>deleted</html>"))
	}))
	defer srv.Close()

	res := newTestChecker(1024).Check(context.Background(), srv.URL)
	assert.False(t, res.OK)
	assert.Contains(t, res.Reason, "content type")
}

func TestCheck_TimeoutResolvesNotPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer srv.Close()

	checker := NewChecker(Config{
		Timeout:       50 * time.Millisecond,
		MinContentLen: 1024,
	}, testLogger())

	res := checker.Check(context.Background(), srv.URL)
	assert.False(t, res.OK)
	assert.Equal(t, "timeout", res.Reason)
}

func TestCheck_InvalidURL(t *testing.T) {
	res := newTestChecker(1024).Check(context.Background(), "not a url")
	assert.False(t, res.OK)
	assert.Equal(t, "invalid url", res.Reason)
}

func TestOEmbedStrategy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "json", r.URL.Query().Get("format"))
		switch r.URL.Query().Get("url") {
		case "https://youtube.com/watch?v=alive":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"title":"pizza oven build"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	strategy := &oEmbedStrategy{endpoint: srv.URL + "/oembed"}
	client := &http.Client{}

	res := strategy.Probe(context.Background(), client, "https://youtube.com/watch?v=alive")
	assert.True(t, res.OK)

	res = strategy.Probe(context.Background(), client, "https://youtube.com/watch?v=deleted")
	assert.False(t, res.OK)
	assert.Equal(t, "gone", res.Reason)
}

func TestChecker_StrategyDispatchByHost(t *testing.T) {
	oembed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer oembed.Close()

	checker := newTestChecker(1024)
	var dispatched atomic.Bool
	checker.Register("tubetest", hostSuffix("tube.test"), probeFunc(func(ctx context.Context, client *http.Client, rawURL string) Result {
		dispatched.Store(true)
		return Result{OK: true}
	}))

	res := checker.Check(context.Background(), "https://videos.tube.test/v/123")
	assert.True(t, res.OK)
	assert.True(t, dispatched.Load())
}

type probeFunc func(ctx context.Context, client *http.Client, rawURL string) Result

func (f probeFunc) Probe(ctx context.Context, client *http.Client, rawURL string) Result {
	return f(ctx, client, rawURL)
}

func TestCheckBatch_AllResultsDelivered(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Content-Length", "4096")
	}))
	defer srv.Close()

	checker := newTestChecker(1024)

	var urls []string
	for i := 0; i < 7; i++ {
		urls = append(urls, srv.URL+"/img"+strconv.Itoa(i))
	}

	got := make(map[string]Result)
	for br := range checker.CheckBatch(context.Background(), urls, 3) {
		got[br.URL] = br.Result
	}

	require.Len(t, got, 7)
	for u, res := range got {
		assert.True(t, res.OK, "url %s", u)
	}
}

func TestCheckBatch_ConcurrencyBounded(t *testing.T) {
	var mu sync.Mutex
	current, peak := 0, 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		current++
		if current > peak {
			peak = current
		}
		mu.Unlock()

		time.Sleep(30 * time.Millisecond)

		mu.Lock()
		current--
		mu.Unlock()

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Content-Length", "4096")
	}))
	defer srv.Close()

	checker := newTestChecker(1024)

	var urls []string
	for i := 0; i < 9; i++ {
		urls = append(urls, srv.URL+"/img"+strconv.Itoa(i))
	}

	count := 0
	for range checker.CheckBatch(context.Background(), urls, 2) {
		count++
	}

	assert.Equal(t, 9, count)
	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, peak, 2)
}
