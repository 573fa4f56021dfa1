package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// URLStore lists the source URLs of all persisted content records.
type URLStore interface {
	ListSourceURLs(ctx context.Context) ([]string, error)
}

// Deduplicator answers duplicate-existence queries against a process-local
// set of normalized source URLs. The cache is loaded once from the store and
// kept in sync by AddToCache after each successful persist; it is advisory
// only, the store's uniqueness constraint remains the source of truth.
type Deduplicator struct {
	store  URLStore
	logger *slog.Logger
	cache  map[string]struct{}
	loaded bool
}

func New(store URLStore, logger *slog.Logger) *Deduplicator {
	return &Deduplicator{
		store:  store,
		logger: logger,
		cache:  make(map[string]struct{}),
	}
}

// Normalize produces the canonical form of a URL: lowercase scheme and host,
// a single trailing slash stripped (except the root path), query parameters
// sorted lexicographically. Unparseable input falls back to lowercased,
// trimmed text. Normalize is idempotent.
func Normalize(raw string) string {
	trimmed := strings.TrimSpace(raw)

	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return strings.ToLower(trimmed)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if len(u.Path) > 1 && strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimSuffix(u.Path, "/")
		u.RawPath = strings.TrimSuffix(u.RawPath, "/")
	}

	u.RawQuery = u.Query().Encode()

	return u.String()
}

// LoadCache populates the cache from the store. It is idempotent; calls
// after the first successful load are no-ops.
func (d *Deduplicator) LoadCache(ctx context.Context) error {
	if d.loaded {
		return nil
	}

	urls, err := d.store.ListSourceURLs(ctx)
	if err != nil {
		return fmt.Errorf("load dedup cache: %w", err)
	}

	for _, u := range urls {
		d.cache[Normalize(u)] = struct{}{}
	}
	d.loaded = true

	d.logger.Debug("dedup cache loaded", "urls", len(d.cache))
	return nil
}

// Exists reports whether the normalized form of rawURL is already known.
func (d *Deduplicator) Exists(ctx context.Context, rawURL string) (bool, error) {
	if err := d.LoadCache(ctx); err != nil {
		return false, err
	}
	_, ok := d.cache[Normalize(rawURL)]
	return ok, nil
}

// ExistsBatch returns the subset of the input URLs whose normalized form is
// cached. The returned values are the original, unnormalized inputs.
func (d *Deduplicator) ExistsBatch(ctx context.Context, rawURLs []string) ([]string, error) {
	if err := d.LoadCache(ctx); err != nil {
		return nil, err
	}

	var dupes []string
	for _, u := range rawURLs {
		if _, ok := d.cache[Normalize(u)]; ok {
			dupes = append(dupes, u)
		}
	}
	return dupes, nil
}

// AddToCache inserts the normalized form of rawURL, converging the in-memory
// cache with the store without a re-query.
func (d *Deduplicator) AddToCache(rawURL string) {
	d.cache[Normalize(rawURL)] = struct{}{}
}

// Size returns the number of cached URLs.
func (d *Deduplicator) Size() int {
	return len(d.cache)
}

// FilterNew returns only the items whose URL, resolved via urlOf, is absent
// from the cache. Items with an empty URL cannot be deduplicated and pass
// through as new.
func FilterNew[T any](ctx context.Context, d *Deduplicator, items []T, urlOf func(T) string) ([]T, error) {
	if err := d.LoadCache(ctx); err != nil {
		return nil, err
	}

	var fresh []T
	for _, item := range items {
		u := urlOf(item)
		if u == "" {
			fresh = append(fresh, item)
			continue
		}
		if _, ok := d.cache[Normalize(u)]; !ok {
			fresh = append(fresh, item)
		}
	}
	return fresh, nil
}
