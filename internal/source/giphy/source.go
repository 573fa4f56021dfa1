package giphy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/snackman/pizza-content-sub000/internal/domain"
	"github.com/snackman/pizza-content-sub000/internal/importer"
	"github.com/snackman/pizza-content-sub000/internal/ratelimit"
)

const Platform = "giphy"

const (
	defaultBaseURL = "https://api.giphy.com"
	defaultLimit   = 50
	defaultRating  = "g"
)

// Config holds giphy adapter configuration.
type Config struct {
	Query       string
	DisplayName string
	APIKey      string
	Limit       int
	Rating      string
	Timeout     time.Duration
	BaseURL     string
}

// Source fetches gifs matching one search query.
type Source struct {
	httpClient  *http.Client
	baseURL     string
	query       string
	identifier  string
	displayName string
	apiKey      string
	limit       int
	rating      string
	logger      *slog.Logger
}

// New creates a giphy source.
func New(cfg Config, logger *slog.Logger) *Source {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Limit <= 0 {
		cfg.Limit = defaultLimit
	}
	if cfg.Rating == "" {
		cfg.Rating = defaultRating
	}
	identifier := strings.ReplaceAll(strings.ToLower(cfg.Query), " ", "-")
	return &Source{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:     cfg.BaseURL,
		query:       cfg.Query,
		identifier:  identifier,
		displayName: cfg.DisplayName,
		apiKey:      cfg.APIKey,
		limit:       cfg.Limit,
		rating:      cfg.Rating,
		logger:      logger.With("platform", Platform, "query", cfg.Query),
	}
}

// Platform returns the platform identifier.
func (s *Source) Platform() string {
	return Platform
}

// Identifier returns the search query slug.
func (s *Source) Identifier() string {
	return s.identifier
}

// DisplayName returns the human-readable name.
func (s *Source) DisplayName() string {
	if s.displayName != "" {
		return s.displayName
	}
	return "giphy: " + s.query
}

// Fetch retrieves one page of search results.
func (s *Source) Fetch(ctx context.Context) ([]importer.RawItem, error) {
	params := url.Values{
		"api_key": {s.apiKey},
		"q":       {s.query},
		"limit":   {fmt.Sprint(s.limit)},
		"rating":  {s.rating},
	}
	reqURL := fmt.Sprintf("%s/v1/gifs/search?%s", s.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("gif search %q: %w", s.query, ratelimit.ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var searchResp searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if searchResp.Meta.Status == http.StatusTooManyRequests {
		return nil, fmt.Errorf("gif search %q: %s: %w",
			s.query, searchResp.Meta.Msg, ratelimit.ErrRateLimited)
	}

	items := make([]importer.RawItem, 0, len(searchResp.Data))
	for _, gif := range searchResp.Data {
		g := gif
		items = append(items, &g)
	}

	s.logger.Debug("fetched search results",
		"gifs", len(items),
		"total", searchResp.Pagination.TotalCount,
	)
	return items, nil
}

// Transform turns a search result into a content draft. Results without a
// parsable import date or without an original rendition are rejected.
func (s *Source) Transform(_ context.Context, item importer.RawItem) (*domain.ContentDraft, error) {
	gif, ok := item.(*Gif)
	if !ok {
		return nil, fmt.Errorf("unexpected item type %T", item)
	}

	if gif.Images.Original.URL == "" {
		return nil, nil
	}

	if _, err := dateparse.ParseAny(gif.ImportDatetime); err != nil {
		s.logger.Warn("failed to parse import date",
			"gif_id", gif.ID,
			"import_datetime", gif.ImportDatetime,
		)
		return nil, nil
	}

	return &domain.ContentDraft{
		Type:           "gif",
		Title:          gif.Title,
		URL:            gif.Images.Original.URL,
		ThumbnailURL:   gif.Images.FixedWidth.URL,
		SourceURL:      gif.URL,
		SourcePlatform: Platform,
		IsViral:        hasTrended(gif),
	}, nil
}

// hasTrended reports whether the API marks the gif as having trended. The
// field is zero-filled ("0000-00-00 00:00:00") for gifs that never did.
func hasTrended(gif *Gif) bool {
	if gif.TrendingDatetime == "" || strings.HasPrefix(gif.TrendingDatetime, "0000") {
		return false
	}
	trended, err := dateparse.ParseAny(gif.TrendingDatetime)
	return err == nil && !trended.IsZero()
}
