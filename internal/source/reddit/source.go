package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/snackman/pizza-content-sub000/internal/domain"
	"github.com/snackman/pizza-content-sub000/internal/importer"
	"github.com/snackman/pizza-content-sub000/internal/ratelimit"
	"github.com/snackman/pizza-content-sub000/internal/source"
)

const Platform = "reddit"

const (
	defaultBaseURL  = "https://oauth.reddit.com"
	defaultTokenURL = "https://www.reddit.com/api/v1/access_token"
	defaultListing  = "hot"
	defaultLimit    = 100
)

// Config holds reddit adapter configuration.
type Config struct {
	Subreddit   string
	DisplayName string
	UserAgent   string
	Listing     string // hot, new or top
	Limit       int
	ViralScore  int // score at or above which a post is flagged viral; 0 disables
	Timeout     time.Duration
	BaseURL     string
}

// Source fetches submissions from one subreddit through the OAuth API.
type Source struct {
	httpClient  *http.Client
	tokens      *source.TokenManager
	baseURL     string
	subreddit   string
	displayName string
	userAgent   string
	listing     string
	limit       int
	viralScore  int
	logger      *slog.Logger
}

// New creates a reddit source. The token manager is an explicit dependency
// and may be shared across all reddit sources of the process.
func New(cfg Config, tokens *source.TokenManager, logger *slog.Logger) *Source {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Listing == "" {
		cfg.Listing = defaultListing
	}
	if cfg.Limit <= 0 {
		cfg.Limit = defaultLimit
	}
	return &Source{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		tokens:      tokens,
		baseURL:     cfg.BaseURL,
		subreddit:   cfg.Subreddit,
		displayName: cfg.DisplayName,
		userAgent:   cfg.UserAgent,
		listing:     cfg.Listing,
		limit:       cfg.Limit,
		viralScore:  cfg.ViralScore,
		logger:      logger.With("platform", Platform, "subreddit", cfg.Subreddit),
	}
}

// AuthConfig holds app-only OAuth credentials.
type AuthConfig struct {
	ClientID     string
	ClientSecret string
	UserAgent    string
	TokenURL     string
	Timeout      time.Duration
}

// AppOnlyRefresh returns a token refresh function performing the
// client_credentials grant against the reddit token endpoint.
func AppOnlyRefresh(cfg AuthConfig) source.RefreshFunc {
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultTokenURL
	}
	client := &http.Client{Timeout: cfg.Timeout}

	return func(ctx context.Context) (string, time.Duration, error) {
		form := url.Values{"grant_type": {"client_credentials"}}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.TokenURL,
			strings.NewReader(form.Encode()))
		if err != nil {
			return "", 0, fmt.Errorf("create request: %w", err)
		}
		req.SetBasicAuth(cfg.ClientID, cfg.ClientSecret)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("User-Agent", cfg.UserAgent)

		resp, err := client.Do(req)
		if err != nil {
			return "", 0, fmt.Errorf("execute request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return "", 0, fmt.Errorf("unexpected status: %d", resp.StatusCode)
		}

		var tok tokenResponse
		if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
			return "", 0, fmt.Errorf("decode response: %w", err)
		}
		if tok.Error != "" {
			return "", 0, fmt.Errorf("token endpoint: %s", tok.Error)
		}
		if tok.AccessToken == "" {
			return "", 0, fmt.Errorf("token endpoint returned empty token")
		}

		return tok.AccessToken, time.Duration(tok.ExpiresIn) * time.Second, nil
	}
}

// Platform returns the platform identifier.
func (s *Source) Platform() string {
	return Platform
}

// Identifier returns the subreddit name.
func (s *Source) Identifier() string {
	return s.subreddit
}

// DisplayName returns the human-readable name.
func (s *Source) DisplayName() string {
	if s.displayName != "" {
		return s.displayName
	}
	return "r/" + s.subreddit
}

// Fetch retrieves one listing page of submissions.
func (s *Source) Fetch(ctx context.Context) ([]importer.RawItem, error) {
	token, err := s.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	reqURL := fmt.Sprintf("%s/r/%s/%s.json?limit=%d&raw_json=1",
		s.baseURL, s.subreddit, s.listing, s.limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("r/%s listing: %w", s.subreddit, ratelimit.ErrRateLimited)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		s.tokens.Invalidate()
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var listing listingResponse
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	items := make([]importer.RawItem, 0, len(listing.Data.Children))
	for _, child := range listing.Data.Children {
		if child.Kind != "t3" {
			continue
		}
		post := child.Data
		items = append(items, &post)
	}

	s.logger.Debug("fetched listing", "listing", s.listing, "posts", len(items))
	return items, nil
}

// Transform turns a submission into a content draft. Stickied, NSFW, text
// and non-media posts are rejected with a nil draft.
func (s *Source) Transform(_ context.Context, item importer.RawItem) (*domain.ContentDraft, error) {
	post, ok := item.(*Post)
	if !ok {
		return nil, fmt.Errorf("unexpected item type %T", item)
	}

	if post.Stickied || post.Over18 || post.IsSelf {
		return nil, nil
	}

	contentType := classify(post)
	if contentType == "" {
		return nil, nil
	}

	draft := &domain.ContentDraft{
		Type:           contentType,
		Title:          html.UnescapeString(post.Title),
		URL:            post.URL,
		ThumbnailURL:   thumbnail(post),
		SourceURL:      "https://www.reddit.com" + post.Permalink,
		SourcePlatform: Platform,
	}
	if s.viralScore > 0 && post.Score >= s.viralScore {
		draft.IsViral = true
	}

	return draft, nil
}

// classify maps a submission to a content type, or "" for unsupported media.
func classify(post *Post) string {
	switch strings.ToLower(path.Ext(urlPath(post.URL))) {
	case ".gif", ".gifv":
		return "gif"
	case ".jpg", ".jpeg", ".png", ".webp":
		return "image"
	}

	if post.IsVideo || post.PostHint == "hosted:video" || post.PostHint == "rich:video" {
		return "video"
	}
	if post.PostHint == "image" {
		return "image"
	}

	return ""
}

func urlPath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Path
}

// thumbnail returns the post thumbnail, ignoring reddit's placeholder
// markers ("self", "default", "nsfw") which are not URLs.
func thumbnail(post *Post) string {
	if strings.HasPrefix(post.Thumbnail, "http") {
		return post.Thumbnail
	}
	return ""
}
