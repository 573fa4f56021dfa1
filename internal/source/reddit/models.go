package reddit

// listingResponse is the envelope of a subreddit listing endpoint.
type listingResponse struct {
	Data listingData `json:"data"`
}

type listingData struct {
	Children []listingChild `json:"children"`
	After    string         `json:"after"`
}

type listingChild struct {
	Kind string `json:"kind"`
	Data Post   `json:"data"`
}

// Post is one reddit submission as returned by the listing API.
type Post struct {
	Name       string  `json:"name"` // fullname, e.g. "t3_abc123"
	Title      string  `json:"title"`
	URL        string  `json:"url"`
	Permalink  string  `json:"permalink"`
	Thumbnail  string  `json:"thumbnail"`
	Selftext   string  `json:"selftext"`
	PostHint   string  `json:"post_hint"`
	Domain     string  `json:"domain"`
	Score      int     `json:"score"`
	CreatedUTC float64 `json:"created_utc"`
	Stickied   bool    `json:"stickied"`
	Over18     bool    `json:"over_18"`
	IsSelf     bool    `json:"is_self"`
	IsVideo    bool    `json:"is_video"`
}

// ItemID returns the post's fullname.
func (p *Post) ItemID() string {
	return p.Name
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Error       string `json:"error"`
}
