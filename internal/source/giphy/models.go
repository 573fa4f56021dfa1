package giphy

// searchResponse is the envelope of the gif search endpoint.
type searchResponse struct {
	Data       []Gif      `json:"data"`
	Pagination pagination `json:"pagination"`
	Meta       meta       `json:"meta"`
}

type pagination struct {
	TotalCount int `json:"total_count"`
	Count      int `json:"count"`
	Offset     int `json:"offset"`
}

type meta struct {
	Status int    `json:"status"`
	Msg    string `json:"msg"`
}

// Gif is one search result.
type Gif struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	URL              string    `json:"url"` // giphy page url
	Username         string    `json:"username"`
	Rating           string    `json:"rating"`
	ImportDatetime   string    `json:"import_datetime"`   // e.g. "2013-08-01 12:41:48"
	TrendingDatetime string    `json:"trending_datetime"` // zero-filled when never trended
	Images           gifImages `json:"images"`
}

// ItemID returns the gif's API identifier.
func (g *Gif) ItemID() string {
	return g.ID
}

type gifImages struct {
	Original   gifRendition `json:"original"`
	FixedWidth gifRendition `json:"fixed_width"`
}

type gifRendition struct {
	URL    string `json:"url"`
	Width  string `json:"width"`
	Height string `json:"height"`
}
