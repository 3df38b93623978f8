package domain

// ContentItem is a stored feed entry. Created on first sighting of a GUID for
// a feed URL, mutated in place when a later fetch reports different content,
// never deleted by the reload engine. Timestamps are unix milliseconds; the
// client compares and echoes them, so they stay integral end to end.
type ContentItem struct {
	ID        int64  `json:"id"`
	URL       string `json:"url"`  // owning feed URL
	GUID      string `json:"guid"` // feed-provided identity, unique per URL only
	Title     string `json:"title"`
	Content   string `json:"content"` // raw pre-sanitization HTML
	Link      string `json:"link"`
	CreatedAt int64  `json:"created_at"` // original publish time
	UpdatedAt int64  `json:"updated_at"` // last-changed time, monotonic ordering proxy
	AddedAt   int64  `json:"added_at"`   // first seen, preserved across updates
	Unread    bool   `json:"unread"`
}

// ContentQuery selects content items. Zero values mean "no constraint".
type ContentQuery struct {
	URLs         []string // membership over owning feed URLs
	GUIDs        []string // membership over GUIDs, scoped by URLs
	Unread       *bool
	UpdatedAtLTE int64  // upper bound on UpdatedAt, 0 for unbounded
	Search       string // full-text match over title+content
}

// ContentOptions controls ordering and paging of a content query.
type ContentOptions struct {
	ByRelevance bool // rank by text-match relevance instead of UpdatedAt desc
	Limit       int
	Offset      int
}
