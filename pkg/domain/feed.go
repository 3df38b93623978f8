package domain

// FeedNode is a single node of the user's feed tree. A node with a non-nil
// Children slice is a folder; a node without one is a leaf feed identified by
// its URL. The tree is exchanged with clients as a JSON document, so field
// names match the wire format.
type FeedNode struct {
	ID          string      `json:"id,omitempty"`
	Name        string      `json:"name,omitempty"`
	Children    []*FeedNode `json:"children"`
	URL         string      `json:"url,omitempty"`
	Title       string      `json:"title,omitempty"`
	Description string      `json:"description,omitempty"`
	Link        string      `json:"link,omitempty"`

	// optional settings, resolved hierarchically through the folder chain
	ReloadMins *float64 `json:"reload_mins,omitempty"`
	Thread     string   `json:"thread,omitempty"`
	Special    string   `json:"special,omitempty"`

	Unread      int    `json:"unread"`
	LastUpdated int64  `json:"last_updated,omitempty"` // unix millis of last refresh attempt
	Error       string `json:"error,omitempty"`

	// NeedUpdate marks the cached unread count stale; never persisted
	NeedUpdate bool `json:"-"`
}

// IsFolder reports whether the node is a folder. An empty folder keeps a
// non-nil empty Children slice to survive JSON round-trips.
func (n *FeedNode) IsFolder() bool { return n.Children != nil }

// Setting returns the node's own value for a named setting and whether it is
// defined. Undefined means a nil pointer or an empty string, matching the
// undefined/null/empty-string rule of the client protocol.
func (n *FeedNode) Setting(key string) (any, bool) {
	switch key {
	case "reload_mins":
		if n.ReloadMins != nil {
			return *n.ReloadMins, true
		}
	case "thread":
		if n.Thread != "" {
			return n.Thread, true
		}
	case "special":
		if n.Special != "" {
			return n.Special, true
		}
	}
	return nil, false
}

// ParsedFeed is the normalized result of fetching and parsing a feed document.
type ParsedFeed struct {
	Title       string
	Description string
	Link        string
	Items       []ParsedItem
}

// ParsedItem is a single entry of a parsed feed document.
type ParsedItem struct {
	GUID    string
	Title   string
	Content string
	Link    string
	Created int64 // original publish time, unix millis
	Updated int64 // last-changed time, unix millis
}
