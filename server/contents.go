package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/feedview/feedview/pkg/domain"
)

// defaultContentLimit caps a page when the client doesn't ask for a size
const defaultContentLimit = 50

// contentToken is the resumption cursor of content pagination. Chronological
// paging carries the phase (unread items first, then read) plus the boundary
// row; relevance paging degrades to a plain skip count since rank has no
// stable ordering key.
type contentToken struct {
	Unread    bool  `json:"unread"`
	UpdatedAt int64 `json:"updated_at,omitempty"`
	ID        int64 `json:"id,omitempty"`
	Skip      int   `json:"skip,omitempty"`
}

// contentRequest selects which items to page through
type contentRequest struct {
	feedRef
	Search string        `json:"search,omitempty"`
	Sort   string        `json:"sort,omitempty"` // "relevance" ranks by match quality
	Limit  int           `json:"limit,omitempty"`
	Token  *contentToken `json:"token,omitempty"`
}

// contentPage is the reply payload; oldtoken echoes the request's cursor so
// the client can correlate pages with outstanding requests
type contentPage struct {
	Content  []domain.ContentItem `json:"content"`
	Token    *contentToken        `json:"token"`
	OldToken *contentToken        `json:"oldtoken"`
}

// handleContent serves one page of items for the referenced feeds
func (s *Server) handleContent(ctx context.Context, c *client, data json.RawMessage) error {
	var req contentRequest
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			return fmt.Errorf("decode content request: %w", err)
		}
	}

	var urls []string
	if req.ID != "" || len(req.Hierarchy) > 0 {
		urls = s.resolveURLs(req.feedRef)
		if len(urls) == 0 {
			return fmt.Errorf("no feeds matched")
		}
	}

	page, err := s.contentPage(ctx, urls, req)
	if err != nil {
		return err
	}

	for i := range page.Content {
		page.Content[i].Content = sanitizeContent(page.Content[i].Content)
	}

	return c.send("content", page)
}

// contentPage runs the two-phase pagination: unread items newest first, then
// read items newest first once unread runs dry. Relevance mode is a single
// ranked stream paged by skip count.
func (s *Server) contentPage(ctx context.Context, urls []string, req contentRequest) (*contentPage, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultContentLimit
	}

	if req.Sort == "relevance" && req.Search != "" {
		return s.relevancePage(ctx, urls, req, limit)
	}

	// phase from the cursor: a fresh request starts in the unread phase
	unread := true
	q := domain.ContentQuery{URLs: urls, Search: req.Search, Unread: &unread}
	if req.Token != nil {
		unread = req.Token.Unread
		q.UpdatedAtLTE = req.Token.UpdatedAt
	}

	items, err := s.content.Find(ctx, q, domain.ContentOptions{Limit: limit})
	if err != nil {
		return nil, err
	}

	// the boundary row and its timestamp-twins already went out on the
	// previous page; cut the overlap
	fetched := len(items)
	if req.Token != nil && req.Token.ID != 0 {
		items = spliceContent(items, *req.Token)
	}

	if fetched >= limit {
		return finishPage(items, &contentToken{Unread: unread}, req.Token), nil
	}

	// unread phase exhausted inside this page: top up from read items
	if unread {
		readPhase := false
		q = domain.ContentQuery{URLs: urls, Search: req.Search, Unread: &readPhase}
		more, err := s.content.Find(ctx, q, domain.ContentOptions{Limit: limit - fetched})
		if err != nil {
			return nil, err
		}
		items = append(items, more...)
	}

	if len(items) == 0 {
		return &contentPage{Content: []domain.ContentItem{}, OldToken: req.Token}, nil
	}
	return finishPage(items, &contentToken{Unread: false}, req.Token), nil
}

// relevancePage serves one ranked page; the cursor is just an offset
func (s *Server) relevancePage(ctx context.Context, urls []string, req contentRequest, limit int) (*contentPage, error) {
	skip := 0
	if req.Token != nil {
		skip = req.Token.Skip
	}

	q := domain.ContentQuery{URLs: urls, Search: req.Search}
	items, err := s.content.Find(ctx, q, domain.ContentOptions{ByRelevance: true, Limit: limit, Offset: skip})
	if err != nil {
		return nil, err
	}

	page := &contentPage{Content: items, OldToken: req.Token}
	if len(items) > 0 {
		page.Token = &contentToken{Skip: skip + limit}
	}
	return page, nil
}

// finishPage stamps the next cursor from the page's last row
func finishPage(items []domain.ContentItem, next *contentToken, old *contentToken) *contentPage {
	if len(items) > 0 {
		last := items[len(items)-1]
		next.UpdatedAt = last.UpdatedAt
		next.ID = last.ID
		next.Unread = last.Unread
	}
	return &contentPage{Content: items, Token: next, OldToken: old}
}

// spliceContent drops the rows at the head that the previous page already
// delivered: everything up to and including the cursor row, within the run of
// rows sharing the cursor's timestamp
func spliceContent(items []domain.ContentItem, token contentToken) []domain.ContentItem {
	for i := range items {
		if items[i].UpdatedAt != token.UpdatedAt {
			break
		}
		if items[i].ID == token.ID {
			return items[i+1:]
		}
	}
	return items
}
