package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"

	"golang.org/x/net/websocket"

	"github.com/feedview/feedview/pkg/domain"
)

// feedRef addresses a node either by its id or by its name path from the root
type feedRef struct {
	ID        string   `json:"id,omitempty"`
	Hierarchy []string `json:"hierarchy,omitempty"`
}

// resolveURLs expands a node reference to the URLs of all leaf feeds under it
func (s *Server) resolveURLs(ref feedRef) []string {
	if ref.ID != "" {
		return s.tree.FeedURLsByID(ref.ID)
	}
	return s.tree.FeedURLsByHierarchy(ref.Hierarchy)
}

// handleWS owns one websocket connection: register with the hub, serve
// requests until the peer goes away
func (s *Server) handleWS(conn *websocket.Conn) {
	c := &client{conn: conn}
	s.hub.add(c)
	defer s.hub.remove(c)

	log.Printf("[INFO] client connected from %s, %d online", conn.Request().RemoteAddr, s.hub.Count())

	for {
		var msg Message
		if err := websocket.JSON.Receive(conn, &msg); err != nil {
			if !errors.Is(err, io.EOF) {
				log.Printf("[WARN] websocket receive: %v", err)
			}
			return
		}

		if err := s.dispatch(conn.Request().Context(), c, msg); err != nil {
			log.Printf("[WARN] %s request failed: %v", msg.Name, err)
			if serr := c.send("error", map[string]string{"request": msg.Name, "error": err.Error()}); serr != nil {
				return
			}
		}
	}
}

// dispatch routes one client message to its handler
func (s *Server) dispatch(ctx context.Context, c *client, msg Message) error {
	switch msg.Name {
	case "feeds":
		return s.handleFeeds(c)
	case "content":
		return s.handleContent(ctx, c, msg.Data)
	case "reload":
		return s.handleReload(msg.Data)
	case "move":
		return s.handleMove(ctx, msg.Data)
	case "set_feeds":
		return s.handleSetFeeds(ctx, msg.Data)
	case "set_content":
		return s.handleSetContent(ctx, msg.Data)
	case "update_many_content":
		return s.handleUpdateManyContent(ctx, msg.Data)
	default:
		return fmt.Errorf("unknown request %q", msg.Name)
	}
}

// handleFeeds replies with the current tree, same shape as the feeds broadcast
func (s *Server) handleFeeds(c *client) error {
	return c.send("feeds", []*domain.FeedNode{s.tree.Snapshot()})
}

// handleReload queues a priority reload for every feed under the referenced
// node; results come back through reload/newcontent broadcasts, not the reply
func (s *Server) handleReload(data json.RawMessage) error {
	var ref feedRef
	if err := json.Unmarshal(data, &ref); err != nil {
		return fmt.Errorf("decode reload request: %w", err)
	}

	urls := s.resolveURLs(ref)
	if len(urls) == 0 {
		return fmt.Errorf("no feeds matched")
	}
	for _, url := range urls {
		s.reloader.Enqueue(url, "", true)
	}
	return nil
}

// handleMove relocates a node to another folder; the resulting tree reaches
// all clients via the feeds broadcast
func (s *Server) handleMove(ctx context.Context, data json.RawMessage) error {
	var req struct {
		From []string `json:"from"`
		To   []string `json:"to"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("decode move request: %w", err)
	}
	if len(req.From) == 0 || len(req.To) == 0 {
		return fmt.Errorf("move needs both from and to paths")
	}
	return s.tree.Move(ctx, req.From, req.To)
}

// handleSetFeeds replaces the whole tree with a client-supplied one
func (s *Server) handleSetFeeds(ctx context.Context, data json.RawMessage) error {
	var roots []*domain.FeedNode
	if err := json.Unmarshal(data, &roots); err != nil {
		return fmt.Errorf("decode feeds payload: %w", err)
	}
	if len(roots) == 0 || roots[0] == nil {
		return fmt.Errorf("empty feeds payload")
	}
	return s.tree.Replace(ctx, roots[0])
}

// handleSetContent flips read state for every item of every feed under the
// referenced node
func (s *Server) handleSetContent(ctx context.Context, data json.RawMessage) error {
	var req struct {
		feedRef
		Unread bool `json:"unread"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("decode set_content request: %w", err)
	}

	urls := s.resolveURLs(req.feedRef)
	if len(urls) == 0 {
		return fmt.Errorf("no feeds matched")
	}
	if err := s.content.SetUnreadByURLs(ctx, urls, req.Unread); err != nil {
		return err
	}

	s.tree.MarkStaleURLs(urls)
	return s.tree.ApplyChanges(ctx)
}

// handleUpdateManyContent flips read state on individual items by id
func (s *Server) handleUpdateManyContent(ctx context.Context, data json.RawMessage) error {
	var req struct {
		IDs    []int64 `json:"ids"`
		Unread bool    `json:"unread"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("decode update_many_content request: %w", err)
	}
	if len(req.IDs) == 0 {
		return nil
	}

	urls, err := s.content.SetUnread(ctx, req.IDs, req.Unread)
	if err != nil {
		return err
	}

	s.tree.MarkStaleURLs(urls)
	return s.tree.ApplyChanges(ctx)
}
