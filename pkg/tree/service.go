package tree

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/feedview/feedview/pkg/domain"
)

// Store persists and loads the canonical feed tree
type Store interface {
	LoadTree(ctx context.Context) (*domain.FeedNode, error)
	SaveTree(ctx context.Context, root *domain.FeedNode) error
}

// Counter reports the number of unread content items for a feed URL
type Counter interface {
	CountUnread(ctx context.Context, url string) (int, error)
}

// Broadcaster pushes named messages to all connected clients
type Broadcaster interface {
	Broadcast(name string, data any)
}

// TimerReconciler re-checks reload timers against the current tree
type TimerReconciler interface {
	Reconcile()
}

// Service owns the canonical feed/folder tree plus its derived indices
// (id->node, url->nodes, id->parent). All structural access goes through the
// service; indices are rebuilt after every structural mutation. In-memory
// graph edits happen under one lock with no suspension inside, store and
// broadcast calls happen outside it.
type Service struct {
	store       Store
	counter     Counter
	broadcaster Broadcaster
	timers      TimerReconciler

	mu      sync.Mutex
	root    *domain.FeedNode
	ids     map[string]*domain.FeedNode
	urls    map[string][]*domain.FeedNode
	parents map[string]*domain.FeedNode
}

// NewService creates a tree service. The timer reconciler is attached later
// via SetTimerReconciler since the scheduler depends on the tree itself.
func NewService(store Store, counter Counter, broadcaster Broadcaster) *Service {
	return &Service{
		store:       store,
		counter:     counter,
		broadcaster: broadcaster,
		ids:         map[string]*domain.FeedNode{},
		urls:        map[string][]*domain.FeedNode{},
		parents:     map[string]*domain.FeedNode{},
	}
}

// SetTimerReconciler attaches the scheduler callback invoked by Apply
func (s *Service) SetTimerReconciler(tr TimerReconciler) { s.timers = tr }

// Load reads the tree from the store and applies it without arming timers
func (s *Service) Load(ctx context.Context) error {
	root, err := s.store.LoadTree(ctx)
	if err != nil {
		return fmt.Errorf("load feed tree: %w", err)
	}
	return s.Apply(ctx, root, false)
}

// Replace swaps in a client-provided tree and applies it, re-arming timers
func (s *Service) Replace(ctx context.Context, root *domain.FeedNode) error {
	if root == nil {
		return fmt.Errorf("empty tree")
	}
	return s.Apply(ctx, root, true)
}

// Apply runs the full mutation pipeline: normalize, rebuild indices,
// optionally reconcile timers, recompute unread counts, then persist and
// broadcast - but only when something actually changed. Broadcasting on
// no-op mutations feeds back through clients that echo tree state, so a
// clean apply stays silent.
func (s *Service) Apply(ctx context.Context, root *domain.FeedNode, doTimers bool) error {
	return s.apply(ctx, root, doTimers, false)
}

// apply is Apply with a force switch for callers that mutated the tree in
// place before the pipeline runs, where normalize alone can't see the change
func (s *Service) apply(ctx context.Context, root *domain.FeedNode, doTimers, forced bool) error {
	s.mu.Lock()
	if root != nil {
		s.root = root
	}
	if s.root == nil {
		s.mu.Unlock()
		return fmt.Errorf("no feed tree loaded")
	}
	structChanged := normalize(s.root) || forced
	s.rebuildIndicesLocked()
	s.mu.Unlock()

	if doTimers && s.timers != nil {
		s.timers.Reconcile()
	}

	changed, err := s.recomputeUnread(ctx)
	if err != nil {
		// counting failures leave cached values in place; the tree stays usable
		log.Printf("[WARN] unread recompute failed: %v", err)
	}

	if !structChanged && len(changed) == 0 {
		return nil
	}

	snapshot := s.Snapshot()
	if err := s.store.SaveTree(ctx, snapshot); err != nil {
		// in-memory tree remains authoritative until the next successful read-back
		log.Printf("[ERROR] failed to persist feed tree: %v", err)
	}

	if s.broadcaster != nil {
		s.broadcaster.Broadcast("feeds", []*domain.FeedNode{snapshot})
	}
	return nil
}

// ApplyChanges re-runs the pipeline over the current tree without replacing
// it or touching timers; used after content mutations flagged need_update
func (s *Service) ApplyChanges(ctx context.Context) error {
	return s.Apply(ctx, nil, false)
}

// Snapshot returns a deep copy of the tree for persistence or broadcast
func (s *Service) Snapshot() *domain.FeedNode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneNode(s.root)
}

// Root returns the live root node; callers must not mutate it
func (s *Service) Root() *domain.FeedNode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.root
}

func cloneNode(n *domain.FeedNode) *domain.FeedNode {
	if n == nil {
		return nil
	}
	c := *n
	if n.Children != nil {
		c.Children = make([]*domain.FeedNode, len(n.Children))
		for i, child := range n.Children {
			c.Children[i] = cloneNode(child)
		}
	}
	return &c
}

// rebuildIndicesLocked recomputes id->node, url->nodes and id->parent maps
func (s *Service) rebuildIndicesLocked() {
	s.ids = map[string]*domain.FeedNode{}
	s.urls = map[string][]*domain.FeedNode{}
	s.parents = map[string]*domain.FeedNode{}
	s.indexNode(s.root, nil)
}

func (s *Service) indexNode(n *domain.FeedNode, parent *domain.FeedNode) {
	s.ids[n.ID] = n
	s.parents[n.ID] = parent
	if n.IsFolder() {
		for _, child := range n.Children {
			s.indexNode(child, n)
		}
		return
	}
	s.urls[n.URL] = append(s.urls[n.URL], n)
}

// Leaves returns shallow copies of all leaf feed nodes
func (s *Service) Leaves() []domain.FeedNode {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.FeedNode
	var walk func(n *domain.FeedNode)
	walk = func(n *domain.FeedNode) {
		if n.IsFolder() {
			for _, child := range n.Children {
				walk(child)
			}
			return
		}
		out = append(out, *n)
	}
	if s.root != nil {
		walk(s.root)
	}
	return out
}

// FeedURLsByID collects the URLs of all leaf feeds under the node with the
// given id (the node itself when it is a leaf)
func (s *Service) FeedURLsByID(id string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.ids[id]
	if !ok {
		return nil
	}
	return collectURLs(n)
}

// FeedURLsByHierarchy resolves a name path from the root and collects the
// URLs of all leaf feeds under the matched node
func (s *Service) FeedURLsByHierarchy(hierarchy []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.byHierarchyLocked(hierarchy)
	if n == nil {
		return nil
	}
	return collectURLs(n)
}

// byHierarchyLocked walks sibling names level by level, matching the original
// client protocol where nodes are addressed by their name path
func (s *Service) byHierarchyLocked(hierarchy []string) *domain.FeedNode {
	if s.root == nil || len(hierarchy) == 0 {
		return nil
	}
	level := 0
	candidates := []*domain.FeedNode{s.root}
	for {
		found := false
		for _, c := range candidates {
			if c.Name != hierarchy[level] {
				continue
			}
			level++
			if !c.IsFolder() || level >= len(hierarchy) {
				return c
			}
			candidates = c.Children
			found = true
			break
		}
		if !found {
			return nil
		}
	}
}

func collectURLs(n *domain.FeedNode) []string {
	if !n.IsFolder() {
		return []string{n.URL}
	}
	var out []string
	for _, child := range n.Children {
		out = append(out, collectURLs(child)...)
	}
	return out
}

// SetErrorByURL sets (or clears, with an empty message) the error text on all
// nodes sharing a URL; returns true when any node changed
func (s *Service) SetErrorByURL(url, msg string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := false
	for _, n := range s.urls[url] {
		if n.Error != msg {
			n.Error = msg
			changed = true
		}
	}
	return changed
}

// SetMetaByURL copies fetched feed-level metadata onto all nodes sharing a
// URL; a node without a display name adopts the fetched title
func (s *Service) SetMetaByURL(url, title, description, link string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := false
	for _, n := range s.urls[url] {
		if n.Title != title {
			n.Title = title
			changed = true
		}
		if n.Description != description {
			n.Description = description
			changed = true
		}
		if n.Link != link {
			n.Link = link
			changed = true
		}
		if n.Name == "" && title != "" {
			n.Name = title
			changed = true
		}
	}
	return changed
}

// TouchByURL stamps last_updated on all nodes sharing a URL
func (s *Service) TouchByURL(url string, now int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.urls[url] {
		n.LastUpdated = now
	}
}

// MarkStaleByURL flags nodes sharing a URL for unread recompute, but only
// those whose cached count differs from the freshly computed total - flagging
// a node whose count is already right would trigger a needless broadcast
func (s *Service) MarkStaleByURL(url string, freshUnread int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.urls[url] {
		if n.Unread != freshUnread {
			n.NeedUpdate = true
		}
	}
}

// MarkStaleURLs flags every node of every given URL for unread recompute,
// used after direct content mutations where no fresh count is at hand
func (s *Service) MarkStaleURLs(urls []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, url := range urls {
		for _, n := range s.urls[url] {
			n.NeedUpdate = true
		}
	}
}

// Move relocates the node at the `from` name path under the folder at the
// `to` name path, then applies the mutated tree
func (s *Service) Move(ctx context.Context, from, to []string) error {
	s.mu.Lock()
	node := s.byHierarchyLocked(from)
	parent := s.byHierarchyLocked(from[:len(from)-1])
	target := s.byHierarchyLocked(to)
	if node == nil || parent == nil || target == nil {
		s.mu.Unlock()
		return fmt.Errorf("move: node not found")
	}
	if !target.IsFolder() {
		s.mu.Unlock()
		return fmt.Errorf("move: target %q is not a folder", target.Name)
	}
	for i, child := range parent.Children {
		if child == node {
			parent.Children = append(parent.Children[:i], parent.Children[i+1:]...)
			break
		}
	}
	target.Children = append(target.Children, node)
	s.mu.Unlock()

	return s.apply(ctx, nil, true, true)
}
