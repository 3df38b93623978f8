package tree

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/feedview/feedview/pkg/domain"
)

// recomputeUnread brings cached unread counts in sync with the store: leaf
// feeds flagged need_update are recounted, folders sum their children bottom
// up. Returns the ids of nodes whose unread value actually changed, so the
// caller can decide whether a broadcast is warranted.
//
// Store queries for dirty leaves run concurrently - each touches only its own
// URL - while the tree itself is read and written under the service lock with
// no suspension inside.
func (s *Service) recomputeUnread(ctx context.Context) (map[string]int, error) {
	// phase 1: collect the URLs needing a fresh count
	s.mu.Lock()
	dirty := map[string]struct{}{}
	var collect func(n *domain.FeedNode)
	collect = func(n *domain.FeedNode) {
		if n.IsFolder() {
			for _, child := range n.Children {
				collect(child)
			}
			return
		}
		if n.NeedUpdate {
			dirty[n.URL] = struct{}{}
		}
	}
	if s.root != nil {
		collect(s.root)
	}
	s.mu.Unlock()

	// phase 2: count unread per dirty URL, concurrently
	counts := map[string]int{}
	if len(dirty) > 0 {
		var countsMu sync.Mutex
		g, gctx := errgroup.WithContext(ctx)
		for url := range dirty {
			g.Go(func() error {
				count, err := s.counter.CountUnread(gctx, url)
				if err != nil {
					return err
				}
				countsMu.Lock()
				counts[url] = count
				countsMu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			// leave dirty flags set so the next pass retries
			return nil, err
		}
	}

	// phase 3: apply counts and roll sums up through folders
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := map[string]int{}
	var apply func(n *domain.FeedNode) int
	apply = func(n *domain.FeedNode) int {
		if !n.IsFolder() {
			if n.NeedUpdate {
				if count, ok := counts[n.URL]; ok {
					n.NeedUpdate = false
					if n.Unread != count {
						n.Unread = count
						changed[n.ID] = count
					}
				}
			} else if n.Unread < 0 {
				// a feed never yet fetched counts as zero
				n.Unread = 0
				changed[n.ID] = 0
			}
			return n.Unread
		}

		sum := 0
		for _, child := range n.Children {
			sum += apply(child)
		}
		if n.Unread != sum {
			n.Unread = sum
			changed[n.ID] = sum
		}
		return sum
	}
	if s.root != nil {
		apply(s.root)
	}
	return changed, nil
}
