package reload

import (
	"log"

	"github.com/feedview/feedview/pkg/domain"
)

// reconcileResult is the outcome of diffing one fetch against the store:
// items to insert, items to update in place, and how many items end up
// unread (the unread delta driving tree recomputes).
type reconcileResult struct {
	inserts []domain.ContentItem
	updates []domain.ContentItem
	unreads int
}

// reconcile diffs freshly parsed items against the stored items for the same
// feed URL. Matching is by GUID; a matched item is compared for exact
// (title, content) equality first, then for fuzzy equality to detect
// cosmetic re-publishes that must not resurrect read state.
func reconcile(url string, items []domain.ParsedItem, stored []domain.ContentItem, now int64) reconcileResult {
	byGUID := make(map[string]*domain.ContentItem, len(stored))
	for i := range stored {
		byGUID[stored[i].GUID] = &stored[i]
	}

	// dedup incoming items by GUID, keeping the last occurrence of a fetch
	order := make([]string, 0, len(items))
	deduped := make(map[string]domain.ParsedItem, len(items))
	for _, it := range items {
		if _, seen := deduped[it.GUID]; seen {
			log.Printf("[WARN] duplicate guid %q in %s", it.GUID, url)
		} else {
			order = append(order, it.GUID)
		}
		deduped[it.GUID] = it
	}

	var res reconcileResult
	for _, guid := range order {
		it := deduped[guid]
		cand := domain.ContentItem{
			URL:       url,
			GUID:      it.GUID,
			Title:     it.Title,
			Content:   it.Content,
			Link:      it.Link,
			CreatedAt: it.Created,
			UpdatedAt: it.Updated,
			AddedAt:   now,
			Unread:    true,
		}

		prev, ok := byGUID[guid]
		if !ok {
			res.inserts = append(res.inserts, cand)
			res.unreads++
			continue
		}

		cand.ID = prev.ID
		if prev.AddedAt != 0 {
			cand.AddedAt = prev.AddedAt // first-seen time survives updates
		}

		if cand.Title == prev.Title && cand.Content == prev.Content {
			// byte-identical re-publish: no write at all
			if prev.Unread {
				res.unreads++
			}
			continue
		}

		if trimEqual(cand.Title, prev.Title) && fuzzyEqual(cand.Content, prev.Content) {
			// cosmetic re-publish: record the new text, keep read state
			cand.Unread = prev.Unread
		} else if cand.UpdatedAt <= prev.UpdatedAt {
			// substantively changed but the feed didn't bump its timestamp;
			// force updated_at forward so ordering stays monotonic
			cand.UpdatedAt = now
		}

		if cand.Unread {
			res.unreads++
		}
		res.updates = append(res.updates, cand)
	}

	return res
}
