package reload

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/feedview/feedview/pkg/domain"
	"github.com/feedview/feedview/pkg/feed"
)

// Fetcher retrieves and parses a remote feed document
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*domain.ParsedFeed, error)
}

// ContentStore is the slice of the store the reloader writes through
type ContentStore interface {
	FindByGUIDs(ctx context.Context, url string, guids []string) ([]domain.ContentItem, error)
	UpdateItem(ctx context.Context, item domain.ContentItem) error
	Insert(ctx context.Context, items []domain.ContentItem) ([]domain.ContentItem, error)
	CountUnread(ctx context.Context, url string) (int, error)
}

// Tree is the slice of the feed tree service the reloader mutates
type Tree interface {
	SetErrorByURL(url, msg string) bool
	SetMetaByURL(url, title, description, link string) bool
	TouchByURL(url string, now int64)
	MarkStaleByURL(url string, freshUnread int)
	ApplyChanges(ctx context.Context) error
}

// Broadcaster pushes named messages to all connected clients
type Broadcaster interface {
	Broadcast(name string, data any)
}

// Rescheduler re-arms reload timers for a feed URL after a job finishes
type Rescheduler interface {
	RescheduleURL(url string)
}

// Status is the payload of reload start/stop broadcasts
type Status struct {
	URL   string `json:"url"`
	Value bool   `json:"value"`
}

// NewContent carries freshly inserted items to notification consumers
type NewContent struct {
	URL     string               `json:"url"`
	Content []domain.ContentItem `json:"content"`
}

// Config holds reloader settings
type Config struct {
	FeedTimeout time.Duration // job-level timeout, independent of the HTTP timeout
	DefaultLane string
}

// Reloader executes feed reload jobs: fetch, reconcile against the store,
// batch-insert new items, notify, and hand the feed back to the scheduler.
// Jobs are serialized per named lane with per-URL dedup and waiter fan-in -
// the sole mechanism preventing duplicate concurrent fetches of one URL.
type Reloader struct {
	fetcher     Fetcher
	store       ContentStore
	tree        Tree
	broadcaster Broadcaster
	scheduler   Rescheduler
	feedTimeout time.Duration
	defaultLane string
	now         func() time.Time

	mu      sync.Mutex
	lanes   map[string]*lane
	running map[string]time.Time
}

// NewReloader creates a reloader; the rescheduler is attached later via
// SetRescheduler since the scheduler depends on the reloader itself
func NewReloader(fetcher Fetcher, store ContentStore, tree Tree, broadcaster Broadcaster, cfg Config) *Reloader {
	if cfg.FeedTimeout == 0 {
		cfg.FeedTimeout = 600 * time.Second
	}
	if cfg.DefaultLane == "" {
		cfg.DefaultLane = "default"
	}
	return &Reloader{
		fetcher:     fetcher,
		store:       store,
		tree:        tree,
		broadcaster: broadcaster,
		feedTimeout: cfg.FeedTimeout,
		defaultLane: cfg.DefaultLane,
		now:         time.Now,
		lanes:       map[string]*lane{},
		running:     map[string]time.Time{},
	}
}

// SetRescheduler attaches the scheduler callback used after job completion
func (r *Reloader) SetRescheduler(s Rescheduler) { r.scheduler = s }

// Enqueue queues a reload for the URL on the named lane (empty for the
// default lane). The returned channel receives the job outcome exactly once;
// callers may discard it.
func (r *Reloader) Enqueue(url, laneName string, priority bool) <-chan error {
	if laneName == "" {
		laneName = r.defaultLane
	}

	r.mu.Lock()
	l, ok := r.lanes[laneName]
	if !ok {
		l = newLane(laneName, r.feedTimeout, r.reload)
		r.lanes[laneName] = l
	}
	r.mu.Unlock()

	return l.enqueue(url, priority)
}

// IsRunning reports whether a reload for the URL is currently in flight.
// A marker older than the feed timeout counts as not running, so a wedged
// job cannot block timers forever.
func (r *Reloader) IsRunning(url string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	started, ok := r.running[url]
	if !ok {
		return false
	}
	return r.now().Sub(started) <= r.feedTimeout
}

// reload is the lane runner: the whole life of one reload job. Fetch and
// parse errors end up on the feed nodes' error text and fail the job, but
// never escape - the lane always proceeds, and the feed is always
// rescheduled (failure is not a reason to stop polling).
func (r *Reloader) reload(url string) error {
	log.Printf("[INFO] reloading %s", url)

	ctx, cancel := context.WithTimeout(context.Background(), r.feedTimeout)
	defer cancel()

	r.mu.Lock()
	r.running[url] = r.now()
	r.mu.Unlock()

	if r.broadcaster != nil {
		r.broadcaster.Broadcast("reload", Status{URL: url, Value: true})
	}

	// errors from previous attempts don't accumulate
	changed := r.tree.SetErrorByURL(url, "")

	err := r.reloadInner(ctx, url, &changed)
	if err != nil {
		log.Printf("[WARN] reload failed for %s: %v", url, err)
		changed = r.tree.SetErrorByURL(url, nodeErrorText(err)) || changed
	}

	// finish: clear the in-flight marker, stamp the attempt, re-arm the
	// timer and let clients know - on success and failure alike, or the
	// feed would be permanently stuck "running"
	r.mu.Lock()
	delete(r.running, url)
	r.mu.Unlock()

	r.tree.TouchByURL(url, r.now().UnixMilli())
	if r.scheduler != nil {
		r.scheduler.RescheduleURL(url)
	}
	if r.broadcaster != nil {
		r.broadcaster.Broadcast("reload", Status{URL: url, Value: false})
	}

	if changed {
		if aerr := r.tree.ApplyChanges(ctx); aerr != nil {
			log.Printf("[ERROR] failed to apply tree changes for %s: %v", url, aerr)
		}
	}

	return err
}

// nodeErrorText picks the message recorded on the feed nodes. The node already
// identifies its URL, so typed fetch/parse errors shed their URL prefix.
func nodeErrorText(err error) string {
	var fetchErr *feed.FetchError
	if errors.As(err, &fetchErr) {
		return fetchErr.Err.Error()
	}
	var parseErr *feed.ParseError
	if errors.As(err, &parseErr) {
		return parseErr.Err.Error()
	}
	return err.Error()
}

// reloadInner fetches the document and reconciles it against the store;
// store failures abort the job without corrupting in-memory state
func (r *Reloader) reloadInner(ctx context.Context, url string, changed *bool) error {
	parsed, err := r.fetcher.Fetch(ctx, url)
	if err != nil {
		return err
	}

	*changed = r.tree.SetMetaByURL(url, parsed.Title, parsed.Description, parsed.Link) || *changed

	if len(parsed.Items) == 0 {
		log.Printf("[DEBUG] no items in %s", url)
		return nil
	}

	guids := make([]string, 0, len(parsed.Items))
	seen := map[string]struct{}{}
	for _, it := range parsed.Items {
		if _, ok := seen[it.GUID]; ok {
			continue
		}
		seen[it.GUID] = struct{}{}
		guids = append(guids, it.GUID)
	}

	// one batched guid-set query, not one per item
	stored, err := r.store.FindByGUIDs(ctx, url, guids)
	if err != nil {
		return fmt.Errorf("load stored items: %w", err)
	}

	res := reconcile(url, parsed.Items, stored, r.now().UnixMilli())

	for _, upd := range res.updates {
		if err := r.store.UpdateItem(ctx, upd); err != nil {
			return fmt.Errorf("update item %s: %w", upd.GUID, err)
		}
	}

	if len(res.inserts) > 0 {
		inserted, err := r.store.Insert(ctx, res.inserts)
		if err != nil {
			return fmt.Errorf("insert new content: %w", err)
		}
		if r.broadcaster != nil {
			r.broadcaster.Broadcast("newcontent", NewContent{URL: url, Content: inserted})
		}
		log.Printf("[INFO] added %d new item(s) from %s", len(inserted), url)
	}

	if res.unreads > 0 || len(res.updates) > 0 {
		count, cerr := r.store.CountUnread(ctx, url)
		if cerr != nil {
			return fmt.Errorf("count unread for %s: %w", url, cerr)
		}
		r.tree.MarkStaleByURL(url, count)
		*changed = true
	}

	return nil
}
