// Package schedule arms and maintains per-feed reload timers. Every leaf feed
// gets one timer computed from its last reload time and its resolved
// reload_mins interval; firing hands the URL to the reloader's lane queue and
// the timer is re-armed when the job completes. A periodic sweep reconciles
// timers against the tree so drift, edits and clock jumps all heal on their
// own.
package schedule

import (
	"log"
	"sync"
	"time"

	"github.com/feedview/feedview/pkg/domain"
)

// FeedSource exposes the slice of the tree service the scheduler reads
type FeedSource interface {
	Leaves() []domain.FeedNode
	FloatSetting(id, key string, def float64) float64
	StringSetting(id, key, def string) string
}

// Enqueuer submits a reload job and reports in-flight state
type Enqueuer interface {
	Enqueue(url, lane string, priority bool) <-chan error
	IsRunning(url string) bool
}

// Config holds scheduler settings
type Config struct {
	DefaultIntervalMins float64       // reload_mins fallback when the tree resolves nothing
	SweepInterval       time.Duration // how often Reconcile runs on its own
	DefaultLane         string
}

// Scheduler owns one pending timer per feed URL. Timers are recomputed, not
// trusted: Reconcile compares each timer's target against the freshly derived
// due time and replaces stale ones.
type Scheduler struct {
	feeds    FeedSource
	reloader Enqueuer
	cfg      Config
	now      func() time.Time

	mu     sync.Mutex
	timers map[string]*timerEntry

	stopOnce sync.Once
	stop     chan struct{}
	done     sync.WaitGroup
}

type timerEntry struct {
	timer *time.Timer
	due   int64 // unix millis the timer targets
}

// NewScheduler creates a scheduler; call Start to begin the reconcile sweep
func NewScheduler(feeds FeedSource, reloader Enqueuer, cfg Config) *Scheduler {
	if cfg.DefaultIntervalMins <= 0 {
		cfg.DefaultIntervalMins = 30
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	return &Scheduler{
		feeds:    feeds,
		reloader: reloader,
		cfg:      cfg,
		now:      time.Now,
		timers:   map[string]*timerEntry{},
		stop:     make(chan struct{}),
	}
}

// TimerTime derives the next due time (unix millis) for a feed: last reload
// plus the resolved interval, clamped into [now, now+interval]. An overdue
// feed collapses to now rather than piling up missed runs; a last_updated in
// the future (clock skew, bad data) can't push the next run out past one full
// interval.
func (s *Scheduler) TimerTime(feed domain.FeedNode) int64 {
	mins := s.cfg.DefaultIntervalMins
	if feed.ID != "" {
		mins = s.feeds.FloatSetting(feed.ID, "reload_mins", mins)
	}
	if mins <= 0 {
		mins = s.cfg.DefaultIntervalMins
	}
	interval := int64(mins * float64(time.Minute/time.Millisecond))

	now := s.now().UnixMilli()
	last := feed.LastUpdated
	if last > now {
		last = now
	}
	due := last + interval
	if due < now {
		due = now
	}
	return due
}

// Arm sets (or replaces) the timer for a feed. A feed with a reload already
// in flight is skipped; the running job re-arms on completion. Re-arming to
// the same due time is a no-op so the sweep doesn't churn healthy timers.
func (s *Scheduler) Arm(feed domain.FeedNode) {
	if feed.URL == "" {
		return
	}
	if s.reloader.IsRunning(feed.URL) {
		return
	}

	due := s.TimerTime(feed)
	url := feed.URL
	laneName := s.feeds.StringSetting(feed.ID, "thread", s.cfg.DefaultLane)

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.timers[url]; ok {
		if e.due == due {
			return
		}
		e.timer.Stop()
	}

	delay := time.Duration(due-s.now().UnixMilli()) * time.Millisecond
	if delay < 0 {
		delay = 0
	}
	s.timers[url] = &timerEntry{
		due:   due,
		timer: time.AfterFunc(delay, func() { s.fire(url, laneName) }),
	}
}

// fire is the timer callback: drop the spent timer handle first so a
// concurrent Reconcile can arm a fresh one, then queue the reload
func (s *Scheduler) fire(url, laneName string) {
	s.mu.Lock()
	delete(s.timers, url)
	s.mu.Unlock()

	log.Printf("[DEBUG] timer fired for %s (lane %s)", url, laneName)
	s.reloader.Enqueue(url, laneName, false)
}

// RescheduleURL re-arms the timer for every leaf feed with the given URL;
// called by the reloader when a job finishes
func (s *Scheduler) RescheduleURL(url string) {
	for _, feed := range s.feeds.Leaves() {
		if feed.URL == url {
			s.Arm(feed)
		}
	}
}

// Reconcile brings the timer set in line with the current tree: every leaf
// feed gets a timer at its derived due time, timers for URLs no longer in the
// tree are cancelled
func (s *Scheduler) Reconcile() {
	leaves := s.feeds.Leaves()

	live := map[string]struct{}{}
	for _, feed := range leaves {
		if feed.URL == "" {
			continue
		}
		live[feed.URL] = struct{}{}
		s.Arm(feed)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for url, e := range s.timers {
		if _, ok := live[url]; !ok {
			e.timer.Stop()
			delete(s.timers, url)
		}
	}
}

// Start launches the periodic reconcile sweep
func (s *Scheduler) Start() {
	s.done.Add(1)
	go func() {
		defer s.done.Done()
		ticker := time.NewTicker(s.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Reconcile()
			case <-s.stop:
				return
			}
		}
	}()
}

// Stop halts the sweep and cancels all pending timers
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.done.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	for url, e := range s.timers {
		e.timer.Stop()
		delete(s.timers, url)
	}
}
