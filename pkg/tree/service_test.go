package tree

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedview/feedview/pkg/domain"
)

type stubStore struct {
	mu       sync.Mutex
	loadRoot *domain.FeedNode
	saved    []*domain.FeedNode
}

func (s *stubStore) LoadTree(_ context.Context) (*domain.FeedNode, error) {
	return s.loadRoot, nil
}

func (s *stubStore) SaveTree(_ context.Context, root *domain.FeedNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, root)
	return nil
}

func (s *stubStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

type stubCounter struct {
	mu     sync.Mutex
	counts map[string]int
	err    error
	calls  []string
}

func (c *stubCounter) CountUnread(_ context.Context, url string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, url)
	if c.err != nil {
		return 0, c.err
	}
	return c.counts[url], nil
}

type stubBroadcaster struct {
	mu   sync.Mutex
	msgs []string
}

func (b *stubBroadcaster) Broadcast(name string, _ any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, name)
}

func (b *stubBroadcaster) count(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, m := range b.msgs {
		if m == name {
			n++
		}
	}
	return n
}

func testTree() *domain.FeedNode {
	return &domain.FeedNode{
		Name: "root",
		Children: []*domain.FeedNode{
			{
				Name: "tech",
				Children: []*domain.FeedNode{
					{Name: "golang", URL: "https://example.com/go"},
					{Name: "linux", URL: "https://example.com/linux"},
				},
			},
			{Name: "news", URL: "https://example.com/news"},
		},
	}
}

func TestService_ApplyPersistsAndBroadcastsOnChange(t *testing.T) {
	store := &stubStore{}
	bc := &stubBroadcaster{}
	s := NewService(store, &stubCounter{counts: map[string]int{}}, bc)

	err := s.Apply(context.Background(), testTree(), false)
	require.NoError(t, err)

	// fresh ids assigned, so the first apply counts as a change
	assert.Equal(t, 1, store.saveCount())
	assert.Equal(t, 1, bc.count("feeds"))

	// a clean re-apply of the same tree stays silent
	err = s.Apply(context.Background(), nil, false)
	require.NoError(t, err)
	assert.Equal(t, 1, store.saveCount())
	assert.Equal(t, 1, bc.count("feeds"))
}

func TestService_ApplyRejectsMissingTree(t *testing.T) {
	s := NewService(&stubStore{}, &stubCounter{}, nil)
	err := s.Apply(context.Background(), nil, false)
	assert.Error(t, err)
}

func TestService_UnreadRecompute(t *testing.T) {
	store := &stubStore{}
	bc := &stubBroadcaster{}
	counter := &stubCounter{counts: map[string]int{
		"https://example.com/go":    5,
		"https://example.com/linux": 2,
	}}
	s := NewService(store, counter, bc)
	require.NoError(t, s.Apply(context.Background(), testTree(), false))

	s.MarkStaleByURL("https://example.com/go", 5)
	s.MarkStaleByURL("https://example.com/linux", 2)
	require.NoError(t, s.ApplyChanges(context.Background()))

	root := s.Snapshot()
	tech := root.Children[0]
	require.Equal(t, "tech", tech.Name)

	assert.Equal(t, 5, tech.Children[0].Unread, "golang feed count")
	assert.Equal(t, 2, tech.Children[1].Unread, "linux feed count")
	assert.Equal(t, 7, tech.Unread, "folder sums children")
	assert.Equal(t, 7, root.Unread, "root sums everything")
	assert.ElementsMatch(t, []string{"https://example.com/go", "https://example.com/linux"}, counter.calls,
		"only flagged feeds recounted")
}

func TestService_MarkStaleSkipsMatchingCount(t *testing.T) {
	store := &stubStore{}
	bc := &stubBroadcaster{}
	s := NewService(store, &stubCounter{counts: map[string]int{}}, bc)
	require.NoError(t, s.Apply(context.Background(), testTree(), false))
	saves := store.saveCount()

	// cached count already matches the fresh one: nothing to do
	s.MarkStaleByURL("https://example.com/news", 0)
	require.NoError(t, s.ApplyChanges(context.Background()))

	assert.Equal(t, saves, store.saveCount())
	assert.Equal(t, 1, bc.count("feeds"))
}

func TestService_UnreadRecomputeKeepsFlagsOnError(t *testing.T) {
	counter := &stubCounter{counts: map[string]int{"https://example.com/news": 3}, err: errors.New("db down")}
	s := NewService(&stubStore{}, counter, nil)
	require.NoError(t, s.Apply(context.Background(), testTree(), false))

	s.MarkStaleByURL("https://example.com/news", 3)
	require.NoError(t, s.ApplyChanges(context.Background()))
	assert.Equal(t, 0, s.Snapshot().Unread, "count untouched while the store is down")

	// once the store recovers, the still-set flag drives the recount
	counter.mu.Lock()
	counter.err = nil
	counter.mu.Unlock()
	require.NoError(t, s.ApplyChanges(context.Background()))
	assert.Equal(t, 3, s.Snapshot().Unread)
}

func TestService_SetMetaByURL(t *testing.T) {
	s := NewService(&stubStore{}, &stubCounter{counts: map[string]int{}}, nil)
	require.NoError(t, s.Apply(context.Background(), testTree(), false))

	changed := s.SetMetaByURL("https://example.com/news", "Daily News", "all the news", "https://example.com")
	assert.True(t, changed)

	root := s.Snapshot()
	news := root.Children[1]
	assert.Equal(t, "Daily News", news.Title)
	assert.Equal(t, "all the news", news.Description)
	assert.Equal(t, "https://example.com", news.Link)
	assert.Equal(t, "news", news.Name, "existing display name kept")

	changed = s.SetMetaByURL("https://example.com/news", "Daily News", "all the news", "https://example.com")
	assert.False(t, changed, "same meta twice is not a change")
}

func TestService_SetMetaAdoptsTitleAsName(t *testing.T) {
	root := &domain.FeedNode{
		Name:     "root",
		Children: []*domain.FeedNode{{URL: "https://example.com/unnamed"}},
	}
	s := NewService(&stubStore{}, &stubCounter{counts: map[string]int{}}, nil)
	require.NoError(t, s.Apply(context.Background(), root, false))

	s.SetMetaByURL("https://example.com/unnamed", "Fetched Title", "", "")
	assert.Equal(t, "Fetched Title", s.Snapshot().Children[0].Name)
}

func TestService_SetErrorByURL(t *testing.T) {
	s := NewService(&stubStore{}, &stubCounter{counts: map[string]int{}}, nil)
	require.NoError(t, s.Apply(context.Background(), testTree(), false))

	assert.True(t, s.SetErrorByURL("https://example.com/news", "connection refused"))
	assert.Equal(t, "connection refused", s.Snapshot().Children[1].Error)

	assert.False(t, s.SetErrorByURL("https://example.com/news", "connection refused"), "same error is not a change")
	assert.True(t, s.SetErrorByURL("https://example.com/news", ""), "clearing is a change")
}

func TestService_FeedURLLookups(t *testing.T) {
	s := NewService(&stubStore{}, &stubCounter{counts: map[string]int{}}, nil)
	require.NoError(t, s.Apply(context.Background(), testTree(), false))

	t.Run("by hierarchy folder", func(t *testing.T) {
		urls := s.FeedURLsByHierarchy([]string{"root", "tech"})
		assert.ElementsMatch(t, []string{"https://example.com/go", "https://example.com/linux"}, urls)
	})

	t.Run("by hierarchy leaf", func(t *testing.T) {
		urls := s.FeedURLsByHierarchy([]string{"root", "tech", "golang"})
		assert.Equal(t, []string{"https://example.com/go"}, urls)
	})

	t.Run("by hierarchy miss", func(t *testing.T) {
		assert.Nil(t, s.FeedURLsByHierarchy([]string{"root", "nope"}))
	})

	t.Run("by id", func(t *testing.T) {
		root := s.Snapshot()
		techID := root.Children[0].ID
		urls := s.FeedURLsByID(techID)
		assert.ElementsMatch(t, []string{"https://example.com/go", "https://example.com/linux"}, urls)
	})

	t.Run("by unknown id", func(t *testing.T) {
		assert.Nil(t, s.FeedURLsByID("missing"))
	})
}

func TestService_Move(t *testing.T) {
	store := &stubStore{}
	bc := &stubBroadcaster{}
	s := NewService(store, &stubCounter{counts: map[string]int{}}, bc)
	require.NoError(t, s.Apply(context.Background(), testTree(), false))
	saves := store.saveCount()

	err := s.Move(context.Background(), []string{"root", "news"}, []string{"root", "tech"})
	require.NoError(t, err)

	// a move persists and broadcasts even when the result happens to be sorted
	assert.Equal(t, saves+1, store.saveCount())
	assert.Equal(t, 2, bc.count("feeds"))

	root := s.Snapshot()
	require.Len(t, root.Children, 1)
	tech := root.Children[0]
	names := make([]string, 0, len(tech.Children))
	for _, c := range tech.Children {
		names = append(names, c.Name)
	}
	assert.ElementsMatch(t, []string{"golang", "linux", "news"}, names)
}

func TestService_MoveRejectsLeafTarget(t *testing.T) {
	s := NewService(&stubStore{}, &stubCounter{counts: map[string]int{}}, nil)
	require.NoError(t, s.Apply(context.Background(), testTree(), false))

	err := s.Move(context.Background(), []string{"root", "news"}, []string{"root", "tech", "golang"})
	assert.Error(t, err)
}

func TestService_Leaves(t *testing.T) {
	s := NewService(&stubStore{}, &stubCounter{counts: map[string]int{}}, nil)
	require.NoError(t, s.Apply(context.Background(), testTree(), false))

	leaves := s.Leaves()
	urls := make([]string, 0, len(leaves))
	for _, l := range leaves {
		urls = append(urls, l.URL)
	}
	assert.ElementsMatch(t, []string{"https://example.com/go", "https://example.com/linux", "https://example.com/news"}, urls)
}

func TestService_Load(t *testing.T) {
	store := &stubStore{loadRoot: testTree()}
	s := NewService(store, &stubCounter{counts: map[string]int{}}, nil)

	require.NoError(t, s.Load(context.Background()))
	assert.NotNil(t, s.Root())
	assert.Equal(t, "root", s.Root().Name)
}
