package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedview/feedview/pkg/domain"
)

func TestTreeRepository_InitializesEmptyDatabase(t *testing.T) {
	repos, cleanup := setupTestDB(t)
	defer cleanup()

	root, err := repos.Tree.LoadTree(context.Background())
	require.NoError(t, err)
	require.NotNil(t, root)

	assert.Equal(t, "root", root.Name)
	assert.True(t, root.IsFolder())
	assert.Empty(t, root.Children)
	require.NotNil(t, root.ReloadMins)
	assert.InDelta(t, 30.0, *root.ReloadMins, 0.001)

	// the seeded tree is persisted, not just returned
	again, err := repos.Tree.LoadTree(context.Background())
	require.NoError(t, err)
	assert.Equal(t, root.Name, again.Name)
}

func TestTreeRepository_SaveAndLoadRoundTrip(t *testing.T) {
	repos, cleanup := setupTestDB(t)
	defer cleanup()

	mins := 15.0
	root := &domain.FeedNode{
		ID:   "root-id",
		Name: "root",
		Children: []*domain.FeedNode{
			{
				ID:       "folder-id",
				Name:     "tech",
				Children: []*domain.FeedNode{{ID: "feed-id", Name: "golang", URL: "https://example.com/go", Unread: 3}},
			},
			{ID: "empty-id", Name: "empty", Children: []*domain.FeedNode{}},
		},
		ReloadMins: &mins,
	}

	require.NoError(t, repos.Tree.SaveTree(context.Background(), root))

	loaded, err := repos.Tree.LoadTree(context.Background())
	require.NoError(t, err)

	require.Len(t, loaded.Children, 2)
	assert.Equal(t, "tech", loaded.Children[0].Name)
	assert.Equal(t, "https://example.com/go", loaded.Children[0].Children[0].URL)
	assert.Equal(t, 3, loaded.Children[0].Children[0].Unread)

	empty := loaded.Children[1]
	assert.True(t, empty.IsFolder(), "empty folder survives the round trip as a folder")
	assert.NotNil(t, empty.Children)
}

func TestTreeRepository_SaveOverwrites(t *testing.T) {
	repos, cleanup := setupTestDB(t)
	defer cleanup()

	first := &domain.FeedNode{ID: "r", Name: "first", Children: []*domain.FeedNode{}}
	second := &domain.FeedNode{ID: "r", Name: "second", Children: []*domain.FeedNode{}}

	require.NoError(t, repos.Tree.SaveTree(context.Background(), first))
	require.NoError(t, repos.Tree.SaveTree(context.Background(), second))

	loaded, err := repos.Tree.LoadTree(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "second", loaded.Name)

	var count int
	require.NoError(t, repos.DB.Get(&count, "SELECT COUNT(*) FROM feed_tree"))
	assert.Equal(t, 1, count, "always a single row")
}

func TestTreeRepository_RejectsNilTree(t *testing.T) {
	repos, cleanup := setupTestDB(t)
	defer cleanup()

	assert.Error(t, repos.Tree.SaveTree(context.Background(), nil))
}

func TestTreeRepository_NeedUpdateNotPersisted(t *testing.T) {
	repos, cleanup := setupTestDB(t)
	defer cleanup()

	root := &domain.FeedNode{
		ID:       "r",
		Name:     "root",
		Children: []*domain.FeedNode{{ID: "f", Name: "feed", URL: "https://example.com/rss", NeedUpdate: true}},
	}
	require.NoError(t, repos.Tree.SaveTree(context.Background(), root))

	loaded, err := repos.Tree.LoadTree(context.Background())
	require.NoError(t, err)
	assert.False(t, loaded.Children[0].NeedUpdate, "transient flag stays out of the store")
}
