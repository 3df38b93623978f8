package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-pkgz/repeater/v2"
	"github.com/jmoiron/sqlx"

	"github.com/feedview/feedview/pkg/domain"
)

// defaultReloadMins seeds a freshly initialized tree
const defaultReloadMins = 30.0

// TreeRepository persists the feed tree as a single JSON document
type TreeRepository struct {
	db *sqlx.DB
}

// NewTreeRepository creates a new tree repository
func NewTreeRepository(db *sqlx.DB) *TreeRepository {
	return &TreeRepository{db: db}
}

// LoadTree reads the stored tree. An empty database gets a fresh root folder
// with the default reload interval, persisted before it is returned.
func (r *TreeRepository) LoadTree(ctx context.Context) (*domain.FeedNode, error) {
	var raw string
	err := r.db.GetContext(ctx, &raw, "SELECT tree FROM feed_tree WHERE id = 1")
	if errors.Is(err, sql.ErrNoRows) {
		mins := defaultReloadMins
		root := &domain.FeedNode{
			Name:       "root",
			Children:   []*domain.FeedNode{},
			ReloadMins: &mins,
		}
		if err := r.SaveTree(ctx, root); err != nil {
			return nil, fmt.Errorf("init feed tree: %w", err)
		}
		return root, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load feed tree: %w", err)
	}

	var root domain.FeedNode
	if err := json.Unmarshal([]byte(raw), &root); err != nil {
		return nil, fmt.Errorf("decode feed tree: %w", err)
	}
	return &root, nil
}

// SaveTree upserts the whole tree document. Retries on transient lock errors.
func (r *TreeRepository) SaveTree(ctx context.Context, root *domain.FeedNode) error {
	if root == nil {
		return fmt.Errorf("refusing to save empty tree")
	}

	raw, err := json.Marshal(root)
	if err != nil {
		return fmt.Errorf("encode feed tree: %w", err)
	}

	retrier := repeater.NewBackoff(5, 50*time.Millisecond, repeater.WithMaxDelay(2*time.Second))
	return retrier.Do(ctx, func() error {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO feed_tree (id, tree, updated_at) VALUES (1, ?, ?)
			ON CONFLICT(id) DO UPDATE SET tree = excluded.tree, updated_at = excluded.updated_at
		`, string(raw), time.Now().UnixMilli())
		if err != nil {
			if isLockError(err) {
				return err // repeater will retry this
			}
			return &criticalError{err: fmt.Errorf("save feed tree: %w", err)}
		}
		return nil
	})
}
