package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-pkgz/repeater/v2"
	"github.com/jmoiron/sqlx"

	"github.com/feedview/feedview/pkg/domain"
)

// dbContentItem mirrors the content table
type dbContentItem struct {
	ID        int64  `db:"id"`
	URL       string `db:"url"`
	GUID      string `db:"guid"`
	Title     string `db:"title"`
	Content   string `db:"content"`
	Link      string `db:"link"`
	CreatedAt int64  `db:"created_at"`
	UpdatedAt int64  `db:"updated_at"`
	AddedAt   int64  `db:"added_at"`
	Unread    bool   `db:"unread"`
}

func toDomainItem(d *dbContentItem) domain.ContentItem {
	return domain.ContentItem{
		ID:        d.ID,
		URL:       d.URL,
		GUID:      d.GUID,
		Title:     d.Title,
		Content:   d.Content,
		Link:      d.Link,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
		AddedAt:   d.AddedAt,
		Unread:    d.Unread,
	}
}

func fromDomainItem(item *domain.ContentItem) dbContentItem {
	return dbContentItem{
		ID:        item.ID,
		URL:       item.URL,
		GUID:      item.GUID,
		Title:     item.Title,
		Content:   item.Content,
		Link:      item.Link,
		CreatedAt: item.CreatedAt,
		UpdatedAt: item.UpdatedAt,
		AddedAt:   item.AddedAt,
		Unread:    item.Unread,
	}
}

// ContentRepository handles content item database operations
type ContentRepository struct {
	db *sqlx.DB
}

// NewContentRepository creates a new content repository
func NewContentRepository(db *sqlx.DB) *ContentRepository {
	return &ContentRepository{db: db}
}

// Find retrieves items matching the query, newest first (unread state and
// timestamps descending). With ByRelevance set and a search term present the
// result is ranked by FTS match quality instead.
func (r *ContentRepository) Find(ctx context.Context, q domain.ContentQuery, opts domain.ContentOptions) ([]domain.ContentItem, error) {
	if opts.ByRelevance && q.Search != "" {
		return r.findByRelevance(ctx, q, opts)
	}

	where := []string{"1=1"}
	args := []interface{}{}

	if len(q.URLs) > 0 {
		where = append(where, "url IN (?)")
		args = append(args, q.URLs)
	}
	if len(q.GUIDs) > 0 {
		where = append(where, "guid IN (?)")
		args = append(args, q.GUIDs)
	}
	if q.Unread != nil {
		where = append(where, "unread = ?")
		args = append(args, *q.Unread)
	}
	if q.UpdatedAtLTE > 0 {
		where = append(where, "updated_at <= ?")
		args = append(args, q.UpdatedAtLTE)
	}
	if q.Search != "" {
		where = append(where, "id IN (SELECT rowid FROM content_fts WHERE content_fts MATCH ?)")
		args = append(args, ftsQuery(q.Search))
	}

	query := "SELECT * FROM content WHERE " + strings.Join(where, " AND ") +
		" ORDER BY updated_at DESC, id DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, opts.Offset)
	}

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("build content query: %w", err)
	}

	var dbItems []dbContentItem
	if err := r.db.SelectContext(ctx, &dbItems, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("find content: %w", err)
	}

	items := make([]domain.ContentItem, len(dbItems))
	for i := range dbItems {
		items[i] = toDomainItem(&dbItems[i])
	}
	return items, nil
}

// findByRelevance ranks matches by bm25 over title and body, titles weighted
// heavier than bodies
func (r *ContentRepository) findByRelevance(ctx context.Context, q domain.ContentQuery, opts domain.ContentOptions) ([]domain.ContentItem, error) {
	where := []string{"content_fts MATCH ?"}
	args := []interface{}{ftsQuery(q.Search)}

	if len(q.URLs) > 0 {
		where = append(where, "c.url IN (?)")
		args = append(args, q.URLs)
	}
	if q.Unread != nil {
		where = append(where, "c.unread = ?")
		args = append(args, *q.Unread)
	}

	query := `
		SELECT c.* FROM content c
		JOIN content_fts ON content_fts.rowid = c.id
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY bm25(content_fts, 10.0, 1.0), c.updated_at DESC`
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, opts.Offset)
	}

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("build relevance query: %w", err)
	}

	var dbItems []dbContentItem
	if err := r.db.SelectContext(ctx, &dbItems, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("find content by relevance: %w", err)
	}

	items := make([]domain.ContentItem, len(dbItems))
	for i := range dbItems {
		items[i] = toDomainItem(&dbItems[i])
	}
	return items, nil
}

// FindByGUIDs retrieves the stored items of one feed with any of the given
// guids, in one batched query
func (r *ContentRepository) FindByGUIDs(ctx context.Context, url string, guids []string) ([]domain.ContentItem, error) {
	if len(guids) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In("SELECT * FROM content WHERE url = ? AND guid IN (?)", url, guids)
	if err != nil {
		return nil, fmt.Errorf("build guid query: %w", err)
	}

	var dbItems []dbContentItem
	if err := r.db.SelectContext(ctx, &dbItems, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("find by guids: %w", err)
	}

	items := make([]domain.ContentItem, len(dbItems))
	for i := range dbItems {
		items[i] = toDomainItem(&dbItems[i])
	}
	return items, nil
}

// Insert writes new items in one transaction and returns them with their
// assigned ids. Retries on transient lock errors.
func (r *ContentRepository) Insert(ctx context.Context, items []domain.ContentItem) ([]domain.ContentItem, error) {
	if len(items) == 0 {
		return nil, nil
	}

	out := make([]domain.ContentItem, len(items))
	copy(out, items)

	retrier := repeater.NewBackoff(5, 50*time.Millisecond, repeater.WithMaxDelay(2*time.Second))
	err := retrier.Do(ctx, func() error {
		tx, err := r.db.BeginTxx(ctx, nil)
		if err != nil {
			if isLockError(err) {
				return err // repeater will retry this
			}
			return &criticalError{err: fmt.Errorf("begin insert tx: %w", err)}
		}
		defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

		for i := range out {
			dbItem := fromDomainItem(&out[i])
			res, err := tx.NamedExecContext(ctx, `
				INSERT INTO content (url, guid, title, content, link, created_at, updated_at, added_at, unread)
				VALUES (:url, :guid, :title, :content, :link, :created_at, :updated_at, :added_at, :unread)
			`, dbItem)
			if err != nil {
				if isLockError(err) {
					return err
				}
				return &criticalError{err: fmt.Errorf("insert item %s: %w", out[i].GUID, err)}
			}
			id, err := res.LastInsertId()
			if err != nil {
				return &criticalError{err: fmt.Errorf("get insert id: %w", err)}
			}
			out[i].ID = id
		}

		if err := tx.Commit(); err != nil {
			if isLockError(err) {
				return err
			}
			return &criticalError{err: fmt.Errorf("commit insert: %w", err)}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateItem rewrites a stored item in place
func (r *ContentRepository) UpdateItem(ctx context.Context, item domain.ContentItem) error {
	dbItem := fromDomainItem(&item)
	retrier := repeater.NewBackoff(5, 50*time.Millisecond, repeater.WithMaxDelay(2*time.Second))

	return retrier.Do(ctx, func() error {
		_, err := r.db.NamedExecContext(ctx, `
			UPDATE content
			SET title = :title, content = :content, link = :link,
			    created_at = :created_at, updated_at = :updated_at,
			    added_at = :added_at, unread = :unread
			WHERE id = :id
		`, dbItem)
		if err != nil {
			if isLockError(err) {
				return err // repeater will retry this
			}
			return &criticalError{err: fmt.Errorf("update item %d: %w", item.ID, err)}
		}
		return nil
	})
}

// SetUnread flips the unread flag on the given item ids and returns the
// distinct feed URLs touched, so callers know which cached counts went stale
func (r *ContentRepository) SetUnread(ctx context.Context, ids []int64, unread bool) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In("SELECT DISTINCT url FROM content WHERE id IN (?)", ids)
	if err != nil {
		return nil, fmt.Errorf("build url query: %w", err)
	}
	var urls []string
	if err := r.db.SelectContext(ctx, &urls, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("resolve item urls: %w", err)
	}

	query, args, err = sqlx.In("UPDATE content SET unread = ? WHERE id IN (?)", unread, ids)
	if err != nil {
		return nil, fmt.Errorf("build unread update: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("set unread: %w", err)
	}
	return urls, nil
}

// SetUnreadByURLs flips the unread flag on every item of the given feeds
func (r *ContentRepository) SetUnreadByURLs(ctx context.Context, urls []string, unread bool) error {
	if len(urls) == 0 {
		return nil
	}

	query, args, err := sqlx.In("UPDATE content SET unread = ? WHERE url IN (?)", unread, urls)
	if err != nil {
		return fmt.Errorf("build unread-by-url update: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("set unread by urls: %w", err)
	}
	return nil
}

// CountUnread counts unread items for one feed URL
func (r *ContentRepository) CountUnread(ctx context.Context, url string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM content WHERE url = ? AND unread = 1", url)
	if err != nil {
		return 0, fmt.Errorf("count unread for %s: %w", url, err)
	}
	return count, nil
}

// ftsQuery quotes the user's search terms so FTS treats them as plain words
// rather than query syntax
func ftsQuery(search string) string {
	terms := strings.Fields(search)
	for i, t := range terms {
		terms[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	return strings.Join(terms, " ")
}
