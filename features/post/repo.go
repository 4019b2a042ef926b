package post

import (
	"context"
	"database/sql"
	"errors"

	"wprag/internal/ingest"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) LatestModified(ctx context.Context) (string, error) {
	var latest string
	query := `SELECT COALESCE(MAX(modified_gmt), '') FROM posts`
	err := r.db.QueryRowContext(ctx, query).Scan(&latest)
	return latest, err
}

func (r *PostgresRepo) LastModified(ctx context.Context, wpPostID int64) (string, bool, error) {
	var modified string
	query := `SELECT modified_gmt FROM posts WHERE wp_post_id = $1`
	err := r.db.QueryRowContext(ctx, query, wpPostID).Scan(&modified)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return modified, true, nil
}

func (r *PostgresRepo) Upsert(ctx context.Context, p ingest.PostRecord) error {
	query := `INSERT INTO posts (wp_post_id, slug, url, title, modified_gmt, status, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (wp_post_id) DO UPDATE SET
			slug = EXCLUDED.slug,
			url = EXCLUDED.url,
			title = EXCLUDED.title,
			modified_gmt = EXCLUDED.modified_gmt,
			status = EXCLUDED.status,
			updated_at = NOW()`
	_, err := r.db.ExecContext(ctx, query, p.WPPostID, p.Slug, p.URL, p.Title, p.ModifiedGMT, p.Status)
	return err
}

// List returns one page of posts, most recently ingested first. page is 1-based.
func (r *PostgresRepo) List(ctx context.Context, page, perPage int) ([]Post, error) {
	query := `SELECT wp_post_id, slug, url, title, modified_gmt, status, updated_at FROM posts ORDER BY updated_at DESC, wp_post_id DESC LIMIT $1 OFFSET $2`
	rows, err := r.db.QueryContext(ctx, query, perPage, (page-1)*perPage)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var posts []Post
	for rows.Next() {
		var p Post
		if err := rows.Scan(&p.WPPostID, &p.Slug, &p.URL, &p.Title, &p.ModifiedGMT, &p.Status, &p.UpdatedAt); err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

func (r *PostgresRepo) Count(ctx context.Context) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM posts`
	err := r.db.QueryRowContext(ctx, query).Scan(&count)
	return count, err
}
