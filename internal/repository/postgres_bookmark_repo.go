package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/bookman/internal/model"
)

// PostgresBookmarkRepo はPostgreSQLを使用したブックマークリポジトリ。
type PostgresBookmarkRepo struct {
	db *sql.DB
}

// NewPostgresBookmarkRepo はPostgresBookmarkRepoを生成する。
func NewPostgresBookmarkRepo(db *sql.DB) *PostgresBookmarkRepo {
	return &PostgresBookmarkRepo{db: db}
}

// ListByUserID は指定ユーザーのブックマーク一覧をcreated_at降順で返す。
func (r *PostgresBookmarkRepo) ListByUserID(ctx context.Context, userID string) ([]model.Bookmark, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, title, url, favicon_data, favicon_mime, favicon_fetched_at, created_at
		 FROM bookmarks
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookmarks: %w", err)
	}
	defer rows.Close()

	bookmarks := []model.Bookmark{}
	for rows.Next() {
		var b model.Bookmark
		var mime sql.NullString
		var fetchedAt sql.NullTime
		if err := rows.Scan(&b.ID, &b.UserID, &b.Title, &b.URL, &b.FaviconData, &mime, &fetchedAt, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan bookmark: %w", err)
		}
		if mime.Valid {
			b.FaviconMime = mime.String
		}
		if fetchedAt.Valid {
			t := fetchedAt.Time
			b.FaviconFetchedAt = &t
		}
		bookmarks = append(bookmarks, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate bookmarks: %w", err)
	}

	return bookmarks, nil
}

// Create はブックマークを作成する。
// created_atはDB側のデフォルト（now()）で採番し、モデルへ反映する。
func (r *PostgresBookmarkRepo) Create(ctx context.Context, bookmark *model.Bookmark) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO bookmarks (id, user_id, title, url)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at`,
		bookmark.ID, bookmark.UserID, bookmark.Title, bookmark.URL,
	).Scan(&bookmark.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create bookmark: %w", err)
	}
	return nil
}

// Delete は指定IDかつ指定ユーザー所有のブックマークを削除する。
// WHERE句のuser_id条件が所有権チェックを兼ねる。該当行がない場合はfalseを返す。
func (r *PostgresBookmarkRepo) Delete(ctx context.Context, id, userID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM bookmarks WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete bookmark: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// ListFaviconPending はfavicon未取得のブックマークを作成順に返す。
func (r *PostgresBookmarkRepo) ListFaviconPending(ctx context.Context, limit int) ([]model.Bookmark, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, title, url, created_at
		 FROM bookmarks
		 WHERE favicon_fetched_at IS NULL
		 ORDER BY created_at
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list favicon-pending bookmarks: %w", err)
	}
	defer rows.Close()

	bookmarks := []model.Bookmark{}
	for rows.Next() {
		var b model.Bookmark
		if err := rows.Scan(&b.ID, &b.UserID, &b.Title, &b.URL, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan bookmark: %w", err)
		}
		bookmarks = append(bookmarks, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate bookmarks: %w", err)
	}

	return bookmarks, nil
}

// UpdateFavicon はfaviconデータと取得日時を記録する。
func (r *PostgresBookmarkRepo) UpdateFavicon(ctx context.Context, id string, data []byte, mime string, fetchedAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE bookmarks
		 SET favicon_data = $2, favicon_mime = NULLIF($3, ''), favicon_fetched_at = $4
		 WHERE id = $1`,
		id, data, mime, fetchedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update favicon: %w", err)
	}
	return nil
}

// compile-time interface check
var _ BookmarkRepository = (*PostgresBookmarkRepo)(nil)
