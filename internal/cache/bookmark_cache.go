// Package cache はブックマーク一覧のRedisリードスルーキャッシュを提供する。
//
// repository.BookmarkRepositoryをラップし、ユーザーごとの一覧を
// JSONで短時間キャッシュする。ミューテーションと変更通知イベントの
// 両方で無効化されるため、別プロセスからの変更もTTLを待たずに反映される。
// REDIS_ADDR未設定の構成ではこのパッケージは使われない（素通し）。
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/bookman/internal/model"
	"github.com/hitoshi/bookman/internal/repository"
	"github.com/redis/go-redis/v9"
)

// keyPrefix はブックマーク一覧キャッシュのキープレフィックス。
const keyPrefix = "bookman:bookmarks:user:"

// ListKey は指定ユーザーの一覧キャッシュキーを返す。
func ListKey(userID string) string {
	return keyPrefix + userID
}

// CachedBookmarkRepo はRedisキャッシュ付きのブックマークリポジトリ。
type CachedBookmarkRepo struct {
	inner  repository.BookmarkRepository
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedBookmarkRepo はCachedBookmarkRepoを生成する。
func NewCachedBookmarkRepo(inner repository.BookmarkRepository, client *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedBookmarkRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedBookmarkRepo{
		inner:  inner,
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// ListByUserID はキャッシュヒット時はRedisから、ミス時はDBから一覧を返す。
// キャッシュ層の障害は読み取りを失敗させず、DBへフォールバックする。
func (r *CachedBookmarkRepo) ListByUserID(ctx context.Context, userID string) ([]model.Bookmark, error) {
	key := ListKey(userID)

	data, err := r.client.Get(ctx, key).Bytes()
	if err == nil {
		var bookmarks []model.Bookmark
		if jsonErr := json.Unmarshal(data, &bookmarks); jsonErr == nil {
			return bookmarks, nil
		}
		// 壊れたエントリは捨ててDBへ
		r.client.Del(ctx, key)
	} else if !errors.Is(err, redis.Nil) {
		r.logger.Warn("bookmark cache read failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}

	bookmarks, err := r.inner.ListByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if data, jsonErr := json.Marshal(bookmarks); jsonErr == nil {
		if setErr := r.client.Set(ctx, key, data, r.ttl).Err(); setErr != nil {
			r.logger.Warn("bookmark cache write failed",
				slog.String("user_id", userID),
				slog.String("error", setErr.Error()),
			)
		}
	}

	return bookmarks, nil
}

// Create はブックマークを作成し、所有ユーザーのキャッシュを無効化する。
func (r *CachedBookmarkRepo) Create(ctx context.Context, bookmark *model.Bookmark) error {
	if err := r.inner.Create(ctx, bookmark); err != nil {
		return err
	}
	r.invalidate(ctx, bookmark.UserID)
	return nil
}

// Delete はブックマークを削除し、所有ユーザーのキャッシュを無効化する。
func (r *CachedBookmarkRepo) Delete(ctx context.Context, id, userID string) (bool, error) {
	deleted, err := r.inner.Delete(ctx, id, userID)
	if err != nil {
		return false, err
	}
	if deleted {
		r.invalidate(ctx, userID)
	}
	return deleted, nil
}

// ListFaviconPending は内側のリポジトリへ素通しする。
func (r *CachedBookmarkRepo) ListFaviconPending(ctx context.Context, limit int) ([]model.Bookmark, error) {
	return r.inner.ListFaviconPending(ctx, limit)
}

// UpdateFavicon はfaviconを更新する。所有者が不明なため無効化は
// 変更通知イベント経由（HandleChange）に任せる。
func (r *CachedBookmarkRepo) UpdateFavicon(ctx context.Context, id string, data []byte, mime string, fetchedAt time.Time) error {
	return r.inner.UpdateFavicon(ctx, id, data, mime, fetchedAt)
}

// HandleChange は変更通知イベントを受けてキャッシュを無効化する。
// ユーザーが特定できないイベント（再接続直後のnil通知など）は
// 安全側に倒して全ユーザーの一覧キャッシュを消す。
func (r *CachedBookmarkRepo) HandleChange(ctx context.Context, ev model.ChangeEvent) {
	if ev.UserID != "" {
		r.invalidate(ctx, ev.UserID)
		return
	}

	iter := r.client.Scan(ctx, 0, keyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		r.client.Del(ctx, iter.Val())
	}
	if err := iter.Err(); err != nil {
		r.logger.Warn("bookmark cache flush failed", slog.String("error", err.Error()))
	}
}

// invalidate は指定ユーザーの一覧キャッシュを削除する。
func (r *CachedBookmarkRepo) invalidate(ctx context.Context, userID string) {
	if err := r.client.Del(ctx, ListKey(userID)).Err(); err != nil {
		r.logger.Warn("bookmark cache invalidation failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
}

// NewClient はRedisクライアントを生成し、疎通を確認する。
func NewClient(ctx context.Context, addr, password string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// compile-time interface check
var _ repository.BookmarkRepository = (*CachedBookmarkRepo)(nil)
