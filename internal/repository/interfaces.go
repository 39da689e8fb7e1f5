// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/bookman/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteExpired は期限切れセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// BookmarkRepository はブックマークデータの永続化インターフェース。
// 一覧は常に所有ユーザーで絞り、作成日時降順で返す。
type BookmarkRepository interface {
	// ListByUserID は指定ユーザーのブックマーク一覧をcreated_at降順で返す。
	ListByUserID(ctx context.Context, userID string) ([]model.Bookmark, error)

	// Create はブックマークを作成する。created_atはストア側で採番され、
	// 呼び出し後にbookmark.CreatedAtへ反映される。
	Create(ctx context.Context, bookmark *model.Bookmark) error

	// Delete は指定IDかつ指定ユーザー所有のブックマークを削除する。
	// 所有権はこのWHERE句で強制され、該当行がない場合はfalseを返す。
	Delete(ctx context.Context, id, userID string) (bool, error)

	// ListFaviconPending はfavicon未取得のブックマークを作成順に返す。
	ListFaviconPending(ctx context.Context, limit int) ([]model.Bookmark, error)

	// UpdateFavicon はfaviconデータと取得日時を記録する。
	// 取得失敗時もfetchedAtを記録して再試行ループを防ぐ。
	UpdateFavicon(ctx context.Context, id string, data []byte, mime string, fetchedAt time.Time) error
}
