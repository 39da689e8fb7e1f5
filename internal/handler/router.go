package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/bookman/internal/middleware"
	"github.com/hitoshi/bookman/internal/view"
	"github.com/hitoshi/bookman/internal/web"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// ブックマーク
	BookmarkService BookmarkServiceInterface
	Importer        FeedImporterInterface

	// リアルタイム
	ChangeSource view.ChangeSource

	// ページ
	Renderer *web.Renderer

	// メトリクス（nil可）
	Metrics StreamMetricsRecorder
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Logging → CORS → SessionMiddleware → RateLimit(General)
//
// 認証ルート（/auth/*）、ページ、イベントストリームはセッション必須
// チェーンの外に配置する。ページとストリームは401ではなくリダイレクトで
// 応答するため、ハンドラー側でセッションを解決する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	if deps.Logger != nil {
		r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	}
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	bookmarkHandler := NewBookmarkHandler(deps.BookmarkService, deps.Importer)
	pageHandler := NewPageHandler(deps.AuthService, deps.Renderer)
	streamHandler := NewStreamHandler(deps.AuthService, deps.BookmarkService, deps.ChangeSource, deps.Logger, deps.Metrics)

	// --- 認証不要のルート ---

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// ページ（セッションの有無でリダイレクト）
	r.Get("/", pageHandler.LoginPage)
	r.Get("/dashboard", pageHandler.DashboardPage)

	// イベントストリーム（未認証はリダイレクトのみ）
	r.Get("/events", streamHandler.Stream)

	// 認証ルート（OAuthフロー）
	r.Route("/auth", func(r chi.Router) {
		r.Get("/google/login", authHandler.Login)
		r.Get("/google/callback", authHandler.Callback)
		r.Post("/logout", authHandler.Logout)
		r.Get("/me", authHandler.Me)
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/api/bookmarks", func(r chi.Router) {
			r.Get("/", bookmarkHandler.ListBookmarks)
			r.Post("/", bookmarkHandler.CreateBookmark)

			// POST /api/bookmarks/import - インポート専用レート制限を追加
			r.With(deps.RateLimiter.ImportMiddleware()).Post("/import", bookmarkHandler.ImportFeed)

			r.Delete("/{id}", bookmarkHandler.DeleteBookmark)
		})
	})

	return r
}
