package handler

import (
	"log/slog"
	"net/http"

	"github.com/hitoshi/bookman/internal/web"
)

// PageHandler はログイン・ダッシュボードページのHTTPハンドラー。
type PageHandler struct {
	auth     AuthServiceInterface
	renderer *web.Renderer
}

// NewPageHandler はPageHandlerを生成する。
func NewPageHandler(auth AuthServiceInterface, renderer *web.Renderer) *PageHandler {
	return &PageHandler{
		auth:     auth,
		renderer: renderer,
	}
}

// LoginPage はログインページを表示する。ログイン済みの場合は
// ダッシュボードへリダイレクトする。
// GET /
func (h *PageHandler) LoginPage(w http.ResponseWriter, r *http.Request) {
	if user := resolveUser(r, h.auth); user != nil {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.renderer.RenderLogin(w); err != nil {
		slog.Error("failed to render login page", slog.String("error", err.Error()))
	}
}

// DashboardPage はダッシュボードページを表示する。セッションがない場合は
// フェッチも購読も行わず、ログインページへリダイレクトするだけ。
// GET /dashboard
func (h *PageHandler) DashboardPage(w http.ResponseWriter, r *http.Request) {
	user := resolveUser(r, h.auth)
	if user == nil {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := h.renderer.RenderDashboard(w, web.DashboardData{
		UserName:  user.Name,
		UserEmail: user.Email,
	})
	if err != nil {
		slog.Error("failed to render dashboard page", slog.String("error", err.Error()))
	}
}
