package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/bookman/internal/middleware"
	"github.com/hitoshi/bookman/internal/model"
)

// BookmarkServiceInterface はブックマークハンドラーが必要とするサービスインターフェース。
type BookmarkServiceInterface interface {
	List(ctx context.Context, userID string) ([]model.Bookmark, error)
	Create(ctx context.Context, userID, title, rawURL string) (*model.Bookmark, error)
	Delete(ctx context.Context, userID, bookmarkID string) error
}

// FeedImporterInterface はフィードインポートのインターフェース。
type FeedImporterInterface interface {
	Import(ctx context.Context, userID, feedURL string) (int, error)
}

// BookmarkHandler はブックマークCRUDとフィードインポートのHTTPハンドラー。
type BookmarkHandler struct {
	service  BookmarkServiceInterface
	importer FeedImporterInterface
}

// NewBookmarkHandler はBookmarkHandlerを生成する。
func NewBookmarkHandler(service BookmarkServiceInterface, importer FeedImporterInterface) *BookmarkHandler {
	return &BookmarkHandler{
		service:  service,
		importer: importer,
	}
}

// bookmarkResponse はブックマークのAPIレスポンス。
type bookmarkResponse struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	URL       string `json:"url"`
	Favicon   string `json:"favicon,omitempty"` // data URI。未取得時は省略
	CreatedAt string `json:"created_at"`
}

// createBookmarkRequest はブックマーク作成のリクエストボディ。
type createBookmarkRequest struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// importRequest はフィードインポートのリクエストボディ。
type importRequest struct {
	FeedURL string `json:"feed_url"`
}

// ListBookmarks はログインユーザーのブックマーク一覧を返す。
// GET /api/bookmarks
func (h *BookmarkHandler) ListBookmarks(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	bookmarks, err := h.service.List(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]bookmarkResponse, 0, len(bookmarks))
	for i := range bookmarks {
		resp = append(resp, toBookmarkResponse(&bookmarks[i]))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"bookmarks": resp,
	})
}

// CreateBookmark はブックマークを作成する。
// POST /api/bookmarks
func (h *BookmarkHandler) CreateBookmark(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var req createBookmarkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidURLError("リクエストボディが不正です"))
		return
	}

	bookmark, err := h.service.Create(r.Context(), userID, req.Title, req.URL)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toBookmarkResponse(bookmark))
}

// DeleteBookmark は指定IDのブックマークを削除する。
// DELETE /api/bookmarks/{id}
func (h *BookmarkHandler) DeleteBookmark(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	bookmarkID := chi.URLParam(r, "id")
	if bookmarkID == "" {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewBookmarkNotFoundError(""))
		return
	}

	if err := h.service.Delete(r.Context(), userID, bookmarkID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ImportFeed は指定フィードの記事をブックマークとして一括登録する。
// POST /api/bookmarks/import
func (h *BookmarkHandler) ImportFeed(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.FeedURL == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewFieldRequiredError("フィードURL"))
		return
	}

	imported, err := h.importer.Import(r.Context(), userID, req.FeedURL)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"imported": imported,
	})
}

// --- ヘルパー関数 ---

// toBookmarkResponse はmodel.BookmarkからAPIレスポンスに変換する。
// favicon取得済みの場合はdata URIとして埋め込む。
func toBookmarkResponse(b *model.Bookmark) bookmarkResponse {
	resp := bookmarkResponse{
		ID:        b.ID,
		Title:     b.Title,
		URL:       b.URL,
		CreatedAt: b.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if len(b.FaviconData) > 0 && b.FaviconMime != "" {
		resp.Favicon = fmt.Sprintf("data:%s;base64,%s",
			b.FaviconMime, base64.StdEncoding.EncodeToString(b.FaviconData))
	}
	return resp
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		statusCode := mapAPIErrorToHTTPStatus(apiErr)
		writeAPIErrorResponse(w, statusCode, apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeFieldRequired, model.ErrCodeInvalidURL:
		return http.StatusBadRequest
	case model.ErrCodeSSRFBlocked:
		return http.StatusForbidden
	case model.ErrCodeBookmarkNotFound, model.ErrCodeUserNotFound:
		return http.StatusNotFound
	case model.ErrCodeFetchFailed:
		return http.StatusBadGateway
	case model.ErrCodeParseFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
