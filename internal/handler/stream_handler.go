package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/bookman/internal/model"
	"github.com/hitoshi/bookman/internal/view"
)

// defaultHeartbeatInterval はSSEのハートビート間隔。
// 中間プロキシのアイドルタイムアウトで接続が切られるのを防ぐ。
const defaultHeartbeatInterval = 30 * time.Second

// StreamMetricsRecorder はストリームハンドラーが記録するメトリクスのインターフェース。
type StreamMetricsRecorder interface {
	AddStreamClient(delta int)
	RecordRefreshFailure()
}

// StreamHandler はブックマーク一覧のSSEストリームハンドラー。
//
// 接続ごとにview.Dashboardをマウントし、変更イベントのたびに再取得
// された全量スナップショットをクライアントへ送る。クライアント側は
// 受信したスナップショットで表示を丸ごと置き換えるだけでよい。
type StreamHandler struct {
	auth      AuthServiceInterface
	store     view.BookmarkLister
	changes   view.ChangeSource
	logger    *slog.Logger
	metrics   StreamMetricsRecorder
	heartbeat time.Duration
}

// NewStreamHandler はStreamHandlerを生成する。metricsはnil可。
func NewStreamHandler(
	auth AuthServiceInterface,
	store view.BookmarkLister,
	changes view.ChangeSource,
	logger *slog.Logger,
	metrics StreamMetricsRecorder,
) *StreamHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamHandler{
		auth:      auth,
		store:     store,
		changes:   changes,
		logger:    logger,
		metrics:   metrics,
		heartbeat: defaultHeartbeatInterval,
	}
}

// Stream はSSE接続を処理する。
// GET /events
//
// 未認証の場合はログインページへのリダイレクトのみを返す
// （一覧の取得も購読も行わない）。
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	user := resolveUser(r, h.auth)

	nav := view.NavigatorFunc(func(path string) {
		http.Redirect(w, r, path, http.StatusSeeOther)
	})

	var viewMetrics view.MetricsRecorder
	if h.metrics != nil {
		viewMetrics = h.metrics
	}
	dashboard := view.NewDashboard(h.store, h.changes, nav, h.logger, viewMetrics)

	if !dashboard.Mount(r.Context(), user) {
		return
	}
	defer dashboard.Unmount()

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	if h.metrics != nil {
		h.metrics.AddStreamClient(1)
		defer h.metrics.AddStreamClient(-1)
	}

	h.logger.Info("stream client connected", slog.String("user_id", user.ID))
	defer h.logger.Info("stream client disconnected", slog.String("user_id", user.ID))

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case snapshot := <-dashboard.Snapshots():
			if err := writeSnapshotEvent(w, snapshot); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeSnapshotEvent は全量スナップショットをSSEイベントとして書き込む。
func writeSnapshotEvent(w http.ResponseWriter, bookmarks []model.Bookmark) error {
	resp := make([]bookmarkResponse, 0, len(bookmarks))
	for i := range bookmarks {
		resp = append(resp, toBookmarkResponse(&bookmarks[i]))
	}

	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(w, "event: bookmarks\ndata: %s\n\n", data)
	return err
}
