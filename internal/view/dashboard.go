// Package view はセッションゲート付きのダッシュボードビューを提供する。
//
// Dashboardは元のWebページの「マウント→セッション解決→フェッチ→購読」
// というライフサイクルをサーバー側で表現したもので、SSE接続1本につき
// 1インスタンスがマウントされる。保持する一覧はストアを唯一の真実とする
// 使い捨てキャッシュであり、フェッチのたびに全上書きされる。
package view

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hitoshi/bookman/internal/model"
)

// BookmarkLister はビューが必要とする一覧取得のインターフェース。
type BookmarkLister interface {
	List(ctx context.Context, userID string) ([]model.Bookmark, error)
}

// ChangeSource は変更イベントの購読インターフェース。realtime.Hubの部分集合。
type ChangeSource interface {
	Subscribe() (<-chan model.ChangeEvent, func())
}

// Navigator はページ遷移の副作用を抽象化する。
type Navigator interface {
	Redirect(path string)
}

// NavigatorFunc は関数をNavigatorとして使うためのアダプタ。
type NavigatorFunc func(path string)

// Redirect はNavigatorを実装する。
func (f NavigatorFunc) Redirect(path string) { f(path) }

// MetricsRecorder はビューが記録するメトリクスのインターフェース。
type MetricsRecorder interface {
	RecordRefreshFailure()
}

// Dashboard はセッションゲート付きのブックマークビュー。
//
// 並行性について: 再フェッチはミューテーションの完了通知と変更イベントの
// 両方から起こりうるが、順序は保証しない。どちらも冪等な全上書きであり、
// 最後に解決したレスポンスが勝つ（結果整合）。
type Dashboard struct {
	store   BookmarkLister
	changes ChangeSource
	nav     Navigator
	logger  *slog.Logger
	metrics MetricsRecorder

	mu          sync.Mutex
	user        *model.User
	bookmarks   []model.Bookmark
	unsubscribe func()
	mounted     bool

	snapshots chan []model.Bookmark
}

// NewDashboard はDashboardを生成する。metricsはnil可。
func NewDashboard(store BookmarkLister, changes ChangeSource, nav Navigator, logger *slog.Logger, metrics MetricsRecorder) *Dashboard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dashboard{
		store:   store,
		changes: changes,
		nav:     nav,
		logger:  logger,
		metrics: metrics,
		// 最新スナップショットのみ保持（古いものは捨てる）
		snapshots: make(chan []model.Bookmark, 1),
	}
}

// Mount はビューをマウントする。セッション解決は1回だけ行うゲートで、
// セッションがない場合はログインページへのリダイレクトのみを行い、
// フェッチも購読も開始しない。セッションがある場合は初回フェッチを行い、
// 変更イベントの購読を開始する。マウント成否を返す。
//
// マウント後のセッション失効は検出しない（後続のストア操作の失敗で
// 間接的に現れるのみ）。
func (d *Dashboard) Mount(ctx context.Context, user *model.User) bool {
	if user == nil {
		d.nav.Redirect("/")
		return false
	}

	d.mu.Lock()
	d.mounted = true
	d.mu.Unlock()

	d.SetSession(ctx, user)
	return true
}

// SetSession はセッション値の変化を反映する。nilへの変化も変化として扱う。
// 既存の購読があれば再購読の前に必ず解除する（マウント中のインスタンスに
// つき、アクティブな購読は常に1つ）。
func (d *Dashboard) SetSession(ctx context.Context, user *model.User) {
	d.mu.Lock()
	old := d.unsubscribe
	d.unsubscribe = nil
	d.user = user
	d.mu.Unlock()

	if old != nil {
		old()
	}

	if user != nil {
		d.Refresh(ctx, user.ID)
	}

	ch, cancel := d.changes.Subscribe()
	d.mu.Lock()
	if !d.mounted {
		// Unmount後のSetSessionは購読を残さない
		d.mu.Unlock()
		cancel()
		return
	}
	d.unsubscribe = cancel
	d.mu.Unlock()

	go d.watch(ctx, ch)
}

// watch は変更イベントを受けて再フェッチする。
// イベント内容は見ない: 他ユーザーの変更でも発火し、フェッチ時の
// user_idフィルタで絞り直される（無駄だが無害な再フェッチ）。
func (d *Dashboard) watch(ctx context.Context, ch <-chan model.ChangeEvent) {
	for range ch {
		d.Refresh(ctx, "")
	}
}

// Refresh はブックマーク一覧を再取得し、成功時は全上書きする。
// userIDが空の場合は現在のセッションのIDにフォールバックし、
// それも無ければ何もしない（エラーではない）。
// 取得失敗時は一覧を変更せず、ユーザーへの通知もしない
// （ベストエフォート読み取り）。失敗はWarnログとメトリクスにのみ残す。
func (d *Dashboard) Refresh(ctx context.Context, userID string) {
	if userID == "" {
		d.mu.Lock()
		if d.user != nil {
			userID = d.user.ID
		}
		d.mu.Unlock()
	}
	if userID == "" {
		return
	}

	list, err := d.store.List(ctx, userID)
	if err != nil {
		// 読み取り失敗は表示を維持する。書き込み失敗のアラート経路とは
		// 区別してログとカウンタに記録する。
		d.logger.Warn("ブックマーク一覧の再取得に失敗しました（表示は維持されます）",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		if d.metrics != nil {
			d.metrics.RecordRefreshFailure()
		}
		return
	}

	d.mu.Lock()
	d.bookmarks = list
	d.mu.Unlock()

	d.pushSnapshot(list)
}

// Bookmarks は現在の一覧のコピーを返す。
func (d *Dashboard) Bookmarks() []model.Bookmark {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]model.Bookmark, len(d.bookmarks))
	copy(out, d.bookmarks)
	return out
}

// Snapshots は一覧が更新されるたびに最新の全量スナップショットを
// 受け取れるチャネルを返す。消費が追いつかない場合は古いスナップ
// ショットが捨てられ、常に最新のみが残る。
func (d *Dashboard) Snapshots() <-chan []model.Bookmark {
	return d.snapshots
}

// Unmount はビューを破棄し、アクティブな購読をちょうど1回解除する。
// 複数回呼んでも安全。
func (d *Dashboard) Unmount() {
	d.mu.Lock()
	d.mounted = false
	unsub := d.unsubscribe
	d.unsubscribe = nil
	d.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

// pushSnapshot は最新スナップショットをチャネルへ置く。
// バッファが埋まっている場合は古い方を捨てる。
func (d *Dashboard) pushSnapshot(list []model.Bookmark) {
	for {
		select {
		case d.snapshots <- list:
			return
		default:
			select {
			case <-d.snapshots:
			default:
			}
		}
	}
}
