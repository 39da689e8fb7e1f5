// Package realtime はブックマークテーブルの変更通知チャネルを提供する。
//
// PostgreSQLのLISTEN/NOTIFYをpq.Listenerで購読し、受信した変更イベントを
// 全購読者にブロードキャストする。通知は意図的にユーザーで絞らない:
// どのユーザーの変更でも全購読ビューのコールバックが発火し、各ビューが
// フェッチ時に自ユーザーで絞り直す。冗長だが全上書きフェッチにより無害で、
// 「少なくとも1回の無効化シグナル」として扱う。
//
// 切断時の再接続・バックオフはpq.Listenerが内部で行い、本パッケージの
// 責務ではない。
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/bookman/internal/model"
	"github.com/lib/pq"
)

// Listener はPostgreSQL通知の受信経路を抽象化する。
// *pq.Listenerの部分集合として定義し、テストでの差し替えを可能にする。
type Listener interface {
	Listen(channel string) error
	NotificationChannel() <-chan *pq.Notification
	Close() error
}

// MetricsRecorder はハブが記録するメトリクスのインターフェース。
type MetricsRecorder interface {
	RecordChangeEvent(op string)
}

// Hub は変更通知を購読者へファンアウトする。
// 1プロセスにつき1つ生成し、Runをバックグラウンドで実行する。
type Hub struct {
	listener Listener
	channel  string
	logger   *slog.Logger
	metrics  MetricsRecorder

	mu     sync.Mutex
	subs   map[int]chan model.ChangeEvent
	nextID int
	closed bool
}

// NewHub はHubを生成する。metricsはnil可。
func NewHub(listener Listener, channel string, logger *slog.Logger, metrics MetricsRecorder) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		listener: listener,
		channel:  channel,
		logger:   logger,
		metrics:  metrics,
		subs:     make(map[int]chan model.ChangeEvent),
	}
}

// NewPQListener はデータベースURLからpq.Listenerを生成する。
// 再接続はpq.Listener内部のバックオフ（10秒〜1分）に委ねる。
func NewPQListener(databaseURL string, logger *slog.Logger) *pq.Listener {
	return pq.NewListener(databaseURL, 10*time.Second, time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				logger.Warn("realtime listener event",
					slog.Int("event_type", int(ev)),
					slog.String("error", err.Error()),
				)
			}
		})
}

// Run は通知チャネルの購読を開始し、コンテキストがキャンセルされるまで
// 受信とブロードキャストを続ける。終了時に全購読チャネルを閉じる。
func (h *Hub) Run(ctx context.Context) error {
	if err := h.listener.Listen(h.channel); err != nil {
		return err
	}
	defer h.listener.Close()
	defer h.closeAll()

	h.logger.Info("realtime hub started", slog.String("channel", h.channel))

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("realtime hub stopped")
			return nil
		case n, ok := <-h.listener.NotificationChannel():
			if !ok {
				h.logger.Warn("realtime notification channel closed")
				return nil
			}
			// pq.Listenerは再接続直後にnilを送る。取りこぼしがありうる
			// タイミングなので、無効化シグナルとして空イベントを流す。
			if n == nil {
				h.broadcast(model.ChangeEvent{})
				continue
			}

			var ev model.ChangeEvent
			if err := json.Unmarshal([]byte(n.Extra), &ev); err != nil {
				h.logger.Warn("failed to decode change notification",
					slog.String("payload", n.Extra),
					slog.String("error", err.Error()),
				)
				// デコード不能でも無効化シグナルとしては有効
				ev = model.ChangeEvent{}
			}
			h.broadcast(ev)
		}
	}
}

// Subscribe は変更イベントの受信チャネルと解除関数を返す。
// 解除関数は何度呼んでも安全（解除は1回だけ実行される）。
// 購読者はマウント中のビューごとに1つで、解除はビューの
// teardownまたは再購読の直前に必ず呼ばれる。
func (h *Hub) Subscribe() (<-chan model.ChangeEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan model.ChangeEvent, 16)
	if h.closed {
		close(ch)
		return ch, func() {}
	}

	id := h.nextID
	h.nextID++
	h.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(ch)
			}
		})
	}

	return ch, cancel
}

// SubscriberCount は現在の購読者数を返す。テストおよびメトリクス用。
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// broadcast は全購読者へイベントを配送する。
// 受信が追いつかない購読者へはドロップする（次のイベントか
// 自前の再フェッチで追いつける前提）。
func (h *Hub) broadcast(ev model.ChangeEvent) {
	if h.metrics != nil {
		h.metrics.RecordChangeEvent(string(ev.Op))
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// closeAll は全購読チャネルを閉じ、以後のSubscribeを閉じたチャネルで返す。
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
