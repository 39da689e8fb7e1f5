// Package favicon はfavicon未取得ブックマークのバックフィル処理を提供する。
// 定期的に未取得分を拾い、semaphoreパターンで並列数を制御しながら取得する。
package favicon

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/bookman/internal/favicon"
	"github.com/hitoshi/bookman/internal/model"
	"github.com/hitoshi/bookman/internal/repository"
)

// defaultBatchSize は1サイクルで処理するブックマーク数の上限。
const defaultBatchSize = 50

// MetricsRecorder はワーカーが記録するメトリクスのインターフェース。
type MetricsRecorder interface {
	RecordFaviconFetch(success bool)
}

// Worker はfavicon未取得ブックマークのバックフィルワーカー。
type Worker struct {
	bookmarkRepo   repository.BookmarkRepository
	fetcher        favicon.FetcherService
	logger         *slog.Logger
	metrics        MetricsRecorder
	maxConcurrency int
	batchSize      int
}

// NewWorker はWorkerの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はデフォルト値5を使用する。metricsはnil可。
func NewWorker(
	bookmarkRepo repository.BookmarkRepository,
	fetcher favicon.FetcherService,
	logger *slog.Logger,
	metrics MetricsRecorder,
	maxConcurrency int,
) *Worker {
	if maxConcurrency <= 0 {
		maxConcurrency = 5
	}
	return &Worker{
		bookmarkRepo:   bookmarkRepo,
		fetcher:        fetcher,
		logger:         logger,
		metrics:        metrics,
		maxConcurrency: maxConcurrency,
		batchSize:      defaultBatchSize,
	}
}

// Start は指定間隔のティッカーでワーカーを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (w *Worker) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.logger.Info("faviconワーカーを開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_concurrency", w.maxConcurrency),
	)

	// 起動直後に1回実行
	if err := w.RunOnce(ctx); err != nil {
		w.logger.Error("faviconバックフィルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("faviconワーカーを停止しました")
			return
		case <-ticker.C:
			if err := w.RunOnce(ctx); err != nil {
				w.logger.Error("faviconバックフィルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce はfavicon未取得のブックマークを1バッチ取得し、並列で取得を実行する。
// 取得に失敗した場合も取得試行時刻を記録するため、同じブックマークが
// サイクルごとに再試行され続けることはない。冪等。
func (w *Worker) RunOnce(ctx context.Context) error {
	start := time.Now()

	bookmarks, err := w.bookmarkRepo.ListFaviconPending(ctx, w.batchSize)
	if err != nil {
		return err
	}

	if len(bookmarks) == 0 {
		return nil
	}

	w.logger.Info("faviconバックフィルを開始します",
		slog.Int("bookmark_count", len(bookmarks)),
	)

	// semaphoreパターンで並列数を制御
	sem := make(chan struct{}, w.maxConcurrency)
	var wg sync.WaitGroup

	for idx := range bookmarks {
		wg.Add(1)
		sem <- struct{}{} // semaphore取得（ブロック）

		go func(b *model.Bookmark) {
			defer wg.Done()
			defer func() { <-sem }() // semaphore解放

			w.process(ctx, b)
		}(&bookmarks[idx])
	}

	wg.Wait()

	duration := time.Since(start)
	w.logger.Info("faviconバックフィルが完了しました",
		slog.Int("bookmark_count", len(bookmarks)),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// process は1件のブックマークのfaviconを取得して保存する。
func (w *Worker) process(ctx context.Context, b *model.Bookmark) {
	data, mimeType := w.fetcher.FetchForPage(ctx, b.URL)

	success := data != nil
	if w.metrics != nil {
		w.metrics.RecordFaviconFetch(success)
	}
	if !success {
		w.logger.Info("faviconを取得できませんでした",
			slog.String("bookmark_id", b.ID),
			slog.String("url", b.URL),
		)
	}

	// 失敗時もfetchedAtを記録して再試行ループを防ぐ
	if err := w.bookmarkRepo.UpdateFavicon(ctx, b.ID, data, mimeType, time.Now()); err != nil {
		w.logger.Error("faviconの保存に失敗しました",
			slog.String("bookmark_id", b.ID),
			slog.String("error", err.Error()),
		)
	}
}
