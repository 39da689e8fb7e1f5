package bookmark

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/bookman/internal/model"
	"github.com/hitoshi/bookman/internal/security"
	"github.com/mmcdole/gofeed"
)

// ImporterConfig はフィードインポートの設定。
type ImporterConfig struct {
	FetchTimeout time.Duration // フィード取得のタイムアウト
	FetchMaxSize int64         // フィードの最大サイズ（バイト）
	MaxItems     int           // 1回のインポートで取り込む最大記事数
}

// BookmarkCreator はインポータが必要とする作成操作のインターフェース。
type BookmarkCreator interface {
	Create(ctx context.Context, userID, title, rawURL string) (*model.Bookmark, error)
}

// Importer はRSS/Atomフィードの記事をブックマークとして一括登録する。
// フィード取得はSSRF防止付きクライアント経由で行う。
type Importer struct {
	creator   BookmarkCreator
	ssrfGuard security.SSRFGuardService
	config    ImporterConfig
}

// NewImporter はImporterを生成する。
func NewImporter(creator BookmarkCreator, ssrfGuard security.SSRFGuardService, config ImporterConfig) *Importer {
	if config.MaxItems <= 0 {
		config.MaxItems = 50
	}
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = 10 * time.Second
	}
	return &Importer{
		creator:   creator,
		ssrfGuard: ssrfGuard,
		config:    config,
	}
}

// Import は指定URLのフィードを取得し、各記事をブックマークとして登録する。
// 登録できた件数を返す。タイトルまたはリンクが空の記事はスキップする。
// 一部の記事の登録失敗はインポート全体を失敗にせず、ログに残して続行する。
func (i *Importer) Import(ctx context.Context, userID, feedURL string) (int, error) {
	if err := i.ssrfGuard.ValidateURL(feedURL); err != nil {
		return 0, model.NewSSRFBlockedError()
	}

	parser := gofeed.NewParser()
	parser.Client = i.ssrfGuard.NewSafeClient(i.config.FetchTimeout, i.config.FetchMaxSize)

	feed, err := parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		slog.Warn("feed import: parse failed",
			slog.String("feed_url", feedURL),
			slog.String("error", err.Error()),
		)
		return 0, model.NewParseFailedError()
	}

	imported := 0
	for _, item := range feed.Items {
		if imported >= i.config.MaxItems {
			break
		}
		if item == nil || item.Title == "" || item.Link == "" {
			continue
		}

		if _, err := i.creator.Create(ctx, userID, item.Title, item.Link); err != nil {
			slog.Warn("feed import: failed to create bookmark",
				slog.String("feed_url", feedURL),
				slog.String("item_link", item.Link),
				slog.String("error", err.Error()),
			)
			continue
		}
		imported++
	}

	slog.Info("feed imported",
		slog.String("user_id", userID),
		slog.String("feed_url", feedURL),
		slog.Int("imported", imported),
		slog.Int("total_items", len(feed.Items)),
	)

	if imported == 0 && len(feed.Items) == 0 {
		return 0, fmt.Errorf("feed has no items: %s", feedURL)
	}

	return imported, nil
}
