// Package bookmark はブックマーク管理のドメインロジックを提供する。
package bookmark

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/hitoshi/bookman/internal/model"
	"github.com/hitoshi/bookman/internal/repository"
	"github.com/hitoshi/bookman/internal/security"
)

// MetricsRecorder はサービス層が記録するメトリクスのインターフェース。
// nilの場合は記録しない。
type MetricsRecorder interface {
	RecordBookmarkCreated()
	RecordBookmarkDeleted()
}

// Service はブックマークのビジネスロジックを提供する。
// 一覧・作成・削除とも所有ユーザーのスコープでのみ動作する。
type Service struct {
	repo      repository.BookmarkRepository
	sanitizer security.TitleSanitizerService
	metrics   MetricsRecorder
}

// NewService はServiceを生成する。
func NewService(repo repository.BookmarkRepository, sanitizer security.TitleSanitizerService, metrics MetricsRecorder) *Service {
	return &Service{
		repo:      repo,
		sanitizer: sanitizer,
		metrics:   metrics,
	}
}

// List は指定ユーザーのブックマーク一覧を作成日時降順で返す。
func (s *Service) List(ctx context.Context, userID string) ([]model.Bookmark, error) {
	if userID == "" {
		return nil, fmt.Errorf("user ID is required")
	}
	bookmarks, err := s.repo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookmarks: %w", err)
	}
	return bookmarks, nil
}

// Create はブックマークを作成する。
// タイトル・URLのいずれかが空の場合はストアを呼ばずに
// validationカテゴリのAPIErrorを返す（存在チェックのみ、それ以上の
// 形式検証は行わない）。タイトルはHTMLを除去してから保存する。
func (s *Service) Create(ctx context.Context, userID, title, rawURL string) (*model.Bookmark, error) {
	title = strings.TrimSpace(title)
	rawURL = strings.TrimSpace(rawURL)

	if title == "" {
		return nil, model.NewFieldRequiredError("タイトル")
	}
	if rawURL == "" {
		return nil, model.NewFieldRequiredError("URL")
	}

	if s.sanitizer != nil {
		title = s.sanitizer.Sanitize(title)
		if title == "" {
			return nil, model.NewFieldRequiredError("タイトル")
		}
	}

	b := &model.Bookmark{
		ID:     uuid.New().String(),
		UserID: userID,
		Title:  title,
		URL:    rawURL,
	}

	if err := s.repo.Create(ctx, b); err != nil {
		return nil, fmt.Errorf("failed to create bookmark: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordBookmarkCreated()
	}
	slog.Info("bookmark created",
		slog.String("bookmark_id", b.ID),
		slog.String("user_id", userID),
	)

	return b, nil
}

// Delete は指定IDのブックマークを削除する。
// 所有権の確認はストア側のWHERE句に委ね、該当行がない場合
// （存在しない、または他ユーザー所有）はAPIErrorを返す。
func (s *Service) Delete(ctx context.Context, userID, bookmarkID string) error {
	deleted, err := s.repo.Delete(ctx, bookmarkID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete bookmark: %w", err)
	}
	if !deleted {
		return model.NewBookmarkNotFoundError(bookmarkID)
	}

	if s.metrics != nil {
		s.metrics.RecordBookmarkDeleted()
	}
	slog.Info("bookmark deleted",
		slog.String("bookmark_id", bookmarkID),
		slog.String("user_id", userID),
	)

	return nil
}
