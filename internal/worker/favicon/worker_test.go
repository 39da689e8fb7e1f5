package favicon

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/bookman/internal/model"
)

// --- モック ---

type mockBookmarkRepo struct {
	mu             sync.Mutex
	pending        []model.Bookmark
	listErr        error
	updatedIDs     []string
	updatedFetched []time.Time
	updatedData    map[string][]byte
}

func (m *mockBookmarkRepo) ListByUserID(ctx context.Context, userID string) ([]model.Bookmark, error) {
	return nil, nil
}
func (m *mockBookmarkRepo) Create(ctx context.Context, bookmark *model.Bookmark) error {
	return nil
}
func (m *mockBookmarkRepo) Delete(ctx context.Context, id, userID string) (bool, error) {
	return false, nil
}
func (m *mockBookmarkRepo) ListFaviconPending(ctx context.Context, limit int) ([]model.Bookmark, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	if len(m.pending) > limit {
		return m.pending[:limit], nil
	}
	return m.pending, nil
}
func (m *mockBookmarkRepo) UpdateFavicon(ctx context.Context, id string, data []byte, mime string, fetchedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updatedIDs = append(m.updatedIDs, id)
	m.updatedFetched = append(m.updatedFetched, fetchedAt)
	if m.updatedData == nil {
		m.updatedData = make(map[string][]byte)
	}
	m.updatedData[id] = data
	return nil
}

type mockFetcher struct {
	fetchFn func(ctx context.Context, pageURL string) ([]byte, string)
}

func (m *mockFetcher) FetchForPage(ctx context.Context, pageURL string) ([]byte, string) {
	if m.fetchFn != nil {
		return m.fetchFn(ctx, pageURL)
	}
	return []byte{0x89, 0x50}, "image/png"
}

type mockWorkerMetrics struct {
	mu        sync.Mutex
	successes int
	failures  int
}

func (m *mockWorkerMetrics) RecordFaviconFetch(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if success {
		m.successes++
	} else {
		m.failures++
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- テスト ---

// TestWorker_RunOnce は未取得ブックマークのfaviconが取得・保存される
// ことを検証する。
func TestWorker_RunOnce(t *testing.T) {
	repo := &mockBookmarkRepo{
		pending: []model.Bookmark{
			{ID: "b1", URL: "https://example.com"},
			{ID: "b2", URL: "https://example.org"},
		},
	}
	metrics := &mockWorkerMetrics{}
	w := NewWorker(repo, &mockFetcher{}, discardLogger(), metrics, 2)

	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	repo.mu.Lock()
	defer repo.mu.Unlock()
	if len(repo.updatedIDs) != 2 {
		t.Fatalf("expected 2 updates, got %d", len(repo.updatedIDs))
	}
	if metrics.successes != 2 || metrics.failures != 0 {
		t.Errorf("expected 2 successes, got %d/%d", metrics.successes, metrics.failures)
	}
}

// TestWorker_RunOnce_FailureStillRecordsFetchedAt は取得失敗時も
// 取得試行時刻が記録されることを検証する（再試行ループ防止）。
func TestWorker_RunOnce_FailureStillRecordsFetchedAt(t *testing.T) {
	repo := &mockBookmarkRepo{
		pending: []model.Bookmark{{ID: "b1", URL: "https://unreachable.example"}},
	}
	fetcher := &mockFetcher{
		fetchFn: func(ctx context.Context, pageURL string) ([]byte, string) {
			return nil, ""
		},
	}
	metrics := &mockWorkerMetrics{}
	w := NewWorker(repo, fetcher, discardLogger(), metrics, 1)

	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	repo.mu.Lock()
	defer repo.mu.Unlock()
	if len(repo.updatedIDs) != 1 {
		t.Fatalf("expected 1 update even on failure, got %d", len(repo.updatedIDs))
	}
	if repo.updatedData["b1"] != nil {
		t.Error("failed fetch should store nil data")
	}
	if repo.updatedFetched[0].IsZero() {
		t.Error("fetchedAt should be recorded on failure")
	}
	if metrics.failures != 1 {
		t.Errorf("expected 1 recorded failure, got %d", metrics.failures)
	}
}

// TestWorker_RunOnce_ListError は対象取得の失敗がエラーとして返ることを検証する。
func TestWorker_RunOnce_ListError(t *testing.T) {
	repo := &mockBookmarkRepo{listErr: errors.New("db down")}
	w := NewWorker(repo, &mockFetcher{}, discardLogger(), nil, 1)

	if err := w.RunOnce(context.Background()); err == nil {
		t.Error("expected error from list failure")
	}
}

// TestWorker_RunOnce_Empty は対象なしの場合に何もしないことを検証する。
func TestWorker_RunOnce_Empty(t *testing.T) {
	repo := &mockBookmarkRepo{}
	w := NewWorker(repo, &mockFetcher{}, discardLogger(), nil, 1)

	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repo.updatedIDs) != 0 {
		t.Errorf("expected no updates, got %d", len(repo.updatedIDs))
	}
}
