package view

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/bookman/internal/model"
)

// --- モック ---

type mockLister struct {
	mu      sync.Mutex
	calls   int
	listFn  func(ctx context.Context, userID string) ([]model.Bookmark, error)
	userIDs []string
}

func (m *mockLister) List(ctx context.Context, userID string) ([]model.Bookmark, error) {
	m.mu.Lock()
	m.calls++
	m.userIDs = append(m.userIDs, userID)
	m.mu.Unlock()
	if m.listFn != nil {
		return m.listFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockLister) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockChangeSource struct {
	mu          sync.Mutex
	subscribes  int
	unsubscribe int
	ch          chan model.ChangeEvent
}

func (m *mockChangeSource) Subscribe() (<-chan model.ChangeEvent, func()) {
	m.mu.Lock()
	m.subscribes++
	ch := make(chan model.ChangeEvent, 16)
	m.ch = ch
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			m.unsubscribe++
			m.mu.Unlock()
			close(ch)
		})
	}
}

func (m *mockChangeSource) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscribes, m.unsubscribe
}

func (m *mockChangeSource) emit(ev model.ChangeEvent) {
	m.mu.Lock()
	ch := m.ch
	m.mu.Unlock()
	ch <- ev
}

type recordingNavigator struct {
	mu    sync.Mutex
	paths []string
}

func (n *recordingNavigator) Redirect(path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.paths = append(n.paths, path)
}

func (n *recordingNavigator) redirects() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.paths...)
}

type countingMetrics struct {
	mu       sync.Mutex
	failures int
}

func (m *countingMetrics) RecordRefreshFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures++
}

func (m *countingMetrics) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

// --- テスト ---

// TestDashboard_MountWithoutSession はセッションなしのマウントが
// リダイレクトのみを行い、フェッチも購読も開始しないことを検証する。
func TestDashboard_MountWithoutSession(t *testing.T) {
	lister := &mockLister{}
	changes := &mockChangeSource{}
	nav := &recordingNavigator{}

	d := NewDashboard(lister, changes, nav, nil, nil)

	if mounted := d.Mount(context.Background(), nil); mounted {
		t.Error("Mount should return false without a session")
	}

	if got := nav.redirects(); len(got) != 1 || got[0] != "/" {
		t.Errorf("expected exactly one redirect to /, got %v", got)
	}
	if lister.callCount() != 0 {
		t.Errorf("expected no fetch, got %d calls", lister.callCount())
	}
	if subs, _ := changes.counts(); subs != 0 {
		t.Errorf("expected no subscription, got %d", subs)
	}
}

// TestDashboard_MountWithSession はセッションありのマウントが初回フェッチと
// 購読を開始することを検証する。
func TestDashboard_MountWithSession(t *testing.T) {
	bookmarks := []model.Bookmark{
		{ID: "b1", UserID: "u1", Title: "first", URL: "https://example.com/1"},
		{ID: "b2", UserID: "u1", Title: "second", URL: "https://example.com/2"},
	}
	lister := &mockLister{
		listFn: func(ctx context.Context, userID string) ([]model.Bookmark, error) {
			return bookmarks, nil
		},
	}
	changes := &mockChangeSource{}
	nav := &recordingNavigator{}

	d := NewDashboard(lister, changes, nav, nil, nil)

	if mounted := d.Mount(context.Background(), &model.User{ID: "u1"}); !mounted {
		t.Fatal("Mount should return true with a session")
	}
	defer d.Unmount()

	if len(nav.redirects()) != 0 {
		t.Errorf("expected no redirect, got %v", nav.redirects())
	}
	if got := d.Bookmarks(); len(got) != 2 {
		t.Errorf("expected 2 bookmarks after mount, got %d", len(got))
	}
	if subs, _ := changes.counts(); subs != 1 {
		t.Errorf("expected 1 subscription, got %d", subs)
	}
}

// TestDashboard_RefreshOverwrites は再フェッチが一覧を全上書きすることを検証する。
func TestDashboard_RefreshOverwrites(t *testing.T) {
	var mu sync.Mutex
	current := []model.Bookmark{{ID: "b1", UserID: "u1", Title: "old"}}

	lister := &mockLister{
		listFn: func(ctx context.Context, userID string) ([]model.Bookmark, error) {
			mu.Lock()
			defer mu.Unlock()
			return current, nil
		},
	}
	changes := &mockChangeSource{}

	d := NewDashboard(lister, changes, &recordingNavigator{}, nil, nil)
	d.Mount(context.Background(), &model.User{ID: "u1"})
	defer d.Unmount()

	mu.Lock()
	current = []model.Bookmark{
		{ID: "b2", UserID: "u1", Title: "new-1"},
		{ID: "b3", UserID: "u1", Title: "new-2"},
	}
	mu.Unlock()

	d.Refresh(context.Background(), "u1")

	got := d.Bookmarks()
	if len(got) != 2 || got[0].ID != "b2" {
		t.Errorf("expected full overwrite with new list, got %+v", got)
	}
}

// TestDashboard_RefreshFailureKeepsList はフェッチ失敗時に直前の表示が
// 維持され、失敗がメトリクスに記録されることを検証する。
func TestDashboard_RefreshFailureKeepsList(t *testing.T) {
	var mu sync.Mutex
	fail := false

	lister := &mockLister{
		listFn: func(ctx context.Context, userID string) ([]model.Bookmark, error) {
			mu.Lock()
			defer mu.Unlock()
			if fail {
				return nil, errors.New("connection refused")
			}
			return []model.Bookmark{{ID: "b1", UserID: "u1", Title: "kept"}}, nil
		},
	}
	changes := &mockChangeSource{}
	metrics := &countingMetrics{}

	d := NewDashboard(lister, changes, &recordingNavigator{}, nil, metrics)
	d.Mount(context.Background(), &model.User{ID: "u1"})
	defer d.Unmount()

	mu.Lock()
	fail = true
	mu.Unlock()

	d.Refresh(context.Background(), "u1")

	got := d.Bookmarks()
	if len(got) != 1 || got[0].Title != "kept" {
		t.Errorf("failed refresh should keep the previous list, got %+v", got)
	}
	if metrics.count() != 1 {
		t.Errorf("expected 1 recorded refresh failure, got %d", metrics.count())
	}
}

// TestDashboard_RefreshFallsBackToSessionUser はuserID未指定のRefreshが
// セッションのユーザーIDにフォールバックすることを検証する。
func TestDashboard_RefreshFallsBackToSessionUser(t *testing.T) {
	lister := &mockLister{}
	changes := &mockChangeSource{}

	d := NewDashboard(lister, changes, &recordingNavigator{}, nil, nil)
	d.Mount(context.Background(), &model.User{ID: "u1"})
	defer d.Unmount()

	d.Refresh(context.Background(), "")

	lister.mu.Lock()
	defer lister.mu.Unlock()
	for _, id := range lister.userIDs {
		if id != "u1" {
			t.Errorf("all fetches should use the session user ID, got %q", id)
		}
	}
	if len(lister.userIDs) != 2 {
		t.Errorf("expected 2 fetches (mount + refresh), got %d", len(lister.userIDs))
	}
}

// TestDashboard_ChangeEventTriggersRefetch は変更イベントの受信で
// 一覧が再取得されることを検証する。
func TestDashboard_ChangeEventTriggersRefetch(t *testing.T) {
	lister := &mockLister{}
	changes := &mockChangeSource{}

	d := NewDashboard(lister, changes, &recordingNavigator{}, nil, nil)
	d.Mount(context.Background(), &model.User{ID: "u1"})
	defer d.Unmount()

	before := lister.callCount()

	// 他ユーザーの変更でも発火する（フェッチ側で絞り直される）
	changes.emit(model.ChangeEvent{Op: model.ChangeOpInsert, BookmarkID: "x", UserID: "someone-else"})

	waitFor(t, func() bool { return lister.callCount() > before })
}

// TestDashboard_SetSessionResubscribes はセッション変更時に古い購読が
// ちょうど1回解除され、新しい購読が開始されることを検証する。
func TestDashboard_SetSessionResubscribes(t *testing.T) {
	lister := &mockLister{}
	changes := &mockChangeSource{}

	d := NewDashboard(lister, changes, &recordingNavigator{}, nil, nil)
	d.Mount(context.Background(), &model.User{ID: "u1"})

	d.SetSession(context.Background(), &model.User{ID: "u2"})

	subs, unsubs := changes.counts()
	if subs != 2 {
		t.Errorf("expected 2 subscriptions, got %d", subs)
	}
	if unsubs != 1 {
		t.Errorf("expected old subscription released exactly once, got %d", unsubs)
	}

	d.Unmount()
	d.Unmount() // 二重Unmountは安全

	_, unsubs = changes.counts()
	if unsubs != 2 {
		t.Errorf("expected 2 total unsubscribes after teardown, got %d", unsubs)
	}
}

// TestDashboard_UnmountStopsWatching はUnmount後の変更イベントが
// 再フェッチを起こさないことを検証する。
func TestDashboard_UnmountStopsWatching(t *testing.T) {
	lister := &mockLister{}
	changes := &mockChangeSource{}

	d := NewDashboard(lister, changes, &recordingNavigator{}, nil, nil)
	d.Mount(context.Background(), &model.User{ID: "u1"})
	d.Unmount()

	calls := lister.callCount()
	time.Sleep(20 * time.Millisecond)

	if lister.callCount() != calls {
		t.Errorf("no refetch expected after unmount, got %d -> %d", calls, lister.callCount())
	}
}

// TestDashboard_SnapshotsKeepLatest はスナップショットチャネルが
// 最新の一覧のみを保持することを検証する。
func TestDashboard_SnapshotsKeepLatest(t *testing.T) {
	var mu sync.Mutex
	current := []model.Bookmark{{ID: "b1"}}

	lister := &mockLister{
		listFn: func(ctx context.Context, userID string) ([]model.Bookmark, error) {
			mu.Lock()
			defer mu.Unlock()
			return current, nil
		},
	}
	changes := &mockChangeSource{}

	d := NewDashboard(lister, changes, &recordingNavigator{}, nil, nil)
	d.Mount(context.Background(), &model.User{ID: "u1"})
	defer d.Unmount()

	// 消費しないまま2回更新
	mu.Lock()
	current = []model.Bookmark{{ID: "b2"}, {ID: "b3"}}
	mu.Unlock()
	d.Refresh(context.Background(), "u1")

	select {
	case snapshot := <-d.Snapshots():
		if len(snapshot) != 2 || snapshot[0].ID != "b2" {
			t.Errorf("expected latest snapshot, got %+v", snapshot)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a snapshot to be available")
	}
}
