package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/bookman/internal/model"
)

// --- モック ---

type fakeChangeSource struct {
	mu          sync.Mutex
	subscribes  int
	unsubscribe int
	ch          chan model.ChangeEvent
}

func (f *fakeChangeSource) Subscribe() (<-chan model.ChangeEvent, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribes++
	ch := make(chan model.ChangeEvent, 16)
	f.ch = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			f.unsubscribe++
			f.mu.Unlock()
			close(ch)
		})
	}
}

func (f *fakeChangeSource) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribes, f.unsubscribe
}

type fakeLister struct {
	mu    sync.Mutex
	calls int
	list  []model.Bookmark
}

func (f *fakeLister) List(ctx context.Context, userID string) ([]model.Bookmark, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.list, nil
}

func (f *fakeLister) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func authedStreamService(user *model.User) *mockAuthService {
	return &mockAuthService{
		getCurrentUserFn: func(ctx context.Context, sessionID string) (*model.User, error) {
			return user, nil
		},
	}
}

// --- テスト ---

// TestStreamHandler_Unauthenticated は未認証のストリーム接続が
// フェッチも購読もせずログインページへのリダイレクトになることを検証する。
func TestStreamHandler_Unauthenticated(t *testing.T) {
	lister := &fakeLister{}
	changes := &fakeChangeSource{}
	h := NewStreamHandler(&mockAuthService{}, lister, changes, nil, nil)

	rec := httptest.NewRecorder()
	h.Stream(rec, httptest.NewRequest(http.MethodGet, "/events", nil))

	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected 303 redirect, got %d", rec.Code)
	}
	if got := rec.Header().Get("Location"); got != "/" {
		t.Errorf("expected redirect to /, got %s", got)
	}
	if lister.callCount() != 0 {
		t.Errorf("expected no fetch, got %d", lister.callCount())
	}
	if subs, _ := changes.counts(); subs != 0 {
		t.Errorf("expected no subscription, got %d", subs)
	}
}

// TestStreamHandler_InitialSnapshot は接続直後に現在の一覧が
// SSEイベントとして送られることを検証する。
func TestStreamHandler_InitialSnapshot(t *testing.T) {
	lister := &fakeLister{list: []model.Bookmark{
		{ID: "b1", Title: "hello", URL: "https://example.com"},
	}}
	changes := &fakeChangeSource{}
	h := NewStreamHandler(authedStreamService(&model.User{ID: "u1"}), lister, changes, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "sess-1"})

	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		h.Stream(rec, req)
		close(done)
	}()

	// 初回スナップショットの書き込みを待つ
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(rec.Body.String(), "event: bookmarks") {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	<-done

	body := rec.Body.String()
	if !strings.Contains(body, "event: bookmarks") {
		t.Fatalf("expected bookmarks event, got %q", body)
	}
	if !strings.Contains(body, `"title":"hello"`) {
		t.Errorf("expected bookmark payload in snapshot, got %q", body)
	}
	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("expected text/event-stream, got %s", got)
	}

	// 切断時に購読がちょうど1回解除されること
	subs, unsubs := changes.counts()
	if subs != 1 || unsubs != 1 {
		t.Errorf("expected 1 subscribe / 1 unsubscribe, got %d / %d", subs, unsubs)
	}
}

// TestStreamHandler_ChangeEventPushesSnapshot は変更イベントの受信で
// 新しいスナップショットが送られることを検証する。
func TestStreamHandler_ChangeEventPushesSnapshot(t *testing.T) {
	lister := &fakeLister{list: []model.Bookmark{{ID: "b1", Title: "first"}}}
	changes := &fakeChangeSource{}
	h := NewStreamHandler(authedStreamService(&model.User{ID: "u1"}), lister, changes, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "sess-1"})

	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		h.Stream(rec, req)
		close(done)
	}()

	// 購読が開始されるのを待ってから変更イベントを流す
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if subs, _ := changes.counts(); subs == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	lister.mu.Lock()
	lister.list = []model.Bookmark{{ID: "b1", Title: "first"}, {ID: "b2", Title: "second"}}
	lister.mu.Unlock()

	changes.mu.Lock()
	ch := changes.ch
	changes.mu.Unlock()
	ch <- model.ChangeEvent{Op: model.ChangeOpInsert, BookmarkID: "b2", UserID: "u1"}

	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(rec.Body.String(), `"title":"second"`) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	<-done

	if !strings.Contains(rec.Body.String(), `"title":"second"`) {
		t.Errorf("expected refetched snapshot after change event, got %q", rec.Body.String())
	}
}
