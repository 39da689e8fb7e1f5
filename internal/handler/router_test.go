package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/bookman/internal/middleware"
	"github.com/hitoshi/bookman/internal/model"
	"github.com/hitoshi/bookman/internal/web"
)

type mockSessionFinder struct {
	findByIDFn func(ctx context.Context, id string) (*model.Session, error)
}

func (m *mockSessionFinder) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func testRouter(t *testing.T, sessionFinder middleware.SessionFinder, authService AuthServiceInterface) http.Handler {
	t.Helper()

	renderer, err := web.NewRenderer()
	if err != nil {
		t.Fatalf("failed to build renderer: %v", err)
	}

	rl := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(120, 10))
	t.Cleanup(rl.Stop)

	if authService == nil {
		authService = &mockAuthService{}
	}

	return NewRouter(&RouterDeps{
		SessionFinder:     sessionFinder,
		CORSAllowedOrigin: "http://localhost:8080",
		RateLimiter:       rl,
		AuthService:       authService,
		AuthConfig:        testAuthConfig(),
		BookmarkService:   &mockBookmarkService{},
		Importer:          &mockImporter{},
		ChangeSource:      &fakeChangeSource{},
		Renderer:          renderer,
	})
}

// TestRouter_Health は/healthが200を返すことを検証する。
func TestRouter_Health(t *testing.T) {
	router := testRouter(t, &mockSessionFinder{}, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

// TestRouter_APIRequiresSession はAPIルートがセッションなしで401になることを検証する。
func TestRouter_APIRequiresSession(t *testing.T) {
	router := testRouter(t, &mockSessionFinder{}, nil)

	for _, target := range []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/bookmarks"},
		{http.MethodPost, "/api/bookmarks"},
		{http.MethodDelete, "/api/bookmarks/b1"},
		{http.MethodPost, "/api/bookmarks/import"},
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(target.method, target.path, nil))

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s: expected 401, got %d", target.method, target.path, rec.Code)
		}
	}
}

// TestRouter_APIWithSession は有効なセッションでAPIが通ることを検証する。
func TestRouter_APIWithSession(t *testing.T) {
	finder := &mockSessionFinder{
		findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
			if id != "sess-1" {
				return nil, nil
			}
			return &model.Session{ID: id, UserID: "u1"}, nil
		},
	}
	router := testRouter(t, finder, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/bookmarks", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "sess-1"})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

// TestRouter_LoginPage は未認証の / がログインページを表示することを検証する。
func TestRouter_LoginPage(t *testing.T) {
	router := testRouter(t, &mockSessionFinder{}, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "/auth/google/login") {
		t.Error("login page should contain a login link")
	}
}

// TestRouter_DashboardRedirectsWithoutSession は未認証の /dashboard が
// ログインページへリダイレクトすることを検証する。
func TestRouter_DashboardRedirectsWithoutSession(t *testing.T) {
	router := testRouter(t, &mockSessionFinder{}, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboard", nil))

	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", rec.Code)
	}
	if got := rec.Header().Get("Location"); got != "/" {
		t.Errorf("expected redirect to /, got %s", got)
	}
}

// TestRouter_DashboardWithSession は認証済みの /dashboard がページを
// 表示することを検証する。
func TestRouter_DashboardWithSession(t *testing.T) {
	auth := &mockAuthService{
		getCurrentUserFn: func(ctx context.Context, sessionID string) (*model.User, error) {
			return &model.User{ID: "u1", Name: "Taro", Email: "taro@example.com"}, nil
		},
	}
	router := testRouter(t, &mockSessionFinder{}, auth)

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "sess-1"})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Taro") {
		t.Error("dashboard should show the user name")
	}
}

// TestRouter_SecurityHeaders は全レスポンスにセキュリティヘッダーが
// 付与されることを検証する。
func TestRouter_SecurityHeaders(t *testing.T) {
	router := testRouter(t, &mockSessionFinder{}, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("expected nosniff, got %q", got)
	}
	if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("expected DENY, got %q", got)
	}
}

// TestRouter_CORSPreflight はOPTIONSプリフライトが204で応答することを検証する。
func TestRouter_CORSPreflight(t *testing.T) {
	router := testRouter(t, &mockSessionFinder{}, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/bookmarks", nil))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:8080" {
		t.Errorf("unexpected allowed origin: %q", got)
	}
}
