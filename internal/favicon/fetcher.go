// Package favicon はブックマーク先サイトのfavicon取得を提供する。
package favicon

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// maxFaviconSize はfaviconの最大サイズ（2MB）。
const maxFaviconSize = 2 * 1024 * 1024

// maxPageSize はリンクタグ探索で読むページの最大サイズ（512KB）。
const maxPageSize = 512 * 1024

// fetchTimeout はfavicon取得のタイムアウト。
const fetchTimeout = 5 * time.Second

// SSRFValidator はSSRF検証のインターフェース。
// security.SSRFGuardServiceを抽象化してテスタビリティを向上させる。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client
}

// FetcherService はfavicon取得のインターフェース。
type FetcherService interface {
	// FetchForPage はページURLからfaviconを取得する。
	// <link rel="icon">の探索を試み、見つからなければ/favicon.icoに
	// フォールバックする。取得失敗時はnilデータと空MIMEを返す
	// （エラーは返さない）。
	FetchForPage(ctx context.Context, pageURL string) (data []byte, mimeType string)
}

// Fetcher はfavicon取得機能の実装。
type Fetcher struct {
	ssrfGuard SSRFValidator
}

// NewFetcher はFetcherの新しいインスタンスを生成する。
func NewFetcher(ssrfGuard SSRFValidator) *Fetcher {
	return &Fetcher{
		ssrfGuard: ssrfGuard,
	}
}

// FetchForPage はページURLからfaviconを取得する。
func (f *Fetcher) FetchForPage(ctx context.Context, pageURL string) ([]byte, string) {
	// ページHTMLからリンクタグを探す
	if iconURL := f.discoverIconURL(ctx, pageURL); iconURL != "" {
		if data, mime := f.fetchIcon(ctx, iconURL); data != nil {
			return data, mime
		}
	}

	// フォールバック: /favicon.ico
	fallback := guessDefaultFaviconURL(pageURL)
	if fallback == "" {
		return nil, ""
	}
	return f.fetchIcon(ctx, fallback)
}

// discoverIconURL はページHTMLの<link rel="icon">からfavicon URLを探す。
// 見つからない・取得できない場合は空文字列を返す。
func (f *Fetcher) discoverIconURL(ctx context.Context, pageURL string) string {
	if f.ssrfGuard != nil {
		if err := f.ssrfGuard.ValidateURL(pageURL); err != nil {
			slog.Warn("favicon discovery: SSRF blocked", "url", pageURL, "error", err)
			return ""
		}
	}

	body := f.get(ctx, pageURL, maxPageSize)
	if body == nil {
		return ""
	}

	href := findIconLink(body)
	if href == "" {
		return ""
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

// fetchIcon は指定URLからfaviconデータを取得する。
func (f *Fetcher) fetchIcon(ctx context.Context, iconURL string) ([]byte, string) {
	if f.ssrfGuard != nil {
		if err := f.ssrfGuard.ValidateURL(iconURL); err != nil {
			slog.Warn("favicon fetch: SSRF blocked", "url", iconURL, "error", err)
			return nil, ""
		}
	}

	client := f.httpClient(maxFaviconSize)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, iconURL, nil)
	if err != nil {
		return nil, ""
	}
	req.Header.Set("User-Agent", "Bookman/1.0 Bookmark Manager")

	resp, err := client.Do(req)
	if err != nil {
		slog.Warn("favicon fetch: request failed", "url", iconURL, "error", err)
		return nil, ""
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, ""
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFaviconSize+1))
	if err != nil || int64(len(body)) > maxFaviconSize {
		return nil, ""
	}

	mimeType := extractMimeType(resp.Header.Get("Content-Type"))
	if !isImageMime(mimeType) {
		return nil, ""
	}

	return body, mimeType
}

// get はURLの本文を取得する。失敗時はnilを返す。
func (f *Fetcher) get(ctx context.Context, rawURL string, maxSize int64) []byte {
	client := f.httpClient(maxSize)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", "Bookman/1.0 Bookmark Manager")

	resp, err := client.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSize))
	if err != nil {
		return nil
	}
	return body
}

// httpClient はHTTPクライアントを取得する。
func (f *Fetcher) httpClient(maxSize int64) *http.Client {
	if f.ssrfGuard != nil {
		return f.ssrfGuard.NewSafeClient(fetchTimeout, maxSize)
	}
	return &http.Client{Timeout: fetchTimeout}
}

// findIconLink はHTMLから<link rel="icon">系タグのhrefを探す。
// rel属性が "icon"、"shortcut icon"、"apple-touch-icon" のいずれかの
// 最初のlinkタグを採用する。
func findIconLink(body []byte) string {
	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return ""
	}

	var found string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if found != "" {
			return
		}
		if n.Type == html.ElementNode && n.Data == "link" {
			var rel, href string
			for _, attr := range n.Attr {
				switch strings.ToLower(attr.Key) {
				case "rel":
					rel = strings.ToLower(attr.Val)
				case "href":
					href = attr.Val
				}
			}
			if href != "" && isIconRel(rel) {
				found = href
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return found
}

// isIconRel はrel属性値がfaviconを指すかを判定する。
func isIconRel(rel string) bool {
	switch rel {
	case "icon", "shortcut icon", "apple-touch-icon":
		return true
	}
	return false
}

// guessDefaultFaviconURL はページURLからデフォルトのfavicon URLを推測する。
func guessDefaultFaviconURL(pageURL string) string {
	if pageURL == "" {
		return ""
	}

	u, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}

	u.Path = "/favicon.ico"
	u.RawQuery = ""
	u.Fragment = ""

	return u.String()
}

// extractMimeType はContent-Typeヘッダーからメディアタイプを抽出する。
func extractMimeType(contentType string) string {
	if contentType == "" {
		return ""
	}
	parts := strings.SplitN(contentType, ";", 2)
	return strings.TrimSpace(strings.ToLower(parts[0]))
}

// isImageMime はMIMEタイプが画像かどうかを判定する。
func isImageMime(mimeType string) bool {
	return strings.HasPrefix(mimeType, "image/")
}

// compile-time interface check
var _ FetcherService = (*Fetcher)(nil)
