// Package web は埋め込みHTMLテンプレートのレンダリングを提供する。
package web

import (
	"embed"
	"fmt"
	"html/template"
	"io"
)

//go:embed templates/*.html
var templatesFS embed.FS

// DashboardData はダッシュボードページのテンプレートデータ。
type DashboardData struct {
	UserName  string
	UserEmail string
}

// Renderer はページテンプレートのレンダラー。
type Renderer struct {
	login     *template.Template
	dashboard *template.Template
}

// NewRenderer は埋め込みテンプレートをパースしてRendererを生成する。
func NewRenderer() (*Renderer, error) {
	login, err := template.ParseFS(templatesFS, "templates/login.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse login template: %w", err)
	}
	dashboard, err := template.ParseFS(templatesFS, "templates/dashboard.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse dashboard template: %w", err)
	}
	return &Renderer{
		login:     login,
		dashboard: dashboard,
	}, nil
}

// RenderLogin はログインページを書き込む。
func (r *Renderer) RenderLogin(w io.Writer) error {
	return r.login.Execute(w, nil)
}

// RenderDashboard はダッシュボードページを書き込む。
func (r *Renderer) RenderDashboard(w io.Writer, data DashboardData) error {
	return r.dashboard.Execute(w, data)
}
