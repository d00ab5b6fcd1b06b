package handler

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
)

//go:embed web/index.html
var webFS embed.FS

// SPAHandler はシングルページアプリケーションのシェルHTMLを配信する。
// APIルートに一致しないGETリクエストはすべてこのシェルを返し、
// ルーティングはクライアント側に委ねる。
type SPAHandler struct {
	page []byte
}

// NewSPAHandler はアプリタイトルとロゴを埋め込んだSPAHandlerを生成する。
// テンプレートは起動時に1回だけレンダリングする。
func NewSPAHandler(title, logo string) (*SPAHandler, error) {
	tmpl, err := template.ParseFS(webFS, "web/index.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse index template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, struct {
		Title string
		Logo  string
	}{Title: title, Logo: logo}); err != nil {
		return nil, fmt.Errorf("failed to render index template: %w", err)
	}

	return &SPAHandler{page: buf.Bytes()}, nil
}

// ServeHTTP はSPAシェルを返す。GET以外のメソッドには404を返す。
func (h *SPAHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(h.page)
}
