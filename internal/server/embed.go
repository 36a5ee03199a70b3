package server

import (
	"embed"
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"
)

//go:embed pages/*.html
var pagesFS embed.FS

// errorPage はエラー応答のテンプレート名
const errorPage = "error.html"

// errorTemplate は埋め込みのエラーページテンプレートを返す
func errorTemplate() *template.Template {
	return template.Must(template.ParseFS(pagesFS, "pages/*.html"))
}

// renderError はステータスに対応するエラーページを返して処理を打ち切る
//
// 本文はステータスのみに依存し、リクエストの内容は含めない。
func renderError(c *gin.Context, status int) {
	c.HTML(status, errorPage, gin.H{
		"Status": status,
		"Text":   http.StatusText(status),
	})
	c.Abort()
}
