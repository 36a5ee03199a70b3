package server

import (
	"net/http"
	"net/url"
	"strings"

	"minicdn/internal/staticfs"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// allowedMethods は静的ファイル配信で受け付けるメソッド
const allowedMethods = "GET, HEAD"

// StaticHandler は配信ルートのファイルを返すハンドラ
type StaticHandler struct {
	files  *staticfs.FS
	logger *zap.Logger
}

// NewStaticHandler は StaticHandler を作成する
func NewStaticHandler(files *staticfs.FS, logger *zap.Logger) *StaticHandler {
	return &StaticHandler{files: files, logger: logger}
}

// ServeFile はリクエストパスに対応するファイルを返す
func (h *StaticHandler) ServeFile(c *gin.Context) {
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		c.Header("Allow", allowedMethods)
		renderError(c, http.StatusMethodNotAllowed)
		return
	}

	acceptGzip := staticfs.AcceptsGzip(c.GetHeader("Accept-Encoding"))
	res, err := h.files.Resolve(c.Request.URL.Path, acceptGzip)
	if err != nil {
		h.handleError(c, err)
		return
	}
	defer res.Close()

	header := c.Writer.Header()
	header.Set("Content-Type", res.ContentType)
	header.Set("ETag", res.ETag())
	if h.files.Precompressed() {
		addVary(header, "Accept-Encoding")
	}
	if res.Encoding != "" {
		header.Set("Content-Encoding", res.Encoding)
	}

	// 条件付きリクエストと Range は ServeContent に任せる
	http.ServeContent(c.Writer, c.Request, res.Name, res.ModTime, res.File)
}

// handleError は解決エラーをステータスに変換する
func (h *StaticHandler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, staticfs.ErrNeedsSlash):
		h.redirectToDirectory(c)
	case errors.Is(err, staticfs.ErrMalformedPath):
		renderError(c, http.StatusBadRequest)
	case errors.Is(err, staticfs.ErrOutsideRoot):
		h.logger.Warn("ルート外へのアクセスを拒否しました",
			zap.String("path", c.Request.URL.Path),
			zap.String("request_id", c.GetString(contextKeyRequestID)),
		)
		renderError(c, http.StatusNotFound)
	case errors.Is(err, staticfs.ErrNotFound):
		renderError(c, http.StatusNotFound)
	default:
		_ = c.Error(err)
		h.logger.Error("ファイルの読み込みに失敗しました",
			zap.Error(err),
			zap.String("path", c.Request.URL.Path),
			zap.String("request_id", c.GetString(contextKeyRequestID)),
		)
		renderError(c, http.StatusInternalServerError)
	}
}

// redirectToDirectory は末尾スラッシュ付きのパスへリダイレクトする
func (h *StaticHandler) redirectToDirectory(c *gin.Context) {
	name, err := staticfs.CleanPath(c.Request.URL.Path)
	if err != nil {
		renderError(c, http.StatusBadRequest)
		return
	}

	// 正規化したパスから組み立てるので "//host" 形式の外部リダイレクトにはならない
	location := url.URL{
		Path:     "/" + strings.TrimSuffix(name, "/") + "/",
		RawQuery: c.Request.URL.RawQuery,
	}
	c.Redirect(http.StatusTemporaryRedirect, location.String())
	c.Abort()
}

// addVary は Vary ヘッダーに値を重複なく追加する
func addVary(header http.Header, value string) {
	for _, existing := range header.Values("Vary") {
		for _, v := range strings.Split(existing, ",") {
			if strings.EqualFold(strings.TrimSpace(v), value) {
				return
			}
		}
	}
	header.Add("Vary", value)
}
