package server

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzhttp"
	"github.com/pkg/errors"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// HeaderRequestID はリクエストIDのヘッダー名
const HeaderRequestID = "X-Request-Id"

// contextKeyRequestID は gin.Context に保存するリクエストIDのキー
const contextKeyRequestID = "minicdn.request_id"

// maxRequestIDLength は受け入れるリクエストIDの最大長
const maxRequestIDLength = 128

// Trace はリクエストごとに1行の構造化ログを出力するミドルウェア
//
// 最も外側に置き、後続のミドルウェアを含めた最終的なステータスと所要時間を記録する。
func Trace(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		path := c.Request.URL.Path

		requestID := c.GetHeader(HeaderRequestID)
		if !validRequestID(requestID) {
			requestID = uuid.NewString()
		}
		c.Set(contextKeyRequestID, requestID)
		c.Header(HeaderRequestID, requestID)

		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.Int("bytes", max(c.Writer.Size(), 0)),
			zap.String("request_id", requestID),
			zap.String("client_ip", c.ClientIP()),
			zap.String("user_agent", c.Request.UserAgent()),
		}
		if encoding := c.Writer.Header().Get("Content-Encoding"); encoding != "" {
			fields = append(fields, zap.String("encoding", encoding))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("error", c.Errors.String()))
		}

		if status >= http.StatusInternalServerError {
			logger.Error("request", fields...)
			return
		}
		logger.Info("request", fields...)
	}
}

// validRequestID はクライアントから受け取ったリクエストIDをそのまま使えるか判定する
func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.':
		default:
			return false
		}
	}
	return true
}

// Recovery はハンドラのパニックを 500 に変換するミドルウェア
func Recovery(logger *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, recovered any) {
		logger.Error("パニックから復帰しました",
			zap.Any("panic", recovered),
			zap.String("path", c.Request.URL.Path),
			zap.String("request_id", c.GetString(contextKeyRequestID)),
		)

		// 応答を書き始めた後はエラーページを重ねない
		if c.Writer.Written() {
			c.Abort()
			return
		}

		// 事前圧縮ファイル用に設定したヘッダーをエラーページに持ち込まない
		header := c.Writer.Header()
		header.Del("Content-Encoding")
		header.Del("ETag")
		header.Del("Last-Modified")

		renderError(c, http.StatusInternalServerError)
	})
}

// Compress はクライアントが gzip に対応している場合に応答を動的に圧縮するミドルウェア
//
// ハンドラが Content-Encoding を設定した応答 (事前圧縮ファイル) はそのまま通す。
// HEAD は本文がなく最小サイズに届かないため、動的圧縮の対象にならない。
// その場合も Content-Length は非圧縮の大きさを返す。
func Compress(level, minSize int) (gin.HandlerFunc, error) {
	wrap, err := gzhttp.NewWrapper(
		gzhttp.CompressionLevel(level),
		gzhttp.MinSize(minSize),
	)
	if err != nil {
		return nil, errors.Wrap(err, "圧縮ミドルウェアの作成に失敗")
	}

	return func(c *gin.Context) {
		original := c.Writer
		defer func() { c.Writer = original }()
		wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c.Writer = &compressWriter{ResponseWriter: original, w: w}
			c.Request = r
			c.Next()
		})).ServeHTTP(original, c.Request)
	}, nil
}

// compressWriter は gin.ResponseWriter の書き込みを gzhttp のライターへ流す
//
// Status や Size などの問い合わせは元のライターが答える。
type compressWriter struct {
	gin.ResponseWriter
	w http.ResponseWriter
}

func (cw *compressWriter) Header() http.Header {
	return cw.w.Header()
}

func (cw *compressWriter) WriteHeader(code int) {
	cw.w.WriteHeader(code)
}

func (cw *compressWriter) Write(data []byte) (int, error) {
	return cw.w.Write(data)
}

func (cw *compressWriter) WriteString(s string) (int, error) {
	return io.WriteString(cw.w, s)
}

// WriteHeaderNow はヘッダーの送出を gzhttp の Close まで遅らせる
func (cw *compressWriter) WriteHeaderNow() {}

func (cw *compressWriter) Flush() {
	if flusher, ok := cw.w.(http.Flusher); ok {
		flusher.Flush()
	}
}

// CORS はすべてのオリジンを許可するヘッダーを付与するミドルウェア
//
// プリフライト要求には 204 で応答し、後続のハンドラには渡さない。
// 許可リストにないメソッドやヘッダーのプリフライトにも要求された値をそのまま返す。
// Origin のない要求にも Access-Control-Allow-Origin: * を付ける。
func CORS() gin.HandlerFunc {
	policy := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodHead,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
		},
		AllowedHeaders:     []string{"*"},
		ExposedHeaders:     []string{"*"},
		OptionsPassthrough: true,
	})
	setHeaders := policy.Handler(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	return func(c *gin.Context) {
		setHeaders.ServeHTTP(c.Writer, c.Request)

		header := c.Writer.Header()
		if header.Get("Access-Control-Allow-Origin") == "" {
			header.Set("Access-Control-Allow-Origin", "*")
		}

		if !isPreflight(c.Request) {
			c.Next()
			return
		}

		mirror := map[string]string{
			"Access-Control-Allow-Methods": "Access-Control-Request-Method",
			"Access-Control-Allow-Headers": "Access-Control-Request-Headers",
		}
		for allow, request := range mirror {
			if header.Get(allow) == "" && c.GetHeader(request) != "" {
				header.Set(allow, c.GetHeader(request))
			}
		}
		c.AbortWithStatus(http.StatusNoContent)
	}
}

func isPreflight(r *http.Request) bool {
	return r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
}
