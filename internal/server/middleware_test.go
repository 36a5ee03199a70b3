package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestCORS はすべての応答に CORS ヘッダーが付くことをテストする
func TestCORS(t *testing.T) {
	env := newTestEnv(t)

	testCases := []struct {
		name       string
		method     string
		target     string
		origin     string
		wantStatus int
	}{
		{"Origin あり", http.MethodGet, "/index.html", "https://example.com", http.StatusOK},
		{"Origin なし", http.MethodGet, "/index.html", "", http.StatusOK},
		{"別のオリジン", http.MethodGet, "/app.js", "http://localhost:3000", http.StatusOK},
		{"404", http.MethodGet, "/missing", "https://example.com", http.StatusNotFound},
		{"404 で Origin なし", http.MethodGet, "/missing", "", http.StatusNotFound},
		{"405", http.MethodPost, "/index.html", "https://example.com", http.StatusMethodNotAllowed},
		{"400", http.MethodGet, "/%00", "", http.StatusBadRequest},
		{"リダイレクト", http.MethodGet, "/docs", "https://example.com", http.StatusTemporaryRedirect},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			header := map[string]string{}
			if tc.origin != "" {
				header["Origin"] = tc.origin
			}
			rec := serve(t, env, tc.method, tc.target, header)

			if rec.Code != tc.wantStatus {
				t.Errorf("予期しないステータスコード: got %d, want %d", rec.Code, tc.wantStatus)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
				t.Errorf("Access-Control-Allow-Origin が一致しません: %q", got)
			}
		})
	}
}

// TestCORSPreflight はプリフライト要求をテストする
func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)

	testCases := []struct {
		name   string
		method string
	}{
		{"GET", http.MethodGet},
		{"許可リスト外の CONNECT", http.MethodConnect},
		{"許可リスト外の PROPFIND", "PROPFIND"},
		{"独自メソッド", "PURGE"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(t, env, http.MethodOptions, "/index.html", map[string]string{
				"Origin":                         "https://example.com",
				"Access-Control-Request-Method":  tc.method,
				"Access-Control-Request-Headers": "X-Custom-Header",
			})

			if rec.Code != http.StatusNoContent {
				t.Errorf("予期しないステータスコード: got %d, want %d", rec.Code, http.StatusNoContent)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
				t.Errorf("Access-Control-Allow-Origin が一致しません: %q", got)
			}
			if got := rec.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(strings.ToUpper(got), tc.method) {
				t.Errorf("Access-Control-Allow-Methods に %s がありません: %q", tc.method, got)
			}
			if got := rec.Header().Get("Access-Control-Allow-Headers"); got == "" {
				t.Error("Access-Control-Allow-Headers がありません")
			}
			if rec.Body.Len() != 0 {
				t.Errorf("プリフライトの応答に本文があります: %q", rec.Body.String())
			}
		})
	}
}

// TestRequestID はリクエストIDの付与をテストする
func TestRequestID(t *testing.T) {
	env := newTestEnv(t)

	t.Run("生成", func(t *testing.T) {
		rec := serve(t, env, http.MethodGet, "/index.html", nil)
		if _, err := uuid.Parse(rec.Header().Get(HeaderRequestID)); err != nil {
			t.Errorf("UUID 形式のリクエストIDではありません: %q", rec.Header().Get(HeaderRequestID))
		}
	})

	t.Run("引き継ぎ", func(t *testing.T) {
		rec := serve(t, env, http.MethodGet, "/index.html", map[string]string{HeaderRequestID: "edge-1234.abc"})
		if got := rec.Header().Get(HeaderRequestID); got != "edge-1234.abc" {
			t.Errorf("リクエストIDが引き継がれていません: %q", got)
		}
	})

	t.Run("不正な値は置き換え", func(t *testing.T) {
		rec := serve(t, env, http.MethodGet, "/index.html", map[string]string{HeaderRequestID: "<script>"})
		if got := rec.Header().Get(HeaderRequestID); got == "<script>" {
			t.Error("不正なリクエストIDがそのまま返されました")
		}
	})
}

// TestTraceLog はリクエストごとのログ出力をテストする
func TestTraceLog(t *testing.T) {
	env := newTestEnv(t)

	serve(t, env, http.MethodGet, "/index.html", nil)
	serve(t, env, http.MethodGet, "/missing", nil)
	serve(t, env, http.MethodGet, "/css/site.css", map[string]string{"Accept-Encoding": "gzip"})

	entries := env.logs.FilterMessage("request").All()
	if len(entries) != 3 {
		t.Fatalf("ログの件数が一致しません: got %d, want 3", len(entries))
	}

	testCases := []struct {
		path     string
		status   int64
		encoding string
	}{
		{"/index.html", 200, ""},
		{"/missing", 404, ""},
		{"/css/site.css", 200, "gzip"},
	}
	for i, tc := range testCases {
		fields := entries[i].ContextMap()
		if entries[i].Level != zapcore.InfoLevel {
			t.Errorf("%s: ログレベルが一致しません: %s", tc.path, entries[i].Level)
		}
		if fields["method"] != http.MethodGet {
			t.Errorf("%s: method が一致しません: %v", tc.path, fields["method"])
		}
		if fields["path"] != tc.path {
			t.Errorf("path が一致しません: got %v, want %s", fields["path"], tc.path)
		}
		if fields["status"] != tc.status {
			t.Errorf("%s: status が一致しません: got %v, want %d", tc.path, fields["status"], tc.status)
		}
		if _, ok := fields["latency"]; !ok {
			t.Errorf("%s: latency がありません", tc.path)
		}
		if _, ok := fields["request_id"]; !ok {
			t.Errorf("%s: request_id がありません", tc.path)
		}
		if tc.encoding != "" && fields["encoding"] != tc.encoding {
			t.Errorf("%s: encoding が一致しません: %v", tc.path, fields["encoding"])
		}
	}
}

// TestTraceLogOutsideRoot はルート外へのアクセスの警告をテストする
func TestTraceLogOutsideRoot(t *testing.T) {
	env := newTestEnv(t)

	serve(t, env, http.MethodGet, "/../secret.txt", nil)

	if env.logs.FilterMessage("ルート外へのアクセスを拒否しました").Len() != 1 {
		t.Error("ルート外へのアクセスの警告が出力されていません")
	}
}

// TestRecovery はパニックが 500 になることをテストする
func TestRecovery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	engine := gin.New()
	engine.SetHTMLTemplate(errorTemplate())
	engine.Use(Trace(logger), Recovery(logger), CORS())
	engine.GET("/panic", func(c *gin.Context) {
		c.Header("Content-Encoding", "gzip")
		panic("boom")
	})

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("予期しないステータスコード: got %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	if rec.Header().Get("Content-Encoding") != "" {
		t.Error("エラーページに Content-Encoding が残っています")
	}
	if !strings.Contains(rec.Body.String(), "<h1>500 Internal Server Error</h1>") {
		t.Errorf("本文の形式が一致しません: %q", rec.Body.String())
	}
	if logs.FilterMessage("パニックから復帰しました").Len() != 1 {
		t.Error("パニックのログが出力されていません")
	}

	entries := logs.FilterMessage("request").All()
	if len(entries) != 1 || entries[0].Level != zapcore.ErrorLevel {
		t.Errorf("500 の応答がエラーレベルで記録されていません: %v", entries)
	}
}

// TestRecoveryAfterWrite は書き込み開始後のパニックでエラーページを重ねないことをテストする
func TestRecoveryAfterWrite(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	engine := gin.New()
	engine.SetHTMLTemplate(errorTemplate())
	engine.Use(Trace(logger), Recovery(logger), CORS())
	engine.GET("/partial", func(c *gin.Context) {
		c.String(http.StatusOK, "x")
		panic("boom")
	})

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/partial", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("送信済みのステータスが変わりました: got %d, want %d", rec.Code, http.StatusOK)
	}
	if rec.Body.String() != "x" {
		t.Errorf("送信済みの本文にエラーページが追記されました: %q", rec.Body.String())
	}
	if logs.FilterMessage("パニックから復帰しました").Len() != 1 {
		t.Error("パニックのログが出力されていません")
	}
}

func TestValidRequestID(t *testing.T) {
	testCases := []struct {
		id   string
		want bool
	}{
		{"", false},
		{"abc-123_DEF.4", true},
		{uuid.NewString(), true},
		{"has space", false},
		{"日本語", false},
		{strings.Repeat("a", maxRequestIDLength), true},
		{strings.Repeat("a", maxRequestIDLength+1), false},
	}

	for _, tc := range testCases {
		if got := validRequestID(tc.id); got != tc.want {
			t.Errorf("validRequestID(%q) = %v, want %v", tc.id, got, tc.want)
		}
	}
}
