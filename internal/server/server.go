package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"minicdn/internal/config"
	"minicdn/internal/staticfs"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// BindError はリッスンアドレスにバインドできなかったことを表す
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return "アドレスにバインドできません: " + e.Addr + ": " + e.Err.Error()
}

func (e *BindError) Unwrap() error {
	return e.Err
}

// Server はHTTPサーバーを管理する構造体
type Server struct {
	config     *config.Config
	logger     *zap.Logger
	files      *staticfs.FS
	engine     *gin.Engine
	httpServer *http.Server
	listener   net.Listener
	out        io.Writer

	closeOnce sync.Once
}

// Option は Server の生成オプション
type Option func(*Server)

// WithOutput は起動メッセージの出力先を変更する
func WithOutput(w io.Writer) Option {
	return func(s *Server) {
		s.out = w
	}
}

// New は新しいServerインスタンスを作成する
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*Server, error) {
	files, err := staticfs.Open(cfg.Static.Root, staticfs.Options{
		Index:         cfg.Static.Index,
		Precompressed: cfg.Static.Precompressed,
	})
	if err != nil {
		return nil, err
	}

	compress, err := Compress(cfg.Static.CompressionLevel, cfg.Static.MinCompressSize)
	if err != nil {
		_ = files.Close()
		return nil, err
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.SetHTMLTemplate(errorTemplate())

	// ミドルウェアの順序は固定: トレース → 圧縮 → CORS
	engine.Use(Trace(logger), Recovery(logger), compress, CORS())

	handler := NewStaticHandler(files, logger)
	engine.Any("/*filepath", handler.ServeFile)
	engine.NoRoute(handler.ServeFile)

	s := &Server{
		config: cfg,
		logger: logger,
		files:  files,
		engine: engine,
		out:    os.Stdout,
		httpServer: &http.Server{
			Handler:      engine,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			ErrorLog:     zap.NewStdLog(logger),
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Handler はミドルウェアを含むHTTPハンドラを返す
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Listen はリッスンアドレスにバインドする
//
// 既にバインド済みの場合は何もしない。失敗時はリスナーを残さない。
func (s *Server) Listen() error {
	if s.listener != nil {
		return nil
	}

	addr := s.config.ServerAddress()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return &BindError{Addr: addr, Err: err}
	}
	s.listener = listener
	return nil
}

// Addr はバインド済みのアドレスを返す。未バインドの場合は空文字列
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// URL は利用者向けのURLを返す
//
// ホストは設定値を使い、ポートは実際にバインドしたものを使う。
func (s *Server) URL() string {
	port := s.config.Server.Port
	if s.listener != nil {
		if tcpAddr, ok := s.listener.Addr().(*net.TCPAddr); ok {
			port = tcpAddr.Port
		}
	}
	return "http://" + net.JoinHostPort(s.config.Server.Host, strconv.Itoa(port)) + "/"
}

// Start はサーバーを起動する
//
// ctx のキャンセルか SIGINT/SIGTERM を受けるとグレースフルにシャットダウンする。
func (s *Server) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		if closeErr := s.closeFiles(); closeErr != nil {
			s.logger.Warn("配信ルートのクローズに失敗しました", zap.Error(closeErr))
		}
		return err
	}

	s.logInventory()
	s.announce()

	// シグナルハンドリング
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	// サーバー本体
	g.Go(func() error {
		if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "HTTPサーバーが異常終了しました")
		}
		return nil
	})

	// コンテキストかシグナルを待ってシャットダウン
	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			s.logger.Info("停止要求を受信しました", zap.Error(context.Cause(ctx)))
		}
		return s.Shutdown()
	})

	return g.Wait()
}

// Shutdown はサーバーをグレースフルにシャットダウンする
func (s *Server) Shutdown() error {
	s.logger.Info("サーバーをシャットダウンしています")

	ctx := context.Background()
	if timeout := s.config.Server.ShutdownTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "サーバーのシャットダウンに失敗")
	}

	if err := s.closeFiles(); err != nil {
		return err
	}

	s.logger.Info("サーバーが正常にシャットダウンされました")
	return nil
}

// closeFiles は配信ルートを一度だけ閉じる
func (s *Server) closeFiles() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.files.Close()
	})
	return errors.Wrap(err, "配信ルートのクローズに失敗")
}
