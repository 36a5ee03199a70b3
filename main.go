package main

import (
	"context"
	"log"
	"os"

	"minicdn/internal/config"
	"minicdn/internal/logging"
	"minicdn/internal/server"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

func main() {
	os.Exit(run())
}

func run() int {
	// 設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		log.Printf("設定の読み込みに失敗しました: %v", err)
		return 1
	}

	// ロガーを作成
	logger, err := logging.New(cfg.Log.Level)
	if err != nil {
		log.Printf("ロガーの作成に失敗しました: %v", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	// サーバーを作成
	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("サーバーの作成に失敗しました", zap.Error(err))
		return 1
	}

	// サーバーを起動
	if err := srv.Start(context.Background()); err != nil {
		var bindErr *server.BindError
		if errors.As(err, &bindErr) {
			logger.Error("ポートにバインドできません", zap.String("addr", bindErr.Addr), zap.Error(bindErr.Err))
		} else {
			logger.Error("サーバーが異常終了しました", zap.Error(err))
		}
		return 1
	}

	return 0
}
