package server

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
)

// announce は起動メッセージをログと標準出力に書く
func (s *Server) announce() {
	url := s.URL()
	s.logger.Info("MiniCDN を起動しました",
		zap.String("url", url),
		zap.String("addr", s.Addr()),
		zap.String("root", s.files.Dir()),
		zap.Bool("precompressed", s.files.Precompressed()),
	)
	printBanner(s.out, fmt.Sprintf("🚀 MiniCDN running at %s", url))
}

// logInventory は配信ルートの集計をログに出す
func (s *Server) logInventory() {
	if !s.files.Available() {
		s.logger.Warn("配信ルートが存在しません。すべての要求に 404 を返します",
			zap.String("root", s.files.Dir()))
		return
	}

	inv, err := s.files.Scan()
	if err != nil {
		s.logger.Warn("配信ルートの走査に失敗しました", zap.Error(err))
		return
	}

	s.logger.Info("配信ルートを読み込みました",
		zap.String("root", s.files.Dir()),
		zap.Stringer("summary", inv),
		zap.Int("files", inv.Files),
		zap.Int64("bytes", inv.Bytes),
		zap.Int("precompressed", inv.Precompressed),
		zap.Bool("index", inv.HasIndex),
	)
}

// printBanner は端末の場合のみ色付きでメッセージを書く
func printBanner(w io.Writer, message string) {
	if w == nil {
		return
	}

	c := color.New(color.FgGreen, color.Bold)
	if isTerminal(w) {
		c.EnableColor()
	} else {
		c.DisableColor()
	}
	_, _ = c.Fprintln(w, message)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
