package staticfs

import (
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
)

// EncodingGzip は事前圧縮ファイルの Content-Encoding
const EncodingGzip = "gzip"

// gzipSuffix は事前圧縮ファイルの拡張子
const gzipSuffix = ".gz"

// 解決エラー
var (
	// ErrNotFound はファイルが存在しない場合のエラー
	ErrNotFound = errors.New("file not found")
	// ErrOutsideRoot はルート外を指すパスのエラー
	ErrOutsideRoot = errors.New("path resolves outside of root")
	// ErrMalformedPath はリクエストパスが不正な場合のエラー
	ErrMalformedPath = errors.New("malformed request path")
	// ErrNeedsSlash は末尾スラッシュなしでディレクトリが要求された場合のエラー
	ErrNeedsSlash = errors.New("directory requested without trailing slash")
)

// Options はファイル解決の設定
type Options struct {
	Index         string // ディレクトリ要求時に返すファイル名
	Precompressed bool   // .gz ファイルを優先して返すか
}

// Resource は解決済みのファイル
type Resource struct {
	Name        string    // ルートからの論理パス (例: css/site.css)
	File        *os.File  // 開いたファイル。呼び出し側で Close する
	Encoding    string    // 事前圧縮ファイルの場合は "gzip"
	Size        int64     // 実際に返すファイルのサイズ
	ModTime     time.Time // 実際に返すファイルの更新時刻
	ContentType string    // 元ファイル名から決定した Content-Type
}

// ETag は弱い ETag を返す
func (r *Resource) ETag() string {
	tag := fmt.Sprintf(`W/"%x-%x`, r.ModTime.UnixNano(), r.Size)
	if r.Encoding != "" {
		tag += "-" + r.Encoding
	}
	return tag + `"`
}

// Close はファイルを閉じる
func (r *Resource) Close() error {
	if r == nil || r.File == nil {
		return nil
	}
	return r.File.Close()
}
