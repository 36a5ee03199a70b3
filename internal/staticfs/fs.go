package staticfs

import (
	"io"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"syscall"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/pkg/errors"
)

// FS は配信ルートに閉じ込められた読み取り専用のファイルシステム
type FS struct {
	dir     string
	root    *os.Root
	options Options
}

// Open は dir を配信ルートとして開く
//
// ディレクトリが存在しない場合はエラーにせず、すべての要求に ErrNotFound を返す。
func Open(dir string, options Options) (*FS, error) {
	if options.Index == "" {
		options.Index = "index.html"
	}

	root, err := os.OpenRoot(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &FS{dir: dir, options: options}, nil
		}
		return nil, errors.Wrapf(err, "配信ルートを開けません: %s", dir)
	}

	return &FS{dir: dir, root: root, options: options}, nil
}

// Dir は配信ルートのパスを返す
func (f *FS) Dir() string {
	return f.dir
}

// Precompressed は事前圧縮ファイルの配信が有効かを返す
func (f *FS) Precompressed() bool {
	return f.options.Precompressed
}

// Available は配信ルートが開けているかを返す
func (f *FS) Available() bool {
	return f.root != nil
}

// Close は配信ルートを閉じる
func (f *FS) Close() error {
	if f.root == nil {
		return nil
	}
	return f.root.Close()
}

// Resolve はリクエストパスをファイルに解決する
//
// acceptGzip が true で事前圧縮が有効な場合、<name>.gz があればそちらを返す。
func (f *FS) Resolve(requestPath string, acceptGzip bool) (*Resource, error) {
	name, err := CleanPath(requestPath)
	if err != nil {
		return nil, err
	}
	if f.root == nil {
		return nil, ErrNotFound
	}

	info, err := f.root.Stat(name)
	if err != nil {
		err = f.classify(err, name)
		// 元ファイルがなく .gz だけが置かれている場合
		if errors.Is(err, ErrNotFound) && f.options.Precompressed && acceptGzip {
			if res, variantErr := f.openVariant(name); variantErr == nil {
				return res, nil
			}
		}
		return nil, err
	}

	if info.IsDir() {
		if !strings.HasSuffix(requestPath, "/") {
			return nil, ErrNeedsSlash
		}
		name = path.Join(name, f.options.Index)
		info, err = f.root.Stat(name)
		if err != nil {
			return nil, f.classify(err, name)
		}
		if info.IsDir() {
			return nil, ErrNotFound
		}
	}

	if f.options.Precompressed && acceptGzip {
		res, err := f.openVariant(name)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	return f.open(name)
}

// openVariant は事前圧縮ファイルを開く
func (f *FS) openVariant(name string) (*Resource, error) {
	variant := name + gzipSuffix

	file, err := f.root.Open(variant)
	if err != nil {
		return nil, f.classify(err, variant)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, errors.Wrapf(err, "stat に失敗: %s", variant)
	}
	if !info.Mode().IsRegular() {
		_ = file.Close()
		return nil, ErrNotFound
	}

	return &Resource{
		Name:        name,
		File:        file,
		Encoding:    EncodingGzip,
		Size:        info.Size(),
		ModTime:     info.ModTime(),
		ContentType: f.contentType(name, nil),
	}, nil
}

// open は元のファイルを開く
func (f *FS) open(name string) (*Resource, error) {
	file, err := f.root.Open(name)
	if err != nil {
		return nil, f.classify(err, name)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, errors.Wrapf(err, "stat に失敗: %s", name)
	}
	if !info.Mode().IsRegular() {
		_ = file.Close()
		return nil, ErrNotFound
	}

	contentType := f.contentType(name, file)
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		_ = file.Close()
		return nil, errors.Wrapf(err, "seek に失敗: %s", name)
	}

	return &Resource{
		Name:        name,
		File:        file,
		Size:        info.Size(),
		ModTime:     info.ModTime(),
		ContentType: contentType,
	}, nil
}

// contentType は拡張子から Content-Type を決め、未知の場合は内容から推定する
//
// content が nil の場合は元ファイルを開いて推定する。
func (f *FS) contentType(name string, content io.Reader) string {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}

	if content == nil {
		file, err := f.root.Open(name)
		if err != nil {
			return "application/octet-stream"
		}
		defer file.Close()
		content = file
	}

	mtype, err := mimetype.DetectReader(content)
	if err != nil {
		return "application/octet-stream"
	}
	return mtype.String()
}

// CleanPath はリクエストパスを検証し、ルートからの相対名に変換する
//
// ".." を含むパスはファイルシステムに触れる前に拒否する。
func CleanPath(requestPath string) (string, error) {
	if !strings.HasPrefix(requestPath, "/") ||
		!utf8.ValidString(requestPath) ||
		strings.ContainsAny(requestPath, "\x00\\") {
		return "", ErrMalformedPath
	}

	for _, segment := range strings.Split(requestPath, "/") {
		if segment == ".." {
			return "", ErrOutsideRoot
		}
	}

	name := strings.TrimPrefix(path.Clean(requestPath), "/")
	if name == "" {
		name = "."
	}
	return name, nil
}

// classify は os.Root のエラーを解決エラーに変換する
func (f *FS) classify(err error, name string) error {
	switch {
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, syscall.ENOTDIR):
		return ErrNotFound
	case isEscape(err), f.escapes(name):
		return ErrOutsideRoot
	default:
		return errors.Wrapf(err, "ファイルを開けません: %s", name)
	}
}

// isEscape はシンボリックリンク等でルート外に出ようとしたエラーかを判定する
func isEscape(err error) bool {
	var pathErr *fs.PathError
	if !errors.As(err, &pathErr) {
		return false
	}
	// os.Root はルート外への移動を "path escapes from parent" として返す
	return pathErr.Err != nil && pathErr.Err.Error() == "path escapes from parent"
}

// escapes は name のシンボリックリンクを解決した先がルート外かを判定する
//
// isEscape がエラーの文言で判定できなかった場合の確認に使う。
func (f *FS) escapes(name string) bool {
	root, err := filepath.EvalSymlinks(f.dir)
	if err != nil {
		return false
	}
	resolved, err := filepath.EvalSymlinks(filepath.Join(f.dir, filepath.FromSlash(name)))
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(root, resolved)
	if err != nil {
		return true
	}
	return rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
