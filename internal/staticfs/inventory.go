package staticfs

import (
	"fmt"
	"io/fs"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
)

// Inventory は配信ルートの集計結果
type Inventory struct {
	Files         int   // 通常ファイル数 (.gz を含む)
	Bytes         int64 // 通常ファイルの合計サイズ
	Precompressed int   // .gz ファイル数
	HasIndex      bool  // ルート直下に index があるか
}

// String は人間向けの要約を返す
func (i Inventory) String() string {
	return fmt.Sprintf("%d files (%s), %d precompressed",
		i.Files, humanize.IBytes(uint64(i.Bytes)), i.Precompressed)
}

// Scan は配信ルートを走査して集計する
func (f *FS) Scan() (Inventory, error) {
	var inv Inventory
	if f.root == nil {
		return inv, nil
	}

	err := fs.WalkDir(f.root.FS(), ".", func(name string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.Type().IsRegular() {
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			return err
		}

		inv.Files++
		inv.Bytes += info.Size()
		if strings.HasSuffix(name, gzipSuffix) {
			inv.Precompressed++
		}
		if name == f.options.Index {
			inv.HasIndex = true
		}
		return nil
	})
	if err != nil {
		return inv, errors.Wrapf(err, "配信ルートの走査に失敗: %s", f.dir)
	}

	return inv, nil
}
