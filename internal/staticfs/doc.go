// Package staticfs は配信ルート配下のファイル解決を担当します。
//
// 責務:
//   - リクエストパスの検証とルート外へのアクセス拒否
//   - ディレクトリに対する index.html の解決
//   - 事前圧縮済み (.gz) ファイルの選択
//   - Content-Type の決定
//   - 起動時のルートディレクトリ集計
//
// 仕様:
//   - ファイルシステムへのアクセスはすべて os.Root 経由で行う
//   - 読み取り専用で、リクエスト間の共有状態は持たない
package staticfs
