// Package server は、静的ファイルを配信するHTTPサーバーを管理します。
//
// このパッケージは、HTTPサーバーの起動、ミドルウェアの適用、
// 配信ルート配下のファイルの応答を担当します。
//
// 責務:
//   - HTTPサーバーの起動と管理
//   - リクエストパスからファイルへの対応付け (staticfs を利用)
//   - 事前圧縮ファイル (.gz) の配信
//   - エラーページ (400/404/405/500) の応答
//
// 仕様:
//   - Webフレームワークは gin を使用
//   - ミドルウェアの順序は トレース → 圧縮 → CORS で固定
//   - 動的圧縮は klauspost/compress の gzhttp、CORS は rs/cors を使用
//   - ログは zap で1リクエスト1行の構造化ログを出力
//   - グレースフルシャットダウンに対応
//   - バインドに失敗した場合は起動エラーを返す
package server
