package app

// Command はアプリケーションの起動モードを表す。
// 両デプロイメント（rockflix / talkflix）は同じバイナリを
// サブコマンドとSITE環境変数で使い分ける。
type Command string

const (
	// CommandServe は認証・同期APIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker は期限切れセッションと引き換え記録を掃除する
	// ワーカーモードで起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate は共有アイデンティティストアのマイグレーションを
	// 実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch args[0] {
	case "worker":
		return CommandWorker
	case "serve":
		return CommandServe
	case "migrate":
		return CommandMigrate
	case "healthcheck":
		return CommandHealthcheck
	default:
		return CommandServe
	}
}
