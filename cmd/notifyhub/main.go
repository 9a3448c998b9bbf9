// 通知ブローカーのエントリポイント。
// 運営組と財務組の間で通知を中継し、各通知を pending → confirmed の
// ライフサイクルで追跡する。ライブ接続への配信はWebSocketで行い、
// 読み取りAPIとログインはHTTPで提供する。
package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/nao1215/notifyhub/internal/server"
)

func main() {
	// .envファイルは開発時のみ存在する。無ければ環境変数をそのまま使う。
	if err := godotenv.Load(); err == nil {
		log.Println(".envファイルを読み込みました")
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg := server.Config{
		Port:        getEnvOr("PORT", "8080"),
		DBPath:      getEnvOr("DB_PATH", "notifyhub.db"),
		JWTSecret:   getEnvOr("JWT_SECRET", "dev-secret-key"),
		FrontendURL: os.Getenv("FRONTEND_URL"),
	}

	srv, err := server.New(cfg, logger)
	if err != nil {
		log.Fatalf("サーバーの初期化に失敗: %v", err)
	}

	if os.Getenv("SEED_DEMO") == "true" {
		if err := srv.Directory().Seed(context.Background()); err != nil {
			log.Fatalf("デモデータの登録に失敗: %v", err)
		}
	}

	log.Printf("通知ブローカーを起動します: :%s", cfg.Port)
	if err := srv.Run(); err != nil {
		log.Fatalf("サーバーの起動に失敗: %v", err)
	}
}

// getEnvOr は環境変数の値を返す。未設定の場合はデフォルト値を返す。
func getEnvOr(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
