// Package server はHTTP/WebSocketの外部境界を提供する。
//
// ログインAPI、通知の読み取りAPI、グループごとのWebSocket
// エンドポイント、ヘルスチェックをGinルーターとして構成し、
// 内部コンポーネント（Store / Directory / RoutingTable / Hub /
// Broker）をコンストラクタで組み立てる。
package server

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	_ "modernc.org/sqlite"

	"github.com/nao1215/notifyhub/internal/broker"
	"github.com/nao1215/notifyhub/internal/directory"
	"github.com/nao1215/notifyhub/internal/hub"
	"github.com/nao1215/notifyhub/internal/routing"
	"github.com/nao1215/notifyhub/internal/store"
	"github.com/nao1215/notifyhub/pkg/middleware"
)

// Config はサーバーの構成値。
type Config struct {
	// Port はサーバーのリッスンポート。
	Port string
	// DBPath はSQLiteデータベースファイルのパス。
	DBPath string
	// JWTSecret はJWT署名用の秘密鍵。
	JWTSecret string
	// FrontendURL はCORSで許可するフロントエンドのオリジン。
	FrontendURL string
}

// Server は通知ブローカーのHTTP/WebSocketサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// db はSQLiteデータベース接続。
	db *sql.DB
	// store は通知レコードの永続化層。
	store *store.Store
	// directory はユーザー・グループの管理層。
	directory *directory.Directory
	// broker は通知の送信・確認サガの実行者。
	broker *broker.Broker
	// hub はライブ接続の登録・配信先。
	hub *hub.Hub
	// jwtSecret はJWT署名用の秘密鍵。
	jwtSecret string
	// logger は構造化ログの出力先。
	logger *slog.Logger
}

// New は新しいServerを生成する。
// SQLiteデータベースの初期化とスキーマ作成を行う。
func New(cfg Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	sqlDB, err := sql.Open("sqlite", cfg.DBPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	st, err := store.New(sqlDB)
	if err != nil {
		return nil, fmt.Errorf("Storeの初期化に失敗: %w", err)
	}

	dir, err := directory.New(sqlDB)
	if err != nil {
		return nil, fmt.Errorf("Directoryの初期化に失敗: %w", err)
	}

	h := hub.New(logger)
	b := broker.New(st, dir, routing.DefaultTable(), h)

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())
	if cfg.FrontendURL != "" {
		router.Use(middleware.CORS([]string{cfg.FrontendURL}))
	}

	s := &Server{
		router:    router,
		port:      cfg.Port,
		db:        sqlDB,
		store:     st,
		directory: dir,
		broker:    b,
		hub:       h,
		jwtSecret: cfg.JWTSecret,
		logger:    logger,
	}
	s.setupRoutes()

	return s, nil
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.port))
}

// Directory はユーザー・グループ管理層を返す。起動時のシード登録に使用する。
func (s *Server) Directory() *directory.Directory {
	return s.directory
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	// ログイン（認証不要）
	auth := s.router.Group("/auth")
	{
		auth.POST("/login", s.handleLogin())
	}

	// 認証必須の読み取りAPI
	api := s.router.Group("/api/v1")
	api.Use(middleware.JWTAuth(s.jwtSecret))
	{
		// 送信済み・受信通知の一覧取得
		api.GET("/notifications", s.handleListNotifications())
	}

	// グループごとの通知チャネル（認証はWebSocketハンドシェイク後にセッション層で行う）
	s.router.GET("/ws/notifications/:group", s.handleWebSocket())

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "notifyhub"})
	})
}
