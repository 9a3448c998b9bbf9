package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/nao1215/notifyhub/internal/session"
	"github.com/nao1215/notifyhub/pkg/middleware"
)

// upgrader はHTTP接続をWebSocketへアップグレードする。
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// handleWebSocket はグループの通知チャネルへのWebSocket接続を受け付けるハンドラ。
// 認証・認可の判定はハンドシェイク後にセッション層が行い、
// 拒否はWebSocketのクローズコード（4401 / 4403）で通知される。
func (s *Server) handleWebSocket() gin.HandlerFunc {
	return func(c *gin.Context) {
		groupName := c.Param("group")

		// トークンはクエリパラメータまたはAuthorizationヘッダーから受け取る。
		// ブラウザのWebSocket APIはカスタムヘッダーを設定できないため、
		// クエリパラメータを優先的に確認する。
		username := ""
		if token := s.extractToken(c); token != "" {
			if claims, err := middleware.ParseJWT(s.jwtSecret, token); err == nil {
				username = claims.Username
			}
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			s.logger.Warn("WebSocketアップグレードに失敗", "group", groupName, "error", err)
			return
		}

		sess := session.New(conn, username, groupName, s.broker, s.directory, s.hub, s.logger)
		sess.Run(c.Request.Context())
	}
}

// extractToken はリクエストからJWTトークンを取り出す。
func (s *Server) extractToken(c *gin.Context) string {
	if token := c.Query("token"); token != "" {
		return token
	}
	if header := c.GetHeader("Authorization"); header != "" {
		if token, found := strings.CutPrefix(header, "Bearer "); found {
			return token
		}
	}
	return ""
}
