// Package session はWebSocket接続1本分のライフサイクルを管理する。
//
// 接続は Connecting → Authorized → Active → Closed の状態を辿る。
// 接続時の認証・認可に失敗した場合のみ接続をクローズコード付きで
// 閉じ、それ以外のエラー（不正なペイロード、Brokerの検証エラー、
// 予期しない内部エラー）はすべてerrorイベントとしてクライアントへ
// 返し、セッションは開いたままとする。
package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nao1215/notifyhub/internal/broker"
	"github.com/nao1215/notifyhub/internal/hub"
	"github.com/nao1215/notifyhub/pkg/event"
)

const (
	// CloseUnauthenticated は未認証の接続を拒否するクローズコード。
	// RFC 6455で3000未満のコードは予約されているため、HTTP 401相当を
	// アプリケーション領域の4401として送出する。
	CloseUnauthenticated = 4401
	// CloseForbidden はグループ非所属の接続を拒否するクローズコード（HTTP 403相当）。
	CloseForbidden = 4403

	// outboundBufferSize は送信バッファに保持できるイベント数。
	// バッファが満杯の購読者への配信は失敗として扱い、接続は維持する。
	outboundBufferSize = 32

	// writeWait は1フレームの書き込みに許容する時間。
	writeWait = 10 * time.Second
)

// command はクライアントから受信するコマンドフレーム。
type command struct {
	// Type はコマンドの種別。
	Type string `json:"type"`
	// Content は送信する通知の本文（send_notification）。
	Content string `json:"content"`
	// ReceiverGroup は明示的な宛先グループ名（send_notification、省略可）。
	ReceiverGroup string `json:"receiver_group"`
	// NotificationID は確認対象の通知ID（confirm_notification）。
	NotificationID string `json:"notification_id"`
}

// Session は1本のWebSocket接続に対応する購読セッション。
// hub.Subscriberを実装する。
type Session struct {
	// conn はクライアントとのWebSocket接続。
	conn *websocket.Conn
	// username は認証済みユーザー名。未認証の場合は空文字列。
	username string
	// groupName は購読対象のグループ名。
	groupName string
	// broker はコマンドのディスパッチ先。
	broker *broker.Broker
	// directory は接続時のグループ所属確認に使用する。
	directory broker.Directory
	// hub は購読の登録先。
	hub *hub.Hub
	// logger はセッションのイベント記録に使用する。
	logger *slog.Logger

	// outbound はクライアントへ送信するフレームのバッファ。
	// 書き込みは単一のポンプgoroutineに集約される。
	outbound chan event.Frame
	// done はセッションの終了を通知する。
	done chan struct{}
	// closeOnce はdoneのクローズを一度に限定する。
	closeOnce sync.Once
}

// New は新しいSessionを生成する。usernameが空の場合は未認証として扱われる。
func New(conn *websocket.Conn, username, groupName string, b *broker.Broker, d broker.Directory, h *hub.Hub, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		conn:      conn,
		username:  username,
		groupName: groupName,
		broker:    b,
		directory: d,
		hub:       h,
		logger:    logger,
		outbound:  make(chan event.Frame, outboundBufferSize),
		done:      make(chan struct{}),
	}
}

// Run はセッションのライフサイクルを実行し、接続が閉じるまでブロックする。
// 認証・認可に失敗した場合はクローズコード付きで接続を閉じて終了する。
func (s *Session) Run(ctx context.Context) {
	defer s.conn.Close()

	if s.username == "" {
		s.reject(CloseUnauthenticated, "認証されていません")
		return
	}

	member, err := s.directory.IsMember(ctx, s.username, s.groupName)
	if err != nil {
		s.logger.Error("グループ所属の確認に失敗", "user", s.username, "group", s.groupName, "error", err)
		s.reject(CloseForbidden, "グループ所属を確認できません")
		return
	}
	if !member {
		s.reject(CloseForbidden, "グループに所属していません")
		return
	}

	s.hub.Register(s.groupName, s)
	defer func() {
		// 切断経路によらず購読解除は一度だけ行う
		s.hub.Unregister(s.groupName, s)
		s.shutdown()
	}()

	go s.writePump()

	if err := s.Send(event.NewConnectionEstablished(s.groupName)); err != nil {
		s.logger.Warn("接続確立イベントの送信に失敗", "user", s.username, "error", err)
	}

	s.logger.Info("セッションを開始", "user", s.username, "group", s.groupName)
	s.readLoop(ctx)
	s.logger.Info("セッションを終了", "user", s.username, "group", s.groupName)
}

// Send はイベントフレームを送信バッファへ積む。hub.Subscriberの実装。
// バッファが満杯、またはセッションが終了している場合はエラーを返す。
// ブロックしないため、Brokerのブロードキャストを遅延させることはない。
func (s *Session) Send(frame event.Frame) error {
	select {
	case <-s.done:
		return errors.New("セッションは終了しています")
	case s.outbound <- frame:
		return nil
	default:
		return errors.New("送信バッファが満杯です")
	}
}

// readLoop はクライアントからのコマンドを接続が閉じるまで逐次処理する。
func (s *Session) readLoop(ctx context.Context) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("接続が予期せず切断", "user", s.username, "error", err)
			}
			return
		}

		var cmd command
		if err := json.Unmarshal(data, &cmd); err != nil {
			s.sendError("無効なJSON形式です")
			continue
		}

		s.dispatch(ctx, cmd)
	}
}

// dispatch は1つのコマンドをBrokerへ振り分ける。
// エラーはすべてerrorイベントに変換され、セッションは維持される。
func (s *Session) dispatch(ctx context.Context, cmd command) {
	switch event.Type(cmd.Type) {
	case event.TypeSendNotification:
		reply, err := s.broker.SendNotification(ctx, s.username, cmd.Content, cmd.ReceiverGroup)
		if err != nil {
			s.replyError("通知の作成", err)
			return
		}
		s.reply(reply)
	case event.TypeConfirmNotification:
		if cmd.NotificationID == "" {
			s.sendError("通知IDが指定されていません")
			return
		}
		reply, err := s.broker.ConfirmNotification(ctx, s.username, cmd.NotificationID)
		if err != nil {
			s.replyError("通知の確認", err)
			return
		}
		s.reply(reply)
	default:
		s.sendError("未知のメッセージ種別です: " + cmd.Type)
	}
}

// reply は同期応答イベントをクライアントへ返す。
func (s *Session) reply(frame event.Frame) {
	if err := s.Send(frame); err != nil {
		s.logger.Warn("応答イベントの送信に失敗", "user", s.username, "error", err)
	}
}

// replyError はBrokerのエラーをerrorイベントへ変換して返す。
// クライアント起因のエラーはそのままのメッセージを、
// 内部エラーは詳細を伏せた定型メッセージを送る。
func (s *Session) replyError(operation string, err error) {
	if broker.IsClientError(err) {
		s.sendError(err.Error())
		return
	}
	s.logger.Error("内部エラー", "user", s.username, "operation", operation, "error", err)
	s.sendError(operation + "中に内部エラーが発生しました")
}

// sendError はerrorイベントをクライアントへ送る。
func (s *Session) sendError(message string) {
	if err := s.Send(event.NewError(message)); err != nil {
		s.logger.Warn("errorイベントの送信に失敗", "user", s.username, "error", err)
	}
}

// writePump は送信バッファのフレームを単一goroutineで接続へ書き込む。
// gorilla/websocketの接続は並行書き込みを許さないため、
// すべての書き込みをここへ集約する。
func (s *Session) writePump() {
	for {
		select {
		case <-s.done:
			return
		case frame := <-s.outbound:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				s.logger.Warn("書き込み期限の設定に失敗", "user", s.username, "error", err)
			}
			if err := s.conn.WriteJSON(frame); err != nil {
				s.logger.Warn("フレームの書き込みに失敗", "user", s.username, "error", err)
				s.shutdown()
				return
			}
		}
	}
}

// reject は接続を指定のクローズコードで拒否する。
// connection_establishedイベントは送信されない。
func (s *Session) reject(code int, reason string) {
	s.logger.Info("接続を拒否", "group", s.groupName, "code", code, "reason", reason)
	deadline := time.Now().Add(writeWait)
	if err := s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline); err != nil {
		s.logger.Warn("クローズメッセージの送信に失敗", "error", err)
	}
	s.shutdown()
}

// shutdown はセッションの終了を一度だけ通知する。
func (s *Session) shutdown() {
	s.closeOnce.Do(func() { close(s.done) })
}
