package server

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nao1215/notifyhub/internal/session"
	"github.com/nao1215/notifyhub/pkg/event"
)

// wsFrame はクライアント側で受信するイベントフレーム。
type wsFrame struct {
	// Type はイベントの種別。
	Type string `json:"type"`
	// Message はイベント種別ごとのペイロード。
	Message json.RawMessage `json:"message"`
}

// startWSServer はWebSocket接続可能なテストサーバーを起動する。
func startWSServer(t *testing.T) (*Server, string) {
	t.Helper()

	s := setupTestServer(t)
	ts := httptest.NewServer(s.router)
	t.Cleanup(ts.Close)

	return s, "ws" + strings.TrimPrefix(ts.URL, "http")
}

// dialWS は指定グループの通知チャネルへWebSocket接続するヘルパー関数。
func dialWS(t *testing.T, wsURL, groupName, token string) *websocket.Conn {
	t.Helper()

	url := wsURL + "/ws/notifications/" + groupName
	if token != "" {
		url += "?token=" + token
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("WebSocket接続に失敗: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readFrame は1フレームを受信するヘルパー関数。
func readFrame(t *testing.T, conn *websocket.Conn) wsFrame {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(3 * time.Second)); err != nil {
		t.Fatalf("読み取り期限の設定に失敗: %v", err)
	}
	var frame wsFrame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("フレームの受信に失敗: %v", err)
	}
	return frame
}

// expectClose は接続が指定のクローズコードで閉じられることを確認するヘルパー関数。
func expectClose(t *testing.T, conn *websocket.Conn, code int) {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(3 * time.Second)); err != nil {
		t.Fatalf("読み取り期限の設定に失敗: %v", err)
	}
	_, _, err := conn.ReadMessage()
	if err == nil {
		t.Fatal("クローズを期待したがフレームを受信した")
	}
	if !websocket.IsCloseError(err, code) {
		t.Errorf("クローズコードが不正: got %v, want %d", err, code)
	}
}

// sendCommand はコマンドフレームを送信するヘルパー関数。
func sendCommand(t *testing.T, conn *websocket.Conn, cmd map[string]any) {
	t.Helper()
	if err := conn.WriteJSON(cmd); err != nil {
		t.Fatalf("コマンドの送信に失敗: %v", err)
	}
}

// decodeMessage はフレームのペイロードを指定の構造体にデコードするヘルパー関数。
func decodeMessage(t *testing.T, frame wsFrame, v any) {
	t.Helper()
	if err := json.Unmarshal(frame.Message, v); err != nil {
		t.Fatalf("ペイロードのデコードに失敗: %v, message=%s", err, frame.Message)
	}
}

// TestWebSocketConnect は接続時の認証・認可を検証する。
func TestWebSocketConnect(t *testing.T) {
	t.Parallel()

	t.Run("認証済みメンバーはconnection_establishedを受信すること", func(t *testing.T) {
		t.Parallel()
		_, wsURL := startWSServer(t)

		conn := dialWS(t, wsURL, "operations_group_1", tokenFor(t, "op1", []string{"operations_group_1"}))

		frame := readFrame(t, conn)
		if frame.Type != string(event.TypeConnectionEstablished) {
			t.Errorf("Type = %q, want %q", frame.Type, event.TypeConnectionEstablished)
		}
	})

	t.Run("未認証の接続は4401で閉じられconnection_establishedを受信しないこと", func(t *testing.T) {
		t.Parallel()
		_, wsURL := startWSServer(t)

		conn := dialWS(t, wsURL, "operations_group_1", "")

		expectClose(t, conn, session.CloseUnauthenticated)
	})

	t.Run("不正なトークンは4401で閉じられること", func(t *testing.T) {
		t.Parallel()
		_, wsURL := startWSServer(t)

		conn := dialWS(t, wsURL, "operations_group_1", "invalid-token")

		expectClose(t, conn, session.CloseUnauthenticated)
	})

	t.Run("グループ非所属の接続は4403で閉じられること", func(t *testing.T) {
		t.Parallel()
		_, wsURL := startWSServer(t)

		// op1は運営一組のメンバーであり、財務一組のチャネルには接続できない
		conn := dialWS(t, wsURL, "finance_group_1", tokenFor(t, "op1", []string{"operations_group_1"}))

		expectClose(t, conn, session.CloseForbidden)
	})
}

// TestWebSocketSendNotification は通知送信の一連の流れを検証する。
func TestWebSocketSendNotification(t *testing.T) {
	t.Parallel()

	t.Run("op1の送信がfinance_group_1の購読者に配信されること", func(t *testing.T) {
		t.Parallel()
		_, wsURL := startWSServer(t)

		opConn := dialWS(t, wsURL, "operations_group_1", tokenFor(t, "op1", []string{"operations_group_1"}))
		finConn := dialWS(t, wsURL, "finance_group_1", tokenFor(t, "fin1", []string{"finance_group_1"}))
		readFrame(t, opConn)  // connection_established
		readFrame(t, finConn) // connection_established

		sendCommand(t, opConn, map[string]any{
			"type":    "send_notification",
			"content": "出荷準備完了",
		})

		// 送信者には同期応答としてnotification_sentが返る
		reply := readFrame(t, opConn)
		if reply.Type != string(event.TypeNotificationSent) {
			t.Fatalf("reply.Type = %q, want %q", reply.Type, event.TypeNotificationSent)
		}
		var sent event.SentMessage
		decodeMessage(t, reply, &sent)
		if sent.ReceiverGroup != "finance_group_1" {
			t.Errorf("ReceiverGroup = %q, want finance_group_1", sent.ReceiverGroup)
		}
		if sent.Status != "pending" {
			t.Errorf("Status = %q, want pending", sent.Status)
		}

		// 受信グループの購読者にはnotification_messageが配信される
		broadcast := readFrame(t, finConn)
		if broadcast.Type != string(event.TypeNotificationMessage) {
			t.Fatalf("broadcast.Type = %q, want %q", broadcast.Type, event.TypeNotificationMessage)
		}
		var msg event.BroadcastMessage
		decodeMessage(t, broadcast, &msg)
		if msg.Content != "出荷準備完了" {
			t.Errorf("Content = %q, want 出荷準備完了", msg.Content)
		}
		if msg.Sender != "op1" {
			t.Errorf("Sender = %q, want op1", msg.Sender)
		}
		if msg.ID != sent.ID {
			t.Errorf("ID = %q, want %q", msg.ID, sent.ID)
		}
	})

	t.Run("対応表と一致しない宛先はerrorイベントとなり配信されないこと", func(t *testing.T) {
		t.Parallel()
		_, wsURL := startWSServer(t)

		opConn := dialWS(t, wsURL, "operations_group_1", tokenFor(t, "op1", []string{"operations_group_1"}))
		fin2Conn := dialWS(t, wsURL, "finance_group_2", tokenFor(t, "fin2", []string{"finance_group_2"}))
		readFrame(t, opConn)
		readFrame(t, fin2Conn)

		sendCommand(t, opConn, map[string]any{
			"type":           "send_notification",
			"content":        "越境通知",
			"receiver_group": "finance_group_2",
		})

		reply := readFrame(t, opConn)
		if reply.Type != string(event.TypeError) {
			t.Errorf("reply.Type = %q, want error", reply.Type)
		}

		// fin2には何も配信されない。続けて正しい送信を行い、
		// 最初に届くフレームがその通知であることで確認する
		sendCommand(t, opConn, map[string]any{
			"type":    "send_notification",
			"content": "正しい通知",
		})
		if reply := readFrame(t, opConn); reply.Type != string(event.TypeNotificationSent) {
			t.Fatalf("reply.Type = %q, want %q", reply.Type, event.TypeNotificationSent)
		}

		finConn := dialWS(t, wsURL, "finance_group_1", tokenFor(t, "fin1", []string{"finance_group_1"}))
		readFrame(t, finConn)

		// fin2の接続には越境通知が届いていないことを確認する
		fin2Conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
		var stray wsFrame
		if err := fin2Conn.ReadJSON(&stray); err == nil {
			t.Errorf("受信しないはずのフレームを受信: %+v", stray)
		}
	})

	t.Run("本文が空の送信はerrorイベントとなりセッションは維持されること", func(t *testing.T) {
		t.Parallel()
		_, wsURL := startWSServer(t)

		opConn := dialWS(t, wsURL, "operations_group_1", tokenFor(t, "op1", []string{"operations_group_1"}))
		readFrame(t, opConn)

		sendCommand(t, opConn, map[string]any{"type": "send_notification", "content": ""})
		if reply := readFrame(t, opConn); reply.Type != string(event.TypeError) {
			t.Errorf("reply.Type = %q, want error", reply.Type)
		}

		// セッションは開いたままであり、続けてコマンドを処理できる
		sendCommand(t, opConn, map[string]any{"type": "send_notification", "content": "再送"})
		if reply := readFrame(t, opConn); reply.Type != string(event.TypeNotificationSent) {
			t.Errorf("reply.Type = %q, want %q", reply.Type, event.TypeNotificationSent)
		}
	})
}

// TestWebSocketConfirmNotification は通知確認の一連の流れを検証する。
func TestWebSocketConfirmNotification(t *testing.T) {
	t.Parallel()

	t.Run("fin1の確認がoperations_group_1の購読者に配信されること", func(t *testing.T) {
		t.Parallel()
		_, wsURL := startWSServer(t)

		opConn := dialWS(t, wsURL, "operations_group_1", tokenFor(t, "op1", []string{"operations_group_1"}))
		finConn := dialWS(t, wsURL, "finance_group_1", tokenFor(t, "fin1", []string{"finance_group_1"}))
		readFrame(t, opConn)
		readFrame(t, finConn)

		sendCommand(t, opConn, map[string]any{
			"type":    "send_notification",
			"content": "要確認の通知",
		})
		var sent event.SentMessage
		decodeMessage(t, readFrame(t, opConn), &sent)
		readFrame(t, finConn) // notification_message

		sendCommand(t, finConn, map[string]any{
			"type":            "confirm_notification",
			"notification_id": sent.ID,
		})

		// 確認者には同期応答が返る
		reply := readFrame(t, finConn)
		if reply.Type != string(event.TypeNotificationConfirmed) {
			t.Fatalf("reply.Type = %q, want %q", reply.Type, event.TypeNotificationConfirmed)
		}
		var confirmed event.ConfirmedMessage
		decodeMessage(t, reply, &confirmed)
		if confirmed.ConfirmedBy != "fin1" {
			t.Errorf("ConfirmedBy = %q, want fin1", confirmed.ConfirmedBy)
		}
		if confirmed.ConfirmedAt == "" {
			t.Error("ConfirmedAtが設定されていない")
		}
		if confirmed.ReceiverGroup != "" {
			t.Errorf("reply ReceiverGroup = %q, want 空文字列", confirmed.ReceiverGroup)
		}

		// 送信グループの購読者にも配信される
		broadcast := readFrame(t, opConn)
		if broadcast.Type != string(event.TypeNotificationConfirmed) {
			t.Fatalf("broadcast.Type = %q, want %q", broadcast.Type, event.TypeNotificationConfirmed)
		}
		var broadcastMsg event.ConfirmedMessage
		decodeMessage(t, broadcast, &broadcastMsg)
		if broadcastMsg.ReceiverGroup != "finance_group_1" {
			t.Errorf("broadcast ReceiverGroup = %q, want finance_group_1", broadcastMsg.ReceiverGroup)
		}
	})

	t.Run("確認済み通知の再確認はerrorイベントとなること", func(t *testing.T) {
		t.Parallel()
		_, wsURL := startWSServer(t)

		opConn := dialWS(t, wsURL, "operations_group_1", tokenFor(t, "op1", []string{"operations_group_1"}))
		finConn := dialWS(t, wsURL, "finance_group_1", tokenFor(t, "fin1", []string{"finance_group_1"}))
		readFrame(t, opConn)
		readFrame(t, finConn)

		sendCommand(t, opConn, map[string]any{"type": "send_notification", "content": "二重確認"})
		var sent event.SentMessage
		decodeMessage(t, readFrame(t, opConn), &sent)
		readFrame(t, finConn)

		sendCommand(t, finConn, map[string]any{"type": "confirm_notification", "notification_id": sent.ID})
		if reply := readFrame(t, finConn); reply.Type != string(event.TypeNotificationConfirmed) {
			t.Fatalf("1回目の確認の応答: %q, want %q", reply.Type, event.TypeNotificationConfirmed)
		}

		sendCommand(t, finConn, map[string]any{"type": "confirm_notification", "notification_id": sent.ID})
		if reply := readFrame(t, finConn); reply.Type != string(event.TypeError) {
			t.Errorf("2回目の確認の応答: %q, want error", reply.Type)
		}
	})

	t.Run("通知ID未指定はerrorイベントとなること", func(t *testing.T) {
		t.Parallel()
		_, wsURL := startWSServer(t)

		finConn := dialWS(t, wsURL, "finance_group_1", tokenFor(t, "fin1", []string{"finance_group_1"}))
		readFrame(t, finConn)

		sendCommand(t, finConn, map[string]any{"type": "confirm_notification"})
		if reply := readFrame(t, finConn); reply.Type != string(event.TypeError) {
			t.Errorf("reply.Type = %q, want error", reply.Type)
		}
	})
}

// TestWebSocketMalformedCommand は不正なコマンドの扱いを検証する。
func TestWebSocketMalformedCommand(t *testing.T) {
	t.Parallel()

	t.Run("不正なJSONはerrorイベントとなりセッションは維持されること", func(t *testing.T) {
		t.Parallel()
		_, wsURL := startWSServer(t)

		conn := dialWS(t, wsURL, "operations_group_1", tokenFor(t, "op1", []string{"operations_group_1"}))
		readFrame(t, conn)

		if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
			t.Fatalf("フレームの送信に失敗: %v", err)
		}
		if reply := readFrame(t, conn); reply.Type != string(event.TypeError) {
			t.Errorf("reply.Type = %q, want error", reply.Type)
		}

		// セッションは開いたまま
		sendCommand(t, conn, map[string]any{"type": "send_notification", "content": "継続確認"})
		if reply := readFrame(t, conn); reply.Type != string(event.TypeNotificationSent) {
			t.Errorf("reply.Type = %q, want %q", reply.Type, event.TypeNotificationSent)
		}
	})

	t.Run("未知のコマンド種別はerrorイベントとなること", func(t *testing.T) {
		t.Parallel()
		_, wsURL := startWSServer(t)

		conn := dialWS(t, wsURL, "operations_group_1", tokenFor(t, "op1", []string{"operations_group_1"}))
		readFrame(t, conn)

		sendCommand(t, conn, map[string]any{"type": "dance"})
		if reply := readFrame(t, conn); reply.Type != string(event.TypeError) {
			t.Errorf("reply.Type = %q, want error", reply.Type)
		}
	})
}

// TestWebSocketDisconnect は切断時に購読が解除されることを検証する。
func TestWebSocketDisconnect(t *testing.T) {
	t.Parallel()

	s, wsURL := startWSServer(t)

	conn := dialWS(t, wsURL, "finance_group_1", tokenFor(t, "fin1", []string{"finance_group_1"}))
	readFrame(t, conn)

	if got := s.hub.Count("finance_group_1"); got != 1 {
		t.Fatalf("接続中の購読者数 = %d, want 1", got)
	}

	conn.Close()

	// 切断の検知は非同期のため、解除されるまで待つ
	deadline := time.Now().Add(3 * time.Second)
	for s.hub.Count("finance_group_1") != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("切断後も購読が残っている: count=%d", s.hub.Count("finance_group_1"))
		}
		time.Sleep(10 * time.Millisecond)
	}
}
