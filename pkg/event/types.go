// Package event はWebSocket越しにクライアントと交換するイベントフレームの型を提供する。
//
// 受信コマンド（send_notification / confirm_notification）と
// 送信イベント（connection_established / notification_sent /
// notification_message / notification_confirmed / error）の
// 種別とペイロード構造を定義する。
package event

// Type はイベントフレームの種別を表す。
type Type string

const (
	// TypeSendNotification は通知の送信を要求する受信コマンド。
	TypeSendNotification Type = "send_notification"
	// TypeConfirmNotification は通知の確認を要求する受信コマンド。
	TypeConfirmNotification Type = "confirm_notification"

	// TypeConnectionEstablished は接続確立をクライアントに伝える送信イベント。
	TypeConnectionEstablished Type = "connection_established"
	// TypeNotificationSent は送信者への同期応答として通知の作成結果を伝える送信イベント。
	TypeNotificationSent Type = "notification_sent"
	// TypeNotificationMessage は受信グループへのブロードキャストで新規通知を伝える送信イベント。
	TypeNotificationMessage Type = "notification_message"
	// TypeNotificationConfirmed は通知が確認されたことを伝える送信イベント。
	// 送信グループへのブロードキャストと確認者への同期応答の両方で使用する。
	TypeNotificationConfirmed Type = "notification_confirmed"
	// TypeError はエラーをクライアントに伝える送信イベント。
	TypeError Type = "error"
)

// Frame はクライアントへ送信するイベントフレームの外形。
// Messageにはイベント種別ごとのペイロードが入る。
type Frame struct {
	// Type はイベントの種別。
	Type Type `json:"type"`
	// Message はイベント種別ごとのペイロード。
	// connection_establishedとerrorでは文字列、それ以外では構造体となる。
	Message any `json:"message"`
}

// SentMessage はnotification_sentイベントのペイロード。
type SentMessage struct {
	// ID は作成された通知の一意識別子。
	ID string `json:"id"`
	// Content は通知の本文。
	Content string `json:"content"`
	// ReceiverGroup は通知の宛先グループ名。
	ReceiverGroup string `json:"receiver_group"`
	// CreatedAt は通知の作成日時（RFC3339形式）。
	CreatedAt string `json:"created_at"`
	// Status は通知の状態（pending / confirmed）。
	Status string `json:"status"`
}

// BroadcastMessage はnotification_messageイベントのペイロード。
type BroadcastMessage struct {
	// ID は通知の一意識別子。
	ID string `json:"id"`
	// Content は通知の本文。
	Content string `json:"content"`
	// Sender は通知を作成したユーザー名。
	Sender string `json:"sender"`
	// SenderGroup は送信元グループ名。
	SenderGroup string `json:"sender_group"`
	// CreatedAt は通知の作成日時（RFC3339形式）。
	CreatedAt string `json:"created_at"`
	// Status は通知の状態（pending / confirmed）。
	Status string `json:"status"`
}

// ConfirmedMessage はnotification_confirmedイベントのペイロード。
type ConfirmedMessage struct {
	// ID は通知の一意識別子。
	ID string `json:"id"`
	// Content は通知の本文。
	Content string `json:"content"`
	// ConfirmedBy は通知を確認したユーザー名。
	ConfirmedBy string `json:"confirmed_by"`
	// ConfirmedAt は通知の確認日時（RFC3339形式）。
	ConfirmedAt string `json:"confirmed_at"`
	// ReceiverGroup は通知の宛先グループ名。
	// 送信グループへのブロードキャストでのみ設定される。
	ReceiverGroup string `json:"receiver_group,omitempty"`
}
