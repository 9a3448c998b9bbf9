package event

import "fmt"

// NewConnectionEstablished は接続確立イベントを生成する。
func NewConnectionEstablished(groupName string) Frame {
	return Frame{
		Type:    TypeConnectionEstablished,
		Message: fmt.Sprintf("%sグループの通知チャネルに接続しました", groupName),
	}
}

// NewError はエラーイベントを生成する。
func NewError(message string) Frame {
	return Frame{
		Type:    TypeError,
		Message: message,
	}
}

// NewNotificationSent は送信者向けの通知作成応答イベントを生成する。
func NewNotificationSent(msg SentMessage) Frame {
	return Frame{
		Type:    TypeNotificationSent,
		Message: msg,
	}
}

// NewNotificationMessage は受信グループ向けの通知ブロードキャストイベントを生成する。
func NewNotificationMessage(msg BroadcastMessage) Frame {
	return Frame{
		Type:    TypeNotificationMessage,
		Message: msg,
	}
}

// NewNotificationConfirmed は通知確認イベントを生成する。
func NewNotificationConfirmed(msg ConfirmedMessage) Frame {
	return Frame{
		Type:    TypeNotificationConfirmed,
		Message: msg,
	}
}
