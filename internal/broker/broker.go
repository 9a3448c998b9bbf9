// Package broker は通知の送信・確認のオーケストレーションを提供する。
//
// 各操作は「検証 → 永続化 → ブロードキャスト」の順で進む短いサガであり、
// 検証が永続化に先行するため部分的な状態が残ることはなく、
// ブロードキャストは永続化成功後にのみ行われるため、購読者が
// 存在しないレコードのイベントを観測することもない。
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nao1215/notifyhub/internal/hub"
	"github.com/nao1215/notifyhub/internal/routing"
	"github.com/nao1215/notifyhub/internal/store"
	"github.com/nao1215/notifyhub/pkg/event"
)

var (
	// ErrNoGroup は要求ユーザーがどのグループにも所属していないことを表す。
	ErrNoGroup = errors.New("ユーザーはどのグループにも所属していません")
	// ErrNoRoute は送信グループに対応グループが宣言されていないことを表す。
	ErrNoRoute = errors.New("対応するグループを決定できません")
	// ErrRoutingMismatch は指定された宛先グループが対応表と一致しないことを表す。
	ErrRoutingMismatch = errors.New("宛先グループが対応関係と一致しません")
	// ErrUnknownGroup は宛先グループが存在しないことを表す。
	ErrUnknownGroup = errors.New("宛先グループが存在しません")
	// ErrUnauthorized は要求ユーザーに通知を確認する権限がないことを表す。
	ErrUnauthorized = errors.New("この通知を確認する権限がありません")
)

// Directory はユーザーとグループの所属関係を照会する外部コラボレーター。
type Directory interface {
	// GroupsOf はユーザーが所属するグループ名をグループ名順で返す。
	GroupsOf(ctx context.Context, username string) ([]string, error)
	// IsMember はユーザーが指定グループに所属しているかどうかを返す。
	IsMember(ctx context.Context, username, groupName string) (bool, error)
	// GroupExists は指定された名前のグループが存在するかどうかを返す。
	GroupExists(ctx context.Context, groupName string) (bool, error)
}

// Broker は通知の送信・確認サガを実行するオーケストレーター。
// Storeへの状態変更はBrokerのみが行う。
type Broker struct {
	// store は通知レコードの永続化層。
	store *store.Store
	// directory はグループ所属の照会先。
	directory Directory
	// table はグループ間のルーティング対応表。
	table *routing.Table
	// hub はライブ接続へのファンアウト先。
	hub *hub.Hub
}

// New は新しいBrokerを生成する。
func New(s *store.Store, d Directory, t *routing.Table, h *hub.Hub) *Broker {
	return &Broker{
		store:     s,
		directory: d,
		table:     t,
		hub:       h,
	}
}

// SendNotification は通知を作成し、宛先グループへブロードキャストする。
// explicitReceiverが空の場合は対応表から宛先を自動決定する。
// 呼び出し元（送信者）にはnotification_sentイベントを返す。
func (b *Broker) SendNotification(ctx context.Context, username, content, explicitReceiver string) (event.Frame, error) {
	senderGroup, err := b.resolveSenderGroup(ctx, username)
	if err != nil {
		return event.Frame{}, err
	}

	receiverGroup, err := b.resolveReceiverGroup(senderGroup, explicitReceiver)
	if err != nil {
		return event.Frame{}, err
	}

	exists, err := b.directory.GroupExists(ctx, receiverGroup)
	if err != nil {
		return event.Frame{}, fmt.Errorf("宛先グループの確認に失敗: %w", err)
	}
	if !exists {
		return event.Frame{}, fmt.Errorf("グループ %s: %w", receiverGroup, ErrUnknownGroup)
	}

	n, err := b.store.Create(ctx, content, username, senderGroup, receiverGroup)
	if err != nil {
		return event.Frame{}, err
	}

	// 永続化に成功した場合のみ宛先グループへ配信する
	b.hub.Broadcast(receiverGroup, event.NewNotificationMessage(event.BroadcastMessage{
		ID:          n.ID,
		Content:     n.Content,
		Sender:      n.Sender,
		SenderGroup: n.SenderGroup,
		CreatedAt:   n.CreatedAt.Format(time.RFC3339),
		Status:      string(n.Status),
	}))

	return event.NewNotificationSent(event.SentMessage{
		ID:            n.ID,
		Content:       n.Content,
		ReceiverGroup: n.ReceiverGroup,
		CreatedAt:     n.CreatedAt.Format(time.RFC3339),
		Status:        string(n.Status),
	}), nil
}

// ConfirmNotification は通知をconfirmed状態に遷移させ、
// 送信元グループへブロードキャストする。
// 呼び出し元（確認者）にはnotification_confirmedイベントを返す。
func (b *Broker) ConfirmNotification(ctx context.Context, username, notificationID string) (event.Frame, error) {
	n, err := b.store.Get(ctx, notificationID)
	if err != nil {
		return event.Frame{}, err
	}
	if n.Status == store.StatusConfirmed {
		return event.Frame{}, store.ErrAlreadyConfirmed
	}

	member, err := b.directory.IsMember(ctx, username, n.ReceiverGroup)
	if err != nil {
		return event.Frame{}, fmt.Errorf("所属関係の確認に失敗: %w", err)
	}
	if !member {
		return event.Frame{}, ErrUnauthorized
	}

	confirmed, err := b.store.Confirm(ctx, notificationID, username)
	if err != nil {
		return event.Frame{}, err
	}

	// 送信元グループへの配信にのみ宛先グループ名を含める
	b.hub.Broadcast(confirmed.SenderGroup, event.NewNotificationConfirmed(event.ConfirmedMessage{
		ID:            confirmed.ID,
		Content:       confirmed.Content,
		ConfirmedBy:   confirmed.ConfirmedBy,
		ConfirmedAt:   confirmed.ConfirmedAt.Format(time.RFC3339),
		ReceiverGroup: confirmed.ReceiverGroup,
	}))

	return event.NewNotificationConfirmed(event.ConfirmedMessage{
		ID:          confirmed.ID,
		Content:     confirmed.Content,
		ConfirmedBy: confirmed.ConfirmedBy,
		ConfirmedAt: confirmed.ConfirmedAt.Format(time.RFC3339),
	}), nil
}

// resolveSenderGroup は要求ユーザーの送信元グループを決定する。
// 複数グループに所属する場合はグループ名順で最初のグループを採用する。
func (b *Broker) resolveSenderGroup(ctx context.Context, username string) (string, error) {
	groups, err := b.directory.GroupsOf(ctx, username)
	if err != nil {
		return "", fmt.Errorf("所属グループの取得に失敗: %w", err)
	}
	if len(groups) == 0 {
		return "", ErrNoGroup
	}
	return groups[0], nil
}

// resolveReceiverGroup は宛先グループを決定する。
// 明示指定がある場合は対応表と一致することを検証し、
// ない場合は対応表から自動決定する。
func (b *Broker) resolveReceiverGroup(senderGroup, explicitReceiver string) (string, error) {
	partner, ok := b.table.CorrespondingGroup(senderGroup)
	if explicitReceiver == "" {
		if !ok {
			return "", fmt.Errorf("グループ %s: %w", senderGroup, ErrNoRoute)
		}
		return partner, nil
	}

	if !ok || partner != explicitReceiver {
		return "", fmt.Errorf("%s から %s へは送信できません: %w", senderGroup, explicitReceiver, ErrRoutingMismatch)
	}
	return explicitReceiver, nil
}

// IsClientError はエラーがクライアント起因（検証・認可・ルーティング）の
// ものかどうかを返す。セッション層はクライアント起因のエラーのみ
// メッセージをそのままerrorイベントとして転送する。
func IsClientError(err error) bool {
	for _, target := range []error{
		store.ErrEmptyContent,
		store.ErrNotFound,
		store.ErrAlreadyConfirmed,
		ErrNoGroup,
		ErrNoRoute,
		ErrRoutingMismatch,
		ErrUnknownGroup,
		ErrUnauthorized,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
