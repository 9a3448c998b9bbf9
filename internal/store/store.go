package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status は通知の状態を表す。
type Status string

const (
	// StatusPending は未確認の通知を表す。
	StatusPending Status = "pending"
	// StatusConfirmed は確認済みの通知を表す。
	StatusConfirmed Status = "confirmed"
)

var (
	// ErrEmptyContent は通知本文が空であることを表す。
	ErrEmptyContent = errors.New("通知の本文が空です")
	// ErrNotFound は指定されたIDの通知が存在しないことを表す。
	ErrNotFound = errors.New("通知が見つかりません")
	// ErrAlreadyConfirmed は通知が既に確認済みであることを表す。
	ErrAlreadyConfirmed = errors.New("通知は既に確認されています")
)

// Notification は1件の通知レコードを表す。
// 確認済みになった後は不変として扱う。
type Notification struct {
	// ID は通知の一意識別子（UUID）。
	ID string
	// Content は通知の本文。
	Content string
	// Sender は通知を作成したユーザー名。
	Sender string
	// SenderGroup は送信元グループ名。
	SenderGroup string
	// ReceiverGroup は宛先グループ名。
	ReceiverGroup string
	// Status は通知の状態。
	Status Status
	// ConfirmedBy は通知を確認したユーザー名。未確認の間は空文字列。
	ConfirmedBy string
	// CreatedAt は通知の作成日時（UTC）。
	CreatedAt time.Time
	// ConfirmedAt は通知の確認日時（UTC）。未確認の間はゼロ値。
	ConfirmedAt time.Time
}

// Store は通知レコードのSQLiteバックエンド。
type Store struct {
	// db はSQLiteデータベース接続。
	db *sql.DB
}

// New は新しいStoreを生成し、スキーマを適用する。
func New(db *sql.DB) (*Store, error) {
	if err := initSchema(db); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Create は新しい通知をpending状態で作成する。
// 本文が空の場合はErrEmptyContentを返す。
func (s *Store) Create(ctx context.Context, content, sender, senderGroup, receiverGroup string) (*Notification, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}

	n := &Notification{
		ID:            uuid.New().String(),
		Content:       content,
		Sender:        sender,
		SenderGroup:   senderGroup,
		ReceiverGroup: receiverGroup,
		Status:        StatusPending,
		CreatedAt:     time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, content, sender, sender_group, receiver_group, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.Content, n.Sender, n.SenderGroup, n.ReceiverGroup, n.Status, n.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("通知の作成に失敗: %w", err)
	}
	return n, nil
}

// Get は指定されたIDの通知を取得する。
// 存在しない場合はErrNotFoundを返す。
func (s *Store) Get(ctx context.Context, id string) (*Notification, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, content, sender, sender_group, receiver_group, status, confirmed_by, created_at, confirmed_at
		FROM notifications WHERE id = ?`, id)
	return scanNotification(row)
}

// Confirm は通知をconfirmed状態に遷移させる。
// 状態遷移は条件付きUPDATEで直列化され、同一通知への並行確認は
// ちょうど1つだけ成功し、残りはErrAlreadyConfirmedを受け取る。
// 確認者が宛先グループに所属しているかの検証は呼び出し側（Broker）の責務。
func (s *Store) Confirm(ctx context.Context, id, confirmingUser string) (*Notification, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications
		SET status = ?, confirmed_by = ?, confirmed_at = ?
		WHERE id = ? AND status = ?`,
		StatusConfirmed, confirmingUser, now, id, StatusPending,
	)
	if err != nil {
		return nil, fmt.Errorf("通知の確認に失敗: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("更新行数の取得に失敗: %w", err)
	}
	if affected == 0 {
		// 通知が存在しないのか、既に確認済みなのかを判別する
		if _, err := s.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrAlreadyConfirmed
	}

	return s.Get(ctx, id)
}

// ListBySender は指定ユーザーが作成した通知を新しい順に返す。
func (s *Store) ListBySender(ctx context.Context, sender string) ([]*Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, sender, sender_group, receiver_group, status, confirmed_by, created_at, confirmed_at
		FROM notifications WHERE sender = ? ORDER BY created_at DESC`, sender)
	if err != nil {
		return nil, fmt.Errorf("送信済み通知の取得に失敗: %w", err)
	}
	defer rows.Close()
	return scanNotifications(rows)
}

// ListByReceiverGroups は指定グループ宛ての通知を新しい順に返す。
// グループが空の場合は空スライスを返す。
func (s *Store) ListByReceiverGroups(ctx context.Context, groups []string) ([]*Notification, error) {
	if len(groups) == 0 {
		return []*Notification{}, nil
	}

	placeholders := strings.Repeat("?, ", len(groups)-1) + "?"
	args := make([]any, 0, len(groups))
	for _, g := range groups {
		args = append(args, g)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, content, sender, sender_group, receiver_group, status, confirmed_by, created_at, confirmed_at
		FROM notifications WHERE receiver_group IN (%s) ORDER BY created_at DESC`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("受信通知の取得に失敗: %w", err)
	}
	defer rows.Close()
	return scanNotifications(rows)
}

// scanner はsql.Rowとsql.Rowsの共通スキャンインターフェース。
type scanner interface {
	Scan(dest ...any) error
}

// scanNotification は1行を通知レコードに変換する。
func scanNotification(row scanner) (*Notification, error) {
	var n Notification
	var confirmedBy sql.NullString
	var confirmedAt sql.NullTime

	err := row.Scan(
		&n.ID, &n.Content, &n.Sender, &n.SenderGroup, &n.ReceiverGroup,
		&n.Status, &confirmedBy, &n.CreatedAt, &confirmedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("通知レコードの読み取りに失敗: %w", err)
	}

	if confirmedBy.Valid {
		n.ConfirmedBy = confirmedBy.String
	}
	if confirmedAt.Valid {
		n.ConfirmedAt = confirmedAt.Time
	}
	return &n, nil
}

// scanNotifications は複数行を通知レコードのスライスに変換する。
func scanNotifications(rows *sql.Rows) ([]*Notification, error) {
	notifications := []*Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("通知レコードの走査に失敗: %w", err)
	}
	return notifications, nil
}
