package store

import (
	"database/sql"
	"fmt"
)

// 通知テーブルのスキーマ定義。
const schema = `
CREATE TABLE IF NOT EXISTS notifications (
    -- 通知の一意識別子（UUID）
    id TEXT PRIMARY KEY,
    -- 通知の本文
    content TEXT NOT NULL,
    -- 通知を作成したユーザー名
    sender TEXT NOT NULL,
    -- 送信元グループ名
    sender_group TEXT NOT NULL,
    -- 宛先グループ名
    receiver_group TEXT NOT NULL,
    -- 通知の状態（pending / confirmed）
    status TEXT NOT NULL DEFAULT 'pending',
    -- 通知を確認したユーザー名（未確認の間はNULL）
    confirmed_by TEXT,
    -- 通知の作成日時
    created_at DATETIME NOT NULL,
    -- 通知の確認日時（未確認の間はNULL）
    confirmed_at DATETIME
);

-- 送信者での検索を高速化するインデックス。
CREATE INDEX IF NOT EXISTS idx_notifications_sender
    ON notifications(sender, created_at);

-- 宛先グループでの検索を高速化するインデックス。
CREATE INDEX IF NOT EXISTS idx_notifications_receiver_group
    ON notifications(receiver_group, created_at);
`

// initSchema はSQLiteデータベースにスキーマを適用する。
func initSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("スキーマの適用に失敗: %w", err)
	}
	return nil
}
