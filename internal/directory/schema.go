package directory

import (
	"database/sql"
	"fmt"
)

// ユーザー・グループ・所属関係のスキーマ定義。
const schema = `
CREATE TABLE IF NOT EXISTS users (
    -- ユーザーの一意な名前
    username TEXT PRIMARY KEY,
    -- bcryptでハッシュ化されたパスワード
    password_hash TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS groups (
    -- グループの一意な名前
    name TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS user_groups (
    -- 所属するユーザー名
    username TEXT NOT NULL REFERENCES users(username),
    -- 所属先グループ名
    group_name TEXT NOT NULL REFERENCES groups(name),
    PRIMARY KEY (username, group_name)
);
`

// initSchema はSQLiteデータベースにスキーマを適用する。
func initSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("スキーマの適用に失敗: %w", err)
	}
	return nil
}
