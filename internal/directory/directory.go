package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials はユーザー名またはパスワードが一致しないことを表す。
	ErrInvalidCredentials = errors.New("ユーザー名またはパスワードが正しくありません")
)

// Directory はユーザー・グループ・所属関係のSQLiteバックエンド。
type Directory struct {
	// db はSQLiteデータベース接続。
	db *sql.DB
}

// New は新しいDirectoryを生成し、スキーマを適用する。
func New(db *sql.DB) (*Directory, error) {
	if err := initSchema(db); err != nil {
		return nil, err
	}
	return &Directory{db: db}, nil
}

// Authenticate はユーザー名とパスワードを検証する。
// 認証に失敗した場合はErrInvalidCredentialsを返す。
func (d *Directory) Authenticate(ctx context.Context, username, password string) error {
	var hash string
	err := d.db.QueryRowContext(ctx,
		`SELECT password_hash FROM users WHERE username = ?`, username).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrInvalidCredentials
	}
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// GroupsOf はユーザーが所属するグループ名をグループ名順で返す。
// どのグループにも所属しない場合は空スライスを返す。
func (d *Directory) GroupsOf(ctx context.Context, username string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT group_name FROM user_groups WHERE username = ? ORDER BY group_name`, username)
	if err != nil {
		return nil, fmt.Errorf("所属グループの取得に失敗: %w", err)
	}
	defer rows.Close()

	groups := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("所属グループの読み取りに失敗: %w", err)
		}
		groups = append(groups, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("所属グループの走査に失敗: %w", err)
	}
	return groups, nil
}

// IsMember はユーザーが指定グループに所属しているかどうかを返す。
func (d *Directory) IsMember(ctx context.Context, username, groupName string) (bool, error) {
	var exists int
	err := d.db.QueryRowContext(ctx,
		`SELECT 1 FROM user_groups WHERE username = ? AND group_name = ?`, username, groupName).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("所属関係の確認に失敗: %w", err)
	}
	return true, nil
}

// GroupExists は指定された名前のグループが存在するかどうかを返す。
func (d *Directory) GroupExists(ctx context.Context, groupName string) (bool, error) {
	var exists int
	err := d.db.QueryRowContext(ctx,
		`SELECT 1 FROM groups WHERE name = ?`, groupName).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("グループの確認に失敗: %w", err)
	}
	return true, nil
}

// CreateGroup はグループを作成する。既に存在する場合は何もしない。
func (d *Directory) CreateGroup(ctx context.Context, name string) error {
	if _, err := d.db.ExecContext(ctx,
		`INSERT INTO groups (name) VALUES (?) ON CONFLICT(name) DO NOTHING`, name); err != nil {
		return fmt.Errorf("グループの作成に失敗: %w", err)
	}
	return nil
}

// CreateUser はユーザーを作成する。パスワードはbcryptでハッシュ化して保存する。
// 既に存在する場合はパスワードを更新する。
func (d *Directory) CreateUser(ctx context.Context, username, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("パスワードのハッシュ化に失敗: %w", err)
	}

	if _, err := d.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash) VALUES (?, ?)
		ON CONFLICT(username) DO UPDATE SET password_hash = excluded.password_hash`,
		username, string(hash)); err != nil {
		return fmt.Errorf("ユーザーの作成に失敗: %w", err)
	}
	return nil
}

// AddUserToGroup はユーザーをグループに所属させる。既に所属している場合は何もしない。
func (d *Directory) AddUserToGroup(ctx context.Context, username, groupName string) error {
	if _, err := d.db.ExecContext(ctx, `
		INSERT INTO user_groups (username, group_name) VALUES (?, ?)
		ON CONFLICT(username, group_name) DO NOTHING`,
		username, groupName); err != nil {
		return fmt.Errorf("グループへの所属追加に失敗: %w", err)
	}
	return nil
}
