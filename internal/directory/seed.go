package directory

import (
	"context"
	"fmt"
	"log"
)

// seedUser はデモ用の初期ユーザー定義。
type seedUser struct {
	// username はユーザー名。
	username string
	// group は所属先グループ名。
	group string
}

// Seed はデモ用のグループとユーザーを作成する。
// 運営一・二組と財務一・二組、および各組1名のユーザー
// （op1 / op2 / fin1 / fin2、パスワードはいずれもpassword123）を
// 冪等に登録する。
func (d *Directory) Seed(ctx context.Context) error {
	groups := []string{
		"operations_group_1",
		"operations_group_2",
		"finance_group_1",
		"finance_group_2",
	}
	for _, g := range groups {
		if err := d.CreateGroup(ctx, g); err != nil {
			return fmt.Errorf("グループ %s の作成に失敗: %w", g, err)
		}
	}

	users := []seedUser{
		{username: "op1", group: "operations_group_1"},
		{username: "op2", group: "operations_group_2"},
		{username: "fin1", group: "finance_group_1"},
		{username: "fin2", group: "finance_group_2"},
	}
	for _, u := range users {
		if err := d.CreateUser(ctx, u.username, "password123"); err != nil {
			return fmt.Errorf("ユーザー %s の作成に失敗: %w", u.username, err)
		}
		if err := d.AddUserToGroup(ctx, u.username, u.group); err != nil {
			return fmt.Errorf("ユーザー %s の所属追加に失敗: %w", u.username, err)
		}
		log.Printf("[Seed] ユーザー %s をグループ %s に登録しました", u.username, u.group)
	}

	return nil
}
