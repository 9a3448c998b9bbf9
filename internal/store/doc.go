// Package store は通知レコードの永続化層を提供する。
//
// 通知はSQLiteに保存され、pending → confirmed の一方向の
// 状態遷移のみを許す。確認操作はデータベースレベルの
// 条件付きUPDATEで直列化され、同一通知への並行確認は
// ちょうど1つだけ成功する。
package store
