// Package directory はユーザー・グループ・所属関係の管理を提供する。
//
// Brokerから見た外部コラボレーターであり、ログイン認証（bcrypt）、
// グループ所属の照会、グループの存在確認を担う。
// 通知のルーティング規則自体はroutingパッケージが持ち、
// このパッケージは誰がどのグループに居るかだけを扱う。
package directory
