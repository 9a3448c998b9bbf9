// Package routing はグループ間の通知ルーティング規則を提供する。
//
// ルーティングは静的な対称ペアの集合として構成時に固定され、
// 実行時に変更されることはない。照会は純粋な読み取りであり
// 副作用を持たない。
package routing

// Pair は相互に通知を送り合えるグループの組を表す。
type Pair struct {
	// A は組の一方のグループ名。
	A string
	// B は組のもう一方のグループ名。
	B string
}

// Table はグループ名から対応グループ名への対称な対応表。
type Table struct {
	// partners はグループ名から対応グループ名への両方向の対応。
	partners map[string]string
}

// NewTable はペアの集合から対応表を構築する。
// {A, B} を宣言すると A→B と B→A の両方向が登録される。
func NewTable(pairs []Pair) *Table {
	partners := make(map[string]string, len(pairs)*2)
	for _, p := range pairs {
		partners[p.A] = p.B
		partners[p.B] = p.A
	}
	return &Table{partners: partners}
}

// DefaultTable は運営組と財務組の標準的な対応表を返す。
// 運営一組は財務一組と、運営二組は財務二組と対応する。
func DefaultTable() *Table {
	return NewTable([]Pair{
		{A: "operations_group_1", B: "finance_group_1"},
		{A: "operations_group_2", B: "finance_group_2"},
	})
}

// CorrespondingGroup は指定グループの対応グループ名を返す。
// 対応が宣言されていない場合は二値目がfalseとなる。
func (t *Table) CorrespondingGroup(groupName string) (string, bool) {
	partner, ok := t.partners[groupName]
	return partner, ok
}

// IsPaired は2つのグループが対応関係にあるかどうかを返す。
func (t *Table) IsPaired(groupA, groupB string) bool {
	partner, ok := t.partners[groupA]
	return ok && partner == groupB
}
