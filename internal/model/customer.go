package model

import "time"

// Customer は顧客レコードを表す。
// Nameは常に非空。その他のテキスト項目は未指定時に空文字列となる。
type Customer struct {
	ID        int64
	Name      string
	Email     string
	Phone     string
	Company   string
	Notes     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CustomerDraft は顧客作成の入力を表す。
// Name以外は省略可能で、省略時は空文字列として保存される。
type CustomerDraft struct {
	Name    string
	Email   string
	Phone   string
	Company string
	Notes   string
}

// CustomerPatch は顧客の部分更新を表す。
// nilのフィールドは更新対象外となり、保存済みの値を維持する（coalesce更新）。
type CustomerPatch struct {
	Name    *string
	Email   *string
	Phone   *string
	Company *string
	Notes   *string
}

// Empty は更新対象のフィールドが1つも指定されていないかを返す。
func (p *CustomerPatch) Empty() bool {
	return p.Name == nil && p.Email == nil && p.Phone == nil && p.Company == nil && p.Notes == nil
}

// CustomerPage は顧客一覧の1ページ分と総件数を表す。
type CustomerPage struct {
	Customers  []*Customer
	Total      int
	Page       int
	Limit      int
	TotalPages int
}

// CustomerStats はダッシュボード向けの集計値を表す。
type CustomerStats struct {
	Total         int
	WithEmail     int
	WithPhone     int
	NewLast30Days int
}
