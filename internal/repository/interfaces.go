// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/crmdesk/internal/model"
)

// CustomerRepository は顧客データの永続化インターフェース。
// 本番はPostgreSQL実装、テスト・開発はインメモリ実装で差し替える。
type CustomerRepository interface {
	// List は指定ページの顧客一覧と総件数を返す。
	// created_at降順（同時刻はid降順）で安定ソートされる。
	// ストア障害時は空スライスと総件数0を返し、エラーにはしない。
	List(ctx context.Context, page, limit int) ([]*model.Customer, int, error)

	// FindByID は指定IDの顧客を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.Customer, error)

	// Create は顧客を作成し、生成されたIDとタイムスタンプを含むレコードを返す。
	Create(ctx context.Context, draft model.CustomerDraft) (*model.Customer, error)

	// Update は指定されたフィールドのみを上書きするcoalesce更新を行う。
	// 更新対象行が存在しない場合はnilを返す。
	Update(ctx context.Context, id int64, patch model.CustomerPatch) (*model.Customer, error)

	// Delete は指定IDの顧客を削除し、削除したレコードを返す。
	// 対象行が存在しない場合はnilを返す。
	Delete(ctx context.Context, id int64) (*model.Customer, error)

	// Stats はダッシュボード向けの集計値を返す。
	// ストア障害時はゼロ値を返し、エラーにはしない。
	Stats(ctx context.Context) (model.CustomerStats, error)

	// Seed は初期データの顧客レコードを一括投入する。
	Seed(ctx context.Context, drafts []model.CustomerDraft) error
}

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定ID（外部IdPのsubject識別子）のユーザーを取得する。
	// 見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// Upsert はユーザーをsubject識別子をキーに冪等に作成・更新する。
	// 既存行がある場合はemail/name/pictureとupdated_at、last_signed_inを更新する。
	Upsert(ctx context.Context, user *model.User) (*model.User, error)
}
