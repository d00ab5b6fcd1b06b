package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/hitoshi/crmdesk/internal/model"
)

// customerColumns は顧客レコードのSELECT句。全クエリで同じ並びを使用する。
const customerColumns = "id, name, email, phone, company, notes, created_at, updated_at"

// PostgresCustomerRepo はPostgreSQLを使用した顧客リポジトリ。
type PostgresCustomerRepo struct {
	db *sql.DB
}

// NewPostgresCustomerRepo はPostgresCustomerRepoを生成する。
func NewPostgresCustomerRepo(db *sql.DB) *PostgresCustomerRepo {
	return &PostgresCustomerRepo{db: db}
}

// List は指定ページの顧客一覧と総件数を返す。
// 読み取り系のためストア障害時は空の結果に縮退し、エラーにはしない。
// ダッシュボードの可用性を正確なエラー通知より優先する設計判断。
func (r *PostgresCustomerRepo) List(ctx context.Context, page, limit int) ([]*model.Customer, int, error) {
	offset := (page - 1) * limit

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+customerColumns+`
		 FROM customers
		 ORDER BY created_at DESC, id DESC
		 LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		slog.Warn("customer list degraded to empty result",
			slog.String("error", err.Error()),
		)
		return []*model.Customer{}, 0, nil
	}
	defer rows.Close()

	customers := []*model.Customer{}
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan customer row: %w", err)
		}
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		slog.Warn("customer list degraded to empty result",
			slog.String("error", err.Error()),
		)
		return []*model.Customer{}, 0, nil
	}

	var total int
	err = r.db.QueryRowContext(ctx, `SELECT count(*) FROM customers`).Scan(&total)
	if err != nil {
		slog.Warn("customer count degraded to zero",
			slog.String("error", err.Error()),
		)
		return []*model.Customer{}, 0, nil
	}

	return customers, total, nil
}

// FindByID は指定IDの顧客を取得する。見つからない場合はnilを返す。
func (r *PostgresCustomerRepo) FindByID(ctx context.Context, id int64) (*model.Customer, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE id = $1`,
		id,
	)

	c, err := scanCustomer(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find customer by ID: %w", err)
	}

	return c, nil
}

// Create は顧客を作成する。生成されたIDとタイムスタンプを含むレコードを返す。
// 書き込み系のため障害はそのまま呼び出し元に伝播させる。
func (r *PostgresCustomerRepo) Create(ctx context.Context, draft model.CustomerDraft) (*model.Customer, error) {
	row := r.db.QueryRowContext(ctx,
		`INSERT INTO customers (name, email, phone, company, notes)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+customerColumns,
		draft.Name, draft.Email, draft.Phone, draft.Company, draft.Notes,
	)

	c, err := scanCustomer(row)
	if err != nil {
		return nil, fmt.Errorf("failed to insert customer: %w", err)
	}

	return c, nil
}

// Update は指定されたフィールドのみを上書きするcoalesce更新を行う。
// nilのフィールドはCOALESCEにより保存済みの値を維持する。
// 更新対象行が存在しない場合はnilを返す。
func (r *PostgresCustomerRepo) Update(ctx context.Context, id int64, patch model.CustomerPatch) (*model.Customer, error) {
	row := r.db.QueryRowContext(ctx,
		`UPDATE customers SET
		   name       = COALESCE($2, name),
		   email      = COALESCE($3, email),
		   phone      = COALESCE($4, phone),
		   company    = COALESCE($5, company),
		   notes      = COALESCE($6, notes),
		   updated_at = now()
		 WHERE id = $1
		 RETURNING `+customerColumns,
		id, patch.Name, patch.Email, patch.Phone, patch.Company, patch.Notes,
	)

	c, err := scanCustomer(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update customer: %w", err)
	}

	return c, nil
}

// Delete は指定IDの顧客を削除し、削除したレコードを返す。
// 対象行が存在しない場合はnilを返す。
func (r *PostgresCustomerRepo) Delete(ctx context.Context, id int64) (*model.Customer, error) {
	row := r.db.QueryRowContext(ctx,
		`DELETE FROM customers WHERE id = $1
		 RETURNING `+customerColumns,
		id,
	)

	c, err := scanCustomer(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to delete customer: %w", err)
	}

	return c, nil
}

// Stats はダッシュボード向けの集計値を返す。
// 読み取り系のためストア障害時はゼロ値に縮退する。
func (r *PostgresCustomerRepo) Stats(ctx context.Context) (model.CustomerStats, error) {
	var stats model.CustomerStats
	err := r.db.QueryRowContext(ctx,
		`SELECT
		   count(*),
		   count(*) FILTER (WHERE email <> ''),
		   count(*) FILTER (WHERE phone <> ''),
		   count(*) FILTER (WHERE created_at > now() - interval '30 days')
		 FROM customers`,
	).Scan(&stats.Total, &stats.WithEmail, &stats.WithPhone, &stats.NewLast30Days)
	if err != nil {
		slog.Warn("customer stats degraded to zero values",
			slog.String("error", err.Error()),
		)
		return model.CustomerStats{}, nil
	}

	return stats, nil
}

// Seed は初期データの顧客レコードを一括投入する。
// 1レコードずつ同一トランザクション内でINSERTする。
func (r *PostgresCustomerRepo) Seed(ctx context.Context, drafts []model.CustomerDraft) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, d := range drafts {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO customers (name, email, phone, company, notes)
			 VALUES ($1, $2, $3, $4, $5)`,
			d.Name, d.Email, d.Phone, d.Company, d.Notes,
		)
		if err != nil {
			return fmt.Errorf("failed to insert seed customer: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// rowScanner は*sql.Rowと*sql.Rowsの共通部分。
type rowScanner interface {
	Scan(dest ...any) error
}

// scanCustomer は1行分の顧客レコードを読み取る。
func scanCustomer(row rowScanner) (*model.Customer, error) {
	c := &model.Customer{}
	err := row.Scan(
		&c.ID, &c.Name, &c.Email, &c.Phone, &c.Company, &c.Notes,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// compile-time interface check
var _ CustomerRepository = (*PostgresCustomerRepo)(nil)
