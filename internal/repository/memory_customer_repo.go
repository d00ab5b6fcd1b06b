package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/crmdesk/internal/model"
)

// MemoryCustomerRepo はインメモリの顧客リポジトリ。
// テストとローカル開発用。CustomerRepositoryの契約はPostgreSQL実装と同一。
type MemoryCustomerRepo struct {
	mu        sync.RWMutex
	customers map[int64]*model.Customer
	nextID    int64
}

// NewMemoryCustomerRepo はMemoryCustomerRepoを生成する。
func NewMemoryCustomerRepo() *MemoryCustomerRepo {
	return &MemoryCustomerRepo{
		customers: make(map[int64]*model.Customer),
		nextID:    1,
	}
}

// List は指定ページの顧客一覧と総件数を返す。
// created_at降順（同時刻はid降順）でソートする。
func (r *MemoryCustomerRepo) List(ctx context.Context, page, limit int) ([]*model.Customer, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*model.Customer, 0, len(r.customers))
	for _, c := range r.customers {
		all = append(all, c)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})

	total := len(all)
	offset := (page - 1) * limit
	if offset >= total {
		return []*model.Customer{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}

	pageItems := make([]*model.Customer, 0, end-offset)
	for _, c := range all[offset:end] {
		pageItems = append(pageItems, copyCustomer(c))
	}
	return pageItems, total, nil
}

// FindByID は指定IDの顧客を取得する。見つからない場合はnilを返す。
func (r *MemoryCustomerRepo) FindByID(ctx context.Context, id int64) (*model.Customer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.customers[id]
	if !ok {
		return nil, nil
	}
	return copyCustomer(c), nil
}

// Create は顧客を作成する。IDは連番で採番する。
func (r *MemoryCustomerRepo) Create(ctx context.Context, draft model.CustomerDraft) (*model.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	c := &model.Customer{
		ID:        r.nextID,
		Name:      draft.Name,
		Email:     draft.Email,
		Phone:     draft.Phone,
		Company:   draft.Company,
		Notes:     draft.Notes,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.nextID++
	r.customers[c.ID] = c

	return copyCustomer(c), nil
}

// Update は指定されたフィールドのみを上書きするcoalesce更新を行う。
// 更新対象行が存在しない場合はnilを返す。
func (r *MemoryCustomerRepo) Update(ctx context.Context, id int64, patch model.CustomerPatch) (*model.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.customers[id]
	if !ok {
		return nil, nil
	}

	if patch.Name != nil {
		c.Name = *patch.Name
	}
	if patch.Email != nil {
		c.Email = *patch.Email
	}
	if patch.Phone != nil {
		c.Phone = *patch.Phone
	}
	if patch.Company != nil {
		c.Company = *patch.Company
	}
	if patch.Notes != nil {
		c.Notes = *patch.Notes
	}
	c.UpdatedAt = time.Now()

	return copyCustomer(c), nil
}

// Delete は指定IDの顧客を削除し、削除したレコードを返す。
// 対象行が存在しない場合はnilを返す。
func (r *MemoryCustomerRepo) Delete(ctx context.Context, id int64) (*model.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.customers[id]
	if !ok {
		return nil, nil
	}
	delete(r.customers, id)

	return copyCustomer(c), nil
}

// Stats はダッシュボード向けの集計値を返す。
func (r *MemoryCustomerRepo) Stats(ctx context.Context) (model.CustomerStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := model.CustomerStats{Total: len(r.customers)}
	threshold := time.Now().AddDate(0, 0, -30)
	for _, c := range r.customers {
		if c.Email != "" {
			stats.WithEmail++
		}
		if c.Phone != "" {
			stats.WithPhone++
		}
		if c.CreatedAt.After(threshold) {
			stats.NewLast30Days++
		}
	}

	return stats, nil
}

// Seed は初期データの顧客レコードを一括投入する。
func (r *MemoryCustomerRepo) Seed(ctx context.Context, drafts []model.CustomerDraft) error {
	for _, d := range drafts {
		if _, err := r.Create(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

// copyCustomer は呼び出し元による変更から内部状態を守るための複製を返す。
func copyCustomer(c *model.Customer) *model.Customer {
	clone := *c
	return &clone
}

// compile-time interface check
var _ CustomerRepository = (*MemoryCustomerRepo)(nil)
