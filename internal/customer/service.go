// Package customer は顧客管理のビジネスロジックを提供する。
package customer

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hitoshi/crmdesk/internal/model"
	"github.com/hitoshi/crmdesk/internal/repository"
)

const (
	defaultPage  = 1
	defaultLimit = 10
)

// OpsRecorder は顧客操作のメトリクス記録インターフェース。
// metrics.Collectorの部分集合として定義する。
type OpsRecorder interface {
	RecordCustomerOp(op string)
}

// Service は顧客管理のビジネスロジックを提供する。
// 入力検証・空文字列への既定値補完・フリーテキストのサニタイズを行い、
// 永続化はリポジトリに委譲する。
type Service struct {
	repo      repository.CustomerRepository
	sanitizer *bluemonday.Policy
	recorder  OpsRecorder
}

// NewService はServiceを生成する。
// フリーテキスト項目はStrictPolicyで全HTMLタグを除去して保存する。
// recorderはnilでもよい（メトリクス収集なし）。
func NewService(repo repository.CustomerRepository, recorder OpsRecorder) *Service {
	return &Service{
		repo:      repo,
		sanitizer: bluemonday.StrictPolicy(),
		recorder:  recorder,
	}
}

// record は操作メトリクスを記録する。recorder未設定時は何もしない。
func (s *Service) record(op string) {
	if s.recorder != nil {
		s.recorder.RecordCustomerOp(op)
	}
}

// List は指定ページの顧客一覧を返す。
// page・limitが未指定または不正な場合は既定値（1ページ目・10件）に補正する。
// 総ページ数は ceil(total / limit) で算出する。
func (s *Service) List(ctx context.Context, page, limit int) (*model.CustomerPage, error) {
	if page < 1 {
		page = defaultPage
	}
	if limit < 1 {
		limit = defaultLimit
	}

	customers, total, err := s.repo.List(ctx, page, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}

	totalPages := (total + limit - 1) / limit

	return &model.CustomerPage{
		Customers:  customers,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: totalPages,
	}, nil
}

// Get は指定IDの顧客を取得する。見つからない場合はCUSTOMER_NOT_FOUNDを返す。
func (s *Service) Get(ctx context.Context, id int64) (*model.Customer, error) {
	if id < 1 {
		return nil, model.NewValidationError("顧客IDは正の整数で指定してください")
	}

	c, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}
	if c == nil {
		return nil, model.NewCustomerNotFoundError(id)
	}

	return c, nil
}

// Create は顧客を作成する。
// Nameは必須。その他の項目は未指定時に空文字列として保存される。
// 検証に失敗した場合は永続化を行わない。
func (s *Service) Create(ctx context.Context, draft model.CustomerDraft) (*model.Customer, error) {
	draft.Name = strings.TrimSpace(draft.Name)
	if draft.Name == "" {
		return nil, model.NewValidationError("名前は必須です")
	}
	if draft.Email != "" {
		if _, err := mail.ParseAddress(draft.Email); err != nil {
			return nil, model.NewValidationError("メールアドレスの形式が不正です")
		}
	}

	draft.Name = s.sanitizer.Sanitize(draft.Name)
	draft.Company = s.sanitizer.Sanitize(draft.Company)
	draft.Notes = s.sanitizer.Sanitize(draft.Notes)

	c, err := s.repo.Create(ctx, draft)
	if err != nil {
		return nil, fmt.Errorf("failed to create customer: %w", err)
	}

	s.record("create")
	return c, nil
}

// Update は指定されたフィールドのみを上書きするcoalesce更新を行う。
// 未指定のフィールドは保存済みの値を維持する。
func (s *Service) Update(ctx context.Context, id int64, patch model.CustomerPatch) (*model.Customer, error) {
	if id < 1 {
		return nil, model.NewValidationError("顧客IDは正の整数で指定してください")
	}
	if patch.Name != nil {
		trimmed := strings.TrimSpace(*patch.Name)
		if trimmed == "" {
			return nil, model.NewValidationError("名前を空にすることはできません")
		}
		sanitized := s.sanitizer.Sanitize(trimmed)
		patch.Name = &sanitized
	}
	if patch.Email != nil && *patch.Email != "" {
		if _, err := mail.ParseAddress(*patch.Email); err != nil {
			return nil, model.NewValidationError("メールアドレスの形式が不正です")
		}
	}
	if patch.Company != nil {
		sanitized := s.sanitizer.Sanitize(*patch.Company)
		patch.Company = &sanitized
	}
	if patch.Notes != nil {
		sanitized := s.sanitizer.Sanitize(*patch.Notes)
		patch.Notes = &sanitized
	}

	c, err := s.repo.Update(ctx, id, patch)
	if err != nil {
		return nil, fmt.Errorf("failed to update customer: %w", err)
	}
	if c == nil {
		return nil, model.NewCustomerNotFoundError(id)
	}

	s.record("update")
	return c, nil
}

// Delete は指定IDの顧客を削除し、削除したレコードを返す。
func (s *Service) Delete(ctx context.Context, id int64) (*model.Customer, error) {
	if id < 1 {
		return nil, model.NewValidationError("顧客IDは正の整数で指定してください")
	}

	c, err := s.repo.Delete(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to delete customer: %w", err)
	}
	if c == nil {
		return nil, model.NewCustomerNotFoundError(id)
	}

	s.record("delete")
	return c, nil
}

// Stats はダッシュボード向けの集計値を返す。
func (s *Service) Stats(ctx context.Context) (model.CustomerStats, error) {
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return model.CustomerStats{}, fmt.Errorf("failed to get customer stats: %w", err)
	}
	return stats, nil
}

// seedCustomers はデモ用の初期顧客データ。
var seedCustomers = []model.CustomerDraft{
	{
		Name:    "台灣科技公司",
		Email:   "info@techcorp.tw",
		Phone:   "02-1234-5678",
		Company: "TechCorp Taiwan",
		Notes:   "重點客戶，確認待收款",
	},
	{
		Name:    "創意設計工作室",
		Email:   "contact@creativestudio.tw",
		Phone:   "02-8765-4321",
		Company: "Creative Studio",
		Notes:   "優質客戶，需要定期跟進",
	},
	{
		Name:    "綠色環保公司",
		Email:   "hello@greeneco.tw",
		Phone:   "03-5555-6666",
		Company: "Green Eco",
		Notes:   "普通客戶，持續跟進",
	},
	{
		Name:    "王小明",
		Email:   "wang.xiaoming@email.com",
		Phone:   "0912-345-678",
		Company: "個人",
		Notes:   "個人客戶，需要培養",
	},
	{
		Name:    "李美麗",
		Email:   "li.meili@email.com",
		Phone:   "0913-456-789",
		Company: "個人",
		Notes:   "個人客戶，有購買潛力",
	},
}

// Seed はデモ用の初期顧客データを投入する。
func (s *Service) Seed(ctx context.Context) error {
	if err := s.repo.Seed(ctx, seedCustomers); err != nil {
		return fmt.Errorf("failed to seed customers: %w", err)
	}
	s.record("seed")
	return nil
}
