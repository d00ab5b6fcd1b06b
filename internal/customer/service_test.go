package customer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hitoshi/crmdesk/internal/model"
	"github.com/hitoshi/crmdesk/internal/repository"
)

// --- モック定義 ---

type mockCustomerRepo struct {
	listFn     func(ctx context.Context, page, limit int) ([]*model.Customer, int, error)
	findByIDFn func(ctx context.Context, id int64) (*model.Customer, error)
	createFn   func(ctx context.Context, draft model.CustomerDraft) (*model.Customer, error)
	updateFn   func(ctx context.Context, id int64, patch model.CustomerPatch) (*model.Customer, error)
	deleteFn   func(ctx context.Context, id int64) (*model.Customer, error)
	statsFn    func(ctx context.Context) (model.CustomerStats, error)
	seedFn     func(ctx context.Context, drafts []model.CustomerDraft) error
}

func (m *mockCustomerRepo) List(ctx context.Context, page, limit int) ([]*model.Customer, int, error) {
	if m.listFn != nil {
		return m.listFn(ctx, page, limit)
	}
	return []*model.Customer{}, 0, nil
}

func (m *mockCustomerRepo) FindByID(ctx context.Context, id int64) (*model.Customer, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockCustomerRepo) Create(ctx context.Context, draft model.CustomerDraft) (*model.Customer, error) {
	if m.createFn != nil {
		return m.createFn(ctx, draft)
	}
	return &model.Customer{ID: 1, Name: draft.Name}, nil
}

func (m *mockCustomerRepo) Update(ctx context.Context, id int64, patch model.CustomerPatch) (*model.Customer, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, id, patch)
	}
	return &model.Customer{ID: id}, nil
}

func (m *mockCustomerRepo) Delete(ctx context.Context, id int64) (*model.Customer, error) {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return &model.Customer{ID: id}, nil
}

func (m *mockCustomerRepo) Stats(ctx context.Context) (model.CustomerStats, error) {
	if m.statsFn != nil {
		return m.statsFn(ctx)
	}
	return model.CustomerStats{}, nil
}

func (m *mockCustomerRepo) Seed(ctx context.Context, drafts []model.CustomerDraft) error {
	if m.seedFn != nil {
		return m.seedFn(ctx, drafts)
	}
	return nil
}

// --- テスト ---

func TestService_List_NormalizesPageAndLimit(t *testing.T) {
	var gotPage, gotLimit int
	repo := &mockCustomerRepo{
		listFn: func(ctx context.Context, page, limit int) ([]*model.Customer, int, error) {
			gotPage, gotLimit = page, limit
			return []*model.Customer{}, 0, nil
		},
	}
	svc := NewService(repo, nil)

	if _, err := svc.List(context.Background(), 0, -5); err != nil {
		t.Fatalf("List() error = %v", err)
	}

	if gotPage != 1 || gotLimit != 10 {
		t.Errorf("repo received page=%d limit=%d, want 1 and 10", gotPage, gotLimit)
	}
}

func TestService_List_TotalPagesIsCeiling(t *testing.T) {
	repo := &mockCustomerRepo{
		listFn: func(ctx context.Context, page, limit int) ([]*model.Customer, int, error) {
			return []*model.Customer{}, 25, nil
		},
	}
	svc := NewService(repo, nil)

	result, err := svc.List(context.Background(), 1, 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}

	if result.TotalPages != 3 {
		t.Errorf("TotalPages = %d, want 3 (ceil(25/10))", result.TotalPages)
	}
	if result.Total != 25 {
		t.Errorf("Total = %d, want 25", result.Total)
	}
}

func TestService_Get_InvalidID(t *testing.T) {
	svc := NewService(&mockCustomerRepo{}, nil)

	for _, id := range []int64{0, -1} {
		_, err := svc.Get(context.Background(), id)
		var apiErr *model.APIError
		if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeValidationFailed {
			t.Errorf("Get(%d) error = %v, want validation error", id, err)
		}
	}
}

func TestService_Get_NotFound(t *testing.T) {
	svc := NewService(&mockCustomerRepo{}, nil)

	_, err := svc.Get(context.Background(), 99)
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeCustomerNotFound {
		t.Errorf("Get() error = %v, want CUSTOMER_NOT_FOUND", err)
	}
}

func TestService_Create_EmptyNameRejectedWithoutPersisting(t *testing.T) {
	created := false
	repo := &mockCustomerRepo{
		createFn: func(ctx context.Context, draft model.CustomerDraft) (*model.Customer, error) {
			created = true
			return &model.Customer{ID: 1}, nil
		},
	}
	svc := NewService(repo, nil)

	for _, name := range []string{"", "   ", "\t\n"} {
		_, err := svc.Create(context.Background(), model.CustomerDraft{Name: name})
		var apiErr *model.APIError
		if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeValidationFailed {
			t.Errorf("Create(name=%q) error = %v, want validation error", name, err)
		}
	}

	if created {
		t.Error("expected repository Create to never be called for invalid input")
	}
}

func TestService_Create_InvalidEmailRejected(t *testing.T) {
	svc := NewService(&mockCustomerRepo{}, nil)

	_, err := svc.Create(context.Background(), model.CustomerDraft{
		Name:  "王小明",
		Email: "not-an-email",
	})
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeValidationFailed {
		t.Errorf("Create() error = %v, want validation error", err)
	}
}

func TestService_Create_SanitizesFreeTextFields(t *testing.T) {
	var gotDraft model.CustomerDraft
	repo := &mockCustomerRepo{
		createFn: func(ctx context.Context, draft model.CustomerDraft) (*model.Customer, error) {
			gotDraft = draft
			return &model.Customer{ID: 1, Name: draft.Name}, nil
		},
	}
	svc := NewService(repo, nil)

	_, err := svc.Create(context.Background(), model.CustomerDraft{
		Name:  "王小明<script>alert(1)</script>",
		Notes: "<img src=x onerror=alert(1)>備考",
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if strings.Contains(gotDraft.Name, "<script>") {
		t.Errorf("Name = %q, script tag should be stripped", gotDraft.Name)
	}
	if strings.Contains(gotDraft.Notes, "<img") {
		t.Errorf("Notes = %q, img tag should be stripped", gotDraft.Notes)
	}
	if !strings.Contains(gotDraft.Notes, "備考") {
		t.Errorf("Notes = %q, plain text should survive sanitization", gotDraft.Notes)
	}
}

func TestService_Update_EmptyNameRejected(t *testing.T) {
	svc := NewService(&mockCustomerRepo{}, nil)

	empty := "   "
	_, err := svc.Update(context.Background(), 1, model.CustomerPatch{Name: &empty})
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeValidationFailed {
		t.Errorf("Update() error = %v, want validation error", err)
	}
}

func TestService_Update_OnlySpecifiedFieldsForwarded(t *testing.T) {
	var gotPatch model.CustomerPatch
	repo := &mockCustomerRepo{
		updateFn: func(ctx context.Context, id int64, patch model.CustomerPatch) (*model.Customer, error) {
			gotPatch = patch
			return &model.Customer{ID: id}, nil
		},
	}
	svc := NewService(repo, nil)

	phone := "0912-345-678"
	if _, err := svc.Update(context.Background(), 1, model.CustomerPatch{Phone: &phone}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	if gotPatch.Phone == nil || *gotPatch.Phone != phone {
		t.Errorf("Phone = %v, want %q", gotPatch.Phone, phone)
	}
	if gotPatch.Name != nil || gotPatch.Email != nil || gotPatch.Company != nil || gotPatch.Notes != nil {
		t.Error("expected unspecified fields to stay nil in patch")
	}
}

func TestService_Update_NotFound(t *testing.T) {
	svc := NewService(&mockCustomerRepo{
		updateFn: func(ctx context.Context, id int64, patch model.CustomerPatch) (*model.Customer, error) {
			return nil, nil
		},
	}, nil)

	name := "新しい名前"
	_, err := svc.Update(context.Background(), 42, model.CustomerPatch{Name: &name})
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeCustomerNotFound {
		t.Errorf("Update() error = %v, want CUSTOMER_NOT_FOUND", err)
	}
}

func TestService_Delete_NotFound(t *testing.T) {
	svc := NewService(&mockCustomerRepo{
		deleteFn: func(ctx context.Context, id int64) (*model.Customer, error) {
			return nil, nil
		},
	}, nil)

	_, err := svc.Delete(context.Background(), 42)
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeCustomerNotFound {
		t.Errorf("Delete() error = %v, want CUSTOMER_NOT_FOUND", err)
	}
}

func TestService_Stats(t *testing.T) {
	svc := NewService(&mockCustomerRepo{
		statsFn: func(ctx context.Context) (model.CustomerStats, error) {
			return model.CustomerStats{Total: 5, WithEmail: 4, WithPhone: 3, NewLast30Days: 2}, nil
		},
	}, nil)

	stats, err := svc.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Total != 5 || stats.WithEmail != 4 || stats.WithPhone != 3 || stats.NewLast30Days != 2 {
		t.Errorf("Stats() = %+v, unexpected values", stats)
	}
}

func TestService_Seed_InsertsFiveDefaultCustomers(t *testing.T) {
	var gotDrafts []model.CustomerDraft
	svc := NewService(&mockCustomerRepo{
		seedFn: func(ctx context.Context, drafts []model.CustomerDraft) error {
			gotDrafts = drafts
			return nil
		},
	}, nil)

	if err := svc.Seed(context.Background()); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}

	if len(gotDrafts) != 5 {
		t.Fatalf("len(drafts) = %d, want 5", len(gotDrafts))
	}
	if gotDrafts[0].Name != "台灣科技公司" {
		t.Errorf("drafts[0].Name = %q, want 台灣科技公司", gotDrafts[0].Name)
	}
}

// 顧客登録から削除までの一連の操作をインメモリリポジトリで検証する。
func TestService_CustomerLifecycle(t *testing.T) {
	ctx := context.Background()
	svc := NewService(repository.NewMemoryCustomerRepo(), nil)

	// 作成
	created, err := svc.Create(ctx, model.CustomerDraft{
		Name:    "王小明",
		Email:   "wang.xiaoming@email.com",
		Phone:   "0912-345-678",
		Company: "個人",
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// 取得
	got, err := svc.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Name != "王小明" || got.Phone != "0912-345-678" {
		t.Errorf("Get() = %+v, round trip mismatch", got)
	}

	// 電話番号のみ更新（他フィールドは維持される）
	newPhone := "0987-654-321"
	updated, err := svc.Update(ctx, created.ID, model.CustomerPatch{Phone: &newPhone})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.Phone != newPhone {
		t.Errorf("Phone = %q, want %q", updated.Phone, newPhone)
	}
	if updated.Name != "王小明" || updated.Email != "wang.xiaoming@email.com" {
		t.Errorf("unspecified fields changed: %+v", updated)
	}

	// 削除後の取得はCUSTOMER_NOT_FOUND
	if _, err := svc.Delete(ctx, created.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	_, err = svc.Get(ctx, created.ID)
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeCustomerNotFound {
		t.Errorf("Get() after delete error = %v, want CUSTOMER_NOT_FOUND", err)
	}
}

// mockOpsRecorder は記録された操作名を蓄積する。
type mockOpsRecorder struct {
	ops []string
}

func (m *mockOpsRecorder) RecordCustomerOp(op string) {
	m.ops = append(m.ops, op)
}

func TestService_RecordsMutationOps(t *testing.T) {
	recorder := &mockOpsRecorder{}
	svc := NewService(repository.NewMemoryCustomerRepo(), recorder)
	ctx := context.Background()

	created, err := svc.Create(ctx, model.CustomerDraft{Name: "王小明"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	newPhone := "0912-345-678"
	if _, err := svc.Update(ctx, created.ID, model.CustomerPatch{Phone: &newPhone}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if _, err := svc.Delete(ctx, created.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := svc.Seed(ctx); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}

	want := []string{"create", "update", "delete", "seed"}
	if len(recorder.ops) != len(want) {
		t.Fatalf("recorded ops = %v, want %v", recorder.ops, want)
	}
	for i, op := range want {
		if recorder.ops[i] != op {
			t.Errorf("ops[%d] = %q, want %q", i, recorder.ops[i], op)
		}
	}
}

func TestService_DoesNotRecordFailedMutations(t *testing.T) {
	recorder := &mockOpsRecorder{}
	svc := NewService(repository.NewMemoryCustomerRepo(), recorder)

	// 検証エラーおよび対象不在の操作はメトリクスに計上しない
	if _, err := svc.Create(context.Background(), model.CustomerDraft{Name: ""}); err == nil {
		t.Fatal("expected validation error")
	}
	if _, err := svc.Delete(context.Background(), 999); err == nil {
		t.Fatal("expected not found error")
	}

	if len(recorder.ops) != 0 {
		t.Errorf("recorded ops = %v, want none", recorder.ops)
	}
}
