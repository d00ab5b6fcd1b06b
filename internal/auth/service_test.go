package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/crmdesk/internal/model"
	"github.com/hitoshi/crmdesk/internal/session"
)

// --- モック定義 ---

type mockOAuthProvider struct {
	getLoginURLFn  func(state string) string
	exchangeCodeFn func(ctx context.Context, code string) (*OAuthUserInfo, error)
}

func (m *mockOAuthProvider) GetLoginURL(state string) string {
	if m.getLoginURLFn != nil {
		return m.getLoginURLFn(state)
	}
	return "https://accounts.google.com/o/oauth2/auth?state=" + state
}

func (m *mockOAuthProvider) ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error) {
	if m.exchangeCodeFn != nil {
		return m.exchangeCodeFn(ctx, code)
	}
	return &OAuthUserInfo{Subject: "sub-123", Email: "a@example.com", Name: "User A"}, nil
}

type mockUserRepo struct {
	findByIDFn func(ctx context.Context, id string) (*model.User, error)
	upsertFn   func(ctx context.Context, user *model.User) (*model.User, error)
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockUserRepo) Upsert(ctx context.Context, user *model.User) (*model.User, error) {
	if m.upsertFn != nil {
		return m.upsertFn(ctx, user)
	}
	user.Role = model.RoleUser
	return user, nil
}

func newTestService(t *testing.T, oauth *mockOAuthProvider, repo *mockUserRepo) (*Service, *session.MemoryStore) {
	t.Helper()
	store := session.NewMemoryStore(time.Hour)
	t.Cleanup(store.Stop)
	return NewService(oauth, repo, store), store
}

// --- テスト ---

func TestService_BeginLogin_StoresPendingStateAndReturnsURL(t *testing.T) {
	svc, store := newTestService(t, &mockOAuthProvider{}, &mockUserRepo{})

	loginURL, err := svc.BeginLogin()
	if err != nil {
		t.Fatalf("BeginLogin() error = %v", err)
	}

	if !strings.Contains(loginURL, "state=") {
		t.Errorf("login URL %q should contain state parameter", loginURL)
	}
	if store.Len() != 1 {
		t.Errorf("store.Len() = %d, want 1 pending entry", store.Len())
	}
}

func TestService_ConsumeState_ValidStateIsSingleUse(t *testing.T) {
	svc, _ := newTestService(t, &mockOAuthProvider{
		getLoginURLFn: func(state string) string { return state },
	}, &mockUserRepo{})

	state, err := svc.BeginLogin()
	if err != nil {
		t.Fatalf("BeginLogin() error = %v", err)
	}

	if !svc.ConsumeState(state) {
		t.Fatal("expected first ConsumeState to succeed")
	}
	// リプレイは拒否される
	if svc.ConsumeState(state) {
		t.Error("expected replayed state to be rejected")
	}
}

func TestService_ConsumeState_UnknownState(t *testing.T) {
	svc, _ := newTestService(t, &mockOAuthProvider{}, &mockUserRepo{})

	if svc.ConsumeState("never-issued") {
		t.Error("expected unknown state to be rejected")
	}
	if svc.ConsumeState("") {
		t.Error("expected empty state to be rejected")
	}
}

func TestService_ConsumeState_RejectsAuthenticatedSessionToken(t *testing.T) {
	svc, store := newTestService(t, &mockOAuthProvider{}, &mockUserRepo{})

	// 認証済みセッションのトークンはstateとして使えない
	store.Put("session-token", &model.Session{
		Token: "session-token",
		User:  &model.User{ID: "user-1"},
	})

	if svc.ConsumeState("session-token") {
		t.Error("expected authenticated session token to be rejected as state")
	}
	// 消費によりセッション自体も破棄される（stateとしての悪用防止）
	if _, ok := store.Get("session-token"); ok {
		t.Error("expected consumed token to be deleted")
	}
}

func TestService_HandleCallback_Success(t *testing.T) {
	var upserted *model.User
	repo := &mockUserRepo{
		upsertFn: func(ctx context.Context, user *model.User) (*model.User, error) {
			upserted = user
			user.Role = model.RoleUser
			return user, nil
		},
	}
	svc, store := newTestService(t, &mockOAuthProvider{
		exchangeCodeFn: func(ctx context.Context, code string) (*OAuthUserInfo, error) {
			return &OAuthUserInfo{
				Subject: "sub-123",
				Email:   "a@example.com",
				Name:    "User A",
				Picture: "https://example.com/a.png",
			}, nil
		},
	}, repo)

	sess, err := svc.HandleCallback(context.Background(), "auth-code")
	if err != nil {
		t.Fatalf("HandleCallback() error = %v", err)
	}

	if upserted == nil || upserted.ID != "sub-123" {
		t.Fatalf("expected user upserted with subject id, got %+v", upserted)
	}
	if sess.Token == "" {
		t.Error("expected non-empty session token")
	}
	if sess.Pending() {
		t.Error("expected authenticated session, got pending entry")
	}

	// 発行されたセッションでユーザーを解決できる
	if user := svc.CurrentUser(sess.Token); user == nil || user.ID != "sub-123" {
		t.Errorf("CurrentUser() = %+v, want user sub-123", user)
	}
	if store.Len() != 1 {
		t.Errorf("store.Len() = %d, want 1", store.Len())
	}
}

func TestService_HandleCallback_ExchangeFailure_NoSessionIssued(t *testing.T) {
	svc, store := newTestService(t, &mockOAuthProvider{
		exchangeCodeFn: func(ctx context.Context, code string) (*OAuthUserInfo, error) {
			return nil, errors.New("token endpoint unavailable")
		},
	}, &mockUserRepo{})

	if _, err := svc.HandleCallback(context.Background(), "bad-code"); err == nil {
		t.Fatal("expected error from failed code exchange")
	}
	if store.Len() != 0 {
		t.Errorf("store.Len() = %d, want 0 (no partial session)", store.Len())
	}
}

func TestService_HandleCallback_UpsertFailure_NoSessionIssued(t *testing.T) {
	svc, store := newTestService(t, &mockOAuthProvider{}, &mockUserRepo{
		upsertFn: func(ctx context.Context, user *model.User) (*model.User, error) {
			return nil, errors.New("db down")
		},
	})

	if _, err := svc.HandleCallback(context.Background(), "auth-code"); err == nil {
		t.Fatal("expected error from failed upsert")
	}
	if store.Len() != 0 {
		t.Errorf("store.Len() = %d, want 0 (no partial session)", store.Len())
	}
}

func TestService_CurrentUser_NeverErrors(t *testing.T) {
	svc, store := newTestService(t, &mockOAuthProvider{}, &mockUserRepo{})

	if user := svc.CurrentUser(""); user != nil {
		t.Error("expected nil for empty token")
	}
	if user := svc.CurrentUser("unknown-token"); user != nil {
		t.Error("expected nil for unknown token")
	}

	// 保留エントリ（OAuth state）のトークンはログイン扱いにならない
	store.Put("pending-state", &model.Session{Token: "pending-state"})
	if user := svc.CurrentUser("pending-state"); user != nil {
		t.Error("expected nil for pending entry token")
	}
}

func TestService_Logout(t *testing.T) {
	svc, store := newTestService(t, &mockOAuthProvider{}, &mockUserRepo{})

	store.Put("token-1", &model.Session{
		Token: "token-1",
		User:  &model.User{ID: "user-1"},
	})

	svc.Logout("token-1")

	if user := svc.CurrentUser("token-1"); user != nil {
		t.Error("expected session to be destroyed after logout")
	}

	// 未知のトークン・空トークンでもpanicしない
	svc.Logout("unknown")
	svc.Logout("")
}
