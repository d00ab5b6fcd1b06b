// Package auth はOAuth認証フローとセッション管理を提供する。
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/crmdesk/internal/model"
	"github.com/hitoshi/crmdesk/internal/repository"
	"github.com/hitoshi/crmdesk/internal/session"
)

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	Subject string // IdPのsubject識別子（sub）
	Email   string
	Name    string
	Picture string
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// Service は認証に関するビジネスロジックを提供する。
// OAuth stateの発行・検証と認証済みセッションの発行を
// 注入されたセッションストア上で行う。
type Service struct {
	oauth    OAuthProvider
	userRepo repository.UserRepository
	sessions session.Store
}

// NewService はServiceを生成する。
func NewService(oauth OAuthProvider, userRepo repository.UserRepository, sessions session.Store) *Service {
	return &Service{
		oauth:    oauth,
		userRepo: userRepo,
		sessions: sessions,
	}
}

// BeginLogin はOAuthフローを開始する。
// ランダムなstateを生成して保留エントリとしてストアに記録し、
// プロバイダーの認証URLを返す。
func (s *Service) BeginLogin() (string, error) {
	state, err := session.GenerateToken()
	if err != nil {
		return "", fmt.Errorf("failed to generate oauth state: %w", err)
	}

	s.sessions.Put(state, &model.Session{
		Token:     state,
		CreatedAt: time.Now(),
	})

	return s.oauth.GetLoginURL(state), nil
}

// ConsumeState はコールバックで受け取ったstateを検証する。
// stateは成否にかかわらずこの時点で削除される（単回使用・リプレイ防止）。
// 保留エントリとして存在しない場合、または認証済みセッションの
// トークンが渡された場合はfalseを返す。
func (s *Service) ConsumeState(state string) bool {
	if state == "" {
		return false
	}

	sess, ok := s.sessions.Get(state)
	if !ok {
		return false
	}

	s.sessions.Delete(state)

	return sess.Pending()
}

// HandleCallback は認可コードを交換し、ユーザーをUPSERTして
// 認証済みセッションを発行する。stateの検証はConsumeStateで完了していること。
// 途中で失敗した場合はセッションを一切発行しない。
func (s *Service) HandleCallback(ctx context.Context, code string) (*model.Session, error) {
	// 1. 認可コードをトークンに交換し、ユーザー情報を取得
	userInfo, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	// 2. subject識別子をキーにローカルユーザーをUPSERT
	user, err := s.userRepo.Upsert(ctx, &model.User{
		ID:      userInfo.Subject,
		Email:   userInfo.Email,
		Name:    userInfo.Name,
		Picture: userInfo.Picture,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}

	// 3. 認証済みセッションを発行
	token, err := session.GenerateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session token: %w", err)
	}

	sess := &model.Session{
		Token:     token,
		User:      user,
		CreatedAt: time.Now(),
	}
	s.sessions.Put(token, sess)

	slog.Info("user signed in",
		slog.String("user_id", user.ID),
		slog.String("email", user.Email),
	)

	return sess, nil
}

// CurrentUser はセッショントークンから現在のユーザーを解決する。
// トークンが空・未知・保留エントリの場合は「未ログイン」としてnilを返す。
// この操作がエラーを返すことはない。
func (s *Service) CurrentUser(token string) *model.User {
	if token == "" {
		return nil
	}

	sess, ok := s.sessions.Get(token)
	if !ok || sess.Pending() {
		return nil
	}

	return sess.User
}

// Logout はセッションを破棄する。トークンが未知でも成功として扱う。
func (s *Service) Logout(token string) {
	if token == "" {
		return
	}

	s.sessions.Delete(token)
	slog.Info("user logged out")
}
