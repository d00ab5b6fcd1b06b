// Package session はプロセス内セッションストアを提供する。
// OAuth stateの保留エントリと認証済みセッションの両方を保持する。
package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/hitoshi/crmdesk/internal/model"
)

// Store はセッションの保存・取得・削除のインターフェース。
// グローバル変数ではなくハンドラーへ注入して使用する。
type Store interface {
	// Put はトークンに対応するセッションを保存する。
	Put(token string, sess *model.Session)
	// Get はトークンに対応するセッションを返す。存在しない・期限切れの場合はfalse。
	Get(token string) (*model.Session, bool)
	// Delete はトークンに対応するセッションを削除する。存在しなくてもエラーにしない。
	Delete(token string)
}

// entry はストア内部の1エントリ。
type entry struct {
	sess      *model.Session
	expiresAt time.Time
}

// MemoryStore はミューテックスで保護されたインメモリのセッションストア。
// プロセス再起動で全セッションが失われる（仕様上許容される揮発性）。
// TTL超過エントリはGet時の遅延削除とバックグラウンドスイープの両方で破棄される。
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
	stopCh  chan struct{}
	stopped sync.Once
}

// sweepInterval はバックグラウンドスイープの実行間隔。
const sweepInterval = 10 * time.Minute

// NewMemoryStore はMemoryStoreを生成し、期限切れエントリの
// バックグラウンドスイープを開始する。
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]entry),
		ttl:     ttl,
		stopCh:  make(chan struct{}),
	}

	go s.sweepLoop()

	return s
}

// Put はトークンに対応するセッションを保存する。
func (s *MemoryStore) Put(token string, sess *model.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[token] = entry{
		sess:      sess,
		expiresAt: time.Now().Add(s.ttl),
	}
}

// Get はトークンに対応するセッションを返す。
// 期限切れエントリはこの時点で削除し、存在しないものとして扱う。
func (s *MemoryStore) Get(token string) (*model.Session, bool) {
	s.mu.RLock()
	e, ok := s.entries[token]
	s.mu.RUnlock()

	if !ok {
		return nil, false
	}

	if time.Now().After(e.expiresAt) {
		s.mu.Lock()
		delete(s.entries, token)
		s.mu.Unlock()
		return nil, false
	}

	return e.sess, true
}

// Delete はトークンに対応するセッションを削除する。
func (s *MemoryStore) Delete(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, token)
}

// Len は現在保持しているエントリ数を返す。テストおよびメトリクス用。
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.entries)
}

// Stop はバックグラウンドスイープを停止する。
func (s *MemoryStore) Stop() {
	s.stopped.Do(func() {
		close(s.stopCh)
	})
}

// sweepLoop はバックグラウンドで期限切れエントリを定期的に破棄する。
func (s *MemoryStore) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopCh:
			return
		}
	}
}

// sweep は期限切れエントリを走査して削除する。
func (s *MemoryStore) sweep() {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for token, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, token)
		}
	}
}

// GenerateToken は暗号的に安全な32バイトのトークンを16進エンコードで生成する。
// セッショントークンとOAuth stateの両方で使用する。
func GenerateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// compile-time interface check
var _ Store = (*MemoryStore)(nil)
