// Package tokenstore はクライアント側のセッショントークンの保存先を提供する。
// 保存するトークンは常に1つで、サインアウト時に削除する。
package tokenstore

import (
	"context"
	"sync"
)

// Store はベアラートークンの保存先。
type Store interface {
	// Get は保存中のトークンを返す。無い場合や読み取りに失敗した場合は空文字を返す。
	Get(ctx context.Context) string
	// Set はトークンを保存する。既存のトークンは上書きされる。
	Set(ctx context.Context, token string) error
	// Clear はトークンを削除する。保存されていない場合もエラーにしない。
	Clear(ctx context.Context) error
}

// MemoryStore はプロセス内メモリのStore。テストと一時的なCLI実行で使う。
type MemoryStore struct {
	mu    sync.Mutex
	token string
}

// compile-time interface check
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore は空のMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Get(ctx context.Context) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *MemoryStore) Set(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	return nil
}

func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	return nil
}
