package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// PendingVerification は送信済みで未確認の電話番号認証を表す。
type PendingVerification struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

// VerificationStore は保留中の電話番号認証を保持する。
type VerificationStore interface {
	// Save は認証IDに保留中の認証を紐付ける。ttl経過後は取得できない。
	Save(ctx context.Context, id string, pending PendingVerification, ttl time.Duration) error
	// Take は認証IDの保留中の認証を取り出して削除する。無い場合はnilを返す。
	Take(ctx context.Context, id string) (*PendingVerification, error)
}

// MemoryVerificationStore はプロセス内メモリの VerificationStore。
// 単一インスタンス構成と開発用。
type MemoryVerificationStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	pending   PendingVerification
	expiresAt time.Time
}

// NewMemoryVerificationStore はMemoryVerificationStoreを生成する。
func NewMemoryVerificationStore() *MemoryVerificationStore {
	return &MemoryVerificationStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Save は保留中の認証を保存する。期限切れのエントリはここで掃除する。
func (s *MemoryVerificationStore) Save(_ context.Context, id string, pending PendingVerification, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, k)
		}
	}
	s.entries[id] = memoryEntry{pending: pending, expiresAt: now.Add(ttl)}
	return nil
}

// Take は保留中の認証を取り出して削除する。
func (s *MemoryVerificationStore) Take(_ context.Context, id string) (*PendingVerification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, nil
	}
	delete(s.entries, id)
	if !s.now().Before(e.expiresAt) {
		return nil, nil
	}
	p := e.pending
	return &p, nil
}

// verificationKeyPrefix はRedis上のキー接頭辞。
const verificationKeyPrefix = "kindred:verification:"

// RedisVerificationStore はRedisを使用した VerificationStore。
// 複数インスタンス構成でも認証IDを共有できる。
type RedisVerificationStore struct {
	client redis.UniversalClient
}

// NewRedisVerificationStore はRedisVerificationStoreを生成する。
func NewRedisVerificationStore(client redis.UniversalClient) *RedisVerificationStore {
	return &RedisVerificationStore{client: client}
}

// OpenRedis はURLからRedisクライアントを生成し、疎通を確認する。
func OpenRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// Save は保留中の認証をTTL付きで保存する。
func (s *RedisVerificationStore) Save(ctx context.Context, id string, pending PendingVerification, ttl time.Duration) error {
	raw, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("failed to encode verification: %w", err)
	}
	if err := s.client.Set(ctx, verificationKeyPrefix+id, raw, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save verification: %w", err)
	}
	return nil
}

// Take はGETDELで保留中の認証を取り出して削除する。
func (s *RedisVerificationStore) Take(ctx context.Context, id string) (*PendingVerification, error) {
	raw, err := s.client.GetDel(ctx, verificationKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to take verification: %w", err)
	}

	var p PendingVerification
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("failed to decode verification: %w", err)
	}
	return &p, nil
}

// compile-time interface check
var (
	_ VerificationStore = (*MemoryVerificationStore)(nil)
	_ VerificationStore = (*RedisVerificationStore)(nil)
)
