package tokenstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"filippo.io/age"
)

// DefaultFileName はユーザー設定ディレクトリ配下のトークンファイル名。
const DefaultFileName = "token.age"

// maxTokenSize は復号後のトークンとして受け付ける最大バイト数。
const maxTokenSize = 64 << 10

// FileStore はageで暗号化した単一ファイルにトークンを保存するStore。
// ファイルは所有者のみ読み書き可能（0600）で作成する。
type FileStore struct {
	path      string
	recipient age.Recipient
	identity  age.Identity
	logger    *slog.Logger
	mu        sync.Mutex
}

// compile-time interface check
var _ Store = (*FileStore)(nil)

// DefaultPath はユーザー設定ディレクトリ配下のトークンファイルのパスを返す。
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve config dir: %w", err)
	}
	return filepath.Join(dir, "kindred", DefaultFileName), nil
}

// NewPassphraseFileStore はパスフレーズ（scrypt）で暗号化するFileStoreを生成する。
// workFactorが0の場合はageのデフォルトを使う。
func NewPassphraseFileStore(path, passphrase string, workFactor int, logger *slog.Logger) (*FileStore, error) {
	if passphrase == "" {
		return nil, errors.New("tokenstore: passphrase is required")
	}
	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return nil, fmt.Errorf("tokenstore: scrypt recipient: %w", err)
	}
	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("tokenstore: scrypt identity: %w", err)
	}
	if workFactor > 0 {
		recipient.SetWorkFactor(workFactor)
	}
	return newFileStore(path, recipient, identity, logger), nil
}

// NewX25519FileStore はAGE-SECRET-KEY形式のX25519鍵で暗号化するFileStoreを生成する。
func NewX25519FileStore(path, secretKey string, logger *slog.Logger) (*FileStore, error) {
	identity, err := age.ParseX25519Identity(strings.TrimSpace(secretKey))
	if err != nil {
		return nil, fmt.Errorf("tokenstore: parse identity: %w", err)
	}
	return newFileStore(path, identity.Recipient(), identity, logger), nil
}

func newFileStore(path string, recipient age.Recipient, identity age.Identity, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{
		path:      path,
		recipient: recipient,
		identity:  identity,
		logger:    logger,
	}
}

// Path は保存先ファイルのパスを返す。
func (s *FileStore) Path() string {
	return s.path
}

// Get はファイルを復号してトークンを返す。
// 読み取りや復号に失敗した場合は未ログインとして扱い、空文字を返す。
func (s *FileStore) Get(ctx context.Context) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, err := s.read()
	if err != nil {
		s.logger.Warn("failed to read session token", slog.String("path", s.path), slog.String("error", err.Error()))
		return ""
	}
	return token
}

func (s *FileStore) read() (string, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	r, err := age.Decrypt(f, s.identity)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	raw, err := io.ReadAll(io.LimitReader(r, maxTokenSize))
	if err != nil {
		return "", fmt.Errorf("read: %w", err)
	}
	return string(raw), nil
}

// Set はトークンを暗号化して保存する。一時ファイルに書き込んでから置き換える。
func (s *FileStore) Set(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// 1. 暗号化
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, s.recipient)
	if err != nil {
		return fmt.Errorf("failed to init encryption: %w", err)
	}
	if _, err := io.WriteString(w, token); err != nil {
		return fmt.Errorf("failed to encrypt token: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize encryption: %w", err)
	}

	// 2. 一時ファイルへ書き込み（CreateTempは0600で作成する）
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create token dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".token-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write token: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	// 3. 置き換え
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("failed to chmod token file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace token file: %w", err)
	}
	return nil
}

// Clear はトークンファイルを削除する。ファイルが無い場合はエラーにしない。
func (s *FileStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove token file: %w", err)
	}
	return nil
}
