// Package clientconfig はCLIクライアントの設定を読み込む。
// YAMLファイル、.env、環境変数の順に読み込み、後のものが優先される。
package clientconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/hitoshi/kindred/internal/client/identity"
	"github.com/hitoshi/kindred/internal/client/onboarding"
	"github.com/hitoshi/kindred/internal/client/validate"
)

// プロフィール完成の判定方法
const (
	GateName   = "name"
	GateImages = "images"
)

// 既定値
const (
	DefaultBaseURL  = "http://localhost:8080"
	DefaultTimeout  = 30 * time.Second
	DefaultFileName = "config.yaml"
	sessionFileName = "session.age"
	tokenFileName   = "token.age"
	configDirName   = "kindred"
)

// FirebaseConfig はIDプロバイダーの設定。
type FirebaseConfig struct {
	APIKey         string `yaml:"api_key" env:"API_KEY"`
	RecaptchaToken string `yaml:"-" env:"RECAPTCHA_TOKEN"`
}

// GoogleConfig はGoogleサインインのOAuthクライアント設定。
type GoogleConfig struct {
	ClientID     string `yaml:"client_id" env:"CLIENT_ID"`
	ClientSecret string `yaml:"-" env:"CLIENT_SECRET"`
}

// Config はCLIクライアントの設定。秘密情報は環境変数からのみ読み込む。
type Config struct {
	BaseURL         string        `yaml:"base_url" env:"KINDRED_API_URL"`
	Timeout         time.Duration `yaml:"timeout" env:"KINDRED_TIMEOUT"`
	CountryCode     string        `yaml:"country_code" env:"KINDRED_COUNTRY_CODE"`
	MinAnswerLength int           `yaml:"min_answer_length" env:"KINDRED_MIN_ANSWER_LENGTH"`
	RequiredImages  int           `yaml:"required_images" env:"KINDRED_REQUIRED_IMAGES"`
	// ProfileGate はプロフィール完成の判定方法（name または images）。
	ProfileGate string `yaml:"profile_gate" env:"KINDRED_PROFILE_GATE"`

	// TokenPath とSessionPath はageで暗号化したファイルの保存先。
	TokenPath       string `yaml:"token_path" env:"KINDRED_TOKEN_PATH"`
	SessionPath     string `yaml:"session_path" env:"KINDRED_SESSION_PATH"`
	TokenPassphrase string `yaml:"-" env:"KINDRED_TOKEN_PASSPHRASE"`
	// AgeIdentity はX25519の秘密鍵（AGE-SECRET-KEY-1...）。設定時はパスフレーズより優先する。
	AgeIdentity string `yaml:"-" env:"KINDRED_AGE_IDENTITY"`

	Firebase FirebaseConfig `yaml:"firebase" envPrefix:"KINDRED_FIREBASE_"`
	Google   GoogleConfig   `yaml:"google" envPrefix:"KINDRED_GOOGLE_"`
}

// DefaultPath はユーザー設定ディレクトリ配下の設定ファイルのパスを返す。
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve config dir: %w", err)
	}
	return filepath.Join(dir, configDirName, DefaultFileName), nil
}

func defaults() *Config {
	return &Config{
		BaseURL:         DefaultBaseURL,
		Timeout:         DefaultTimeout,
		CountryCode:     identity.DefaultCountryCode,
		MinAnswerLength: validate.DefaultMinAnswerLength,
		RequiredImages:  onboarding.DefaultRequiredImages,
		ProfileGate:     GateName,
	}
}

// Load は設定を読み込む。pathが空の場合はDefaultPathを使い、ファイルが無くてもエラーにしない。
// pathを明示した場合はファイルが必須。
func Load(path string) (*Config, error) {
	cfg := defaults()

	// 1. YAMLファイル
	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	// 既定のパスの設定ファイルは任意
	if err := loadFile(path, cfg); err != nil && (explicit || !errors.Is(err, fs.ErrNotExist)) {
		return nil, err
	}

	// 2. .env（存在しなくてもよい）
	_ = godotenv.Load()

	// 3. 環境変数
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	cfg.resolvePaths(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// resolvePaths は未設定の保存先を設定ファイルと同じディレクトリにする。
func (c *Config) resolvePaths(dir string) {
	if c.TokenPath == "" {
		c.TokenPath = filepath.Join(dir, tokenFileName)
	}
	if c.SessionPath == "" {
		c.SessionPath = filepath.Join(dir, sessionFileName)
	}
}

// Validate は設定値を検証する。
func (c *Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid base URL: %q", c.BaseURL)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive: %s", c.Timeout)
	}
	if c.MinAnswerLength <= 0 {
		return fmt.Errorf("min_answer_length must be positive: %d", c.MinAnswerLength)
	}
	if c.RequiredImages <= 0 {
		return fmt.Errorf("required_images must be positive: %d", c.RequiredImages)
	}
	if c.ProfileGate != GateName && c.ProfileGate != GateImages {
		return fmt.Errorf("profile_gate must be %q or %q: %q", GateName, GateImages, c.ProfileGate)
	}
	return nil
}

// HasEncryptionKey はトークンを暗号化して保存できるかどうかを返す。
func (c *Config) HasEncryptionKey() bool {
	return c.AgeIdentity != "" || c.TokenPassphrase != ""
}
