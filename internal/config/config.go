// Package config は通知サービスの設定を読み込む。
//
// 優先順位は 環境変数 > 設定ファイル > 既定値。
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix は設定を上書きする環境変数の接頭辞。
const EnvPrefix = "NOTIFICATION_"

// Config は通知サービスの設定。
type Config struct {
	// Port はHTTPサーバーのリッスンポート。
	Port string `koanf:"port" validate:"required,numeric"`
	// DatabasePath はSQLiteデータベースのパス。":memory:"でインメモリになる。
	DatabasePath string `koanf:"database_path" validate:"required"`
	// JWTSecret はJWTの署名検証に使う秘密鍵。
	JWTSecret string `koanf:"jwt_secret" validate:"required"`
	// EventStoreURL はEvent StoreのURL。空ならポーリングしない。
	EventStoreURL string `koanf:"eventstore_url" validate:"omitempty,url"`
	// PollInterval はEvent Storeのポーリング間隔。
	PollInterval time.Duration `koanf:"poll_interval" validate:"min=100ms"`
	// BaseURL はメールに埋め込むリンクのベースURL。
	BaseURL string `koanf:"base_url" validate:"required,url"`
	// LogLevel はログレベル。
	LogLevel string `koanf:"log_level" validate:"oneof=debug info warn error"`
	// AllowedOrigins は受信箱APIを呼べるブラウザのオリジン（カンマ区切り）。空ならCORSを許可しない。
	AllowedOrigins string `koanf:"allowed_origins"`
}

// Defaults は既定値を返す。
func Defaults() map[string]any {
	return map[string]any{
		"port":            "8086",
		"database_path":   "/data/notification.db",
		"jwt_secret":      "dev-secret-key",
		"eventstore_url":  "",
		"poll_interval":   "2s",
		"base_url":        "http://localhost:3000",
		"log_level":       "info",
		"allowed_origins": "",
	}
}

// Load は既定値、設定ファイル、環境変数の順に読み込み、検証した設定を返す。
// pathが空、またはファイルが存在しない場合は設定ファイルを読まない。
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	for key, value := range Defaults() {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("既定値 %s の設定に失敗: %w", key, err)
		}
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), json.Parser()); err != nil {
				return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("設定ファイルの確認に失敗: %w", err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("環境変数の読み込みに失敗: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("設定の変換に失敗: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}
	return &cfg, nil
}

// Origins はAllowedOriginsを分割して返す。
func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// envKey は環境変数名を設定キーに変換する。
// 例: NOTIFICATION_DATABASE_PATH -> database_path
func envKey(s string) string {
	return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
}
