package config

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server ServerConfig `yaml:"server" toml:"server"`
	Static StaticConfig `yaml:"static" toml:"static"`
	Log    LogConfig    `yaml:"log" toml:"log"`
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Host string `yaml:"host" toml:"host"` // リッスンするホスト
	Port int    `yaml:"port" toml:"port"` // リッスンするポート番号 (0 は空きポート)

	// タイムアウト設定 (0 は無制限)
	ReadTimeout     time.Duration `yaml:"read_timeout" toml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" toml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// StaticConfig は静的ファイル配信の設定
type StaticConfig struct {
	Root          string `yaml:"root" toml:"root"`                   // 配信ルート
	Index         string `yaml:"index" toml:"index"`                 // ディレクトリ要求時のファイル名
	Precompressed bool   `yaml:"precompressed" toml:"precompressed"` // .gz ファイルを優先するか

	// 動的圧縮の設定
	CompressionLevel int `yaml:"compression_level" toml:"compression_level"`
	MinCompressSize  int `yaml:"min_compress_size" toml:"min_compress_size"`
}

// LogConfig はログ出力の設定
type LogConfig struct {
	Level string `yaml:"level" toml:"level"` // debug, info, warn, error
}

// 環境変数名
const (
	EnvConfigFile    = "MINICDN_CONFIG"
	EnvHost          = "MINICDN_HOST"
	EnvPort          = "MINICDN_PORT"
	EnvRoot          = "MINICDN_ROOT"
	EnvPrecompressed = "MINICDN_PRECOMPRESSED"
	EnvLogLevel      = "MINICDN_LOG_LEVEL"
)

// Default はデフォルト設定を返す
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8180,
			ShutdownTimeout: 5 * time.Second,
		},
		Static: StaticConfig{
			Root:             "static",
			Index:            "index.html",
			Precompressed:    true,
			CompressionLevel: gzip.DefaultCompression,
			MinCompressSize:  1024,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load は設定を読み込む
//
// 優先順位: 環境変数 > 設定ファイル (MINICDN_CONFIG) > デフォルト値。
// カレントディレクトリに .env があれば先に環境変数へ読み込む。
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	cfg := Default()

	// 設定ファイル
	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	// 環境変数で上書き
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "設定の検証に失敗")
	}

	return cfg, nil
}

// LoadFile は YAML または TOML の設定ファイルを読み込んで上書きする
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "設定ファイルを読み込めません: %s", path)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(c); err != nil {
			return errors.Wrapf(err, "YAML の解析に失敗: %s", path)
		}
	case ".toml":
		meta, err := toml.Decode(string(data), c)
		if err != nil {
			return errors.Wrapf(err, "TOML の解析に失敗: %s", path)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return errors.Errorf("TOML に不明なキーがあります: %v", undecoded)
		}
	default:
		return errors.Errorf("未対応の設定ファイル形式です: %s", path)
	}

	return nil
}

// applyEnv は環境変数で設定を上書きする
func (c *Config) applyEnv() error {
	c.Server.Host = getEnvOrDefault(EnvHost, c.Server.Host)
	c.Static.Root = getEnvOrDefault(EnvRoot, c.Static.Root)
	c.Log.Level = getEnvOrDefault(EnvLogLevel, c.Log.Level)

	port, err := getEnvAsIntOrDefault(EnvPort, c.Server.Port)
	if err != nil {
		return err
	}
	c.Server.Port = port

	precompressed, err := getEnvAsBoolOrDefault(EnvPrecompressed, c.Static.Precompressed)
	if err != nil {
		return err
	}
	c.Static.Precompressed = precompressed

	return nil
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	// サーバー設定の検証
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return errors.Errorf("無効なポート番号: %d", c.Server.Port)
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 || c.Server.ShutdownTimeout < 0 {
		return errors.New("タイムアウトに負の値は指定できません")
	}

	// 配信設定の検証
	if c.Static.Root == "" {
		return errors.New("配信ルートが設定されていません")
	}
	if c.Static.Index == "" || strings.ContainsAny(c.Static.Index, `/\`) {
		return errors.Errorf("無効な index ファイル名: %q", c.Static.Index)
	}
	if level := c.Static.CompressionLevel; level != gzip.DefaultCompression &&
		(level < gzip.BestSpeed || level > gzip.BestCompression) {
		return errors.Errorf("無効な圧縮レベル: %d", c.Static.CompressionLevel)
	}
	if c.Static.MinCompressSize < 0 {
		return errors.Errorf("無効な最小圧縮サイズ: %d", c.Static.MinCompressSize)
	}

	// ログ設定の検証
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return errors.Errorf("無効なログレベル: %q", c.Log.Level)
	}

	return nil
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// loadDotEnv は .env ファイルがあれば読み込む
// 既に設定済みの環境変数は上書きしない
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return errors.Wrapf(err, ".env の読み込みに失敗: %s", path)
	}
	return nil
}

// getEnvOrDefault は環境変数を取得し、設定されていない場合はデフォルト値を返す
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault は環境変数を整数として取得し、設定されていない場合はデフォルト値を返す
func getEnvAsIntOrDefault(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	intVal, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.Wrapf(err, "環境変数 %s が整数ではありません", key)
	}
	return intVal, nil
}

// getEnvAsBoolOrDefault は環境変数を真偽値として取得し、設定されていない場合はデフォルト値を返す
func getEnvAsBoolOrDefault(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	boolVal, err := strconv.ParseBool(value)
	if err != nil {
		return false, errors.Wrapf(err, "環境変数 %s が真偽値ではありません", key)
	}
	return boolVal, nil
}
