package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Platform PlatformConfig `mapstructure:"platform"`
	App      AppConfig      `mapstructure:"app"`
	Token    TokenConfig    `mapstructure:"token"`
	Admin    AdminConfig    `mapstructure:"admin"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type StorageConfig struct {
	Driver string       `mapstructure:"driver"`
	SQLite SQLiteConfig `mapstructure:"sqlite"`
	Redis  RedisConfig  `mapstructure:"redis"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// PlatformConfig describes the remote platform and this app's credentials on it.
type PlatformConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	InstallerURL  string        `mapstructure:"installer_url"`
	TokenPath     string        `mapstructure:"token_path"`
	ClientID      string        `mapstructure:"client_id"`
	ClientSecret  string        `mapstructure:"client_secret"`
	PublicKey     string        `mapstructure:"public_key"`
	PublicKeyFile string        `mapstructure:"public_key_file"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type AppConfig struct {
	PublicURL    string `mapstructure:"public_url"`
	CallbackPath string `mapstructure:"callback_path"`
}

type TokenConfig struct {
	Timeout         time.Duration `mapstructure:"timeout"`
	RefreshMargin   time.Duration `mapstructure:"refresh_margin"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	RefreshWorkers  int           `mapstructure:"refresh_workers"`
}

type AdminConfig struct {
	Token string `mapstructure:"token"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from an optional YAML file, a .env file and
// RISEBRIDGE_* environment variables, in increasing order of precedence.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("risebridge")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/risebridge")
	}

	setDefaults(v)

	v.SetEnvPrefix("RISEBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.sqlite.path", "./data/risebridge.db")
	v.SetDefault("storage.redis.addr", "localhost:6379")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)

	v.SetDefault("platform.base_url", "https://platform.rise.ai")
	v.SetDefault("platform.installer_url", "https://platform.rise.ai/installer/install")
	v.SetDefault("platform.token_path", "/oauth/token")
	v.SetDefault("platform.client_id", "")
	v.SetDefault("platform.client_secret", "")
	v.SetDefault("platform.public_key", "")
	v.SetDefault("platform.public_key_file", "")
	v.SetDefault("platform.timeout", 10*time.Second)

	v.SetDefault("app.public_url", "http://localhost:3000")
	v.SetDefault("app.callback_path", "/oauth/callback")

	v.SetDefault("token.timeout", 10*time.Second)
	v.SetDefault("token.refresh_margin", time.Duration(0))
	v.SetDefault("token.refresh_interval", time.Duration(0))
	v.SetDefault("token.refresh_workers", 4)

	v.SetDefault("admin.token", "")

	v.SetDefault("metrics.enabled", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate reports the settings serve cannot run without.
func (c *Config) Validate() error {
	var missing []string
	if c.Platform.BaseURL == "" {
		missing = append(missing, "platform.base_url")
	}
	if c.Platform.ClientID == "" {
		missing = append(missing, "platform.client_id")
	}
	if c.Platform.ClientSecret == "" {
		missing = append(missing, "platform.client_secret")
	}
	if c.Platform.PublicKey == "" && c.Platform.PublicKeyFile == "" {
		missing = append(missing, "platform.public_key")
	}
	if c.App.PublicURL == "" {
		missing = append(missing, "app.public_url")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}
	return nil
}

// TokenURL is the absolute URL of the platform token endpoint.
func (c *Config) TokenURL() string {
	return strings.TrimRight(c.Platform.BaseURL, "/") + "/" + strings.TrimLeft(c.Platform.TokenPath, "/")
}

// PublicKeyPEM returns the configured verification key, reading the key file when set.
func (c *Config) PublicKeyPEM() ([]byte, error) {
	if c.Platform.PublicKey != "" {
		// Env vars often carry the PEM with literal \n sequences.
		return []byte(strings.ReplaceAll(c.Platform.PublicKey, `\n`, "\n")), nil
	}
	data, err := os.ReadFile(c.Platform.PublicKeyFile)
	if err != nil {
		return nil, fmt.Errorf("read public key file: %w", err)
	}
	return data, nil
}
