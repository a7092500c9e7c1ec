package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	configName = "config"
	configType = "toml"
	configDir  = ".homiez"
	envPrefix  = "HZ"

	KeyAPIBaseURL      = "api.base_url"
	KeyAPITimeout      = "api.timeout"
	KeyRealtimeURL     = "realtime.url"
	KeyRealtimeDriver  = "realtime.driver"
	KeyRealtimeAPIKey  = "realtime.api_key"
	KeyRealtimeNATSURL = "realtime.nats_url"
	KeyAppOrigin       = "app.origin"
	KeyStatePath       = "state.path"
	KeySecretsDir      = "secrets.dir"
	KeySecretsBackend  = "secrets.backend"
	KeyMediaRequired   = "media.required"
	KeyMediaDevices    = "media.devices"
	KeyLogLevel        = "log.level"
)

const (
	DriverWebsocket = "websocket"
	DriverNATS      = "nats"

	SecretsChain = "chain"
	SecretsFile  = "file"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	API      APIConfig
	Realtime RealtimeConfig
	App      AppConfig
	State    StateConfig
	Media    MediaConfig
	Log      LogConfig
}

type APIConfig struct {
	BaseURL string
	Timeout time.Duration
}

type RealtimeConfig struct {
	URL     string
	Driver  string
	APIKey  string
	NATSURL string
}

type AppConfig struct {
	Origin string
}

type StateConfig struct {
	Path           string
	SecretsDir     string
	SecretsBackend string
}

type MediaConfig struct {
	Devices  string
	Required bool
}

type LogConfig struct {
	Level slog.Level
}

// New prepares a viper instance with defaults, ~/.homiez/config.toml and
// HZ_* environment overrides. homeDir is resolved from the OS when empty.
func New(homeDir string) (*viper.Viper, error) {
	if homeDir == "" {
		resolved, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		homeDir = resolved
	}
	base := filepath.Join(homeDir, configDir)

	v := viper.New()
	v.SetConfigName(configName)
	v.SetConfigType(configType)
	v.AddConfigPath(base)

	v.SetDefault(KeyAPIBaseURL, "https://homiez-backend.vercel.app/api")
	v.SetDefault(KeyAPITimeout, 30*time.Second)
	v.SetDefault(KeyRealtimeURL, "wss://realtime.homiez.app")
	v.SetDefault(KeyRealtimeDriver, DriverWebsocket)
	v.SetDefault(KeyRealtimeAPIKey, "")
	v.SetDefault(KeyRealtimeNATSURL, "nats://127.0.0.1:4222")
	v.SetDefault(KeyAppOrigin, "https://homiez.app")
	v.SetDefault(KeyStatePath, filepath.Join(base, "state.toml"))
	v.SetDefault(KeySecretsDir, filepath.Join(base, "secrets"))
	v.SetDefault(KeySecretsBackend, SecretsChain)
	v.SetDefault(KeyMediaDevices, "/dev/video*")
	v.SetDefault(KeyMediaRequired, false)
	v.SetDefault(KeyLogLevel, "warn")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	return v, nil
}

// Load decodes and validates the resolved configuration.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		API: APIConfig{
			BaseURL: strings.TrimRight(v.GetString(KeyAPIBaseURL), "/"),
			Timeout: v.GetDuration(KeyAPITimeout),
		},
		Realtime: RealtimeConfig{
			URL:     v.GetString(KeyRealtimeURL),
			Driver:  strings.ToLower(strings.TrimSpace(v.GetString(KeyRealtimeDriver))),
			APIKey:  v.GetString(KeyRealtimeAPIKey),
			NATSURL: v.GetString(KeyRealtimeNATSURL),
		},
		App: AppConfig{
			Origin: strings.TrimRight(v.GetString(KeyAppOrigin), "/"),
		},
		State: StateConfig{
			Path:           v.GetString(KeyStatePath),
			SecretsDir:     v.GetString(KeySecretsDir),
			SecretsBackend: strings.ToLower(strings.TrimSpace(v.GetString(KeySecretsBackend))),
		},
		Media: MediaConfig{
			Devices:  v.GetString(KeyMediaDevices),
			Required: v.GetBool(KeyMediaRequired),
		},
	}

	if err := cfg.Log.Level.UnmarshalText([]byte(v.GetString(KeyLogLevel))); err != nil {
		return Config{}, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, KeyLogLevel, err)
	}

	if err := validateURL(KeyAPIBaseURL, cfg.API.BaseURL, "http", "https"); err != nil {
		return Config{}, err
	}
	if err := validateURL(KeyAppOrigin, cfg.App.Origin, "http", "https"); err != nil {
		return Config{}, err
	}
	if cfg.API.Timeout < 0 {
		return Config{}, fmt.Errorf("%w: %s must not be negative", ErrInvalidConfig, KeyAPITimeout)
	}

	switch cfg.Realtime.Driver {
	case DriverWebsocket:
		if err := validateURL(KeyRealtimeURL, cfg.Realtime.URL, "ws", "wss", "http", "https"); err != nil {
			return Config{}, err
		}
	case DriverNATS:
		if err := validateURL(KeyRealtimeNATSURL, cfg.Realtime.NATSURL, "nats", "tls"); err != nil {
			return Config{}, err
		}
	default:
		return Config{}, fmt.Errorf("%w: %s %q is not one of %s, %s", ErrInvalidConfig, KeyRealtimeDriver, cfg.Realtime.Driver, DriverWebsocket, DriverNATS)
	}

	if strings.TrimSpace(cfg.State.Path) == "" {
		return Config{}, fmt.Errorf("%w: %s is empty", ErrInvalidConfig, KeyStatePath)
	}
	if strings.TrimSpace(cfg.State.SecretsDir) == "" {
		return Config{}, fmt.Errorf("%w: %s is empty", ErrInvalidConfig, KeySecretsDir)
	}
	if cfg.State.SecretsBackend != SecretsChain && cfg.State.SecretsBackend != SecretsFile {
		return Config{}, fmt.Errorf("%w: %s %q is not one of %s, %s", ErrInvalidConfig, KeySecretsBackend, cfg.State.SecretsBackend, SecretsChain, SecretsFile)
	}

	return cfg, nil
}

func validateURL(key, raw string, schemes ...string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
	}
	for _, scheme := range schemes {
		if parsed.Scheme == scheme && parsed.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%w: %s %q must be an absolute %s URL", ErrInvalidConfig, key, raw, strings.Join(schemes, "/"))
}
