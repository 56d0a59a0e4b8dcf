package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/ElementareTeilchen/neos-externalRedirect/internal/redirect"
)

const (
	EnvPrefix      = "EXTERNALREDIRECT"
	ConfigName     = "externalredirect"
	DefaultEnvFile = ".env"
)

// Config is the complete runtime configuration.
type Config struct {
	StatusCode        int           `mapstructure:"status_code"`
	CreateForAllHosts bool          `mapstructure:"create_for_all_hosts"`
	RedirectField     string        `mapstructure:"redirect_field"`
	NodeType          string        `mapstructure:"node_type"`
	SiteRoot          string        `mapstructure:"site_root"`
	LiveWorkspace     string        `mapstructure:"live_workspace"`
	Storage           StorageConfig `mapstructure:"storage"`
	Content           ContentConfig `mapstructure:"content"`
	Server            ServerConfig  `mapstructure:"server"`
	Log               LogConfig     `mapstructure:"log"`
}

type StorageConfig struct {
	RedirectsDSN    string `mapstructure:"redirects_dsn"`
	RoutingCacheDSN string `mapstructure:"routing_cache_dsn"`
}

type ContentConfig struct {
	File  string `mapstructure:"file"`
	Watch bool   `mapstructure:"watch"`
}

type ServerConfig struct {
	Addr               string        `mapstructure:"addr"`
	InternalHMACSecret string        `mapstructure:"internal_hmac_secret"`
	JWTSecret          string        `mapstructure:"jwt_secret"`
	InternalMaxSkew    time.Duration `mapstructure:"internal_max_skew"`
	MaxBodyBytes       int64         `mapstructure:"max_body_bytes"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

var defaultConfig = Config{
	StatusCode:    redirect.DefaultStatusCode,
	RedirectField: redirect.DefaultRedirectField,
	NodeType:      redirect.DefaultNodeType,
	SiteRoot:      redirect.DefaultSiteRoot,
	LiveWorkspace: redirect.DefaultLiveWorkspace,
	Storage: StorageConfig{
		RedirectsDSN:    "file://.externalredirect/redirects.json",
		RoutingCacheDSN: "memory://",
	},
	Content: ContentConfig{
		File: "content.yaml",
	},
	Server: ServerConfig{
		Addr:            ":8080",
		InternalMaxSkew: 5 * time.Minute,
		MaxBodyBytes:    1 << 20,
	},
	Log: LogConfig{
		Level: "info",
	},
}

// Default returns the built-in configuration.
func Default() Config {
	return defaultConfig
}

type LoadOptions struct {
	// ConfigFile is read instead of searching for externalredirect.yaml.
	ConfigFile string
	// EnvFile is loaded into the process environment if it exists.
	EnvFile string
	// SearchPaths overrides the config search path (. and $HOME).
	SearchPaths []string
}

// Load merges defaults, the optional config file and the environment.
func Load(opts LoadOptions) (*Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = DefaultEnvFile
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	v := viper.New()
	v.SetDefault("status_code", defaultConfig.StatusCode)
	v.SetDefault("create_for_all_hosts", defaultConfig.CreateForAllHosts)
	v.SetDefault("redirect_field", defaultConfig.RedirectField)
	v.SetDefault("node_type", defaultConfig.NodeType)
	v.SetDefault("site_root", defaultConfig.SiteRoot)
	v.SetDefault("live_workspace", defaultConfig.LiveWorkspace)
	v.SetDefault("storage.redirects_dsn", defaultConfig.Storage.RedirectsDSN)
	v.SetDefault("storage.routing_cache_dsn", defaultConfig.Storage.RoutingCacheDSN)
	v.SetDefault("content.file", defaultConfig.Content.File)
	v.SetDefault("content.watch", defaultConfig.Content.Watch)
	v.SetDefault("server.addr", defaultConfig.Server.Addr)
	v.SetDefault("server.internal_hmac_secret", "")
	v.SetDefault("server.jwt_secret", "")
	v.SetDefault("server.internal_max_skew", defaultConfig.Server.InternalMaxSkew)
	v.SetDefault("server.max_body_bytes", defaultConfig.Server.MaxBodyBytes)
	v.SetDefault("log.level", defaultConfig.Log.Level)
	v.SetDefault("log.json", defaultConfig.Log.JSON)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", opts.ConfigFile, err)
		}
	} else {
		v.SetConfigName(ConfigName)
		v.SetConfigType("yaml")
		paths := opts.SearchPaths
		if len(paths) == 0 {
			paths = []string{".", "$HOME"}
		}
		for _, path := range paths {
			v.AddConfigPath(path)
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c Config) Validate() error {
	if c.StatusCode < 300 || c.StatusCode > 399 {
		return fmt.Errorf("%w: status_code %d is not a redirect status", redirect.ErrInvalidInput, c.StatusCode)
	}
	if strings.TrimSpace(c.Storage.RedirectsDSN) == "" {
		return fmt.Errorf("%w: storage.redirects_dsn is required", redirect.ErrInvalidInput)
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("%w: server.max_body_bytes must be positive", redirect.ErrInvalidInput)
	}
	return nil
}
