// Package config loads server settings from the environment.
//
// Sources, highest priority first:
//  1. environment variables (PORT, DB_PATH, ...)
//  2. a .env file in the working directory (never overrides 1)
//  3. config.yaml in . or ./data, using the same keys in lower case
//  4. the defaults below
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type S3 struct {
	Bucket    string
	Region    string
	Endpoint  string // custom endpoint for MinIO and other S3-compatible stores
	AccessKey string
	SecretKey string
}

type Redis struct {
	Addr     string
	Password string
	DB       int
}

// IdentityProvider configures an external identity directory. An empty
// BaseURL selects the built-in one.
type IdentityProvider struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
}

type Config struct {
	Port     int
	DBPath   string
	LogLevel slog.Level

	JWTSecret    string
	TokenTTL     time.Duration
	CookieSecure bool

	CallTimeout time.Duration

	AssetURLPrefix string
	AssetDir       string
	S3             S3
	Redis          Redis
	IDP            IdentityProvider

	RateLimitPerMinute int
	RateLimitBurst     int
}

// UseLocalIdentity reports whether accounts live in this server's database.
func (c *Config) UseLocalIdentity() bool {
	return c.IDP.BaseURL == ""
}

var defaults = map[string]any{
	"port":                  8080,
	"db_path":               "data/clipstream.db",
	"log_level":             "info",
	"token_ttl":             "1h",
	"cookie_secure":         false,
	"call_timeout":          "10s",
	"asset_dir":             "data/assets",
	"s3_region":             "us-east-1",
	"redis_db":              0,
	"rate_limit_per_minute": 60,
	"rate_limit_burst":      10,
}

// Load reads and validates the configuration.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: reading .env: %w", err)
	}

	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./data")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: reading config file: %w", err)
		}
	}

	v.AutomaticEnv()

	return build(v)
}

func build(v *viper.Viper) (*Config, error) {
	var errs []error
	intVal := func(key string) int {
		n, err := strconv.Atoi(strings.TrimSpace(v.GetString(key)))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %q is not an integer", strings.ToUpper(key), v.GetString(key)))
		}
		return n
	}
	durationVal := func(key string) time.Duration {
		d, err := time.ParseDuration(strings.TrimSpace(v.GetString(key)))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %q is not a duration", strings.ToUpper(key), v.GetString(key)))
		}
		return d
	}
	boolVal := func(key string) bool {
		b, err := strconv.ParseBool(strings.TrimSpace(v.GetString(key)))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %q is not a boolean", strings.ToUpper(key), v.GetString(key)))
		}
		return b
	}

	cfg := &Config{
		Port:         intVal("port"),
		DBPath:       v.GetString("db_path"),
		JWTSecret:    v.GetString("jwt_secret"),
		TokenTTL:     durationVal("token_ttl"),
		CookieSecure: boolVal("cookie_secure"),
		CallTimeout:  durationVal("call_timeout"),

		AssetURLPrefix: strings.TrimSuffix(v.GetString("asset_url_prefix"), "/"),
		AssetDir:       v.GetString("asset_dir"),
		S3: S3{
			Bucket:    v.GetString("s3_bucket"),
			Region:    v.GetString("s3_region"),
			Endpoint:  v.GetString("s3_endpoint"),
			AccessKey: v.GetString("s3_access_key"),
			SecretKey: v.GetString("s3_secret_key"),
		},
		Redis: Redis{
			Addr:     v.GetString("redis_addr"),
			Password: v.GetString("redis_password"),
			DB:       intVal("redis_db"),
		},
		IDP: IdentityProvider{
			BaseURL:      strings.TrimSuffix(v.GetString("idp_base_url"), "/"),
			TokenURL:     v.GetString("idp_token_url"),
			ClientID:     v.GetString("idp_client_id"),
			ClientSecret: v.GetString("idp_client_secret"),
		},
		RateLimitPerMinute: intVal("rate_limit_per_minute"),
		RateLimitBurst:     intVal("rate_limit_burst"),
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(v.GetString("log_level"))); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %q is not one of debug, info, warn, error", v.GetString("log_level")))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("config: %w", errors.Join(errs...))
	}

	if cfg.AssetURLPrefix == "" {
		cfg.AssetURLPrefix = fmt.Sprintf("http://localhost:%d/api/v1/assets", cfg.Port)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT: %d is out of range", c.Port))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("DB_PATH is required"))
	}
	if c.CallTimeout <= 0 {
		errs = append(errs, errors.New("CALL_TIMEOUT must be positive"))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("TOKEN_TTL must be positive"))
	}
	if c.UseLocalIdentity() && len(c.JWTSecret) < 16 {
		errs = append(errs, errors.New("JWT_SECRET of at least 16 characters is required without IDP_BASE_URL"))
	}
	if !c.UseLocalIdentity() && (c.IDP.ClientID == "" || c.IDP.ClientSecret == "") {
		errs = append(errs, errors.New("IDP_CLIENT_ID and IDP_CLIENT_SECRET are required with IDP_BASE_URL"))
	}
	if c.S3.Bucket == "" && c.AssetDir == "" {
		errs = append(errs, errors.New("either S3_BUCKET or ASSET_DIR is required"))
	}
	if c.RateLimitPerMinute <= 0 || c.RateLimitBurst <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_PER_MINUTE and RATE_LIMIT_BURST must be positive"))
	}
	return errors.Join(errs...)
}
