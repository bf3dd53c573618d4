package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix         = "PROJECTHUB_AUTH"
	minSecretLength   = 32
	SecretsFromConfig = "config"
	SecretsKeyVault   = "azure-keyvault"
	AuditSinkStdout   = "stdout"
	AuditSinkS3       = "s3"
)

type SeedAccount struct {
	Email        string   `mapstructure:"email"`
	PasswordHash string   `mapstructure:"password_hash"`
	Password     string   `mapstructure:"password"`
	Roles        []string `mapstructure:"roles"`
	Active       bool     `mapstructure:"active"`
}

type Config struct {
	Server struct {
		Addr         string        `mapstructure:"addr"`
		GRPCAddr     string        `mapstructure:"grpc_addr"`
		Mode         string        `mapstructure:"mode"`
		ReadTimeout  time.Duration `mapstructure:"read_timeout"`
		WriteTimeout time.Duration `mapstructure:"write_timeout"`
		// TrustedProxies lists the IPs and CIDRs whose forwarding headers
		// are believed when resolving the client IP. Empty trusts none.
		TrustedProxies []string `mapstructure:"trusted_proxies"`
	} `mapstructure:"server"`

	Auth struct {
		SigningSecret  string        `mapstructure:"signing_secret"`
		Issuer         string        `mapstructure:"issuer"`
		AccessTTL      time.Duration `mapstructure:"access_ttl"`
		RefreshTTL     time.Duration `mapstructure:"refresh_ttl"`
		PublicPaths    []string      `mapstructure:"public_paths"`
		LoginRateLimit struct {
			PerSecond float64 `mapstructure:"per_second"`
			Burst     int     `mapstructure:"burst"`
		} `mapstructure:"login_rate_limit"`
	} `mapstructure:"auth"`

	Secrets struct {
		Provider          string `mapstructure:"provider"`
		VaultURL          string `mapstructure:"vault_url"`
		SigningSecretName string `mapstructure:"signing_secret_name"`
	} `mapstructure:"secrets"`

	Redis struct {
		URL      string `mapstructure:"url"`
		PoolSize int    `mapstructure:"pool_size"`
	} `mapstructure:"redis"`

	Database struct {
		DSN          string        `mapstructure:"dsn"`
		SeedAccounts []SeedAccount `mapstructure:"seed_accounts"`
	} `mapstructure:"database"`

	Membership struct {
		BaseURL      string        `mapstructure:"base_url"`
		Timeout      time.Duration `mapstructure:"timeout"`
		ServiceToken string        `mapstructure:"service_token"`
	} `mapstructure:"membership"`

	Audit struct {
		Enabled      bool     `mapstructure:"enabled"`
		IncludePaths []string `mapstructure:"include_paths"`
		ExcludePaths []string `mapstructure:"exclude_paths"`
		CaptureBytes int      `mapstructure:"capture_bytes"`
		MaxBodyBytes int      `mapstructure:"max_body_bytes"`
		BufferSize   int      `mapstructure:"buffer_size"`
		Mask         string   `mapstructure:"mask"`
		Sink         string   `mapstructure:"sink"`
		S3           struct {
			Bucket          string        `mapstructure:"bucket"`
			Region          string        `mapstructure:"region"`
			Endpoint        string        `mapstructure:"endpoint"`
			AccessKeyID     string        `mapstructure:"access_key_id"`
			SecretAccessKey string        `mapstructure:"secret_access_key"`
			Prefix          string        `mapstructure:"prefix"`
			BatchSize       int           `mapstructure:"batch_size"`
			FlushInterval   time.Duration `mapstructure:"flush_interval"`
		} `mapstructure:"s3"`
	} `mapstructure:"audit"`

	Observability struct {
		MetricsEnabled     bool   `mapstructure:"metrics_enabled"`
		TraceEnabled       bool   `mapstructure:"trace_enabled"`
		TracingEndpointURL string `mapstructure:"tracing_endpoint_url"`
		LogLevel           string `mapstructure:"log_level"`
		Format             string `mapstructure:"log_format"`
		LogSource          bool   `mapstructure:"log_source"`
	} `mapstructure:"observability"`

	CORS struct {
		AllowedOrigins []string `mapstructure:"allowed_origins"`
	} `mapstructure:"cors"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.grpc_addr", ":8081")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.trusted_proxies", []string{})

	v.SetDefault("auth.signing_secret", "")
	v.SetDefault("auth.issuer", "projecthub")
	v.SetDefault("auth.access_ttl", 15*time.Minute)
	v.SetDefault("auth.refresh_ttl", 7*24*time.Hour)
	v.SetDefault("auth.public_paths", []string{
		"/healthz",
		"/metrics",
		"/api/auth/login",
		"/api/auth/register",
		"/api/auth/refresh",
		"/api/auth/logout",
	})
	v.SetDefault("auth.login_rate_limit.per_second", 1.0)
	v.SetDefault("auth.login_rate_limit.burst", 5)

	v.SetDefault("secrets.provider", SecretsFromConfig)
	v.SetDefault("secrets.vault_url", "")
	v.SetDefault("secrets.signing_secret_name", "projecthub-auth-signing-secret")

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("database.dsn", "")

	v.SetDefault("membership.base_url", "")
	v.SetDefault("membership.timeout", 2*time.Second)
	v.SetDefault("membership.service_token", "")

	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.include_paths", []string{"/api/**", "/projecthub.auth.v1.AuthService/**"})
	v.SetDefault("audit.exclude_paths", []string{"/healthz", "/metrics"})
	v.SetDefault("audit.capture_bytes", 64*1024)
	v.SetDefault("audit.max_body_bytes", 4096)
	v.SetDefault("audit.buffer_size", 1024)
	v.SetDefault("audit.mask", "[MASKED]")
	v.SetDefault("audit.sink", AuditSinkStdout)
	v.SetDefault("audit.s3.bucket", "")
	v.SetDefault("audit.s3.region", "us-east-1")
	v.SetDefault("audit.s3.endpoint", "")
	v.SetDefault("audit.s3.access_key_id", "")
	v.SetDefault("audit.s3.secret_access_key", "")
	v.SetDefault("audit.s3.prefix", "audit")
	v.SetDefault("audit.s3.batch_size", 500)
	v.SetDefault("audit.s3.flush_interval", 30*time.Second)

	v.SetDefault("observability.metrics_enabled", true)
	v.SetDefault("observability.trace_enabled", false)
	v.SetDefault("observability.tracing_endpoint_url", "")
	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.log_format", "json")
	v.SetDefault("observability.log_source", false)

	v.SetDefault("cors.allowed_origins", []string{})
}

// Load reads config.yaml from the given directories (./config and . when
// none are given), merges config.<APP_ENV>.yaml when present and applies
// PROJECTHUB_AUTH_* environment overrides. A missing config file is not an
// error; defaults and environment then apply.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if len(paths) == 0 {
		paths = []string{"./config", "."}
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if env := os.Getenv("APP_ENV"); env != "" {
		v.SetConfigName(fmt.Sprintf("config.%s", env))
		if err := v.MergeInConfig(); err != nil {
			slog.Info("No environment-specific config (optional)", slog.String("env", env))
		} else {
			slog.Info("Environment-specific config loaded", slog.String("env", env))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		slog.Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	return cfg
}

// Validate checks cross-field constraints. The signing secret is only
// checked when it comes from configuration; a vault secret is checked once
// fetched.
func (c *Config) Validate() error {
	var errs []error

	switch c.Secrets.Provider {
	case SecretsFromConfig, "":
		if err := ValidateSigningSecret(c.Auth.SigningSecret); err != nil {
			errs = append(errs, err)
		}
	case SecretsKeyVault:
		if c.Secrets.VaultURL == "" {
			errs = append(errs, errors.New("secrets.vault_url is required for the azure-keyvault provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown secrets.provider %q", c.Secrets.Provider))
	}

	if c.Auth.AccessTTL <= 0 || c.Auth.RefreshTTL <= 0 {
		errs = append(errs, errors.New("auth.access_ttl and auth.refresh_ttl must be positive"))
	} else if c.Auth.AccessTTL >= c.Auth.RefreshTTL {
		errs = append(errs, errors.New("auth.access_ttl must be shorter than auth.refresh_ttl"))
	}

	switch c.Audit.Sink {
	case AuditSinkStdout, "":
	case AuditSinkS3:
		if c.Audit.S3.Bucket == "" {
			errs = append(errs, errors.New("audit.s3.bucket is required for the s3 audit sink"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown audit.sink %q", c.Audit.Sink))
	}

	for i, a := range c.Database.SeedAccounts {
		if a.Email == "" || (a.PasswordHash == "" && a.Password == "") {
			errs = append(errs, fmt.Errorf("database.seed_accounts[%d] needs an email and a password or password_hash", i))
		}
	}

	return errors.Join(errs...)
}

// ValidateSigningSecret rejects secrets too short for HS256.
func ValidateSigningSecret(secret string) error {
	if len(secret) < minSecretLength {
		return fmt.Errorf("signing secret must be at least %d bytes", minSecretLength)
	}
	return nil
}
