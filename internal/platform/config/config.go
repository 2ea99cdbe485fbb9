package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig         `mapstructure:"server"`
	Database    DatabaseConfig       `mapstructure:"database"`
	Session     SessionConfig        `mapstructure:"session"`
	Auth        AuthConfig           `mapstructure:"auth"`
	CRM         UpstreamConfig       `mapstructure:"crm"`
	TaskTracker UpstreamConfig       `mapstructure:"task_tracker"`
	Email       EmailConfig          `mapstructure:"email"`
	CORS        CORSConfig           `mapstructure:"cors"`
	RateLimit   RateLimitConfig      `mapstructure:"rate_limit"`
	Logging     LoggingConfig        `mapstructure:"logging"`
	Tokens      TokenRetentionConfig `mapstructure:"tokens"`
	Portal      PortalConfig         `mapstructure:"portal"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	TrustProxy      bool          `mapstructure:"trust_proxy"`
}

type DatabaseConfig struct {
	URL            string `mapstructure:"url"`
	MaxConnections int    `mapstructure:"max_connections"`
}

type SessionConfig struct {
	Secret       string        `mapstructure:"secret"`
	TTL          time.Duration `mapstructure:"ttl"`
	CookieName   string        `mapstructure:"cookie_name"`
	SecureCookie bool          `mapstructure:"secure_cookie"`
}

type AuthConfig struct {
	PortalBaseURL          string        `mapstructure:"portal_base_url"`
	TokenTTL               time.Duration `mapstructure:"token_ttl"`
	RequestLinkMinDuration time.Duration `mapstructure:"request_link_min_duration"`
}

// UpstreamConfig describes one of the external REST systems (CRM, task tracker).
type UpstreamConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type EmailConfig struct {
	Provider    string        `mapstructure:"provider"` // http, smtp
	APIURL      string        `mapstructure:"api_url"`
	APIToken    string        `mapstructure:"api_token"`
	FromAddress string        `mapstructure:"from_address"`
	FromName    string        `mapstructure:"from_name"`
	Timeout     time.Duration `mapstructure:"timeout"`
	SMTP        SMTPConfig    `mapstructure:"smtp"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	MaxAge         int      `mapstructure:"max_age"`
}

type RateLimitConfig struct {
	RequestLinkPerMinute int `mapstructure:"request_link_per_minute"`
	VerifyPerMinute      int `mapstructure:"verify_per_minute"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	FilePath string `mapstructure:"file_path"`
}

type PortalConfig struct {
	DealCacheTTL time.Duration `mapstructure:"deal_cache_ttl"`
}

type TokenRetentionConfig struct {
	Retention     time.Duration `mapstructure:"retention"`
	PurgeInterval time.Duration `mapstructure:"purge_interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("database.url", "file:./data/portal.db")
	v.SetDefault("database.max_connections", 10)

	v.SetDefault("session.ttl", 7*24*time.Hour)
	v.SetDefault("session.cookie_name", "portal_session")
	v.SetDefault("session.secure_cookie", true)

	v.SetDefault("auth.token_ttl", 15*time.Minute)
	v.SetDefault("auth.request_link_min_duration", 400*time.Millisecond)

	v.SetDefault("crm.timeout", 10*time.Second)
	v.SetDefault("task_tracker.timeout", 10*time.Second)

	v.SetDefault("email.provider", "http")
	v.SetDefault("email.timeout", 10*time.Second)
	v.SetDefault("email.smtp.port", 587)

	v.SetDefault("cors.max_age", 600)

	v.SetDefault("rate_limit.request_link_per_minute", 5)
	v.SetDefault("rate_limit.verify_per_minute", 20)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("tokens.retention", 30*24*time.Hour)
	v.SetDefault("tokens.purge_interval", time.Hour)

	v.SetDefault("portal.deal_cache_ttl", time.Minute)
}

func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate reports settings the service cannot start without.
func (c *Config) Validate() error {
	if c.Session.Secret == "" {
		return errors.New("session.secret is required")
	}
	if len(c.Session.Secret) < 32 {
		return errors.New("session.secret must be at least 32 characters")
	}
	if c.Auth.PortalBaseURL == "" {
		return errors.New("auth.portal_base_url is required")
	}
	return nil
}
