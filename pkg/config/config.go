package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env  string
	Port int

	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	SMTP       SMTPConfig
	Activation ActivationConfig
	Mailer     MailerConfig
	Gateway    GatewayConfig
	CORS       CORSConfig
	Cache      CacheConfig
	Log        LogConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// JWTConfig holds the session token signing material. Secret is the
// base64-encoded HMAC key shared between the auth service and the gateway.
type JWTConfig struct {
	Secret   string
	Validity time.Duration
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	// ConfirmURL is the externally reachable activation endpoint; the
	// token query parameter is appended to it.
	ConfirmURL string
}

// ActivationConfig governs the account-activation lifecycle.
type ActivationConfig struct {
	// AutoEnable enables accounts at registration time so login works
	// before confirmation. Activation tokens are issued either way.
	AutoEnable    bool
	TokenTTL      time.Duration
	PurgeInterval time.Duration
}

// MailerConfig tunes the background activation-mail queue.
type MailerConfig struct {
	Workers     int
	BufferSize  int
	SendTimeout time.Duration
}

// GatewayConfig defines edge routing for the API gateway.
type GatewayConfig struct {
	Port              int
	AuthServiceURL    string
	CourseServiceURL  string
	StudentServiceURL string
	// PublicPaths are request paths forwarded without a bearer token.
	PublicPaths []string
}

type CORSConfig struct {
	AllowedOrigins []string
}

// CacheConfig controls redis-backed caching of account listings.
type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:   v.GetString("JWT_SECRET"),
		Validity: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
	}

	cfg.SMTP = SMTPConfig{
		Host:       v.GetString("SMTP_HOST"),
		Port:       v.GetInt("SMTP_PORT"),
		Username:   v.GetString("SMTP_USERNAME"),
		Password:   v.GetString("SMTP_PASSWORD"),
		From:       v.GetString("SMTP_FROM"),
		FromName:   v.GetString("SMTP_FROM_NAME"),
		ConfirmURL: v.GetString("ACTIVATION_CONFIRM_URL"),
	}

	cfg.Activation = ActivationConfig{
		AutoEnable:    v.GetBool("ACTIVATION_AUTO_ENABLE"),
		TokenTTL:      parseDuration(v.GetString("ACTIVATION_TOKEN_TTL"), 24*time.Hour),
		PurgeInterval: parseDuration(v.GetString("ACTIVATION_PURGE_INTERVAL"), time.Hour),
	}

	cfg.Mailer = MailerConfig{
		Workers:     v.GetInt("MAILER_WORKERS"),
		BufferSize:  v.GetInt("MAILER_BUFFER_SIZE"),
		SendTimeout: parseDuration(v.GetString("MAILER_SEND_TIMEOUT"), 10*time.Second),
	}

	cfg.Gateway = GatewayConfig{
		Port:              v.GetInt("GATEWAY_PORT"),
		AuthServiceURL:    v.GetString("AUTH_SERVICE_URL"),
		CourseServiceURL:  v.GetString("COURSE_SERVICE_URL"),
		StudentServiceURL: v.GetString("STUDENT_SERVICE_URL"),
		PublicPaths:       splitAndTrim(v.GetString("GATEWAY_PUBLIC_PATHS")),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Cache = CacheConfig{
		Enabled: v.GetBool("ENABLE_CACHE"),
		TTL:     parseDuration(v.GetString("CACHE_TTL"), 5*time.Minute),
	}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8081)

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "campus_auth")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	// Dev key only; deployments must provide their own base64 secret.
	v.SetDefault("JWT_SECRET", "Y2FtcHVzLWF1dGgtZGV2LXNlY3JldC1jaGFuZ2UtbWU=")
	v.SetDefault("JWT_EXPIRATION", "24h")

	v.SetDefault("SMTP_HOST", "localhost")
	v.SetDefault("SMTP_PORT", 1025)
	v.SetDefault("SMTP_USERNAME", "")
	v.SetDefault("SMTP_PASSWORD", "")
	v.SetDefault("SMTP_FROM", "noreply@univ-soa.edu")
	v.SetDefault("SMTP_FROM_NAME", "Université SOA")
	v.SetDefault("ACTIVATION_CONFIRM_URL", "http://localhost:8080/api/auth/confirm")

	v.SetDefault("ACTIVATION_AUTO_ENABLE", true)
	v.SetDefault("ACTIVATION_TOKEN_TTL", "24h")
	v.SetDefault("ACTIVATION_PURGE_INTERVAL", "1h")

	v.SetDefault("MAILER_WORKERS", 1)
	v.SetDefault("MAILER_BUFFER_SIZE", 16)
	v.SetDefault("MAILER_SEND_TIMEOUT", "10s")

	v.SetDefault("GATEWAY_PORT", 8080)
	v.SetDefault("AUTH_SERVICE_URL", "http://localhost:8081")
	v.SetDefault("COURSE_SERVICE_URL", "http://localhost:8082")
	v.SetDefault("STUDENT_SERVICE_URL", "http://localhost:8083")
	v.SetDefault("GATEWAY_PUBLIC_PATHS", "/api/auth/login,/api/auth/register,/api/auth/confirm,/api/auth/health")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("ENABLE_CACHE", false)
	v.SetDefault("CACHE_TTL", "5m")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
