package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Togather-Foundation/passvault/internal/validation"
)

// DefaultSharedSecret is the placeholder STORAGE_API_KEY. It is refused in
// production.
const DefaultSharedSecret = "change-me"

const (
	AuthModeAPIKey = "apikey"
	AuthModeJWT    = "jwt"
)

type Config struct {
	Environment string
	Server      ServerConfig
	Logging     LoggingConfig
	Tracing     TracingConfig
	RateLimit   RateLimitConfig
	Storage     StorageConfig
	Breaker     BreakerConfig
	Cipher      CipherConfig
	OAuth       OAuthConfig
	Kafka       KafkaConfig
}

type ServerConfig struct {
	Host        string
	GatewayPort int
	StoragePort int
}

type LoggingConfig struct {
	Level  string
	Format string
}

type TracingConfig struct {
	Enabled      bool
	Exporter     string
	ServiceName  string
	OTLPEndpoint string
	SampleRate   float64
}

type RateLimitConfig struct {
	PerMinute         int
	TrustedProxyCIDRs []string
}

type StorageConfig struct {
	BaseURL        string
	APIKey         string
	AuthMode       string
	RequestTimeout time.Duration
	RetryAttempts  int
	DBPath         string
}

type BreakerConfig struct {
	FailureThreshold int
	ResetTimeout     time.Duration
}

type CipherConfig struct {
	BcryptCost int
}

type OAuthConfig struct {
	KeycloakURL           string
	Realm                 string
	TokenURL              string
	JWKSURL               string
	ClientID              string
	ClientSecret          string
	Issuers               []string
	Audience              string
	FallbackAudience      string
	JWKSCacheTTL          time.Duration
	JWKSRequestsPerMinute int
}

type KafkaConfig struct {
	Enabled  bool
	Brokers  []string
	ClientID string
	GroupID  string
	Topic    string
}

// Load reads configuration from the environment. When path is non-empty the
// YAML file there supplies values for keys the environment leaves unset; its
// top level is a flat map using the same key names.
func Load(path string) (Config, error) {
	src := source{}
	if path != "" {
		file, err := readFile(path)
		if err != nil {
			return Config{}, err
		}
		src.file = file
	}

	cfg := Config{
		Environment: src.getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:        src.getEnv("SERVER_HOST", "0.0.0.0"),
			GatewayPort: src.getEnvInt("GATEWAY_PORT", 3000),
			StoragePort: src.getEnvInt("STORAGE_PORT", 3001),
		},
		Logging: LoggingConfig{
			Level:  src.getEnv("LOG_LEVEL", "info"),
			Format: src.getEnv("LOG_FORMAT", "json"),
		},
		Tracing: TracingConfig{
			Enabled:      src.getEnvBool("TRACING_ENABLED", false),
			Exporter:     src.getEnv("TRACING_EXPORTER", "stdout"),
			OTLPEndpoint: src.getEnv("OTLP_ENDPOINT", "localhost:4317"),
			SampleRate:   src.getEnvFloat("TRACING_SAMPLE_RATE", 1.0),
		},
		RateLimit: RateLimitConfig{
			PerMinute:         src.getEnvInt("RATE_LIMIT_PER_MINUTE", 120),
			TrustedProxyCIDRs: src.getEnvList("TRUSTED_PROXY_CIDRS"),
		},
		Storage: StorageConfig{
			BaseURL:        src.getEnv("STORAGE_BASE_URL", "http://localhost:3001"),
			APIKey:         src.getEnv("STORAGE_API_KEY", DefaultSharedSecret),
			AuthMode:       strings.ToLower(src.getEnv("STORAGE_AUTH_MODE", AuthModeAPIKey)),
			RequestTimeout: src.getEnvMillis("REQUEST_TIMEOUT_MS", 3*time.Second),
			RetryAttempts:  src.getEnvInt("RETRY_ATTEMPTS", 2),
			DBPath:         src.getEnv("SQLITE_DB_PATH", "data/passvault.db"),
		},
		Breaker: BreakerConfig{
			FailureThreshold: src.getEnvInt("CB_FAILURE_THRESHOLD", 5),
			ResetTimeout:     src.getEnvMillis("CB_RESET_TIMEOUT_MS", 15*time.Second),
		},
		Cipher: CipherConfig{
			BcryptCost: src.getEnvInt("BCRYPT_COST", 12),
		},
		OAuth: OAuthConfig{
			KeycloakURL:           strings.TrimRight(src.getEnv("KEYCLOAK_URL", ""), "/"),
			Realm:                 src.getEnv("KEYCLOAK_REALM", ""),
			TokenURL:              src.getEnv("OAUTH_TOKEN_URL", ""),
			JWKSURL:               src.getEnv("OAUTH_JWKS_URL", ""),
			ClientID:              src.getEnv("OAUTH_CLIENT_ID", ""),
			ClientSecret:          src.getEnv("OAUTH_CLIENT_SECRET", ""),
			Issuers:               src.getEnvList("OAUTH_ISSUERS"),
			Audience:              src.getEnv("OAUTH_AUDIENCE", ""),
			FallbackAudience:      src.getEnv("OAUTH_FALLBACK_AUDIENCE", "account"),
			JWKSCacheTTL:          src.getEnvDuration("JWKS_CACHE_TTL", 24*time.Hour),
			JWKSRequestsPerMinute: src.getEnvInt("JWKS_REQUESTS_PER_MINUTE", 10),
		},
		Kafka: KafkaConfig{
			Enabled:  src.getEnvBool("KAFKA_ENABLED", false),
			Brokers:  src.getEnvList("KAFKA_BROKERS"),
			ClientID: src.getEnv("KAFKA_CLIENT_ID", "passvault"),
			GroupID:  src.getEnv("KAFKA_GROUP_ID", "passvault-storage"),
			Topic:    src.getEnv("KAFKA_TOPIC_PASSWORD_EVENTS", "passwords.v1.events"),
		},
	}

	// Keycloak realm endpoints fill in whatever was not given explicitly.
	if realm := cfg.OAuth.realmURL(); realm != "" {
		if cfg.OAuth.TokenURL == "" {
			cfg.OAuth.TokenURL = realm + "/protocol/openid-connect/token"
		}
		if cfg.OAuth.JWKSURL == "" {
			cfg.OAuth.JWKSURL = realm + "/protocol/openid-connect/certs"
		}
		if len(cfg.OAuth.Issuers) == 0 {
			cfg.OAuth.Issuers = []string{realm}
		}
	}

	if cfg.Logging.Format != "json" && cfg.Logging.Format != "console" {
		return Config{}, fmt.Errorf("LOG_FORMAT must be json or console, got %q", cfg.Logging.Format)
	}
	if cfg.Storage.AuthMode != AuthModeAPIKey && cfg.Storage.AuthMode != AuthModeJWT {
		return Config{}, fmt.Errorf("STORAGE_AUTH_MODE must be %s or %s, got %q", AuthModeAPIKey, AuthModeJWT, cfg.Storage.AuthMode)
	}
	if cfg.Storage.RetryAttempts < 0 {
		return Config{}, fmt.Errorf("RETRY_ATTEMPTS must not be negative")
	}
	return cfg, nil
}

func (o OAuthConfig) realmURL() string {
	if o.KeycloakURL == "" || o.Realm == "" {
		return ""
	}
	return o.KeycloakURL + "/realms/" + o.Realm
}

// IsProduction reports whether the service runs with production safeguards.
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// ValidateGateway checks the settings the gateway needs.
func (c Config) ValidateGateway() error {
	if c.Storage.BaseURL == "" {
		return fmt.Errorf("STORAGE_BASE_URL is required")
	}
	if err := validation.ValidateBaseURL(c.Storage.BaseURL, "STORAGE_BASE_URL", false); err != nil {
		return err
	}
	if c.Storage.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT_MS must be positive")
	}
	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("CB_FAILURE_THRESHOLD must be positive")
	}
	if c.Cipher.BcryptCost < 4 || c.Cipher.BcryptCost > 31 {
		return fmt.Errorf("BCRYPT_COST must be between 4 and 31")
	}
	switch c.Storage.AuthMode {
	case AuthModeJWT:
		if c.OAuth.TokenURL == "" || c.OAuth.ClientID == "" || c.OAuth.ClientSecret == "" {
			return fmt.Errorf("OAUTH_TOKEN_URL (or KEYCLOAK_URL and KEYCLOAK_REALM), OAUTH_CLIENT_ID and OAUTH_CLIENT_SECRET are required when STORAGE_AUTH_MODE=jwt")
		}
	default:
		if err := c.validateSharedSecret(); err != nil {
			return err
		}
	}
	return c.validateKafka()
}

// ValidateStorage checks the settings the storage service needs. The shared
// secret is always required because it guards the audit endpoints.
func (c Config) ValidateStorage() error {
	if c.Storage.DBPath == "" {
		return fmt.Errorf("SQLITE_DB_PATH is required")
	}
	if err := c.validateSharedSecret(); err != nil {
		return err
	}
	if c.Storage.AuthMode == AuthModeJWT {
		if c.OAuth.JWKSURL == "" {
			return fmt.Errorf("OAUTH_JWKS_URL (or KEYCLOAK_URL and KEYCLOAK_REALM) is required when STORAGE_AUTH_MODE=jwt")
		}
		if len(c.OAuth.Issuers) == 0 || c.OAuth.Audience == "" {
			return fmt.Errorf("OAUTH_ISSUERS and OAUTH_AUDIENCE are required when STORAGE_AUTH_MODE=jwt")
		}
	}
	return c.validateKafka()
}

func (c Config) validateSharedSecret() error {
	if c.Storage.APIKey == "" {
		return fmt.Errorf("STORAGE_API_KEY is required")
	}
	if c.IsProduction() && c.Storage.APIKey == DefaultSharedSecret {
		return fmt.Errorf("STORAGE_API_KEY must be changed from the default in production")
	}
	return nil
}

func (c Config) validateKafka() error {
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when KAFKA_ENABLED=true")
	}
	return nil
}

func readFile(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	values := make(map[string]string, len(doc))
	for key, value := range doc {
		switch v := value.(type) {
		case nil:
		case []any:
			parts := make([]string, 0, len(v))
			for _, item := range v {
				parts = append(parts, fmt.Sprint(item))
			}
			values[strings.ToUpper(key)] = strings.Join(parts, ",")
		case map[string]any:
			return nil, fmt.Errorf("config file %s: key %s must be a scalar or a list", path, key)
		default:
			values[strings.ToUpper(key)] = fmt.Sprint(v)
		}
	}
	return values, nil
}

// source resolves a key from the environment first, then the config file.
type source struct {
	file map[string]string
}

func (s source) lookup(key string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return s.file[key]
}

func (s source) getEnv(key, fallback string) string {
	if value := s.lookup(key); value != "" {
		return value
	}
	return fallback
}

func (s source) getEnvInt(key string, fallback int) int {
	value := s.lookup(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func (s source) getEnvFloat(key string, fallback float64) float64 {
	value := s.lookup(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func (s source) getEnvBool(key string, fallback bool) bool {
	value := s.lookup(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func (s source) getEnvMillis(key string, fallback time.Duration) time.Duration {
	ms := s.getEnvInt(key, -1)
	if ms < 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

// getEnvDuration accepts a Go duration ("10m") or a bare number of
// milliseconds.
func (s source) getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := s.lookup(key)
	if value == "" {
		return fallback
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}

func (s source) getEnvList(key string) []string {
	value := s.lookup(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
