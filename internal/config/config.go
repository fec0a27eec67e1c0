package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Keycloak KeycloakConfig `mapstructure:"keycloak"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Database DatabaseConfig `mapstructure:"database"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type ServerConfig struct {
	Port         string   `mapstructure:"port"`
	Env          string   `mapstructure:"env"`
	AllowOrigins []string `mapstructure:"allow_origins"`
}

type KeycloakConfig struct {
	BaseURL string `mapstructure:"base_url"`
	// Realm holds the users managed by this service.
	Realm string `mapstructure:"realm"`
	// AdminRealm is the realm used to obtain admin access tokens (usually "master").
	AdminRealm string `mapstructure:"admin_realm"`
	// AdminClientID and AdminClientSecret are credentials for the admin API client.
	AdminClientID     string        `mapstructure:"admin_client_id"`
	AdminClientSecret string        `mapstructure:"admin_client_secret"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

type AuthConfig struct {
	// RequiredRole guards every /api/users endpoint.
	RequiredRole string `mapstructure:"required_role"`
	// ClientID selects the resource_access entry whose roles are added to the principal.
	ClientID string `mapstructure:"client_id"`
	// Audience is checked against the token "aud" claim when set.
	Audience string `mapstructure:"audience"`
	// HMACSecret switches token verification to a shared secret (development only).
	HMACSecret string `mapstructure:"hmac_secret"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	// DeliveryTimeout bounds how long a record may wait for a broker ack.
	DeliveryTimeout time.Duration `mapstructure:"delivery_timeout"`
}

type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Load reads configuration from environment variables and config files.
// Environment variables override file values. Prefix: BACKEND_RESOURCES_
func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.allow_origins", []string{"*"})
	v.SetDefault("keycloak.base_url", "http://localhost:8081")
	v.SetDefault("keycloak.realm", "itm")
	v.SetDefault("keycloak.admin_realm", "master")
	v.SetDefault("keycloak.admin_client_id", "backend-resources")
	v.SetDefault("keycloak.admin_client_secret", "")
	v.SetDefault("keycloak.timeout", 10*time.Second)
	v.SetDefault("auth.required_role", "ROLE_MODERATOR")
	v.SetDefault("auth.client_id", "backend-resources")
	v.SetDefault("auth.audience", "")
	v.SetDefault("auth.hmac_secret", "")
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "iam-events")
	v.SetDefault("kafka.delivery_timeout", 4*time.Second)
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "backend_resources")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "password")
	v.SetDefault("metrics.enabled", true)

	// Environment variables (e.g. BACKEND_RESOURCES_KEYCLOAK_REALM -> keycloak.realm)
	v.SetEnvPrefix("BACKEND_RESOURCES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Also support simple env vars without prefix for Docker Compose convenience
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.name", "DB_NAME")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("keycloak.base_url", "KEYCLOAK_URL")
	v.BindEnv("keycloak.realm", "KEYCLOAK_REALM")
	v.BindEnv("keycloak.admin_realm", "KEYCLOAK_ADMIN_REALM")
	v.BindEnv("keycloak.admin_client_id", "KEYCLOAK_ADMIN_CLIENT_ID")
	v.BindEnv("keycloak.admin_client_secret", "KEYCLOAK_ADMIN_CLIENT_SECRET")
	v.BindEnv("server.port", "PORT")

	// Try loading config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if c.Keycloak.BaseURL == "" {
		return fmt.Errorf("keycloak.base_url is required")
	}
	if c.Keycloak.Realm == "" {
		return fmt.Errorf("keycloak.realm is required")
	}
	if c.Auth.RequiredRole == "" {
		return fmt.Errorf("auth.required_role is required")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required when kafka is enabled")
	}
	return nil
}

// IssuerURL returns the token issuer of the managed realm.
func (k KeycloakConfig) IssuerURL() string {
	return strings.TrimSuffix(k.BaseURL, "/") + "/realms/" + k.Realm
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return "host=" + d.Host +
		" port=" + strconv.Itoa(d.Port) +
		" dbname=" + d.Name +
		" user=" + d.User +
		" password=" + d.Password +
		" sslmode=disable"
}
