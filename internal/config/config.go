package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Firmware FirmwareConfig `mapstructure:"firmware"`
	Blob     BlobConfig     `mapstructure:"blob"`
	S3       S3Config       `mapstructure:"s3"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
	Models   ModelsConfig   `mapstructure:"models"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

type DatabaseConfig struct {
	Driver         string `mapstructure:"driver"` // postgres | memory
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MigrateOnStart bool   `mapstructure:"migrate_on_start"`
}

// Auth Configuration
type AuthConfig struct {
	JWTSecretEnv   string        `mapstructure:"jwt_secret_env"`
	Issuer         string        `mapstructure:"issuer"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
}

type FirmwareConfig struct {
	// DefaultModel is used when a device has never reported its hardware model.
	DefaultModel      string        `mapstructure:"default_model"`
	MaxUploadSize     int64         `mapstructure:"max_upload_size"`
	RequireKnownModel bool          `mapstructure:"require_known_model"`
	DownloadURLTTL    time.Duration `mapstructure:"download_url_ttl"`
}

type BlobConfig struct {
	Backend string `mapstructure:"backend"` // filesystem | s3
	BaseDir string `mapstructure:"base_dir"`
}

type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
	Region          string `mapstructure:"region"`
}

type MQTTConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Broker         string        `mapstructure:"broker"`
	ClientID       string        `mapstructure:"client_id"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	TopicRoot      string        `mapstructure:"topic_root"`
	KeepAlive      time.Duration `mapstructure:"keep_alive"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// PublishTimeout bounds a rollout notice publish on the request path.
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
}

type ModelsConfig struct {
	SearchPaths []string `mapstructure:"search_paths"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

const (
	DefaultModelType     = "esp32"
	DefaultMaxUploadSize = 16 << 20

	devSecret = "dev-secret-change-in-production-min-32-chars"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "openfacility")
	v.SetDefault("database.user", "openfacility")
	v.SetDefault("database.max_connections", 10)
	v.SetDefault("database.migrate_on_start", true)

	// Auth Defaults
	v.SetDefault("auth.jwt_secret_env", "JWT_SECRET")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.access_token_ttl", "60m")

	v.SetDefault("firmware.default_model", DefaultModelType)
	v.SetDefault("firmware.max_upload_size", DefaultMaxUploadSize)
	v.SetDefault("firmware.require_known_model", false)
	v.SetDefault("firmware.download_url_ttl", "15m")

	v.SetDefault("blob.backend", "filesystem")
	v.SetDefault("blob.base_dir", "./data/firmware")

	v.SetDefault("s3.use_ssl", true)
	v.SetDefault("s3.bucket_name", "firmware")
	v.SetDefault("s3.region", "us-east-1")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.client_id", "ofcd")
	v.SetDefault("mqtt.topic_root", "ofc/v1")
	v.SetDefault("mqtt.keep_alive", "60s")
	v.SetDefault("mqtt.connect_timeout", "5s")
	v.SetDefault("mqtt.publish_timeout", "1s")

	v.SetDefault("models.search_paths", []string{"configs/models"})

	v.SetDefault("log.level", "info")
}

// Load reads the YAML file at path. A missing file is not an error; defaults
// and OFC_* environment variables still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	// Environment Variables automatisch binden (Viper Feature)
	v.SetEnvPrefix("OFC") // Environment Variables mit Prefix OFC_
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	switch c.Blob.Backend {
	case "filesystem", "s3":
	default:
		return fmt.Errorf("unsupported blob backend %q", c.Blob.Backend)
	}
	if c.Blob.Backend == "s3" && c.S3.Endpoint == "" {
		return fmt.Errorf("s3.endpoint is required for the s3 blob backend")
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	if c.Firmware.DefaultModel == "" {
		c.Firmware.DefaultModel = DefaultModelType
	}
	if c.Firmware.MaxUploadSize <= 0 {
		c.Firmware.MaxUploadSize = DefaultMaxUploadSize
	}
	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// JWT Secret aus Environment Variable laden
func (a *AuthConfig) GetJWTSecret() string {
	envVar := a.JWTSecretEnv
	if envVar == "" {
		envVar = "JWT_SECRET" // Fallback
	}

	secret := os.Getenv(envVar)
	if secret == "" {
		// Development Fallback (MIT WARNING!)
		return devSecret
	}
	return secret
}

// Helper um zu prüfen ob Production-Ready
func (a *AuthConfig) IsProductionReady() bool {
	secret := a.GetJWTSecret()
	return secret != devSecret && len(secret) >= 32
}
