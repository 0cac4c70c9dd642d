package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	LocalDeployment = "LOCAL"
	SaasDeployment  = "SAAS"

	DirectConnection   = "direct"
	CloudSqlConnection = "cloud_sql"

	LocalStorage  = "local"
	GcloudStorage = "gcloud"

	BasicIdentity    = "basic"
	KeycloakIdentity = "keycloak"
)

type DatabaseConfig struct {
	Driver         string `env:"DATABASE_DRIVER" yaml:"driver"`
	SqlitePath     string `env:"SQLITE_PATH" yaml:"sqlite_path"`
	ConnectionMode string `env:"POSTGRES_CONNECTION_MODE" yaml:"connection_mode"`

	Host     string `env:"POSTGRES_HOST" yaml:"host"`
	Port     int    `env:"POSTGRES_PORT" yaml:"port"`
	User     string `env:"POSTGRES_USER" yaml:"user"`
	Password string `env:"POSTGRES_PASSWORD" yaml:"password"`
	Name     string `env:"POSTGRES_DB" yaml:"name"`

	// Only used for cloud_sql, the connector exposes a unix socket under /cloudsql.
	InstanceConnectionName string `env:"POSTGRES_INSTANCE_CONNECTION_NAME" yaml:"instance_connection_name"`
}

func (c *DatabaseConfig) PostgresDsn() string {
	if c.ConnectionMode == CloudSqlConnection {
		return fmt.Sprintf("host=/cloudsql/%v user=%v password=%v dbname=%v", c.InstanceConnectionName, c.User, c.Password, c.Name)
	}
	return fmt.Sprintf("host=%v user=%v password=%v dbname=%v port=%v", c.Host, c.User, c.Password, c.Name, c.Port)
}

type StorageConfig struct {
	Provider    string `env:"STORAGE_PROVIDER" yaml:"provider"`
	LocalImgDir string `env:"LOCAL_IMG_DIR" yaml:"local_img_dir"`

	GcsBucketName      string `env:"GCS_BUCKET_NAME" yaml:"gcs_bucket_name"`
	GcsProjectId       string `env:"GCS_PROJECT_ID" yaml:"gcs_project_id"`
	GcsCredentialsPath string `env:"GCS_CREDENTIALS_PATH" yaml:"gcs_credentials_path"`
}

type LLMConfig struct {
	Provider        string `env:"LLM_PROVIDER" yaml:"provider"`
	AnthropicApiKey string `env:"ANTHROPIC_API_KEY" yaml:"anthropic_api_key"`
	OpenaiApiKey    string `env:"OPENAI_API_KEY" yaml:"openai_api_key"`
	Model           string `env:"LLM_MODEL" yaml:"model"`
}

func (c *LLMConfig) ApiKey() string {
	if c.Provider == "openai" {
		return c.OpenaiApiKey
	}
	return c.AnthropicApiKey
}

type IdentityConfig struct {
	Provider          string `env:"IDENTITY_PROVIDER" yaml:"provider"`
	KeycloakServerUrl string `env:"KEYCLOAK_SERVER_URL" yaml:"keycloak_server_url"`
	KeycloakRealm     string `env:"KEYCLOAK_REALM" yaml:"keycloak_realm"`
}

type AdminConfig struct {
	Email    string `env:"ADMIN_EMAIL" yaml:"email"`
	Password string `env:"ADMIN_PASSWORD" yaml:"password"`
}

type Config struct {
	Env         string   `env:"ENV" yaml:"env"`
	SecretKey   string   `env:"SECRET_KEY" yaml:"secret_key"`
	LogLevel    string   `env:"LOG_LEVEL" yaml:"log_level"`
	LogDir      string   `env:"LOG_DIR" yaml:"log_dir"`
	Port        int      `env:"PORT" yaml:"port"`
	CorsOrigins []string `env:"CORS_ORIGINS" envSeparator:"," yaml:"cors_origins"`

	DeploymentMode string `env:"DEPLOYMENT_MODE" yaml:"deployment_mode"`

	Database DatabaseConfig `env:"" yaml:"database"`
	Storage  StorageConfig  `env:"" yaml:"storage"`
	LLM      LLMConfig      `env:"" yaml:"llm"`
	Identity IdentityConfig `env:"" yaml:"identity"`
	Admin    AdminConfig    `env:"" yaml:"admin"`
}

func Default() Config {
	return Config{
		Env:            "development",
		LogLevel:       "info",
		Port:           8000,
		CorsOrigins:    []string{"http://localhost:3000"},
		DeploymentMode: LocalDeployment,
		Database: DatabaseConfig{
			Driver:         "postgres",
			ConnectionMode: DirectConnection,
			Host:           "localhost",
			Port:           5432,
			User:           "postgres",
			Name:           "aitrace",
		},
		Storage: StorageConfig{
			Provider:    LocalStorage,
			LocalImgDir: "./images",
		},
		LLM: LLMConfig{
			Provider: "anthropic",
		},
		Identity: IdentityConfig{
			Provider:      BasicIdentity,
			KeycloakRealm: "aitrace",
		},
	}
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func (c *Config) IsSaas() bool {
	return c.DeploymentMode == SaasDeployment
}

/**
 * ==========================================================================
 * ==== Every setting the service reads is loaded here. Values come from ====
 * ==== the defaults, then the optional yaml file, then the optional env ====
 * ==== file, and finally the process environment, each overriding the   ====
 * ==== previous layer.                                                  ====
 * ==========================================================================
 */
func Load(configPath, envPath string) (Config, error) {
	cfg := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return Config{}, fmt.Errorf("error reading config file '%v': %w", configPath, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("error parsing config file '%v': %w", configPath, err)
		}
		slog.Info("loaded config file", "path", configPath)
	}

	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil {
			return Config{}, fmt.Errorf("error loading env file '%v': %w", envPath, err)
		}
		slog.Info("loaded env file", "path", envPath)
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("error parsing env variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func oneOf(value string, options ...string) bool {
	for _, opt := range options {
		if value == opt {
			return true
		}
	}
	return false
}

func (c *Config) Validate() error {
	problems := []string{}

	invalid := func(key, msg string) {
		problems = append(problems, fmt.Sprintf("%v: %v", key, msg))
	}

	if c.SecretKey == "" {
		invalid("SECRET_KEY", "is required")
	}
	if !oneOf(strings.ToLower(c.LogLevel), "debug", "info", "warn", "error") {
		invalid("LOG_LEVEL", "must be one of debug, info, warn, error")
	}
	if c.Port <= 0 || c.Port > 65535 {
		invalid("PORT", "must be a valid port")
	}
	if !oneOf(c.DeploymentMode, LocalDeployment, SaasDeployment) {
		invalid("DEPLOYMENT_MODE", "must be LOCAL or SAAS")
	}

	switch c.Database.Driver {
	case "postgres":
		if !oneOf(c.Database.ConnectionMode, DirectConnection, CloudSqlConnection) {
			invalid("POSTGRES_CONNECTION_MODE", "must be direct or cloud_sql")
		}
		if c.Database.ConnectionMode == CloudSqlConnection && c.Database.InstanceConnectionName == "" {
			invalid("POSTGRES_INSTANCE_CONNECTION_NAME", "is required for cloud_sql connections")
		}
	case "sqlite":
		if c.Database.SqlitePath == "" {
			invalid("SQLITE_PATH", "is required for the sqlite driver")
		}
	default:
		invalid("DATABASE_DRIVER", "must be postgres or sqlite")
	}

	switch c.Storage.Provider {
	case LocalStorage:
		if c.Storage.LocalImgDir == "" {
			invalid("LOCAL_IMG_DIR", "is required for local storage")
		}
	case GcloudStorage:
		if c.Storage.GcsBucketName == "" {
			invalid("GCS_BUCKET_NAME", "is required for gcloud storage")
		}
	default:
		invalid("STORAGE_PROVIDER", "must be local or gcloud")
	}

	if !oneOf(c.LLM.Provider, "anthropic", "openai") {
		invalid("LLM_PROVIDER", "must be anthropic or openai")
	}

	switch c.Identity.Provider {
	case BasicIdentity:
	case KeycloakIdentity:
		if c.Identity.KeycloakServerUrl == "" {
			invalid("KEYCLOAK_SERVER_URL", "is required for the keycloak identity provider")
		}
	default:
		invalid("IDENTITY_PROVIDER", "must be basic or keycloak")
	}

	if (c.Admin.Email == "") != (c.Admin.Password == "") {
		invalid("ADMIN_EMAIL", "ADMIN_EMAIL and ADMIN_PASSWORD must be set together")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
