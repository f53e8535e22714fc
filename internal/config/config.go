package config

import (
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type Config struct {
	// DatabaseURL is the registry database. Jobs are kept in memory when
	// it is empty.
	DatabaseURL string         `mapstructure:"database_url"`
	ServerPort  string         `mapstructure:"server_port"`
	Database    DatabaseConfig `mapstructure:"database"`
	Catalog     CatalogConfig  `mapstructure:"catalog"`
	Pipeline    PipelineConfig `mapstructure:"pipeline"`
	SFTP        SFTPConfig     `mapstructure:"sftp"`
	Storage     StorageConfig  `mapstructure:"storage"`
	Webhook     WebhookConfig  `mapstructure:"webhook"`
}

// DatabaseConfig is the shared connectivity for the roster databases.
type DatabaseConfig struct {
	Driver                 string        `mapstructure:"driver"`
	Host                   string        `mapstructure:"host"`
	Port                   int           `mapstructure:"port"`
	Username               string        `mapstructure:"username"`
	Password               string        `mapstructure:"password"`
	TrustServerCertificate bool          `mapstructure:"trust_server_certificate"`
	MaxOpenConns           int           `mapstructure:"max_open_conns"`
	QueryTimeout           time.Duration `mapstructure:"query_timeout"`
}

type CatalogConfig struct {
	DatabasesFile string `mapstructure:"databases_file"`
	SQLDir        string `mapstructure:"sql_dir"`
}

type PipelineConfig struct {
	Workers int `mapstructure:"workers"`
}

type SFTPConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	RemoteRoot     string        `mapstructure:"remote_root"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	Retries        int           `mapstructure:"retries"`
	RetryInterval  time.Duration `mapstructure:"retry_interval"`
}

type StorageConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

type WebhookConfig struct {
	URL      string        `mapstructure:"url"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Load reads the configuration from a YAML file plus the environment and
// returns a Config instance.
func Load() *Config {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	// Look for config in the current directory and ./config
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	config, err := parse(v)
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}
	return config
}

func parse(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	bindEnv(v)

	// A missing file is fine: defaults plus environment carry a full setup.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.Wrap(err, "read config file")
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server_port", "8080")

	v.SetDefault("database.driver", "mssql")
	v.SetDefault("database.port", 1433)
	v.SetDefault("database.trust_server_certificate", true)
	v.SetDefault("database.max_open_conns", 5)
	v.SetDefault("database.query_timeout", "300s")

	v.SetDefault("catalog.databases_file", "config/databases.yaml")
	v.SetDefault("catalog.sql_dir", "sql")

	v.SetDefault("pipeline.workers", 4)

	v.SetDefault("sftp.port", 22)
	v.SetDefault("sftp.remote_root", "ai")
	v.SetDefault("sftp.connect_timeout", "30s")
	v.SetDefault("sftp.retries", 3)
	v.SetDefault("sftp.retry_interval", "5s")

	v.SetDefault("webhook.timeout", "30s")
}

// bindEnv maps credentials onto environment variables so secrets stay out
// of the config file.
func bindEnv(v *viper.Viper) {
	v.BindEnv("database_url", "DATABASE_URL")
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.host", "DB_SERVER")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.username", "DB_UID")
	v.BindEnv("database.password", "DB_PWD")
	v.BindEnv("sftp.username", "SFTP_USERNAME")
	v.BindEnv("sftp.password", "SFTP_PASSWORD")
	v.BindEnv("storage.access_key", "STORAGE_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "STORAGE_SECRET_KEY")
	v.BindEnv("webhook.password", "WEBHOOK_PASSWORD")
}
