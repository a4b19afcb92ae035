package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/nfe-danfe/internal/batch"
	"github.com/garyjia/nfe-danfe/internal/qrcode"
	"github.com/garyjia/nfe-danfe/pkg/database"
	"github.com/garyjia/nfe-danfe/pkg/utils"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Logger   LoggerConfig   `mapstructure:"logger"`
	QRCode   QRCodeConfig   `mapstructure:"qrcode"`
	Batch    BatchConfig    `mapstructure:"batch"`
	Render   RenderConfig   `mapstructure:"render"`
	Hazmat   HazmatConfig   `mapstructure:"hazmat"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Inbox    InboxConfig    `mapstructure:"inbox"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// QRCodeConfig holds the authority QR settings. The CSC is a secret and is
// normally supplied through NFE_CSC.
type QRCodeConfig struct {
	BaseURL     string  `mapstructure:"base_url"`
	Version     string  `mapstructure:"version"`
	Environment string  `mapstructure:"environment"`
	TokenID     string  `mapstructure:"token_id"`
	CSC         string  `mapstructure:"csc"`
	DPI         int     `mapstructure:"dpi"`
	SizeMM      float64 `mapstructure:"size_mm"`
}

// BatchConfig controls the batch coordinator
type BatchConfig struct {
	ChunkSize int `mapstructure:"chunk_size"`
	Workers   int `mapstructure:"workers"`
}

// RenderConfig controls document output
type RenderConfig struct {
	OutputDir   string `mapstructure:"output_dir"`
	LabelSheet  bool   `mapstructure:"label_sheet"`
	Consolidate bool   `mapstructure:"consolidate"`
}

// HazmatConfig points at the dangerous goods catalog
type HazmatConfig struct {
	CatalogPath string `mapstructure:"catalog_path"`
}

// StorageConfig controls the document archive
type StorageConfig struct {
	ArchiveDir string `mapstructure:"archive_dir"`
}

// InboxConfig controls the folder watcher of the server
type InboxConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Dir          string        `mapstructure:"dir"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	MaxFiles     int           `mapstructure:"max_files"`
}

// Load loads configuration from file and environment variables. An empty
// path uses defaults and the environment only.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("NFE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.max_body_bytes", 32<<20)

	// Database defaults
	v.SetDefault("database.path", "data/nfe.db")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")

	// QR defaults
	qr := qrcode.DefaultConfig()
	v.SetDefault("qrcode.base_url", qr.BaseURL)
	v.SetDefault("qrcode.version", qr.Version)
	v.SetDefault("qrcode.token_id", qr.TokenID)
	v.SetDefault("qrcode.dpi", qr.DPI)
	v.SetDefault("qrcode.size_mm", qr.SizeMM)

	// Batch defaults
	v.SetDefault("batch.chunk_size", 10)
	v.SetDefault("batch.workers", 4)

	// Render defaults
	v.SetDefault("render.output_dir", "output")
	v.SetDefault("render.label_sheet", false)
	v.SetDefault("render.consolidate", false)

	v.SetDefault("storage.archive_dir", "data/archive")

	v.SetDefault("inbox.enabled", false)
	v.SetDefault("inbox.dir", "data/inbox")
	v.SetDefault("inbox.poll_interval", 30*time.Second)
	v.SetDefault("inbox.max_files", 100)
}

// bindEnvVars binds environment variables to configuration
func bindEnvVars(v *viper.Viper) {
	// Sensitive credentials from environment
	v.BindEnv("qrcode.csc", "NFE_CSC")
	v.BindEnv("qrcode.token_id", "NFE_CSC_TOKEN_ID")
	v.BindEnv("qrcode.environment", "NFE_ENVIRONMENT")
	v.BindEnv("database.path", "NFE_DATABASE_PATH")
	v.BindEnv("hazmat.catalog_path", "NFE_HAZMAT_CATALOG")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.QRCode.Environment {
	case "", "1", "2":
	default:
		return fmt.Errorf("qrcode.environment must be 1 or 2, got %q", c.QRCode.Environment)
	}
	if c.QRCode.SizeMM != 0 && (c.QRCode.SizeMM < qrcode.MinSizeMM || c.QRCode.SizeMM > qrcode.MaxSizeMM) {
		return fmt.Errorf("qrcode.size_mm must be between %.0f and %.0f", qrcode.MinSizeMM, qrcode.MaxSizeMM)
	}
	if c.QRCode.DPI < 0 {
		return fmt.Errorf("qrcode.dpi must be positive")
	}

	if c.Batch.ChunkSize <= 0 {
		return fmt.Errorf("batch.chunk_size must be positive")
	}
	if c.Batch.Workers <= 0 {
		return fmt.Errorf("batch.workers must be positive")
	}

	if c.Inbox.Enabled {
		if c.Inbox.Dir == "" {
			return fmt.Errorf("inbox.dir is required when the inbox is enabled")
		}
		if c.Inbox.PollInterval < time.Second {
			return fmt.Errorf("inbox.poll_interval must be at least 1s")
		}
	}

	switch c.Logger.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logger.format must be json or console, got %q", c.Logger.Format)
	}
	return nil
}

// QRCodeSettings converts the section to the composer configuration
func (c *Config) QRCodeSettings() qrcode.Config {
	return qrcode.Config{
		BaseURL:     c.QRCode.BaseURL,
		Version:     c.QRCode.Version,
		Environment: c.QRCode.Environment,
		TokenID:     c.QRCode.TokenID,
		CSC:         c.QRCode.CSC,
		DPI:         c.QRCode.DPI,
		SizeMM:      c.QRCode.SizeMM,
	}
}

// DatabaseSettings converts the section to the database configuration
func (c *Config) DatabaseSettings() database.Config {
	return database.Config{
		Path:            c.Database.Path,
		MaxOpenConns:    c.Database.MaxOpenConns,
		MaxIdleConns:    c.Database.MaxIdleConns,
		ConnMaxLifetime: c.Database.ConnMaxLifetime,
	}
}

// LoggerSettings converts the section to the logger configuration
func (c *Config) LoggerSettings() utils.LoggerConfig {
	return utils.LoggerConfig{
		Level:      c.Logger.Level,
		OutputPath: c.Logger.OutputPath,
		Format:     c.Logger.Format,
	}
}

// BatchSettings converts the section to the coordinator configuration
func (c *Config) BatchSettings() batch.Config {
	return batch.Config{
		ChunkSize: c.Batch.ChunkSize,
		Workers:   c.Batch.Workers,
	}
}
