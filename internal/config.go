package internal

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/hbomb79/Lumen/internal/api"
	"github.com/hbomb79/Lumen/internal/archive"
	"github.com/hbomb79/Lumen/internal/catalog"
	"github.com/hbomb79/Lumen/internal/database"
	"github.com/hbomb79/Lumen/internal/ingest"
	"github.com/hbomb79/Lumen/pkg/logger"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/mitchellh/go-homedir"
)

const (
	CatalogDriverPostgres = "postgres"
	CatalogDriverMongo    = "mongo"
)

// LumenConfig is the struct used to contain the
// various user config supplied by file, or
// via environment variables.
type LumenConfig struct {
	RestConfig api.RestConfig          `yaml:"http"`
	Storage    StorageConfig           `yaml:"storage"`
	Archive    archive.Config          `yaml:"archive"`
	Ingest     ingest.Config           `yaml:"ingest"`
	Catalog    CatalogConfig           `yaml:"catalog"`
	Database   database.DatabaseConfig `yaml:"database"`
	Mongo      catalog.MongoConfig     `yaml:"mongo"`
	LogLevel   string                  `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
}

// StorageConfig controls where uploaded media is stored. The temporary
// and scratch areas used during ingestion live beneath the upload directory.
type StorageConfig struct {
	UploadDir string `yaml:"upload_dir" env:"UPLOAD_DIR" env-default:"~/.lumen/uploads"`
}

type CatalogConfig struct {
	Driver string `yaml:"driver" env:"CATALOG_DRIVER" env-default:"postgres"`
}

// LoadConfig reads the YAML configuration file at the path provided, overlaying any
// values found in the environment. If no path is given, the configuration is
// read from the environment alone.
func LoadConfig(configPath string) (*LumenConfig, error) {
	config := &LumenConfig{}
	if configPath == "" {
		if err := cleanenv.ReadEnv(config); err != nil {
			return nil, fmt.Errorf("failed to load configuration from environment: %w", err)
		}
	} else {
		path, err := homedir.Expand(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to expand config path '%s': %w", configPath, err)
		}
		if err := cleanenv.ReadConfig(path, config); err != nil {
			return nil, fmt.Errorf("failed to load configuration from '%s': %w", path, err)
		}
	}

	if err := config.normalise(); err != nil {
		return nil, err
	}

	return config, nil
}

// normalise validates the configuration, expanding any paths which
// reference the users home directory.
func (config *LumenConfig) normalise() error {
	uploadDir, err := homedir.Expand(config.Storage.UploadDir)
	if err != nil {
		return fmt.Errorf("failed to expand upload directory '%s': %w", config.Storage.UploadDir, err)
	}
	config.Storage.UploadDir = uploadDir

	config.Catalog.Driver = strings.ToLower(strings.TrimSpace(config.Catalog.Driver))
	switch config.Catalog.Driver {
	case CatalogDriverPostgres, CatalogDriverMongo:
	default:
		return fmt.Errorf("catalog driver '%s' is not supported (expected '%s' or '%s')", config.Catalog.Driver, CatalogDriverPostgres, CatalogDriverMongo)
	}

	if _, err := logger.ParseLevel(config.LogLevel); err != nil {
		return err
	}
	if _, err := config.Ingest.MaxUploadBytes(); err != nil {
		return err
	}

	return nil
}

const redactedValue = "xxxxx"

// Redacted returns a copy of the configuration which is safe to log, with the
// database password and any credentials inside the Mongo URI masked.
func (config LumenConfig) Redacted() LumenConfig {
	if config.Database.Password != "" {
		config.Database.Password = redactedValue
	}

	if config.Mongo.URI != "" {
		if u, err := url.Parse(config.Mongo.URI); err == nil {
			config.Mongo.URI = u.Redacted()
		} else {
			config.Mongo.URI = redactedValue
		}
	}

	return config
}
