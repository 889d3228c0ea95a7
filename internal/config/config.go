// Package config reads the process configuration from the environment.
package config

import (
	"os"

	"github.com/pkg/errors"
)

// Environment variable names.
const (
	EnvListenAddr   = "ARGUS_LISTEN_ADDR"
	EnvDatabaseDSN  = "ARGUS_DATABASE_DSN"
	EnvMasterSecret = "ARGUS_MASTER_SECRET"
	EnvMLModelPath  = "ARGUS_ML_MODEL_PATH"
	EnvOTLPEndpoint = "ARGUS_OTLP_ENDPOINT"
	EnvViewsDir     = "ARGUS_VIEWS_DIR"
)

// Defaults.
const (
	DefaultListenAddr  = ":8080"
	DefaultDatabaseDSN = "argus.db"
	DefaultViewsDir    = "./views"
)

// Config is the resolved runtime configuration.
type Config struct {
	ListenAddr   string
	DatabaseDSN  string
	MasterSecret string
	MLModelPath  string
	OTLPEndpoint string
	ViewsDir     string
}

// Load resolves the configuration. The master secret has no default: running
// without one would silently store credentials under a well-known key.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:   getenv(EnvListenAddr, DefaultListenAddr),
		DatabaseDSN:  getenv(EnvDatabaseDSN, DefaultDatabaseDSN),
		MasterSecret: os.Getenv(EnvMasterSecret),
		MLModelPath:  os.Getenv(EnvMLModelPath),
		OTLPEndpoint: os.Getenv(EnvOTLPEndpoint),
		ViewsDir:     getenv(EnvViewsDir, DefaultViewsDir),
	}
	if cfg.MasterSecret == "" {
		return nil, errors.Errorf("%s is required", EnvMasterSecret)
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
