// Package config loads hub server configuration from YAML.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Catalog backend names.
const (
	CatalogFile     = "file"
	CatalogPostgres = "postgres"
)

// Server holds all configuration for the hub server.
type Server struct {
	// Network
	BindAddress string `yaml:"bind_address"`
	Port        int    `yaml:"port"`

	// Metrics endpoint; empty disables it.
	MetricsAddress string `yaml:"metrics_address"`

	// Artifact storage
	ArtifactDir string `yaml:"artifact_dir"`

	// Game sessions: game_port = GamePortBase + room id.
	GamePortBase int `yaml:"game_port_base"`
	// Interpreter launched for game artifacts.
	GameInterpreter string `yaml:"game_interpreter"`

	// Per-session outbound queue depth.
	SendQueueSize int `yaml:"send_queue_size"`

	// Catalog backend
	Catalog CatalogConfig `yaml:"catalog"`

	LogLevel string `yaml:"log_level"`
}

// CatalogConfig selects and parameterizes the catalog backend.
type CatalogConfig struct {
	Backend  string         `yaml:"backend"`  // "file" or "postgres"
	Path     string         `yaml:"path"`     // file backend
	Database DatabaseConfig `yaml:"database"` // postgres backend
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// DefaultServer returns Server config with sensible defaults.
func DefaultServer() Server {
	return Server{
		BindAddress:     "0.0.0.0",
		Port:            10988,
		ArtifactDir:     "uploaded_games",
		GamePortBase:    14010,
		GameInterpreter: "python3",
		SendQueueSize:   64,
		Catalog: CatalogConfig{
			Backend: CatalogFile,
			Path:    "database.json",
			Database: DatabaseConfig{
				Host:     "127.0.0.1",
				Port:     5432,
				User:     "gamehub",
				Password: "gamehub",
				DBName:   "gamehub",
				SSLMode:  "disable",
			},
		},
		LogLevel: "info",
	}
}

// LoadServer loads hub server config from a YAML file.
// If the file doesn't exist, returns defaults.
func LoadServer(path string) (Server, error) {
	cfg := DefaultServer()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}
