// Package config handles loading and parsing of mediaoffload configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for mediaoffload.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Logging       LoggingConfig       `yaml:"logging"`
	Storage       StorageConfig       `yaml:"storage"`
	Media         MediaConfig         `yaml:"media"`
	Index         IndexConfig         `yaml:"index"`
	Rewrite       RewriteConfig       `yaml:"rewrite"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// ShutdownTimeout is the graceful shutdown timeout in seconds.
	ShutdownTimeout int `yaml:"shutdown_timeout"`
	// HookToken, when set, is required as a bearer token on the hook and
	// settings endpoints.
	HookToken string `yaml:"hook_token"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StorageConfig seeds the bucket settings on first boot. Once the settings
// exist in the option store they take precedence; see SeedBucketSettings.
type StorageConfig struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	// Endpoint overrides the S3 endpoint for S3-compatible stores.
	Endpoint string `yaml:"endpoint"`
	// UsePathStyle enables path-style bucket addressing.
	UsePathStyle bool `yaml:"use_path_style"`
}

// MediaConfig describes the host's filesystem layout.
type MediaConfig struct {
	// DocumentRoot is the web root that request paths are resolved against.
	DocumentRoot string `yaml:"document_root"`
	// ContentDir is the root stripped from local paths to form storage keys.
	ContentDir string `yaml:"content_dir"`
	// UploadsDir holds uploaded media and the rewrite rules file. Defaults
	// to ContentDir/uploads.
	UploadsDir string `yaml:"uploads_dir"`
}

// IndexConfig holds content index settings.
type IndexConfig struct {
	// Path is the filesystem path for the SQLite database file.
	Path string `yaml:"path"`
}

// RewriteConfig controls installation of the web-server rewrite rules.
type RewriteConfig struct {
	// Install enables rule installation at startup.
	Install bool `yaml:"install"`
	// Target is where requests for missing files are routed.
	Target string `yaml:"target"`
}

// ObservabilityConfig toggles the metrics endpoint.
type ObservabilityConfig struct {
	Metrics bool `yaml:"metrics"`
}

// Load reads a YAML configuration file from the given path and returns
// a parsed Config. It applies sensible defaults for unset values.
// If the primary path fails, it falls back to mediaoffload.example.yaml
// in the same directory or parent directory.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		fallbackPaths := []string{
			filepath.Join(filepath.Dir(path), "mediaoffload.example.yaml"),
			filepath.Join(filepath.Dir(path), "..", "mediaoffload.example.yaml"),
		}
		var fallbackErr error
		for _, fp := range fallbackPaths {
			data, fallbackErr = os.ReadFile(fp)
			if fallbackErr == nil {
				break
			}
		}
		if fallbackErr != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

// LoadEnv applies MEDIAOFFLOAD_* environment overrides to cfg. If envFile
// exists it is loaded first; variables already set in the environment win.
func LoadEnv(cfg *Config, envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", envFile, err)
		}
	}

	overrides := map[string]*string{
		"MEDIAOFFLOAD_BUCKET":        &cfg.Storage.Bucket,
		"MEDIAOFFLOAD_REGION":        &cfg.Storage.Region,
		"MEDIAOFFLOAD_ACCESS_KEY":    &cfg.Storage.AccessKey,
		"MEDIAOFFLOAD_SECRET_KEY":    &cfg.Storage.SecretKey,
		"MEDIAOFFLOAD_S3_ENDPOINT":   &cfg.Storage.Endpoint,
		"MEDIAOFFLOAD_HOOK_TOKEN":    &cfg.Server.HookToken,
		"MEDIAOFFLOAD_DOCUMENT_ROOT": &cfg.Media.DocumentRoot,
		"MEDIAOFFLOAD_CONTENT_DIR":   &cfg.Media.ContentDir,
	}
	for name, dst := range overrides {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			*dst = v
		}
	}
	if v, ok := os.LookupEnv("MEDIAOFFLOAD_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MEDIAOFFLOAD_PORT: %w", err)
		}
		cfg.Server.Port = port
	}

	applyDefaults(cfg)
	return nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            9000,
			ShutdownTimeout: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Media: MediaConfig{
			DocumentRoot: "./www",
		},
		Index: IndexConfig{
			Path: "./data/index.db",
		},
		Rewrite: RewriteConfig{
			Install: true,
		},
		Observability: ObservabilityConfig{
			Metrics: true,
		},
	}
	return cfg
}

// applyDefaults fills in any fields that are still at their zero value
// after YAML unmarshaling.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9000
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Media.DocumentRoot == "" {
		cfg.Media.DocumentRoot = "./www"
	}
	if cfg.Index.Path == "" {
		cfg.Index.Path = "./data/index.db"
	}
}

// ContentRoot returns the key root, defaulting to DocumentRoot/wp-content.
func (m MediaConfig) ContentRoot() string {
	if m.ContentDir != "" {
		return m.ContentDir
	}
	return filepath.Join(m.DocumentRoot, "wp-content")
}

// UploadsRoot returns the uploads directory, defaulting to ContentRoot/uploads.
func (m MediaConfig) UploadsRoot() string {
	if m.UploadsDir != "" {
		return m.UploadsDir
	}
	return filepath.Join(m.ContentRoot(), "uploads")
}

// RewriteTarget returns the configured rewrite target, or this server's own
// address when none is set.
func (c *Config) RewriteTarget() string {
	if c.Rewrite.Target != "" {
		return c.Rewrite.Target
	}
	return fmt.Sprintf("http://%s:%d", c.Server.Host, c.Server.Port)
}
