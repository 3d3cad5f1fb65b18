// Package config loads the updater configuration from YAML, environment and
// command-line overrides into an explicit Config value.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// FileName is the config file looked up inside the data directory.
	FileName  = "config.yaml"
	envPrefix = "TOA"
)

// Config is the complete updater configuration.
type Config struct {
	// InstallDir is the absolute root of the install tree.
	InstallDir string `mapstructure:"install_dir" validate:"required"`
	// DataDir is relative to InstallDir and holds the local manifest,
	// backup, journal and debug log.
	DataDir string `mapstructure:"data_dir" validate:"required"`

	Repository RepositoryConfig `mapstructure:"repository"`
	Source     SourceConfig     `mapstructure:"source"`
	Scan       ScanConfig       `mapstructure:"scan"`
	Categories CategoriesConfig `mapstructure:"categories"`
	Content    ContentConfig    `mapstructure:"content"`
	Transfer   TransferConfig   `mapstructure:"transfer"`
	Policy     PolicyConfig     `mapstructure:"policy"`

	// AuxiliaryFiles are fetched into the data directory on first install.
	AuxiliaryFiles []string `mapstructure:"auxiliary_files"`

	History HistoryConfig `mapstructure:"history"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// RepositoryConfig names the published repository.
type RepositoryConfig struct {
	Owner  string `mapstructure:"owner"`
	Name   string `mapstructure:"name"`
	Branch string `mapstructure:"branch"`
	// RawURL overrides the raw-content base URL derived from the fields above.
	RawURL string `mapstructure:"raw_url" validate:"omitempty,url"`
}

// SourceConfig selects the remote transport.
type SourceConfig struct {
	Type string   `mapstructure:"type" validate:"required,oneof=http s3"`
	S3   S3Config `mapstructure:"s3"`
}

// S3Config configures the S3 source.
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint" validate:"omitempty,url"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// ScanConfig toggles which categories are diffed.
type ScanConfig struct {
	Content bool `mapstructure:"content"`
	Code    bool `mapstructure:"code"`
}

// CategoriesConfig describes how categories map onto the install tree.
type CategoriesConfig struct {
	Code   []string          `mapstructure:"code" validate:"min=1,dive,required"`
	Assets []string          `mapstructure:"assets" validate:"dive,required"`
	Layout map[string]string `mapstructure:"layout"`
}

// ContentConfig controls hashing and file protection.
type ContentConfig struct {
	TextExtensions      []string `mapstructure:"text_extensions" validate:"dive,startswith=."`
	ProtectedCategories []string `mapstructure:"protected_categories"`
}

// TransferConfig tunes downloads.
type TransferConfig struct {
	ChunkSize       int           `mapstructure:"chunk_size" validate:"gt=0"`
	MaxAttempts     int           `mapstructure:"max_attempts" validate:"gte=1,lte=10"`
	RetryDelay      time.Duration `mapstructure:"retry_delay" validate:"gte=0"`
	Throttle        time.Duration `mapstructure:"throttle" validate:"gte=0"`
	FileTimeout     time.Duration `mapstructure:"file_timeout" validate:"gt=0"`
	ManifestTimeout time.Duration `mapstructure:"manifest_timeout" validate:"gt=0"`
}

// PolicyConfig decides when a batch with failures still succeeds.
type PolicyConfig struct {
	Strict           bool    `mapstructure:"strict"`
	FailureThreshold float64 `mapstructure:"failure_threshold" validate:"gt=0,lte=1"`
}

// HistoryConfig controls the batch journal.
type HistoryConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Path is relative to the data directory unless absolute.
	Path string `mapstructure:"path"`
	Keep int    `mapstructure:"keep" validate:"gte=0"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error DEBUG INFO WARN ERROR"`
	// Debug sends every log line to {dataDir}/debug.log instead of stderr.
	Debug bool `mapstructure:"debug"`
}

// DataPath returns the absolute data directory.
func (c *Config) DataPath() string {
	return filepath.Join(c.InstallDir, c.DataDir)
}

// HistoryPath returns the absolute journal path.
func (c *Config) HistoryPath() string {
	if filepath.IsAbs(c.History.Path) {
		return c.History.Path
	}
	return filepath.Join(c.DataPath(), c.History.Path)
}

type loadSettings struct {
	installDir string
	configFile string
	overrides  map[string]any
}

// Option configures Load. Useful for tests to override paths.
type Option func(*loadSettings)

// WithInstallDir sets the install root. It defaults to the working directory.
func WithInstallDir(dir string) Option {
	return func(s *loadSettings) {
		s.installDir = dir
	}
}

// WithConfigFile loads path instead of {install}/{data_dir}/config.yaml.
func WithConfigFile(path string) Option {
	return func(s *loadSettings) {
		s.configFile = path
	}
}

// WithOverrides injects values typically coming from CLI flags. They win
// over environment and file values.
func WithOverrides(overrides map[string]any) Option {
	return func(s *loadSettings) {
		s.overrides = overrides
	}
}

// Load resolves the configuration using the precedence:
// defaults < config file < environment variables < overrides.
func Load(opts ...Option) (*Config, error) {
	settings := loadSettings{}
	for _, opt := range opts {
		opt(&settings)
	}

	installDir := strings.TrimSpace(settings.installDir)
	if installDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("determine working directory: %w", err)
		}
		installDir = wd
	}
	abs, err := filepath.Abs(installDir)
	if err != nil {
		return nil, fmt.Errorf("resolve install dir: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	v.SetDefault(KeyInstallDir, abs)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	configFile := strings.TrimSpace(settings.configFile)
	explicit := configFile != ""
	if !explicit {
		dataDir := v.GetString(KeyDataDir)
		if od, ok := settings.overrides[KeyDataDir].(string); ok && od != "" {
			dataDir = od
		}
		configFile = filepath.Join(abs, dataDir, FileName)
	}
	if err := mergeConfigFile(v, configFile, explicit); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	for k, val := range settings.overrides {
		v.Set(k, val)
	}
	if settings.installDir != "" {
		v.Set(KeyInstallDir, abs)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func mergeConfigFile(v *viper.Viper, path string, required bool) error {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		if required {
			return fmt.Errorf("config file %s not found", path)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config path %s is a directory", path)
	}
	//nolint:gosec // G304: the config file path is chosen by the user
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
