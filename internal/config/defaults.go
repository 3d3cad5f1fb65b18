package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Keys for values commonly overridden from flags.
const (
	KeyInstallDir     = "install_dir"
	KeyDataDir        = "data_dir"
	KeyRawURL         = "repository.raw_url"
	KeySourceType     = "source.type"
	KeyScanContent    = "scan.content"
	KeyScanCode       = "scan.code"
	KeyPolicyStrict   = "policy.strict"
	KeyHistoryEnabled = "history.enabled"
	KeyLogLevel       = "logging.level"
	KeyDebug          = "logging.debug"
)

// Defaults.
const (
	DefaultDataDir          = ".toa"
	DefaultOwner            = "taozi8887"
	DefaultRepository       = "TOA"
	DefaultBranch           = "main"
	DefaultChunkSize        = 1 << 20
	DefaultMaxAttempts      = 3
	DefaultRetryDelay       = 2 * time.Second
	DefaultThrottle         = 100 * time.Millisecond
	DefaultFileTimeout      = 30 * time.Second
	DefaultManifestTimeout  = 10 * time.Second
	DefaultFailureThreshold = 0.5
	DefaultHistoryFile      = "history.db"
	DefaultHistoryKeep      = 200
	DefaultLogLevel         = "warn"
)

// setDefaults registers every key so environment variables can reach it
// through Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyDataDir, DefaultDataDir)
	v.SetDefault("repository.owner", DefaultOwner)
	v.SetDefault("repository.name", DefaultRepository)
	v.SetDefault("repository.branch", DefaultBranch)
	v.SetDefault(KeyRawURL, "")
	v.SetDefault(KeySourceType, "http")
	v.SetDefault("source.s3.bucket", "")
	v.SetDefault("source.s3.prefix", "")
	v.SetDefault("source.s3.region", "")
	v.SetDefault("source.s3.endpoint", "")
	v.SetDefault("source.s3.access_key_id", "")
	v.SetDefault("source.s3.secret_access_key", "")
	v.SetDefault(KeyScanContent, true)
	v.SetDefault(KeyScanCode, true)
	v.SetDefault("categories.code", []string{"code"})
	v.SetDefault("categories.assets", []string{"assets"})
	v.SetDefault("categories.layout", map[string]string{"code": ""})
	v.SetDefault("content.text_extensions", []string{".py"})
	v.SetDefault("content.protected_categories", []string{"code"})
	v.SetDefault("transfer.chunk_size", DefaultChunkSize)
	v.SetDefault("transfer.max_attempts", DefaultMaxAttempts)
	v.SetDefault("transfer.retry_delay", DefaultRetryDelay)
	v.SetDefault("transfer.throttle", DefaultThrottle)
	v.SetDefault("transfer.file_timeout", DefaultFileTimeout)
	v.SetDefault("transfer.manifest_timeout", DefaultManifestTimeout)
	v.SetDefault(KeyPolicyStrict, false)
	v.SetDefault("policy.failure_threshold", DefaultFailureThreshold)
	v.SetDefault("auxiliary_files", []string{"update_config.json"})
	v.SetDefault(KeyHistoryEnabled, true)
	v.SetDefault("history.path", DefaultHistoryFile)
	v.SetDefault("history.keep", DefaultHistoryKeep)
	v.SetDefault(KeyLogLevel, DefaultLogLevel)
	v.SetDefault(KeyDebug, false)
}

// ApplyDefaults fills zero values left after decoding, for configs built by
// hand as well as loaded ones.
func ApplyDefaults(cfg *Config) {
	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir
	}
	applyRepositoryDefaults(&cfg.Repository)
	if cfg.Source.Type == "" {
		cfg.Source.Type = "http"
	}
	cfg.Source.Type = strings.ToLower(cfg.Source.Type)
	applyCategoriesDefaults(&cfg.Categories)
	applyContentDefaults(&cfg.Content)
	applyTransferDefaults(&cfg.Transfer)
	if cfg.Policy.FailureThreshold == 0 {
		cfg.Policy.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.History.Path == "" {
		cfg.History.Path = DefaultHistoryFile
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
}

func applyRepositoryDefaults(cfg *RepositoryConfig) {
	if cfg.Owner == "" {
		cfg.Owner = DefaultOwner
	}
	if cfg.Name == "" {
		cfg.Name = DefaultRepository
	}
	if cfg.Branch == "" {
		cfg.Branch = DefaultBranch
	}
}

func applyCategoriesDefaults(cfg *CategoriesConfig) {
	if len(cfg.Code) == 0 {
		cfg.Code = []string{"code"}
	}
	if cfg.Assets == nil {
		cfg.Assets = []string{"assets"}
	}
	if cfg.Layout == nil {
		cfg.Layout = map[string]string{"code": ""}
	}
}

func applyContentDefaults(cfg *ContentConfig) {
	if cfg.TextExtensions == nil {
		cfg.TextExtensions = []string{".py"}
	}
	for i, ext := range cfg.TextExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		cfg.TextExtensions[i] = ext
	}
	if cfg.ProtectedCategories == nil {
		cfg.ProtectedCategories = []string{"code"}
	}
}

func applyTransferDefaults(cfg *TransferConfig) {
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.FileTimeout == 0 {
		cfg.FileTimeout = DefaultFileTimeout
	}
	if cfg.ManifestTimeout == 0 {
		cfg.ManifestTimeout = DefaultManifestTimeout
	}
}
