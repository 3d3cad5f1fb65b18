package config

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	appErrors "toaupdate/internal/errors"
)

func TestLoadDefaults(t *testing.T) {
	tmp := t.TempDir()
	cfg, err := Load(WithInstallDir(tmp))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.InstallDir != tmp {
		t.Errorf("InstallDir = %q, want %q", cfg.InstallDir, tmp)
	}
	if cfg.DataDir != DefaultDataDir {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.Source.Type != "http" || cfg.Repository.Owner != DefaultOwner || cfg.Repository.Branch != "main" {
		t.Errorf("repository/source = %+v / %+v", cfg.Repository, cfg.Source)
	}
	if !cfg.Scan.Content || !cfg.Scan.Code {
		t.Errorf("scan = %+v, want both enabled", cfg.Scan)
	}
	if cfg.Transfer.ChunkSize != 1<<20 || cfg.Transfer.MaxAttempts != 3 || cfg.Transfer.RetryDelay != 2*time.Second {
		t.Errorf("transfer = %+v", cfg.Transfer)
	}
	if cfg.Policy.Strict || cfg.Policy.FailureThreshold != 0.5 {
		t.Errorf("policy = %+v", cfg.Policy)
	}
	if !slices.Equal(cfg.Content.TextExtensions, []string{".py"}) {
		t.Errorf("text extensions = %v", cfg.Content.TextExtensions)
	}
	if cfg.Categories.Layout["code"] != "" || !slices.Equal(cfg.Categories.Code, []string{"code"}) {
		t.Errorf("categories = %+v", cfg.Categories)
	}
	if got := cfg.HistoryPath(); got != filepath.Join(tmp, ".toa", "history.db") {
		t.Errorf("HistoryPath() = %q", got)
	}
}

func TestLoadReadsDataDirConfig(t *testing.T) {
	tmp := t.TempDir()
	mustMkdir(t, filepath.Join(tmp, ".toa"))
	writeFile(t, filepath.Join(tmp, ".toa", FileName), `
repository:
  owner: someone
  name: Game
  branch: beta
transfer:
  throttle: 250ms
  max_attempts: 5
policy:
  strict: true
content:
  text_extensions: [py, .LUA]
categories:
  layout:
    code: ""
    levels: data/levels
`)

	cfg, err := Load(WithInstallDir(tmp))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Repository.Owner != "someone" || cfg.Repository.Branch != "beta" {
		t.Errorf("repository = %+v", cfg.Repository)
	}
	if cfg.Transfer.Throttle != 250*time.Millisecond || cfg.Transfer.MaxAttempts != 5 {
		t.Errorf("transfer = %+v", cfg.Transfer)
	}
	if !cfg.Policy.Strict {
		t.Error("policy.strict should be true")
	}
	if !slices.Equal(cfg.Content.TextExtensions, []string{".py", ".lua"}) {
		t.Errorf("text extensions = %v", cfg.Content.TextExtensions)
	}
	if cfg.Categories.Layout["levels"] != "data/levels" {
		t.Errorf("layout = %v", cfg.Categories.Layout)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	tmp := t.TempDir()
	cfgPath := filepath.Join(tmp, "custom.yaml")
	writeFile(t, cfgPath, "logging:\n  level: info\n")
	t.Setenv("TOA_LOGGING_LEVEL", "ERROR")
	t.Setenv("TOA_TRANSFER_MAX_ATTEMPTS", "7")

	cfg, err := Load(WithInstallDir(tmp), WithConfigFile(cfgPath))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Logging.Level != "error" {
		t.Errorf("logging.level = %q, want error", cfg.Logging.Level)
	}
	if cfg.Transfer.MaxAttempts != 7 {
		t.Errorf("max_attempts = %d, want 7", cfg.Transfer.MaxAttempts)
	}
}

func TestOverridesWin(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("TOA_SCAN_CODE", "true")

	cfg, err := Load(WithInstallDir(tmp), WithOverrides(map[string]any{
		KeyScanCode: false,
		KeyDebug:    true,
		KeyDataDir:  ".state",
	}))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Scan.Code {
		t.Error("override should disable the code scan")
	}
	if !cfg.Logging.Debug || cfg.DataDir != ".state" {
		t.Errorf("logging = %+v, data dir = %q", cfg.Logging, cfg.DataDir)
	}
}

func TestExplicitConfigMustExist(t *testing.T) {
	_, err := Load(WithInstallDir(t.TempDir()), WithConfigFile(filepath.Join(t.TempDir(), "missing.yaml")))
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("error = %v, want not found", err)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := &Config{InstallDir: t.TempDir()}
		ApplyDefaults(cfg)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults are valid", func(*Config) {}, ""},
		{"relative install dir", func(c *Config) { c.InstallDir = "game" }, "absolute"},
		{"data dir escapes install", func(c *Config) { c.DataDir = "../state" }, "data_dir"},
		{"unknown source", func(c *Config) { c.Source.Type = "ftp" }, "Source.Type"},
		{"s3 without bucket", func(c *Config) { c.Source.Type = "s3" }, "bucket"},
		{"s3 half credentials", func(c *Config) {
			c.Source.Type = "s3"
			c.Source.S3.Bucket = "releases"
			c.Source.S3.AccessKeyID = "AKIA"
		}, "together"},
		{"threshold above one", func(c *Config) { c.Policy.FailureThreshold = 1.5 }, "FailureThreshold"},
		{"too many attempts", func(c *Config) { c.Transfer.MaxAttempts = 50 }, "MaxAttempts"},
		{"bad raw url", func(c *Config) { c.Repository.RawURL = "not a url" }, "RawURL"},
		{"bad extension", func(c *Config) { c.Content.TextExtensions = []string{"py"} }, "TextExtensions"},
		{"code and assets overlap", func(c *Config) { c.Categories.Assets = []string{"code"} }, "both"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "Level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want it to mention %q", err, tt.wantErr)
			}
			if !appErrors.IsCode(err, appErrors.CodeConfigurationError) {
				t.Errorf("code = %q, want configuration_error", appErrors.CodeOf(err))
			}
		})
	}
}

func mustMkdir(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", path, err)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(strings.TrimLeft(content, "\n")), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
