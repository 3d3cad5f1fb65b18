package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"toaupdate/internal/config"
	"toaupdate/internal/debug"
	"toaupdate/internal/journal"
	"toaupdate/internal/manifest"
	"toaupdate/internal/remote"
	"toaupdate/internal/update"
)

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	installDir string
	configFile string
	rawURL     string
	logLevel   string
	debug      bool
	strict     bool
	noHistory  bool
}

// overrides returns config overrides for the flags set on cmd.
func (f *globalFlags) overrides(cmd *cobra.Command) map[string]any {
	out := map[string]any{}
	flags := cmd.Flags()
	if flags.Changed("raw-url") {
		out[config.KeyRawURL] = f.rawURL
	}
	if flags.Changed("log-level") {
		out[config.KeyLogLevel] = f.logLevel
	}
	if flags.Changed("debug") {
		out[config.KeyDebug] = f.debug
	}
	if flags.Changed("strict") {
		out[config.KeyPolicyStrict] = f.strict
	}
	if flags.Changed("no-history") {
		out[config.KeyHistoryEnabled] = !f.noHistory
	}
	return out
}

func (f *globalFlags) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	return config.Load(
		config.WithInstallDir(f.installDir),
		config.WithConfigFile(f.configFile),
		config.WithOverrides(f.overrides(cmd)),
	)
}

// app holds everything a command needs, built from the resolved config.
type app struct {
	cfg     *config.Config
	logger  *debug.Logger
	updater *update.Updater
	journal *journal.Journal
}

func newApp(cmd *cobra.Command, flags *globalFlags) (*app, error) {
	ctx := cmd.Context()
	cfg, err := flags.loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	logger, err := debug.New(debug.Options{
		Level:   cfg.Logging.Level,
		Debug:   cfg.Logging.Debug,
		DataDir: cfg.DataPath(),
		Output:  cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, fmt.Errorf("set up logging: %w", err)
	}
	a := &app{cfg: cfg, logger: logger}

	src, err := buildSource(ctx, cfg)
	if err != nil {
		_ = logger.Close()
		return nil, err
	}

	if cfg.History.Enabled {
		a.journal = openJournal(ctx, cfg, logger)
	}

	fsys := afero.NewBasePathFs(afero.NewOsFs(), cfg.InstallDir)
	a.updater = update.New(fsys, src, updaterOptions(cfg, logger, a.journal)...)
	logger.Debug("configuration loaded", "install_dir", cfg.InstallDir, "source", cfg.Source.Type)
	return a, nil
}

// Close releases the journal and the debug log.
func (a *app) Close() error {
	if a == nil {
		return nil
	}
	if a.journal != nil {
		_ = a.journal.Close()
	}
	return a.logger.Close()
}

// openJournal opens the history database. History is best-effort: a journal
// that cannot be opened only logs.
func openJournal(ctx context.Context, cfg *config.Config, logger *debug.Logger) *journal.Journal {
	//nolint:gosec // G301: data directory needs standard permissions
	if err := os.MkdirAll(cfg.DataPath(), 0o755); err != nil {
		logger.Warn("history disabled", "err", err)
		return nil
	}
	j, err := journal.Open(ctx, cfg.HistoryPath())
	if err != nil {
		logger.Warn("history disabled", "err", err)
		return nil
	}
	return j
}

func buildSource(ctx context.Context, cfg *config.Config) (remote.Source, error) {
	switch cfg.Source.Type {
	case "s3":
		s3cfg := cfg.Source.S3
		src, err := remote.NewS3Source(ctx, remote.S3Config{
			Bucket:          s3cfg.Bucket,
			Prefix:          s3cfg.Prefix,
			Region:          s3cfg.Region,
			Endpoint:        s3cfg.Endpoint,
			AccessKeyID:     s3cfg.AccessKeyID,
			SecretAccessKey: s3cfg.SecretAccessKey,
		})
		if err != nil {
			return nil, err
		}
		return src, nil
	default:
		base := cfg.Repository.RawURL
		if base == "" {
			base = remote.RawURL(cfg.Repository.Owner, cfg.Repository.Name, cfg.Repository.Branch)
		}
		return remote.NewHTTPSource(base, remote.WithUserAgent("toaupdate/"+Version)), nil
	}
}

func layoutFor(cfg *config.Config) manifest.Layout {
	return manifest.Layout{
		Dirs:   cfg.Categories.Layout,
		Code:   cfg.Categories.Code,
		Assets: cfg.Categories.Assets,
	}
}

func updaterOptions(cfg *config.Config, logger *debug.Logger, j *journal.Journal) []update.Option {
	opts := []update.Option{
		update.WithDataDir(cfg.DataDir),
		update.WithLayout(layoutFor(cfg)),
		update.WithTextExtensions(cfg.Content.TextExtensions),
		update.WithProtectedCategories(cfg.Content.ProtectedCategories),
		update.WithScan(cfg.Scan.Content, cfg.Scan.Code),
		update.WithPolicy(update.Policy{
			Strict:           cfg.Policy.Strict,
			FailureThreshold: cfg.Policy.FailureThreshold,
		}),
		update.WithThrottle(cfg.Transfer.Throttle),
		update.WithAuxiliaryFiles(cfg.AuxiliaryFiles),
		update.WithManifestTimeout(cfg.Transfer.ManifestTimeout),
		update.WithTransferOptions(
			update.WithChunkSize(cfg.Transfer.ChunkSize),
			update.WithMaxAttempts(cfg.Transfer.MaxAttempts),
			update.WithRetryDelay(cfg.Transfer.RetryDelay),
			update.WithFileTimeout(cfg.Transfer.FileTimeout),
		),
		update.WithLogger(logger.Logger),
	}
	if j != nil {
		opts = append(opts, update.WithRecorder(j))
	}
	return opts
}
