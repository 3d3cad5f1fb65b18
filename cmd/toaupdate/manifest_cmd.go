package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"toaupdate/internal/config"
	"toaupdate/internal/manifest"
)

type generateOptions struct {
	publishDir string
	outDir     string
	version    string
	date       string
	previous   string
	codeFiles  []string
	categories []string
	extensions []string
	legacy     bool
}

func newManifestCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Publisher tools for release manifests",
	}

	opts := generateOptions{}
	generate := &cobra.Command{
		Use:   "generate",
		Short: "Hash a publish tree and write manifest.json",
		Long: `Hash every published file and write manifest.json (and the legacy
version.json) for the release. With --previous, the files that changed since
that manifest are recorded as a patch entry.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.loadConfig(cmd)
			if err != nil {
				return err
			}
			_, err = runGenerate(cmd.OutOrStdout(), cfg, opts)
			return err
		},
	}
	f := generate.Flags()
	f.StringVar(&opts.publishDir, "publish-dir", ".", "root of the release tree")
	f.StringVar(&opts.outDir, "out", "", "directory for manifest.json (default is --publish-dir)")
	f.StringVar(&opts.version, "version", "", "release version (required)")
	f.StringVar(&opts.date, "date", "", "release date as YYYY-MM-DD (default is today)")
	f.StringVar(&opts.previous, "previous", "", "previous manifest.json to derive a patch entry from")
	f.StringSliceVar(&opts.codeFiles, "code-file", nil, "code file to publish (repeatable; default is every text file in the code directory)")
	f.StringSliceVar(&opts.categories, "category", nil, "content category to publish (repeatable; default is every configured non-code category)")
	f.StringSliceVar(&opts.extensions, "ext", manifest.DefaultAssetExtensions, "extensions published from content categories")
	f.BoolVar(&opts.legacy, "legacy", true, "also write version.json")
	_ = generate.MarkFlagRequired("version")

	cmd.AddCommand(generate)
	return cmd
}

func runGenerate(w io.Writer, cfg *config.Config, opts generateOptions) (*manifest.Manifest, error) {
	publishDir, err := filepath.Abs(opts.publishDir)
	if err != nil {
		return nil, fmt.Errorf("resolve publish dir: %w", err)
	}
	outDir := opts.outDir
	if outDir == "" {
		outDir = publishDir
	}

	releaseDate := time.Now()
	if opts.date != "" {
		releaseDate, err = time.Parse(time.DateOnly, opts.date)
		if err != nil {
			return nil, fmt.Errorf("parse --date: %w", err)
		}
	}

	var previous *manifest.Manifest
	if opts.previous != "" {
		//nolint:gosec // G304: path given on the command line
		data, err := os.ReadFile(opts.previous)
		if err != nil {
			return nil, fmt.Errorf("read previous manifest: %w", err)
		}
		previous, err = manifest.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("previous manifest: %w", err)
		}
	}

	layout := layoutFor(cfg)
	m, err := manifest.Build(afero.NewBasePathFs(afero.NewOsFs(), publishDir), manifest.BuildOptions{
		Version:     opts.version,
		ReleaseDate: releaseDate,
		Layout:      layout,
		Sets:        sourceSets(cfg, opts),
		Classifier:  manifest.NewClassifier(cfg.Content.TextExtensions),
		Previous:    previous,
	})
	if err != nil {
		return nil, err
	}

	out := afero.NewOsFs()
	//nolint:gosec // G301: release output directory
	if err := out.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	data, err := manifest.Encode(m)
	if err != nil {
		return nil, err
	}
	if err := afero.WriteFile(out, filepath.Join(outDir, manifest.FileName), data, 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", manifest.FileName, err)
	}
	if opts.legacy {
		legacy, err := manifest.EncodeLegacy(m)
		if err != nil {
			return nil, err
		}
		if err := afero.WriteFile(out, filepath.Join(outDir, manifest.LegacyFileName), legacy, 0o644); err != nil {
			return nil, fmt.Errorf("write %s: %w", manifest.LegacyFileName, err)
		}
	}

	_, _ = fmt.Fprintln(w, successStyle.Render("Manifest written")+
		dimStyle.Render(fmt.Sprintf(" v%s • %d files • %s", m.Version, m.FileCount(), humanize.Bytes(uint64(max(m.TotalSize(), 0))))))
	if previous != nil {
		if patch, ok := m.Patch(previous.Version); ok {
			_, _ = fmt.Fprintf(w, "Patch from v%s: %d changed, %d removed\n",
				previous.Version, len(patch.ChangedFiles), len(patch.RemovedFiles))
		}
	}
	return m, nil
}

// sourceSets lists what to publish: code categories take --code-file or every
// text file of the category directory, content categories take --ext files.
func sourceSets(cfg *config.Config, opts generateOptions) []manifest.SourceSet {
	var sets []manifest.SourceSet
	for i, cat := range cfg.Categories.Code {
		set := manifest.SourceSet{Category: cat, Extensions: cfg.Content.TextExtensions}
		if i == 0 && len(opts.codeFiles) > 0 {
			set.Files = opts.codeFiles
		}
		sets = append(sets, set)
	}

	categories := opts.categories
	if len(categories) == 0 {
		seen := map[string]bool{}
		for _, c := range cfg.Categories.Assets {
			seen[c] = true
		}
		for c := range cfg.Categories.Layout {
			seen[c] = true
		}
		for c := range seen {
			if !slices.Contains(cfg.Categories.Code, c) {
				categories = append(categories, c)
			}
		}
		sort.Strings(categories)
	}
	for _, cat := range categories {
		sets = append(sets, manifest.SourceSet{Category: cat, Extensions: opts.extensions})
	}
	return sets
}
