package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"toaupdate/internal/journal"
	"toaupdate/internal/update"
)

func newCheckCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Report whether an update is available",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd, flags)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			return runCheck(cmd.Context(), cmd.OutOrStdout(), a.updater)
		},
	}
}

// runCheck prints the check result. An unreachable server is not an error:
// the installed version keeps running.
func runCheck(ctx context.Context, w io.Writer, u *update.Updater) error {
	check, err := u.CheckForUpdates(ctx)
	if err != nil {
		if update.IsUnavailable(err) {
			printUnavailable(w, check.Local.Version, err)
			return nil
		}
		return err
	}
	printCheck(w, check)
	return nil
}

func printUnavailable(w io.Writer, local string, err error) {
	_, _ = fmt.Fprintln(w, warningStyle.Render("Update server unavailable")+
		dimStyle.Render(fmt.Sprintf(" • staying on v%s", local)))
	_, _ = fmt.Fprintln(w, dimStyle.Render(err.Error()))
}

func newUpdateCmd(flags *globalFlags) *cobra.Command {
	var plain bool
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Download and install the latest release",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd, flags)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			_, err = runUpdate(cmd.Context(), cmd.OutOrStdout(), a.updater, !plain)
			if a.journal != nil && a.cfg.History.Keep > 0 {
				if _, perr := a.journal.Prune(cmd.Context(), a.cfg.History.Keep); perr != nil {
					a.logger.Warn("prune history", "err", perr)
				}
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&plain, "plain", false, "print one line per file instead of a live progress bar")
	return cmd
}

func runUpdate(ctx context.Context, w io.Writer, u *update.Updater, live bool) (*update.BatchResult, error) {
	printer := newProgressPrinter(w, live)
	res, err := u.Update(ctx, printer.Handle)
	printer.Finish()
	if err != nil && update.IsUnavailable(err) && res != nil && res.State == update.StateNoUpdate {
		printUnavailable(w, res.FromVersion, err)
		return res, nil
	}
	printBatchSummary(w, res)
	return res, err
}

func newVerifyCmd(flags *globalFlags) *cobra.Command {
	var repair bool
	cmd := &cobra.Command{
		Use:   "verify [path...]",
		Short: "Check installed files against the local manifest",
		Long: `Check installed files against the hashes in the local manifest.
Without arguments every tracked file is checked.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, flags)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			return runVerify(cmd.Context(), cmd.OutOrStdout(), a.updater, args, repair)
		},
	}
	cmd.Flags().BoolVar(&repair, "repair", false, "download files that fail verification again")
	return cmd
}

func runVerify(ctx context.Context, w io.Writer, u *update.Updater, paths []string, repair bool) error {
	var bad []string
	if len(paths) == 0 {
		all, err := u.VerifyAll(ctx)
		if err != nil {
			return err
		}
		bad = all
	} else {
		for _, p := range paths {
			ok, err := u.VerifyFile(p)
			if err != nil {
				return err
			}
			if !ok {
				bad = append(bad, p)
			}
		}
	}

	if len(bad) == 0 {
		_, _ = fmt.Fprintln(w, successStyle.Render("All files verified"))
		return nil
	}
	for _, p := range bad {
		_, _ = fmt.Fprintf(w, "%s %s\n", errorStyle.Render("✗"), p)
	}
	if repair {
		return runRepair(ctx, w, u, bad)
	}
	return &ExitError{Code: 2, Err: fmt.Errorf("%d file(s) failed verification", len(bad))}
}

func newRepairCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "repair <path>...",
		Short: "Download installed files again",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, flags)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			return runRepair(cmd.Context(), cmd.OutOrStdout(), a.updater, args)
		},
	}
}

func runRepair(ctx context.Context, w io.Writer, u *update.Updater, paths []string) error {
	var errs []error
	for _, p := range paths {
		if err := u.RepairFile(ctx, p); err != nil {
			_, _ = fmt.Fprintf(w, "%s %s %s\n", errorStyle.Render("✗"), p, dimStyle.Render(err.Error()))
			errs = append(errs, fmt.Errorf("repair %s: %w", p, err))
			continue
		}
		_, _ = fmt.Fprintf(w, "%s %s\n", successStyle.Render("✓"), p)
	}
	return errors.Join(errs...)
}

func newHistoryCmd(flags *globalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [batch-id]",
		Short: "Show recent update batches",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, flags)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			if a.journal == nil {
				return errors.New("update history is disabled")
			}
			if len(args) == 1 {
				return runHistoryFiles(cmd.Context(), cmd.OutOrStdout(), a.journal, args[0])
			}
			batches, err := a.journal.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			printHistory(cmd.OutOrStdout(), batches, time.Now())
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of batches to show")
	return cmd
}

func runHistoryFiles(ctx context.Context, w io.Writer, j *journal.Journal, id string) error {
	files, err := j.Files(ctx, id)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no files recorded for batch %s", id)
	}
	for _, f := range files {
		mark := successStyle.Render("✓")
		if !f.OK {
			mark = errorStyle.Render("✗")
		}
		line := fmt.Sprintf("%s %s %s", mark, f.Path, dimStyle.Render(formatSize(f.Bytes)))
		if f.Attempts > 1 {
			line += dimStyle.Render(" attempts=" + strconv.Itoa(f.Attempts))
		}
		if f.Error != "" {
			line += " " + dimStyle.Render(f.Error)
		}
		_, _ = fmt.Fprintln(w, line)
	}
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
}
