package main

import (
	"context"
	"errors"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

// ExitError carries a process exit code through fang.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return "exit"
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func main() {
	root := newRootCmd()
	if err := fang.Execute(
		context.Background(),
		root,
		fang.WithVersion(versionString()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:   "toaupdate",
		Short: "Keep a game install in step with its published release",
		Long: titleStyle.Render("toaupdate") + dimStyle.Render(" - incremental content updater") + `

toaupdate compares the local manifest with the one published in the release
repository and downloads only the files whose hashes changed. Every file is
verified before it replaces the installed copy, and a failed batch is rolled
back from a backup taken just before it started.

` + dimStyle.Render("Examples:") + `
  toaupdate check                 Report whether an update is available
  toaupdate update                Download and install the update
  toaupdate verify                Check every installed file
  toaupdate repair levels/a.json  Download one file again
  toaupdate history               Show recent update batches`,
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.installDir, "install-dir", "", "install root (default is the working directory)")
	pf.StringVar(&flags.configFile, "config", "", "config file (default is <install-dir>/.toa/config.yaml)")
	pf.StringVar(&flags.rawURL, "raw-url", "", "base URL of the published release tree")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.BoolVar(&flags.debug, "debug", false, "write a debug log to <data-dir>/debug.log")
	pf.BoolVar(&flags.strict, "strict", false, "treat any failed file as a failed update")
	pf.BoolVar(&flags.noHistory, "no-history", false, "do not record update history")

	root.AddCommand(
		newCheckCmd(flags),
		newUpdateCmd(flags),
		newVerifyCmd(flags),
		newRepairCmd(flags),
		newHistoryCmd(flags),
		newManifestCmd(flags),
		newVersionCmd(),
	)
	return root
}
