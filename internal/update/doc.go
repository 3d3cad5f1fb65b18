// Package update keeps an install tree in step with a published release.
//
// This package handles:
//   - Comparing dotted-integer release versions
//   - Diffing the local manifest against the remote one
//   - Downloading changed files in chunks with hash verification
//   - Backing up files before a batch and rolling back when it fails
//   - Verifying and repairing individual installed files
//
// A batch moves through the states Idle, Diffing, then either NoUpdate or
// BackingUp, Transferring and finally Committing/Done or RollingBack/Failed.
// The local manifest is committed only when every file arrived intact.
//
// Example usage:
//
//	u := update.New(afero.NewBasePathFs(afero.NewOsFs(), root), src)
//	check, err := u.CheckForUpdates(ctx)
//	if err != nil {
//	    // remote unavailable: keep running the current install
//	}
//	if check.HasUpdates() {
//	    res, err := u.DownloadUpdates(ctx, check, nil)
//	    // ...
//	}
package update
