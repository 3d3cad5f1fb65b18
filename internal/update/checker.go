package update

import (
	"context"
	"time"

	appErrors "toaupdate/internal/errors"
	"toaupdate/internal/manifest"
)

// CheckResult contains the result of an update check.
type CheckResult struct {
	Local     *manifest.Manifest
	Remote    *manifest.Manifest
	Diff      *DiffResult
	CheckedAt time.Time
}

// HasUpdates reports whether the remote release is newer than the install.
func (c *CheckResult) HasUpdates() bool {
	return c != nil && c.Diff != nil && c.Diff.HasUpdates
}

// FirstInstall reports whether nothing has been installed yet.
func (c *CheckResult) FirstInstall() bool {
	return c == nil || c.Local.IsEmpty()
}

// CheckForUpdates loads the local manifest, fetches the remote one and diffs
// them. When the remote manifest cannot be fetched the result reports no
// updates and the manifest_unavailable error is returned alongside it; the
// caller decides whether that is worth surfacing.
func (u *Updater) CheckForUpdates(ctx context.Context) (*CheckResult, error) {
	local := u.store.LoadLocal()
	res := &CheckResult{
		Local:     local,
		Diff:      &DiffResult{FromVersion: local.Version},
		CheckedAt: u.now(),
	}

	remote, err := u.store.FetchRemote(ctx)
	if err != nil {
		u.logger.Warn("update check skipped", "err", err)
		return res, err
	}
	res.Remote = remote
	res.Diff = u.differ.Diff(local, remote)

	u.logger.Debug("update check",
		"local", local.Version,
		"remote", remote.Version,
		"updates", res.Diff.HasUpdates,
		"changed", len(res.Diff.Changes),
	)
	return res, nil
}

// IsUnavailable reports whether err is the "cannot determine updates right
// now" outcome of CheckForUpdates.
func IsUnavailable(err error) bool {
	return appErrors.IsCode(err, appErrors.CodeManifestUnavailable)
}
