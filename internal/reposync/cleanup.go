package reposync

import (
	"context"
	"path/filepath"

	"github.com/hashicorp/go-multierror"

	"github.com/vk/rigrunner/internal/ctxlog"
)

// Cleanup reverts every recorded config mutation, in order. It runs
// unconditionally in the post-job stage, including after a failed or
// canceled sync, and it runs whether or not a credential URL is still
// cached: the ledger, not the credential, drives reversal. Exactly one
// reversal is attempted per recorded mutation; a failed structured unset
// falls back to patching the on-disk config file so an embedded credential
// can never survive the job.
func (s *Syncer) Cleanup(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	entries := s.ledger.Entries()
	if len(entries) == 0 {
		s.state = CredentialsCleaned
		return nil
	}

	configPath := filepath.Join(s.git.WorkDir(), ".git", "config")
	// Reversal must not ride on the (possibly credentialed) transient
	// config of the run.
	s.git.SetExtraConfig()

	var errs *multierror.Error
	for _, entry := range entries {
		code, err := s.git.ConfigUnset(ctx, entry.key)
		if err == nil && code == 0 {
			continue
		}
		logger.Warn("Structured config reversal failed; patching config file directly.",
			"key", entry.key, "exitCode", code)

		if patchErr := patchConfigFile(configPath, entry.value); patchErr != nil {
			errs = multierror.Append(errs, patchErr)
		}
	}

	// The remote URL itself may carry an embedded credential on old git
	// versions; restore the clean form regardless of which entry recorded
	// it.
	for _, entry := range entries {
		if entry.key != "remote."+originRemote+".url" {
			continue
		}
		clean := stripCredential(entry.value)
		if code, err := s.git.RemoteSetURL(ctx, originRemote, clean); err != nil || code != 0 {
			if patchErr := patchConfigFile(configPath, entry.value); patchErr != nil {
				errs = multierror.Append(errs, patchErr)
			}
		}
	}

	s.state = CredentialsCleaned
	return errs.ErrorOrNil()
}
