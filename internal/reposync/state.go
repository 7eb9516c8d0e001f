package reposync

// State tracks the sync driver's progress through its fixed sequence. It
// exists for logging and for tests asserting transition order; the driver
// never branches on it after the reuse decision.
type State int

const (
	// Unchecked: the working copy has not been examined yet.
	Unchecked State = iota
	// Fresh: no working copy existed on disk.
	Fresh
	// Reuse: the existing working copy matches the requested remote.
	Reuse
	// Discarded: the working copy was deleted (mismatched remote, missing
	// metadata, or a failed soft clean).
	Discarded
	// Initialized: .git metadata exists and the remote is registered.
	Initialized
	// Fetched: remote objects are present locally.
	Fetched
	// CheckedOut: the working tree points at the requested version.
	CheckedOut
	// SubmodulesUpdated: submodule trees are in place (skipped state when
	// submodules are off).
	SubmodulesUpdated
	// CredentialsApplied: config now carries credentials for later steps.
	CredentialsApplied
	// CredentialsCleaned: every recorded config mutation was reverted.
	CredentialsCleaned
)

func (s State) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Reuse:
		return "reuse"
	case Discarded:
		return "discarded"
	case Initialized:
		return "initialized"
	case Fetched:
		return "fetched"
	case CheckedOut:
		return "checkedOut"
	case SubmodulesUpdated:
		return "submodulesUpdated"
	case CredentialsApplied:
		return "credentialsApplied"
	case CredentialsCleaned:
		return "credentialsCleaned"
	default:
		return "unchecked"
	}
}
