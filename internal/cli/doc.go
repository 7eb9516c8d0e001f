// Package cli parses command-line arguments, validates user input, and
// handles process-level concerns like exit codes. It translates flags into
// the runner's internal configuration.
package cli
