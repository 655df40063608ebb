// Package policy implements the command validation rules a CMD segment
// must pass before it is relayed to the opposing seat.
package policy

import (
	"errors"
	"fmt"
	"strings"
)

// MaxCommandLen is the longest CMD payload the validator will accept.
const MaxCommandLen = 250

// ErrTooLong indicates a command payload exceeds MaxCommandLen.
var ErrTooLong = errors.New("command exceeds maximum length")

// ErrBanned indicates a command payload contains a disallowed substring.
var ErrBanned = errors.New("command contains a disallowed substring")

// ErrNotAllowed indicates a command's leading token is not on the
// allowed list.
var ErrNotAllowed = errors.New("command leading token not allowed")

// bannedSubstrings blocks shell redirection/chaining and filesystem
// escape attempts. FlagDirSentinel keeps a client from referencing the
// server's own provisioning marker.
var bannedSubstrings = []string{
	"|", "&", ";", ">", "<", "$(", "`",
	"..", "/etc", FlagDirSentinel,
}

// FlagDirSentinel names the internal marker used during flag
// provisioning; neither a command payload nor a client-proposed
// directory may reference it directly.
const FlagDirSentinel = "FLG_DIR"

// allowedLeadingTokens is the closed set of commands a client may issue
// once a session has entered gameplay.
var allowedLeadingTokens = map[string]struct{}{
	"ls":      {},
	"cat":     {},
	"cd":      {},
	"echo":    {},
	"pwd":     {},
	"openssl": {},
}

// Validate applies the two-stage command policy: a banned-substring and
// length scan, followed by an allow-list check of the leading token. It
// is a pure function so the scheduler never needs to hold a lock, or a
// socket, to decide whether a command may be relayed.
func Validate(cmd string) error {
	if len(cmd) > MaxCommandLen {
		return fmt.Errorf("policy: %q (%d bytes): %w", truncate(cmd), len(cmd), ErrTooLong)
	}

	for _, banned := range bannedSubstrings {
		if strings.Contains(cmd, banned) {
			return fmt.Errorf("policy: %q contains %q: %w", truncate(cmd), banned, ErrBanned)
		}
	}

	leading := leadingToken(cmd)
	if _, ok := allowedLeadingTokens[leading]; !ok {
		return fmt.Errorf("policy: leading token %q: %w", leading, ErrNotAllowed)
	}

	return nil
}

// ValidateDirectory applies the banned-substring and length checks to a
// client-proposed flag directory. Unlike Validate, it has no
// leading-token allow-list: a directory is a path, not a command.
func ValidateDirectory(dir string) error {
	if len(dir) > MaxCommandLen {
		return fmt.Errorf("policy: directory %q (%d bytes): %w", truncate(dir), len(dir), ErrTooLong)
	}

	for _, banned := range bannedSubstrings {
		if strings.Contains(dir, banned) {
			return fmt.Errorf("policy: directory %q contains %q: %w", truncate(dir), banned, ErrBanned)
		}
	}

	return nil
}

// leadingToken returns the first whitespace-delimited token of cmd.
func leadingToken(cmd string) string {
	trimmed := strings.TrimLeft(cmd, " \t")
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// truncate caps a string for inclusion in error messages.
func truncate(s string) string {
	const max = 64
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
