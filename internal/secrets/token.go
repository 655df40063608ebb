// Package secrets generates the flag tokens and provisioning directory
// names exchanged during a session's flag-provisioning phase.
package secrets

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/lattice-ctf/flagbroker/internal/policy"
)

// TokenLen is the length, in bytes, of a generated flag token.
const TokenLen = 31

// maxGenAttempts bounds the retry loop for both token and path
// generation against a degenerate RNG or a pathological collision run.
const maxGenAttempts = 100

// ErrExhausted indicates a unique, policy-compliant value could not be
// produced after maxGenAttempts tries.
var ErrExhausted = errors.New("secrets: generation exhausted")

// alphabet is the fixed printable-ASCII character set flag tokens and
// path names are drawn from.
const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// GenerateToken returns an n-byte string drawn from alphabet using a
// cryptographically secure source, so a flag token cannot be guessed
// or predicted by an opposing seat.
func GenerateToken(n int) (string, error) {
	// Random bytes at or above maxUnbiased are discarded so that every
	// character of alphabet is equally likely.
	const maxUnbiased = 256 - 256%len(alphabet)
	buf := make([]byte, 0, n)
	idx := make([]byte, n)
	for attempt := 0; attempt < maxGenAttempts && len(buf) < n; attempt++ {
		if _, err := rand.Read(idx); err != nil {
			return "", fmt.Errorf("secrets: generate token: %w", err)
		}
		for _, b := range idx {
			if int(b) < maxUnbiased && len(buf) < n {
				buf = append(buf, alphabet[int(b)%len(alphabet)])
			}
		}
	}
	if len(buf) < n {
		return "", fmt.Errorf("secrets: generate token after %d attempts: %w", maxGenAttempts, ErrExhausted)
	}
	return string(buf), nil
}

// PathAllocator tracks directory names already handed out so repeated
// calls to GeneratePath never collide, mirroring the allocate-and-track
// discipline of a discriminator allocator.
type PathAllocator struct {
	allocated map[string]struct{}
}

// NewPathAllocator returns an allocator with an empty allocation set.
func NewPathAllocator() *PathAllocator {
	return &PathAllocator{allocated: make(map[string]struct{})}
}

// GeneratePath returns a directory name of the given length composed of
// letters only, bounded to fit within maxBufLen bytes. It is rejected
// and retried if it collides with a previously allocated name, with the
// flag-directory sentinel, or with policy's banned substrings.
//
// The allocator does not lock its allocation set: concurrent calls to
// GeneratePath or Release on the same PathAllocator are not safe.
func (p *PathAllocator) GeneratePath(length, maxBufLen int) (string, error) {
	if length > maxBufLen {
		return "", fmt.Errorf("secrets: generate path: length %d exceeds buffer %d", length, maxBufLen)
	}

	letters := alphabet[:52] // letters only, no digits

	for attempt := 0; attempt < maxGenAttempts; attempt++ {
		idx := make([]byte, length)
		if _, err := rand.Read(idx); err != nil {
			return "", fmt.Errorf("secrets: generate path: %w", err)
		}

		buf := make([]byte, length)
		for i, b := range idx {
			buf[i] = letters[int(b)%len(letters)]
		}
		name := string(buf)

		if name == policy.FlagDirSentinel {
			continue
		}
		if err := policy.ValidateDirectory(name); err != nil {
			continue
		}
		if _, exists := p.allocated[name]; exists {
			continue
		}

		p.allocated[name] = struct{}{}
		return name, nil
	}

	return "", fmt.Errorf("secrets: generate path after %d attempts: %w", maxGenAttempts, ErrExhausted)
}

// Release frees a previously generated path name for reuse.
func (p *PathAllocator) Release(name string) {
	delete(p.allocated, name)
}
