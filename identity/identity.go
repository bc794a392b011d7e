// Package identity generates the short session identifiers that tag every
// log entry with the process that wrote it.
package identity

import (
	"github.com/google/uuid"
)

// DefaultLength is the number of characters in a session identifier.
const DefaultLength = 8

const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// Session is a per-process identifier. It is generated once at startup and
// never changes for the lifetime of the process.
type Session string

// String returns the identifier text.
func (s Session) String() string {
	return string(s)
}

// New returns a random identifier of n characters drawn from [a-z0-9].
// Entropy comes from version 4 UUIDs. Bytes 6 and 8 carry the version and
// variant bits and are skipped.
func New(n int) (Session, error) {
	if n <= 0 {
		n = DefaultLength
	}

	out := make([]byte, 0, n)
	for len(out) < n {
		u, err := uuid.NewRandom()
		if err != nil {
			return "", err
		}
		for i, b := range u {
			if len(out) == n {
				break
			}
			if i == 6 || i == 8 {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
		}
	}
	return Session(out), nil
}

// MustNew returns a DefaultLength identifier and panics if the system
// random source is unavailable.
func MustNew() Session {
	s, err := New(DefaultLength)
	if err != nil {
		panic(err)
	}
	return s
}
