// Package handle generates the opaque tokens that name exported windows.
package handle

import (
	"fmt"

	"github.com/google/uuid"
)

// Allocator produces random fixed-format tokens. Callers check uniqueness.
type Allocator interface {
	Generate() (string, error)
}

// Func adapts a function to Allocator.
type Func func() (string, error)

// Generate calls f.
func (f Func) Generate() (string, error) { return f() }

// UUID produces canonical 36-character random (version 4) UUID strings.
type UUID struct{}

// NewUUID returns a UUID allocator.
func NewUUID() UUID { return UUID{} }

// Generate returns a new random UUID string.
func (UUID) Generate() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generating handle: %w", err)
	}
	return id.String(), nil
}

// Sequence returns an allocator that yields tokens in order and then fails.
// It is meant for tests that need collisions or exhaustion.
func Sequence(tokens ...string) Allocator {
	i := 0
	return Func(func() (string, error) {
		if i >= len(tokens) {
			return "", ErrExhausted
		}
		tok := tokens[i]
		i++
		return tok, nil
	})
}
