package enrollment

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// IDSource mints enrollment identifiers.
//
// An identifier is generated once per continuous enrolled period and rides
// along through disqualification and unenrollment so audit events stay
// correlated across a record's lifetime.
type IDSource interface {
	NewID() (string, error)
}

// UUIDSource generates random (v4) enrollment identifiers.
//
// Uses github.com/google/uuid package for RFC 4122 compliant UUIDs.
//
// Thread-safety: UUIDSource is stateless and safe for concurrent use.
type UUIDSource struct{}

// NewID creates a new random UUID and returns it as a hyphenated string.
//
// Format: "550e8400-e29b-41d4-a716-446655440000" (36 characters)
func (UUIDSource) NewID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate enrollment id: %w", err)
	}
	return id.String(), nil
}

// FixedSource returns predetermined identifiers for testing.
//
// This enables deterministic test execution: tests provide a known
// sequence of ids and assert exact record and event contents.
//
// Thread-safety: FixedSource is safe for concurrent use via internal mutex.
type FixedSource struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedSource creates a source that returns ids in order.
//
// Example:
//
//	src := NewFixedSource("id-1", "id-2")
//	src.NewID() // "id-1"
//	src.NewID() // "id-2"
//	src.NewID() // panic: all ids exhausted
func NewFixedSource(ids ...string) *FixedSource {
	return &FixedSource{
		ids: ids,
		idx: 0,
	}
}

// NewID returns the next predetermined identifier.
// Thread-safe: uses mutex to protect index access.
//
// Panics if all ids have been consumed. This is a fail-fast approach to
// catch test misconfiguration (the test enrolled more times than expected).
func (s *FixedSource) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.idx >= len(s.ids) {
		panic("FixedSource: all ids exhausted")
	}
	id := s.ids[s.idx]
	s.idx++
	return id, nil
}
