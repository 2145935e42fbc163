// Package idx generates the ULIDs used for request and account identifiers.
package idx

import (
	"crypto/rand"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ID is a canonical ULID string.
type ID string

// Zero is the empty ID.
const Zero ID = ""

// ErrInvalid reports a malformed ULID string.
var ErrInvalid = errors.New("idx: invalid ulid")

// monotonic entropy is not safe for concurrent use
var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
)

// New returns a ULID for the current time. IDs from one process sort in
// creation order even within the same millisecond.
func New() ID {
	return NewAt(time.Now())
}

// NewAt returns a ULID carrying t.
func NewAt(t time.Time) ID {
	mu.Lock()
	defer mu.Unlock()
	return ID(ulid.MustNew(ulid.Timestamp(t.UTC()), entropy).String())
}

// Parse validates s as a ULID.
func Parse(s string) (ID, error) {
	s = strings.TrimSpace(s)
	if _, err := ulid.ParseStrict(s); err != nil {
		return Zero, ErrInvalid
	}
	return ID(s), nil
}

// FromHeader returns a caller supplied request id when it is a well formed
// ULID, and a fresh one otherwise. Arbitrary header values never end up in
// logs.
func FromHeader(v string) ID {
	if id, err := Parse(v); err == nil {
		return id
	}
	return New()
}

func (id ID) String() string { return string(id) }
