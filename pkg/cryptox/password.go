package cryptox

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters for new hashes. Existing hashes carry their own.
const (
	argonMemory      = 19 * 1024 // KiB
	argonIterations  = 2
	argonParallelism = 1
	argonKeyLength   = 32
	argonSaltLength  = 16
)

var (
	// ErrPasswordMismatch is returned by Verify for a wrong password.
	ErrPasswordMismatch = errors.New("cryptox: password does not match")

	// ErrInvalidHash is returned by Verify for anything that is not a PHC
	// argon2id string it understands.
	ErrInvalidHash = errors.New("cryptox: invalid password hash")
)

// Hasher hashes and verifies passwords with Argon2id. The pepper is mixed
// into every password and never stored next to the hashes.
type Hasher struct {
	pepper []byte
}

// NewHasher returns a Hasher using pepper. A nil pepper is allowed.
func NewHasher(pepper []byte) *Hasher {
	return &Hasher{pepper: append([]byte(nil), pepper...)}
}

func (h *Hasher) key(password string, salt []byte, t, m uint32, p uint8, n uint32) []byte {
	input := make([]byte, 0, len(password)+len(h.pepper))
	input = append(input, password...)
	input = append(input, h.pepper...)
	return argon2.IDKey(input, salt, t, m, p, n)
}

// Hash returns a PHC-format Argon2id string:
// $argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt>$<hash>
func (h *Hasher) Hash(password string) (string, error) {
	salt := make([]byte, argonSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("cryptox: failed to generate salt: %w", err)
	}

	sum := h.key(password, salt, argonIterations, argonMemory, argonParallelism, argonKeyLength)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		argonMemory,
		argonIterations,
		argonParallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(sum),
	), nil
}

// Verify compares password against a hash produced by Hash, in constant
// time with respect to the hash contents.
func (h *Hasher) Verify(password, encoded string) error {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return ErrInvalidHash
	}
	if parts[2] != fmt.Sprintf("v=%d", argon2.Version) {
		return fmt.Errorf("%w: unsupported version %q", ErrInvalidHash, parts[2])
	}

	var (
		mem, iters uint32
		par        uint8
	)
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &iters, &par); err != nil {
		return fmt.Errorf("%w: parameters: %w", ErrInvalidHash, err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return fmt.Errorf("%w: salt: %w", ErrInvalidHash, err)
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(want) == 0 {
		return fmt.Errorf("%w: hash", ErrInvalidHash)
	}

	got := h.key(password, salt, iters, mem, par, uint32(len(want))) // #nosec G115
	if subtle.ConstantTimeCompare(got, want) != 1 {
		return ErrPasswordMismatch
	}
	return nil
}
