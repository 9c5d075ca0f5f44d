package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Stored hashes are self-describing and tagged by algorithm family:
//
//	argon2id$v=19$m=65536,t=3,p=4$<b64 salt>$<b64 key>
//	bcrypt$<standard bcrypt encoding>
//
// The argon2id parameters travel with the hash, so raising the configured
// costs never breaks verification of existing users — it only flags them for
// an upgrade on their next successful login.
const (
	tagArgon2id = "argon2id"
	tagBcrypt   = "bcrypt"
)

var (
	ErrUnknownHashAlgorithm = errors.New("unknown password hash algorithm")
	ErrMalformedHash        = errors.New("malformed password hash")
	// ErrWeakHashParams signals stored or configured parameters below the
	// operational floor. It must surface to operators, never be swallowed.
	ErrWeakHashParams = errors.New("password hash parameters below configured floor")
)

// HashParams are the argon2id cost parameters.
type HashParams struct {
	MemoryKiB   uint32
	TimeCost    uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// HashFloors is the minimum acceptable parameter set. Anything below fails
// closed at construction and at verification time.
var HashFloors = HashParams{
	MemoryKiB:   64 * 1024,
	TimeCost:    3,
	Parallelism: 4,
	SaltLength:  32,
	KeyLength:   64,
}

// Verification is the outcome of a password check. NeedsUpgrade is set when
// the password matched against a legacy hash, or against an argon2id hash
// produced with parameters weaker than the currently configured ones.
type Verification struct {
	Match        bool
	NeedsUpgrade bool
}

// PasswordHasher defines the contract for password operations.
// This interface allows us to mock hashing in tests or swap algorithms.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, encoded string) (Verification, error)
}

// Argon2Hasher implements PasswordHasher with argon2id as the primary
// algorithm and read-only bcrypt support for the legacy population.
type Argon2Hasher struct {
	params HashParams
}

// NewArgon2Hasher validates the parameters against the floors and returns a
// hasher. It refuses to construct a weakened hasher.
func NewArgon2Hasher(params HashParams) (*Argon2Hasher, error) {
	if params.SaltLength == 0 {
		params.SaltLength = HashFloors.SaltLength
	}
	if params.KeyLength == 0 {
		params.KeyLength = HashFloors.KeyLength
	}
	if err := checkFloors(params); err != nil {
		return nil, err
	}
	return &Argon2Hasher{params: params}, nil
}

func checkFloors(p HashParams) error {
	if p.MemoryKiB < HashFloors.MemoryKiB ||
		p.TimeCost < HashFloors.TimeCost ||
		p.Parallelism < HashFloors.Parallelism ||
		p.SaltLength < HashFloors.SaltLength ||
		p.KeyLength < HashFloors.KeyLength {
		return fmt.Errorf("%w: m=%d t=%d p=%d salt=%d key=%d",
			ErrWeakHashParams, p.MemoryKiB, p.TimeCost, p.Parallelism, p.SaltLength, p.KeyLength)
	}
	return nil
}

// Hash produces an encoded argon2id hash of the password.
func (h *Argon2Hasher) Hash(password string) (string, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt,
		h.params.TimeCost, h.params.MemoryKiB, h.params.Parallelism, h.params.KeyLength)

	return fmt.Sprintf("%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		tagArgon2id,
		argon2.Version,
		h.params.MemoryKiB, h.params.TimeCost, h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify checks the password against an encoded hash of either family.
// Unknown algorithm tags fail closed. Stored argon2id parameters below the
// floor fail closed with ErrWeakHashParams so operators notice.
func (h *Argon2Hasher) Verify(password, encoded string) (Verification, error) {
	tag, rest, found := strings.Cut(encoded, "$")
	if !found {
		return Verification{}, ErrMalformedHash
	}

	switch tag {
	case tagArgon2id:
		return h.verifyArgon2(password, rest)
	case tagBcrypt:
		if err := bcrypt.CompareHashAndPassword([]byte(rest), []byte(password)); err != nil {
			if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
				return Verification{}, nil
			}
			return Verification{}, fmt.Errorf("%w: %v", ErrMalformedHash, err)
		}
		// Legacy match: caller must re-hash with the primary algorithm.
		return Verification{Match: true, NeedsUpgrade: true}, nil
	default:
		return Verification{}, ErrUnknownHashAlgorithm
	}
}

func (h *Argon2Hasher) verifyArgon2(password, rest string) (Verification, error) {
	parts := strings.Split(rest, "$")
	if len(parts) != 4 {
		return Verification{}, ErrMalformedHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[0], "v=%d", &version); err != nil {
		return Verification{}, ErrMalformedHash
	}
	if version != argon2.Version {
		return Verification{}, fmt.Errorf("%w: argon2 version %d", ErrUnknownHashAlgorithm, version)
	}

	var stored HashParams
	if _, err := fmt.Sscanf(parts[1], "m=%d,t=%d,p=%d",
		&stored.MemoryKiB, &stored.TimeCost, &stored.Parallelism); err != nil {
		return Verification{}, ErrMalformedHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[2])
	if err != nil {
		return Verification{}, ErrMalformedHash
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil {
		return Verification{}, ErrMalformedHash
	}
	stored.SaltLength = uint32(len(salt))
	stored.KeyLength = uint32(len(expected))

	if err := checkFloors(stored); err != nil {
		return Verification{}, err
	}

	actual := argon2.IDKey([]byte(password), salt,
		stored.TimeCost, stored.MemoryKiB, stored.Parallelism, stored.KeyLength)

	if subtle.ConstantTimeCompare(actual, expected) != 1 {
		return Verification{}, nil
	}

	return Verification{Match: true, NeedsUpgrade: h.weakerThanCurrent(stored)}, nil
}

// weakerThanCurrent reports whether a stored hash should be re-hashed
// because the configured costs were raised since it was produced.
func (h *Argon2Hasher) weakerThanCurrent(stored HashParams) bool {
	return stored.MemoryKiB < h.params.MemoryKiB ||
		stored.TimeCost < h.params.TimeCost ||
		stored.Parallelism < h.params.Parallelism ||
		stored.KeyLength < h.params.KeyLength
}
