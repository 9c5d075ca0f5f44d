package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func testHasher(t *testing.T) *Argon2Hasher {
	t.Helper()
	h, err := NewArgon2Hasher(HashParams{MemoryKiB: 64 * 1024, TimeCost: 3, Parallelism: 4})
	require.NoError(t, err)
	return h
}

func TestHashVerifyRoundTrip(t *testing.T) {
	h := testHasher(t)

	encoded, err := h.Hash("P@ssw0rd!1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encoded, "argon2id$"))

	v, err := h.Verify("P@ssw0rd!1", encoded)
	require.NoError(t, err)
	assert.True(t, v.Match)
	assert.False(t, v.NeedsUpgrade)

	v, err = h.Verify("P@ssw0rd!2", encoded)
	require.NoError(t, err)
	assert.False(t, v.Match)
}

func TestHashesAreSalted(t *testing.T) {
	h := testHasher(t)

	a, err := h.Hash("same-password-A1!")
	require.NoError(t, err)
	b, err := h.Hash("same-password-A1!")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestLegacyBcryptVerifyFlagsUpgrade(t *testing.T) {
	h := testHasher(t)

	raw, err := bcrypt.GenerateFromPassword([]byte("OldSecret#2"), bcrypt.MinCost)
	require.NoError(t, err)
	encoded := "bcrypt$" + string(raw)

	v, err := h.Verify("OldSecret#2", encoded)
	require.NoError(t, err)
	assert.True(t, v.Match)
	assert.True(t, v.NeedsUpgrade)

	v, err = h.Verify("WrongSecret#2", encoded)
	require.NoError(t, err)
	assert.False(t, v.Match)
	assert.False(t, v.NeedsUpgrade)
}

func TestUnknownAlgorithmFailsClosed(t *testing.T) {
	h := testHasher(t)

	_, err := h.Verify("whatever", "md5$abcdef")
	assert.ErrorIs(t, err, ErrUnknownHashAlgorithm)

	_, err = h.Verify("whatever", "not-an-encoded-hash")
	assert.ErrorIs(t, err, ErrMalformedHash)
}

func TestConstructorRejectsWeakParams(t *testing.T) {
	_, err := NewArgon2Hasher(HashParams{MemoryKiB: 1024, TimeCost: 3, Parallelism: 4})
	assert.ErrorIs(t, err, ErrWeakHashParams)

	_, err = NewArgon2Hasher(HashParams{MemoryKiB: 64 * 1024, TimeCost: 1, Parallelism: 4})
	assert.ErrorIs(t, err, ErrWeakHashParams)
}

func TestVerifyRejectsStoredWeakParams(t *testing.T) {
	h := testHasher(t)

	// A stored hash claiming 1 MiB of memory is below the floor regardless
	// of whether it would otherwise verify.
	salt := base64.RawStdEncoding.EncodeToString(make([]byte, 32))
	key := base64.RawStdEncoding.EncodeToString(make([]byte, 64))
	weak := fmt.Sprintf("argon2id$v=19$m=1024,t=3,p=4$%s$%s", salt, key)
	_, err := h.Verify("anything", weak)
	assert.ErrorIs(t, err, ErrWeakHashParams)
}

func TestRaisedParamsFlagUpgrade(t *testing.T) {
	low := testHasher(t)
	encoded, err := low.Hash("Sufficient#9")
	require.NoError(t, err)

	high, err := NewArgon2Hasher(HashParams{MemoryKiB: 128 * 1024, TimeCost: 4, Parallelism: 4})
	require.NoError(t, err)

	v, err := high.Verify("Sufficient#9", encoded)
	require.NoError(t, err)
	assert.True(t, v.Match)
	assert.True(t, v.NeedsUpgrade)
}

func TestHashGateBoundsConcurrency(t *testing.T) {
	gate := NewHashGate(2)

	var active, peak atomic.Int32
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			_ = gate.Do(context.Background(), func() error {
				n := active.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				active.Add(-1)
				return nil
			})
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestHashGateHonorsDeadline(t *testing.T) {
	gate := NewHashGate(1)

	release := make(chan struct{})
	go func() {
		_ = gate.Do(context.Background(), func() error {
			<-release
			return nil
		})
	}()
	time.Sleep(20 * time.Millisecond) // let the first caller take the slot

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := gate.Do(ctx, func() error { return nil })
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	close(release)
}
