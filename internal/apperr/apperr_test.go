package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	err := E(KindConflict, "email_taken", "email already registered")
	assert.Equal(t, KindConflict, KindOf(err))
	assert.Equal(t, "email_taken", CodeOf(err))

	wrapped := fmt.Errorf("handler: %w", err)
	assert.Equal(t, KindConflict, KindOf(wrapped))
	assert.Equal(t, "email_taken", CodeOf(wrapped))

	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
}

func TestIsMatchesOnKind(t *testing.T) {
	err := Wrap(KindAuthentication, "expired", "token expired", errors.New("exp"))

	assert.True(t, errors.Is(err, E(KindAuthentication, "", "")))
	assert.True(t, errors.Is(err, E(KindAuthentication, "expired", "")))
	assert.False(t, errors.Is(err, E(KindAuthentication, "bad-signature", "")))
	assert.False(t, errors.Is(err, E(KindAuthorization, "", "")))
}

func TestUnwrap(t *testing.T) {
	inner := errors.New("pool closed")
	err := Wrap(KindUpstream, "db", "store unreachable", inner)
	assert.ErrorIs(t, err, inner)
}
