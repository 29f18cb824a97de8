package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTRoundTrip(t *testing.T) {
	j := JWT{Secret: []byte("s3cret"), TokenTTL: time.Hour}
	tok, exp, err := j.Sign(42, "a@b.c")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	c, err := j.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), c.UserID)
	assert.Equal(t, "a@b.c", c.Email)
	assert.Equal(t, "42", c.Subject)

	id, err := j.VerifyToken(tok)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), id)
}

func TestJWTRejectsWrongSecretAndExpiry(t *testing.T) {
	j := JWT{Secret: []byte("one"), TokenTTL: time.Minute}
	tok, _, err := j.Sign(1, "")
	require.NoError(t, err)

	_, err = JWT{Secret: []byte("two")}.Verify(tok)
	assert.True(t, errors.Is(err, ErrInvalidToken))

	later := JWT{Secret: []byte("one"), Now: func() time.Time { return time.Now().Add(2 * time.Minute) }}
	_, err = later.Verify(tok)
	assert.True(t, errors.Is(err, ErrInvalidToken))

	_, err = j.Verify("not-a-token")
	assert.True(t, errors.Is(err, ErrInvalidToken))
}

func TestJWTRequiresSecret(t *testing.T) {
	_, _, err := JWT{}.Sign(1, "")
	assert.ErrorIs(t, err, ErrNoSecret)
}

func TestPasswordHashing(t *testing.T) {
	_, err := HashPassword("short")
	assert.ErrorIs(t, err, ErrWeakPassword)

	h, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.True(t, CheckPassword(h, "correct horse"))
	assert.False(t, CheckPassword(h, "wrong horse!"))
}
