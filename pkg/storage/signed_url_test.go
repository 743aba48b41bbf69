package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignedURLSignerRoundTrip(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	token, expiresAt, err := signer.Sign("rep-1", "courses/c1/progress.csv")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	grant, err := signer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "rep-1", grant.ReportID)
	assert.Equal(t, "courses/c1/progress.csv", grant.Path)
	assert.True(t, expiresAt.Equal(grant.ExpiresAt))
}

func TestSignedURLSignerExpired(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Minute)
	token, _, err := signer.Sign("rep-1", "a.csv")
	require.NoError(t, err)

	signer.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	grant, err := signer.Verify(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
	assert.Equal(t, "a.csv", grant.Path)
}

func TestSignedURLSignerRejectsTampering(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	token, _, err := signer.Sign("rep-1", "a.csv")
	require.NoError(t, err)

	other := NewSignedURLSigner("other", time.Hour)
	_, err = other.Verify(token)
	assert.ErrorIs(t, err, ErrTokenSignature)

	_, err = signer.Verify("not-a-token")
	assert.ErrorIs(t, err, ErrTokenMalformed)

	_, _, err = signer.Sign("rep.1", "a.csv")
	assert.Error(t, err)
}
