package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tokenTestAddr = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"

func TestTokenRoundTrip(t *testing.T) {
	svc := NewTokenService("secret", time.Hour)

	token, err := svc.CreateForAddress(tokenTestAddr)
	require.NoError(t, err)

	claims, err := svc.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, tokenTestAddr, claims["sub"])
}

func TestTokenExpired(t *testing.T) {
	svc := NewTokenService("secret", time.Hour)

	token, err := svc.CreateWithTTL(tokenTestAddr, -time.Minute)
	require.NoError(t, err)

	_, err = svc.Parse(token)
	assert.Error(t, err)
}

func TestTokenWrongSecret(t *testing.T) {
	token, err := NewTokenService("secret-a", time.Hour).CreateForAddress(tokenTestAddr)
	require.NoError(t, err)

	_, err = NewTokenService("secret-b", time.Hour).Parse(token)
	assert.Error(t, err)
}

func TestTokenGarbage(t *testing.T) {
	svc := NewTokenService("secret", time.Hour)
	_, err := svc.Parse("not.a.token")
	assert.Error(t, err)
}
