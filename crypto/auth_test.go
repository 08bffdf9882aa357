package crypto

import (
	"strings"
	"testing"
	"time"

	"github.com/YasiruR/walletconnect-prober/domain"
	"github.com/YasiruR/walletconnect-prober/storage"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthTokenClaims(t *testing.T) {
	keychain := storage.NewMemory()
	auth := NewSocketAuthenticator(keychain)

	token, err := auth.CreateAuthToken(`wss://relay.example.com`)
	require.NoError(t, err)

	claims, err := VerifyAuthToken(token, `wss://relay.example.com`)
	require.NoError(t, err)

	clientID, err := auth.ClientID()
	require.NoError(t, err)
	assert.Equal(t, clientID, claims.Issuer)
	assert.True(t, strings.HasPrefix(claims.Issuer, `did:key:z`))
	assert.Len(t, claims.Subject, 64)
	assert.Equal(t, `wss://relay.example.com`, claims.Audience)
	assert.Equal(t, claims.IssuedAt+86400, claims.ExpiresAt)
	assert.InDelta(t, time.Now().Unix(), claims.IssuedAt, 5)

	header, _, _ := strings.Cut(token, `.`)
	parsed, _, err := jwt.NewParser().ParseUnverified(token, &Claims{})
	require.NoError(t, err)
	assert.NotEmpty(t, header)
	assert.Equal(t, `EdDSA`, parsed.Method.Alg())
}

func TestAuthTokenReusesClientID(t *testing.T) {
	keychain := storage.NewMemory()
	first, err := NewSocketAuthenticator(keychain).ClientID()
	require.NoError(t, err)
	second, err := NewSocketAuthenticator(keychain).ClientID()
	require.NoError(t, err)
	assert.Equal(t, first, second)

	other, err := NewSocketAuthenticator(storage.NewMemory()).ClientID()
	require.NoError(t, err)
	assert.NotEqual(t, first, other)
}

func TestAuthTokenFreshSubjectPerToken(t *testing.T) {
	auth := NewSocketAuthenticator(storage.NewMemory())
	t1, err := auth.CreateAuthToken(`wss://a`)
	require.NoError(t, err)
	t2, err := auth.CreateAuthToken(`wss://a`)
	require.NoError(t, err)

	c1, err := VerifyAuthToken(t1, `wss://a`)
	require.NoError(t, err)
	c2, err := VerifyAuthToken(t2, `wss://a`)
	require.NoError(t, err)
	assert.NotEqual(t, c1.Subject, c2.Subject)
}

func TestVerifyAuthTokenRejects(t *testing.T) {
	auth := NewSocketAuthenticator(storage.NewMemory())
	token, err := auth.CreateAuthToken(`wss://a`)
	require.NoError(t, err)

	_, err = VerifyAuthToken(token, `wss://b`)
	assert.ErrorIs(t, err, domain.ErrAuthRejected)

	_, err = VerifyAuthToken(token[:len(token)-4]+`AAAA`, `wss://a`)
	assert.ErrorIs(t, err, domain.ErrAuthRejected)

	expired := NewSocketAuthenticator(storage.NewMemory())
	expired.now = func() time.Time { return time.Now().Add(-48 * time.Hour) }
	old, err := expired.CreateAuthToken(`wss://a`)
	require.NoError(t, err)
	_, err = VerifyAuthToken(old, `wss://a`)
	assert.ErrorIs(t, err, domain.ErrAuthRejected)
}
