package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"github.com/YasiruR/walletconnect-prober/did"
	"github.com/YasiruR/walletconnect-prober/domain"
	"github.com/YasiruR/walletconnect-prober/domain/services"
	"github.com/golang-jwt/jwt/v5"
	"io"
	"time"
)

const (
	clientIDKey = `clientid:ed25519`
	subjectSize = 32
)

// Claims of the token presented to the relay when connecting
type Claims struct {
	Issuer    string `json:"iss"`
	Subject   string `json:"sub"`
	Audience  string `json:"aud"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

func (c Claims) GetExpirationTime() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(c.ExpiresAt, 0)), nil
}

func (c Claims) GetIssuedAt() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(c.IssuedAt, 0)), nil
}

func (c Claims) GetNotBefore() (*jwt.NumericDate, error) {
	return nil, nil
}

func (c Claims) GetIssuer() (string, error) {
	return c.Issuer, nil
}

func (c Claims) GetSubject() (string, error) {
	return c.Subject, nil
}

func (c Claims) GetAudience() (jwt.ClaimStrings, error) {
	return jwt.ClaimStrings{c.Audience}, nil
}

// SocketAuthenticator signs relay auth tokens with a client-id ed25519 key
// which is created on first use and kept in the keychain
type SocketAuthenticator struct {
	keychain services.KeychainStorage
	dids     *did.Handler
	now      func() time.Time
}

func NewSocketAuthenticator(keychain services.KeychainStorage) *SocketAuthenticator {
	return &SocketAuthenticator{keychain: keychain, dids: did.NewHandler(), now: time.Now}
}

func (s *SocketAuthenticator) CreateAuthToken(audience string) (string, error) {
	prv, err := s.clientIDKey()
	if err != nil {
		return ``, err
	}

	sub := make([]byte, subjectSize)
	if _, err = io.ReadFull(rand.Reader, sub); err != nil {
		return ``, fmt.Errorf(`generating subject failed - %w`, err)
	}

	iat := s.now().Unix()
	claims := Claims{
		Issuer:    s.dids.CreateKeyDID(prv.Public().(ed25519.PublicKey)),
		Subject:   hex.EncodeToString(sub),
		Audience:  audience,
		IssuedAt:  iat,
		ExpiresAt: iat + int64(domain.AuthTokenTTL/time.Second),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(prv)
	if err != nil {
		return ``, fmt.Errorf(`signing auth token failed - %w`, err)
	}

	return token, nil
}

// ClientID returns the did:key identifying this client to the relay
func (s *SocketAuthenticator) ClientID() (string, error) {
	prv, err := s.clientIDKey()
	if err != nil {
		return ``, err
	}
	return s.dids.CreateKeyDID(prv.Public().(ed25519.PublicKey)), nil
}

func (s *SocketAuthenticator) clientIDKey() (ed25519.PrivateKey, error) {
	data, err := s.keychain.Get(clientIDKey)
	if err == nil && len(data) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(data), nil
	}

	if err != nil && !errors.Is(err, domain.ErrRecordNotFound) {
		return nil, fmt.Errorf(`reading client id key failed - %w`, err)
	}

	_, prv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf(`generating client id key failed - %w`, err)
	}

	if err = s.keychain.Set(clientIDKey, prv); err != nil {
		return nil, fmt.Errorf(`storing client id key failed - %w`, err)
	}

	return prv, nil
}

// VerifyAuthToken checks the signature against the issuer did:key along with
// the audience and expiry of the token
func VerifyAuthToken(token, audience string) (Claims, error) {
	var claims Claims
	dids := did.NewHandler()
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		c, ok := t.Claims.(*Claims)
		if !ok {
			return nil, fmt.Errorf(`unexpected claims type`)
		}
		return dids.ParseKeyDID(c.Issuer)
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Claims{}, fmt.Errorf(`%w - %v`, domain.ErrAuthRejected, err)
	}

	return claims, nil
}
