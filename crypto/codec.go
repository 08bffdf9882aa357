package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"github.com/YasiruR/walletconnect-prober/domain"
	"github.com/YasiruR/walletconnect-prober/domain/models"
	"golang.org/x/crypto/chacha20poly1305"
	"io"
)

const (
	typeSize  = 1
	nonceSize = chacha20poly1305.NonceSize
	tagSize   = chacha20poly1305.Overhead
)

// Codec frames json-rpc payloads into base64 envelopes sealed with
// chacha20-poly1305 (ietf):
//
//	type(1) || [sender public key(32) if type 1] || nonce(12) || ciphertext || tag(16)
type Codec struct{}

func NewCodec() *Codec {
	return &Codec{}
}

func (c *Codec) Encrypt(opts models.EnvelopeOptions, key models.SymmetricKey, payload []byte) (string, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return ``, fmt.Errorf(`initializing cipher failed - %w`, err)
	}

	nonce := make([]byte, nonceSize)
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return ``, fmt.Errorf(`generating nonce failed - %w`, err)
	}

	var buf []byte
	switch opts.Type {
	case models.EnvelopeType0:
		buf = make([]byte, 0, typeSize+nonceSize+len(payload)+tagSize)
		buf = append(buf, byte(models.EnvelopeType0))
	case models.EnvelopeType1:
		buf = make([]byte, 0, typeSize+models.KeySize+nonceSize+len(payload)+tagSize)
		buf = append(buf, byte(models.EnvelopeType1))
		buf = append(buf, opts.SenderPublicKey[:]...)
	default:
		return ``, fmt.Errorf(`%w (%d)`, domain.ErrUnknownType, opts.Type)
	}

	buf = append(buf, nonce...)
	buf = aead.Seal(buf, nonce, payload, nil)
	return base64.StdEncoding.EncodeToString(buf), nil
}

// Decode parses the envelope framing without opening the sealed content so
// that the receiver can pick the key from the envelope type
func (c *Codec) Decode(envelope string) (models.Envelope, error) {
	data, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil {
		return models.Envelope{}, fmt.Errorf(`%w - %v`, domain.ErrBadEnvelope, err)
	}

	if len(data) < typeSize {
		return models.Envelope{}, domain.ErrBadEnvelope
	}

	env := models.Envelope{Type: models.EnvelopeType(data[0])}
	rest := data[typeSize:]
	switch env.Type {
	case models.EnvelopeType0:
	case models.EnvelopeType1:
		if len(rest) < models.KeySize {
			return models.Envelope{}, fmt.Errorf(`%w - truncated sender public key`, domain.ErrBadEnvelope)
		}
		copy(env.SenderPublicKey[:], rest[:models.KeySize])
		rest = rest[models.KeySize:]
	default:
		return models.Envelope{}, fmt.Errorf(`%w (%d)`, domain.ErrUnknownType, data[0])
	}

	if len(rest) < nonceSize+tagSize {
		return models.Envelope{}, fmt.Errorf(`%w - sealed content is too short`, domain.ErrBadEnvelope)
	}

	env.Sealed = rest
	return env, nil
}

func (c *Codec) Open(key models.SymmetricKey, env models.Envelope) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf(`initializing cipher failed - %w`, err)
	}

	if len(env.Sealed) < nonceSize+tagSize {
		return nil, domain.ErrBadEnvelope
	}

	payload, err := aead.Open(nil, env.Sealed[:nonceSize], env.Sealed[nonceSize:], nil)
	if err != nil {
		return nil, domain.ErrAuthFail
	}

	return payload, nil
}

// Decrypt decodes and opens an envelope with a known symmetric key
func (c *Codec) Decrypt(key models.SymmetricKey, envelope string) ([]byte, error) {
	env, err := c.Decode(envelope)
	if err != nil {
		return nil, err
	}
	return c.Open(key, env)
}
