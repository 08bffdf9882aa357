package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"github.com/YasiruR/walletconnect-prober/domain"
	"github.com/YasiruR/walletconnect-prober/domain/models"
	"github.com/YasiruR/walletconnect-prober/domain/services"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
	"io"
)

// keychain entry prefixes
const (
	prefixSymKey    = `symkey:`
	prefixAgreement = `agreement:`
	prefixPrivKey   = `privkey:`
	prefixPubKey    = `pubkey:`
)

// KeyManager stores every key as raw bytes in the keychain. Symmetric keys,
// agreement secrets and registered public keys are addressed by topic while
// private keys are addressed by the hex of their public half.
type KeyManager struct {
	keychain services.KeychainStorage
}

func NewKeyManager(keychain services.KeychainStorage) *KeyManager {
	return &KeyManager{keychain: keychain}
}

func (k *KeyManager) CreateX25519KeyPair() (models.AgreementPublicKey, error) {
	var prv models.AgreementPrivateKey
	if _, err := io.ReadFull(rand.Reader, prv[:]); err != nil {
		return models.AgreementPublicKey{}, fmt.Errorf(`generating private key failed - %w`, err)
	}

	pubBytes, err := curve25519.X25519(prv[:], curve25519.Basepoint)
	if err != nil {
		return models.AgreementPublicKey{}, fmt.Errorf(`computing public key failed - %w`, err)
	}

	var pub models.AgreementPublicKey
	copy(pub[:], pubBytes)
	if err = k.keychain.Set(prefixPrivKey+pub.Hex(), prv[:]); err != nil {
		return models.AgreementPublicKey{}, fmt.Errorf(`storing private key failed - %w`, err)
	}

	return pub, nil
}

// PerformKeyAgreement derives the shared symmetric key with x25519 followed by
// hkdf-sha256 without salt or info
func (k *KeyManager) PerformKeyAgreement(selfPub models.AgreementPublicKey, peerPubHex string) (models.AgreementKeys, error) {
	peerPub, err := hex.DecodeString(peerPubHex)
	if err != nil || len(peerPub) != models.KeySize {
		return models.AgreementKeys{}, fmt.Errorf(`%w (%s)`, domain.ErrInvalidPublicKey, peerPubHex)
	}

	prv, err := k.PrivateKey(selfPub)
	if err != nil {
		return models.AgreementKeys{}, err
	}

	shared, err := SharedKey(prv, peerPub)
	if err != nil {
		return models.AgreementKeys{}, err
	}

	return models.AgreementKeys{SharedKey: shared, PublicKey: selfPub}, nil
}

// SharedKey runs the key agreement for a raw private key and peer public key
func SharedKey(prv models.AgreementPrivateKey, peerPub []byte) (models.SymmetricKey, error) {
	secret, err := curve25519.X25519(prv[:], peerPub)
	if err != nil {
		return models.SymmetricKey{}, fmt.Errorf(`%w - %v`, domain.ErrInvalidPublicKey, err)
	}

	var key models.SymmetricKey
	if _, err = io.ReadFull(hkdf.New(sha256.New, secret, nil, nil), key[:]); err != nil {
		return models.SymmetricKey{}, fmt.Errorf(`expanding shared secret failed - %w`, err)
	}

	return key, nil
}

func (k *KeyManager) SetSymmetricKey(key models.SymmetricKey, topic string) error {
	if err := k.keychain.Set(prefixSymKey+topic, key[:]); err != nil {
		return fmt.Errorf(`storing symmetric key failed - %w`, err)
	}
	return nil
}

func (k *KeyManager) SymmetricKey(topic string) (models.SymmetricKey, error) {
	var key models.SymmetricKey
	data, err := k.get(prefixSymKey+topic, len(key))
	if err != nil {
		return key, err
	}

	copy(key[:], data)
	return key, nil
}

func (k *KeyManager) DeleteSymmetricKey(topic string) error {
	return k.delete(prefixSymKey + topic)
}

func (k *KeyManager) SetAgreementSecret(keys models.AgreementKeys, topic string) error {
	data := make([]byte, 0, 2*models.KeySize)
	data = append(data, keys.SharedKey[:]...)
	data = append(data, keys.PublicKey[:]...)
	if err := k.keychain.Set(prefixAgreement+topic, data); err != nil {
		return fmt.Errorf(`storing agreement secret failed - %w`, err)
	}
	return nil
}

func (k *KeyManager) AgreementSecret(topic string) (models.AgreementKeys, error) {
	var keys models.AgreementKeys
	data, err := k.get(prefixAgreement+topic, 2*models.KeySize)
	if err != nil {
		return keys, err
	}

	copy(keys.SharedKey[:], data[:models.KeySize])
	copy(keys.PublicKey[:], data[models.KeySize:])
	return keys, nil
}

func (k *KeyManager) DeleteAgreementSecret(topic string) error {
	return k.delete(prefixAgreement + topic)
}

func (k *KeyManager) PrivateKey(pub models.AgreementPublicKey) (models.AgreementPrivateKey, error) {
	var prv models.AgreementPrivateKey
	data, err := k.get(prefixPrivKey+pub.Hex(), len(prv))
	if err != nil {
		return prv, err
	}

	copy(prv[:], data)
	return prv, nil
}

func (k *KeyManager) DeletePrivateKey(pub models.AgreementPublicKey) error {
	return k.delete(prefixPrivKey + pub.Hex())
}

func (k *KeyManager) SetPublicKey(pub models.AgreementPublicKey, topic string) error {
	if err := k.keychain.Set(prefixPubKey+topic, pub[:]); err != nil {
		return fmt.Errorf(`storing public key failed - %w`, err)
	}
	return nil
}

func (k *KeyManager) PublicKey(topic string) (models.AgreementPublicKey, error) {
	var pub models.AgreementPublicKey
	data, err := k.get(prefixPubKey+topic, len(pub))
	if err != nil {
		return pub, err
	}

	copy(pub[:], data)
	return pub, nil
}

func (k *KeyManager) DeletePublicKey(topic string) error {
	return k.delete(prefixPubKey + topic)
}

func (k *KeyManager) get(key string, size int) ([]byte, error) {
	data, err := k.keychain.Get(key)
	if errors.Is(err, domain.ErrRecordNotFound) {
		return nil, fmt.Errorf(`%w (%s)`, domain.ErrKeyNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf(`reading keychain failed - %w`, err)
	}

	if len(data) != size {
		return nil, fmt.Errorf(`keychain entry %s has an invalid length %d`, key, len(data))
	}
	return data, nil
}

func (k *KeyManager) delete(key string) error {
	if err := k.keychain.Delete(key); err != nil {
		return fmt.Errorf(`deleting %s from keychain failed - %w`, key, err)
	}
	return nil
}
