package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

const KeySize = 32

type SymmetricKey [KeySize]byte

func SymmetricKeyFromHex(s string) (SymmetricKey, error) {
	var k SymmetricKey
	byts, err := hex.DecodeString(s)
	if err != nil {
		return k, fmt.Errorf(`decoding symmetric key failed - %v`, err)
	}

	if len(byts) != KeySize {
		return k, fmt.Errorf(`symmetric key must be %d bytes but found %d`, KeySize, len(byts))
	}

	copy(k[:], byts)
	return k, nil
}

func (k SymmetricKey) Hex() string {
	return hex.EncodeToString(k[:])
}

// DerivedTopic is the topic bound to a shared symmetric key
func (k SymmetricKey) DerivedTopic() string {
	return TopicOf(k[:])
}

type AgreementPublicKey [KeySize]byte

func AgreementPublicKeyFromHex(s string) (AgreementPublicKey, error) {
	var k AgreementPublicKey
	byts, err := hex.DecodeString(s)
	if err != nil {
		return k, fmt.Errorf(`decoding public key failed - %v`, err)
	}

	if len(byts) != KeySize {
		return k, fmt.Errorf(`public key must be %d bytes but found %d`, KeySize, len(byts))
	}

	copy(k[:], byts)
	return k, nil
}

func (k AgreementPublicKey) Hex() string {
	return hex.EncodeToString(k[:])
}

type AgreementPrivateKey [KeySize]byte

type AgreementKeys struct {
	SharedKey SymmetricKey
	PublicKey AgreementPublicKey
}

func (a AgreementKeys) DerivedTopic() string {
	return a.SharedKey.DerivedTopic()
}

// TopicOf hashes the given material into a routing topic
func TopicOf(material []byte) string {
	sum := sha256.Sum256(material)
	return hex.EncodeToString(sum[:])
}
