package services

import "github.com/YasiruR/walletconnect-prober/domain/models"

type KeyManager interface {
	CreateX25519KeyPair() (models.AgreementPublicKey, error)
	PerformKeyAgreement(selfPub models.AgreementPublicKey, peerPubHex string) (models.AgreementKeys, error)
	SetSymmetricKey(key models.SymmetricKey, topic string) error
	SymmetricKey(topic string) (models.SymmetricKey, error)
	DeleteSymmetricKey(topic string) error
	SetAgreementSecret(keys models.AgreementKeys, topic string) error
	AgreementSecret(topic string) (models.AgreementKeys, error)
	DeleteAgreementSecret(topic string) error
	PrivateKey(pub models.AgreementPublicKey) (models.AgreementPrivateKey, error)
	DeletePrivateKey(pub models.AgreementPublicKey) error
	// SetPublicKey registers the local key which opens type-1 envelopes
	// arriving on a topic without a symmetric key
	SetPublicKey(pub models.AgreementPublicKey, topic string) error
	PublicKey(topic string) (models.AgreementPublicKey, error)
	DeletePublicKey(topic string) error
}

type Codec interface {
	Encrypt(opts models.EnvelopeOptions, key models.SymmetricKey, payload []byte) (string, error)
	Decode(envelope string) (models.Envelope, error)
	Open(key models.SymmetricKey, env models.Envelope) ([]byte, error)
}

// Authenticator issues the token attached to the relay connection url
type Authenticator interface {
	CreateAuthToken(audience string) (string, error)
}
