package models

type EnvelopeType byte

const (
	// EnvelopeType0 is sealed with a symmetric key both peers already hold
	EnvelopeType0 EnvelopeType = 0
	// EnvelopeType1 carries the sender's public key so that the receiver can
	// derive the symmetric key from its own private key
	EnvelopeType1 EnvelopeType = 1
)

// EnvelopeOptions selects the framing of an outbound envelope
type EnvelopeOptions struct {
	Type            EnvelopeType
	SenderPublicKey AgreementPublicKey
}

func Type0() EnvelopeOptions {
	return EnvelopeOptions{Type: EnvelopeType0}
}

func Type1(sender AgreementPublicKey) EnvelopeOptions {
	return EnvelopeOptions{Type: EnvelopeType1, SenderPublicKey: sender}
}

// Envelope is a decoded but still sealed payload
type Envelope struct {
	Type            EnvelopeType
	SenderPublicKey AgreementPublicKey
	// Sealed holds nonce || ciphertext || tag
	Sealed []byte
}

type RelayMessage struct {
	Topic   string
	Message string
}
