package did

import (
	"crypto/ed25519"
	"fmt"
	"github.com/btcsuite/btcutil/base58"
	"strings"
)

const (
	keyPrefix = `did:key:`
	// multibase prefix of base58btc
	base58BTC = `z`
)

// multicodec prefix of an ed25519 public key
var ed25519Codec = []byte{0xed, 0x01}

type Handler struct{}

func NewHandler() *Handler {
	return &Handler{}
}

// CreateKeyDID encodes an ed25519 public key as did:key:z<base58btc(0xed01 || key)>
func (h *Handler) CreateKeyDID(pub ed25519.PublicKey) string {
	data := make([]byte, 0, len(ed25519Codec)+len(pub))
	data = append(data, ed25519Codec...)
	data = append(data, pub...)
	return keyPrefix + base58BTC + base58.Encode(data)
}

func (h *Handler) ParseKeyDID(did string) (ed25519.PublicKey, error) {
	if !strings.HasPrefix(did, keyPrefix+base58BTC) {
		return nil, fmt.Errorf(`did is not a base58btc did:key (%s)`, did)
	}

	data := base58.Decode(strings.TrimPrefix(did, keyPrefix+base58BTC))
	if len(data) != len(ed25519Codec)+ed25519.PublicKeySize {
		return nil, fmt.Errorf(`invalid did:key length %d`, len(data))
	}

	if data[0] != ed25519Codec[0] || data[1] != ed25519Codec[1] {
		return nil, fmt.Errorf(`did:key does not hold an ed25519 key`)
	}

	return ed25519.PublicKey(data[len(ed25519Codec):]), nil
}
