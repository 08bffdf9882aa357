package models

import (
	"github.com/YasiruR/walletconnect-prober/domain"
	"time"
)

type RelayProtocolOptions struct {
	Protocol string `json:"protocol"`
	Data     string `json:"data,omitempty"`
}

func DefaultRelay() RelayProtocolOptions {
	return RelayProtocolOptions{Protocol: domain.RelayProtocol}
}

type AppMetadata struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	URL         string   `json:"url"`
	Icons       []string `json:"icons"`
}

type Pairing struct {
	Topic    string               `json:"topic"`
	Relay    RelayProtocolOptions `json:"relay"`
	Peer     *AppMetadata         `json:"peer,omitempty"`
	IsActive bool                 `json:"isActive"`
	Expiry   time.Time            `json:"expiryDate"`
}

// NewPairing creates an inactive pairing which expires if no proposal
// response activates it
func NewPairing(topic string, relay RelayProtocolOptions) Pairing {
	return Pairing{
		Topic:  topic,
		Relay:  relay,
		Expiry: time.Now().Add(domain.PairingTTLInactive),
	}
}

// PairingFromURI creates the responder side of a pairing which is
// active from the start
func PairingFromURI(uri URI) Pairing {
	return Pairing{
		Topic:    uri.Topic,
		Relay:    uri.Relay,
		IsActive: true,
		Expiry:   time.Now().Add(domain.PairingTTLActive),
	}
}

func (p Pairing) Key() string {
	return p.Topic
}

func (p Pairing) ExpiryDate() time.Time {
	return p.Expiry
}

// Activate marks the pairing as used and extends it to the active ttl
func (p *Pairing) Activate() {
	p.IsActive = true
	_ = p.Extend(domain.PairingTTLActive)
}

func (p *Pairing) Extend(ttl time.Duration) error {
	now := time.Now()
	newExpiry := now.Add(ttl)
	if !newExpiry.After(p.Expiry) || newExpiry.After(now.Add(domain.PairingTTLActive)) {
		return domain.ErrInvalidExtendTime
	}

	p.Expiry = newExpiry
	return nil
}
