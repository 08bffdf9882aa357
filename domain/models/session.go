package models

import (
	"github.com/YasiruR/walletconnect-prober/domain"
	"time"
)

type Participant struct {
	PublicKey string      `json:"publicKey"`
	Metadata  AppMetadata `json:"metadata"`
}

type SessionPermissions struct {
	Methods Set `json:"methods"`
	Events  Set `json:"events"`
}

// SessionProposal is the payload of a wc_sessionPropose request
type SessionProposal struct {
	Relay       RelayProtocolOptions `json:"relay"`
	Proposer    Participant          `json:"proposer"`
	Permissions SessionPermissions   `json:"permissions"`
	Blockchains Set                  `json:"blockchains"`
}

type Session struct {
	Topic            string               `json:"topic"`
	Relay            RelayProtocolOptions `json:"relay"`
	Self             Participant          `json:"self"`
	Peer             Participant          `json:"peer"`
	Expiry           time.Time            `json:"expiryDate"`
	Acknowledged     bool                 `json:"acknowledged"`
	SelfIsController bool                 `json:"selfIsController"`
	Accounts         Set                  `json:"accounts"`
	Methods          Set                  `json:"methods"`
	Events           Set                  `json:"events"`
	Blockchains      Set                  `json:"blockchains"`
}

func (s Session) Key() string {
	return s.Topic
}

func (s Session) ExpiryDate() time.Time {
	return s.Expiry
}

// PeerIsController reports whether the remote side may update this session
func (s Session) PeerIsController() bool {
	return !s.SelfIsController
}

// UpdateExpiry moves the expiry to now+ttl, which must lie after the current
// expiry and within the session ttl from now
func (s *Session) UpdateExpiry(ttl time.Duration) error {
	return s.UpdateExpiryDate(time.Now().Add(ttl))
}

func (s *Session) UpdateExpiryDate(newExpiry time.Time) error {
	now := time.Now()
	if !newExpiry.After(now) || newExpiry.After(now.Add(domain.SessionTTL)) || !newExpiry.After(s.Expiry) {
		return domain.ErrInvalidExtendTime
	}

	s.Expiry = newExpiry
	return nil
}
