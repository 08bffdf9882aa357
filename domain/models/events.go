package models

import "github.com/YasiruR/walletconnect-prober/domain"

type EventType int

const (
	EventSessionProposal EventType = iota
	EventProposeResponse
	EventSessionRejected
	EventSessionSettle
	EventSessionUpdateAccounts
	EventSessionUpdateMethods
	EventSessionUpdateEvents
	EventSessionUpdateExpiry
	EventSessionDelete
	EventSessionPing
	EventSessionExpired
	EventPairingExpired
	EventPairingPing
	EventChatInvite
	EventChatThread
	EventChatRejected
	EventChatMessage
)

var eventNames = map[EventType]string{
	EventSessionProposal:       `session-proposal`,
	EventProposeResponse:       `propose-response`,
	EventSessionRejected:       `session-rejected`,
	EventSessionSettle:         `session-settle`,
	EventSessionUpdateAccounts: `session-update-accounts`,
	EventSessionUpdateMethods:  `session-update-methods`,
	EventSessionUpdateEvents:   `session-update-events`,
	EventSessionUpdateExpiry:   `session-update-expiry`,
	EventSessionDelete:         `session-delete`,
	EventSessionPing:           `session-ping`,
	EventSessionExpired:        `session-expired`,
	EventPairingExpired:        `pairing-expired`,
	EventPairingPing:           `pairing-ping`,
	EventChatInvite:            `chat-invite`,
	EventChatThread:            `chat-thread`,
	EventChatRejected:          `chat-rejected`,
	EventChatMessage:           `chat-message`,
}

func (e EventType) String() string {
	if n, ok := eventNames[e]; ok {
		return n
	}
	return `unknown`
}

// Event is published by the engines to notify the application about
// sequence state changes. Only the fields relevant to Type are set.
type Event struct {
	Type     EventType
	Topic    string
	Proposal *SessionProposal
	Session  *Session
	Pairing  *Pairing
	Invite   *Invite
	Thread   *Thread
	Message  *ChatMessage
	Reason   *domain.Reason
}
