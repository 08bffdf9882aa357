package domain

import "time"

// relay json-rpc methods
const (
	MethodPublish      = `irn_publish`
	MethodSubscribe    = `irn_subscribe`
	MethodUnsubscribe  = `irn_unsubscribe`
	MethodSubscription = `irn_subscription`
)

// application json-rpc methods carried in envelopes
const (
	MethodSessionPropose        = `wc_sessionPropose`
	MethodSessionSettle         = `wc_sessionSettle`
	MethodSessionUpdateAccounts = `wc_sessionUpdateAccounts`
	MethodSessionUpdateMethods  = `wc_sessionUpdateMethods`
	MethodSessionUpdateEvents   = `wc_sessionUpdateEvents`
	MethodSessionUpdateExpiry   = `wc_sessionUpdateExpiry`
	MethodSessionDelete         = `wc_sessionDelete`
	MethodSessionPing           = `wc_sessionPing`
	MethodPairingPing           = `wc_pairingPing`
	MethodChatInvite            = `wc_chatInvite`
	MethodChatMessage           = `wc_chatMessage`
)

const (
	JSONRPCVersion = `2.0`
	URIVersion     = `2`
	RelayProtocol  = `irn`
)

const (
	PairingTTLInactive = 5 * time.Minute
	PairingTTLActive   = 30 * 24 * time.Hour
	SessionTTL         = 7 * 24 * time.Hour
	RelayMessageTTL    = 6 * time.Hour
	AuthTokenTTL       = 24 * time.Hour
)

// PublishTag identifies the payload kind to the relay so that it can apply
// delivery policies (eg: push notifications) without decrypting
type PublishTag int

const (
	TagSessionPropose PublishTag = 1100 + iota
	TagSessionProposeResponse
	TagSessionSettle
	TagSessionSettleResponse
	TagSessionUpdate
	TagSessionUpdateResponse
	TagSessionDelete
	TagSessionDeleteResponse
	TagSessionPing
	TagSessionPingResponse
	TagPairingPing
	TagPairingPingResponse
	TagChat
	TagChatResponse
	TagUnknown PublishTag = 0
)

// RequestTag resolves the publish tag for an outbound request
func RequestTag(method string) PublishTag {
	switch method {
	case MethodSessionPropose:
		return TagSessionPropose
	case MethodSessionSettle:
		return TagSessionSettle
	case MethodSessionUpdateAccounts, MethodSessionUpdateMethods, MethodSessionUpdateEvents, MethodSessionUpdateExpiry:
		return TagSessionUpdate
	case MethodSessionDelete:
		return TagSessionDelete
	case MethodSessionPing:
		return TagSessionPing
	case MethodPairingPing:
		return TagPairingPing
	case MethodChatInvite, MethodChatMessage:
		return TagChat
	default:
		return TagUnknown
	}
}

// ResponseTag resolves the publish tag for a response to the given method
func ResponseTag(method string) PublishTag {
	tag := RequestTag(method)
	if tag == TagUnknown {
		return TagUnknown
	}
	return tag + 1
}

type ConnectionType string

const (
	ConnectionAutomatic ConnectionType = `automatic`
	ConnectionManual    ConnectionType = `manual`
)

type SocketStatus int

const (
	StatusDisconnected SocketStatus = iota
	StatusConnected
)

func (s SocketStatus) String() string {
	switch s {
	case StatusConnected:
		return `connected`
	default:
		return `disconnected`
	}
}
