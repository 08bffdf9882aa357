package domain

import (
	"errors"
	"fmt"
)

// transport
var (
	ErrNotConnected  = errors.New(`socket is not connected`)
	ErrSendFailed    = errors.New(`sending message failed`)
	ErrAuthRejected  = errors.New(`relay rejected the auth token`)
	ErrSocketClosed  = errors.New(`socket has been closed`)
	ErrNoSubscriptId = errors.New(`subscription id not found for topic`)
)

// codec
var (
	ErrBadEnvelope   = errors.New(`malformed envelope`)
	ErrAuthFail      = errors.New(`envelope authentication failed`)
	ErrUnknownType   = errors.New(`unknown envelope type`)
	ErrMissingSender = errors.New(`type-1 envelope requires a sender public key`)
)

// kms
var (
	ErrKeyNotFound      = errors.New(`key not found`)
	ErrInvalidPublicKey = errors.New(`invalid public key`)
)

// protocol
var (
	ErrNoSessionMatchingTopic        = errors.New(`no session matching topic`)
	ErrNoPairingMatchingTopic        = errors.New(`no pairing matching topic`)
	ErrPairingAlreadyExist           = errors.New(`pairing already exists`)
	ErrSessionNotAcknowledged        = errors.New(`session has not been acknowledged`)
	ErrUnauthorizedNonControllerCall = errors.New(`unauthorized non-controller call`)
	ErrInvalidExtendTime             = errors.New(`invalid extend time`)
	ErrInvalidAccount                = errors.New(`invalid account`)
	ErrInvalidMethod                 = errors.New(`invalid method`)
	ErrInvalidEvent                  = errors.New(`invalid event`)
	ErrProposalNotFound              = errors.New(`no pending proposal for public key`)
	ErrInviteNotFound                = errors.New(`no pending invite`)
	ErrThreadNotFound                = errors.New(`no chat thread matching topic`)
	ErrNotRegistered                 = errors.New(`no invite key registered`)
	ErrMalformedURI                  = errors.New(`malformed uri`)
	ErrUnsupportedURIVersion         = errors.New(`unsupported uri version`)
)

// history
var ErrDuplicateRequest = errors.New(`duplicate json-rpc request`)

// storage
var ErrRecordNotFound = errors.New(`record not found`)

// Reason is a protocol level failure reported to the peer as a
// json-rpc error object
type Reason struct {
	Code    int
	Message string
}

func (r Reason) Error() string {
	return fmt.Sprintf(`%s (code: %d)`, r.Message, r.Code)
}

var (
	ReasonInvalidUpdateAccounts = Reason{Code: 1003, Message: `Invalid update accounts request`}
	ReasonInvalidUpdateMethods  = Reason{Code: 1004, Message: `Invalid update methods request`}
	ReasonInvalidUpdateEvents   = Reason{Code: 1005, Message: `Invalid update events request`}
	ReasonInvalidUpdateExpiry   = Reason{Code: 1006, Message: `Invalid update expiry request`}
	ReasonNoSessionForTopic     = Reason{Code: 1301, Message: `No matching session for topic`}
	ReasonNoPairingForTopic     = Reason{Code: 1302, Message: `No matching pairing for topic`}
	ReasonUnauthorizedUpdate    = Reason{Code: 3003, Message: `Unauthorized update request`}
	ReasonUserRejected          = Reason{Code: 5000, Message: `User rejected`}
	ReasonUserDisconnected      = Reason{Code: 6000, Message: `User disconnected`}
	ReasonInvalidRequest        = Reason{Code: 1001, Message: `Invalid request`}
)

// ReasonOf maps a local validation error to the reason reported to the peer
func ReasonOf(err error) Reason {
	var r Reason
	switch {
	case errors.As(err, &r):
		return r
	case errors.Is(err, ErrNoSessionMatchingTopic):
		return ReasonNoSessionForTopic
	case errors.Is(err, ErrNoPairingMatchingTopic):
		return ReasonNoPairingForTopic
	case errors.Is(err, ErrUnauthorizedNonControllerCall):
		return ReasonUnauthorizedUpdate
	case errors.Is(err, ErrInvalidAccount):
		return ReasonInvalidUpdateAccounts
	case errors.Is(err, ErrInvalidMethod):
		return ReasonInvalidUpdateMethods
	case errors.Is(err, ErrInvalidEvent):
		return ReasonInvalidUpdateEvents
	case errors.Is(err, ErrInvalidExtendTime):
		return ReasonInvalidUpdateExpiry
	default:
		return ReasonInvalidRequest
	}
}
