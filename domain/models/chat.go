package models

// Invite is a pending chat invitation waiting for the invitee's decision
type Invite struct {
	ID             string `json:"id"`
	Topic          string `json:"topic"`
	Account        string `json:"account"`
	OpeningMessage string `json:"message"`
	InviterPubKey  string `json:"publicKey"`
	RequestID      int64  `json:"requestId"`
}

type Thread struct {
	Topic       string `json:"topic"`
	SelfAccount string `json:"selfAccount"`
	PeerAccount string `json:"peerAccount"`
}

type ChatMessage struct {
	Topic     string `json:"topic"`
	Message   string `json:"message"`
	Author    string `json:"authorAccount"`
	Timestamp int64  `json:"timestamp"`
}
