package messages

type ChatInviteParams struct {
	Message   string `json:"message"`
	Account   string `json:"account"`
	PublicKey string `json:"publicKey"`
}

type ChatInviteResponse struct {
	PublicKey string `json:"publicKey"`
}

type ChatMessageParams struct {
	Message       string `json:"message"`
	AuthorAccount string `json:"authorAccount"`
	Timestamp     int64  `json:"timestamp"`
}
