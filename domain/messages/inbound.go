package messages

// InboundRequest is a decrypted request received on a subscribed topic
type InboundRequest struct {
	Topic   string  `json:"topic"`
	Request Request `json:"request"`
}

// InboundResponse pairs a decrypted response with the request it answers
type InboundResponse struct {
	Topic    string
	Request  Request
	Response Response
}
