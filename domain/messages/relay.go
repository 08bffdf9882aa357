package messages

type PublishParams struct {
	Topic   string `json:"topic"`
	Message string `json:"message"`
	TTL     int64  `json:"ttl"`
	Prompt  bool   `json:"prompt"`
	Tag     int    `json:"tag"`
}

type SubscribeParams struct {
	Topic string `json:"topic"`
}

type UnsubscribeParams struct {
	ID    string `json:"id"`
	Topic string `json:"topic"`
}

type SubscriptionData struct {
	Topic   string `json:"topic"`
	Message string `json:"message"`
}

// SubscriptionParams is pushed by the relay for every message published on a
// subscribed topic
type SubscriptionParams struct {
	ID   string           `json:"id"`
	Data SubscriptionData `json:"data"`
}
