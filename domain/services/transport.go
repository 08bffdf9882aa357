package services

import (
	"context"
	"github.com/YasiruR/walletconnect-prober/domain"
	"github.com/YasiruR/walletconnect-prober/domain/models"
)

type WebSocket interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close(code int, reason string) error
}

type WebSocketFactory interface {
	Dial(ctx context.Context, url string) (WebSocket, error)
}

// URLFactory builds the relay url for every new connection attempt
type URLFactory interface {
	URL() (string, error)
}

type Dispatcher interface {
	Connect(ctx context.Context) error
	Disconnect(code int) error
	// Send blocks until the data is written to the socket
	Send(ctx context.Context, data []byte) error
	// SendAsync queues the data and reports the write result through onSent
	SendAsync(data []byte, onSent func(err error))
	Inbound() <-chan []byte
	StatusUpdates() <-chan domain.SocketStatus
	Close() error
}

type Relayer interface {
	Publish(ctx context.Context, topic, message string, tag domain.PublishTag, prompt bool) error
	PublishWithAck(ctx context.Context, topic, message string, tag domain.PublishTag, prompt bool) error
	Subscribe(ctx context.Context, topic string) (subscriptionID string, err error)
	Unsubscribe(ctx context.Context, topic string) error
	Messages() <-chan models.RelayMessage
	Close() error
}
