package transport

import (
	"context"
	"fmt"
	"github.com/YasiruR/walletconnect-prober/domain"
	"github.com/YasiruR/walletconnect-prober/domain/services"
	"net/http"
	"nhooyr.io/websocket"
)

const readLimit = 1 << 20

type WebSocket struct {
	conn *websocket.Conn
}

func NewWebSocket(conn *websocket.Conn) *WebSocket {
	conn.SetReadLimit(readLimit)
	return &WebSocket{conn: conn}
}

func (w *WebSocket) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.conn.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf(`reading websocket failed - %w`, err)
	}
	return data, nil
}

func (w *WebSocket) Write(ctx context.Context, data []byte) error {
	if err := w.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf(`%w - %v`, domain.ErrSendFailed, err)
	}
	return nil
}

func (w *WebSocket) Close(code int, reason string) error {
	return w.conn.Close(websocket.StatusCode(code), reason)
}

// Dialer opens client websockets to the relay
type Dialer struct {
	client *http.Client
}

func NewDialer(client *http.Client) *Dialer {
	if client == nil {
		client = http.DefaultClient
	}
	return &Dialer{client: client}
}

func (d *Dialer) Dial(ctx context.Context, url string) (services.WebSocket, error) {
	conn, res, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPClient: d.client})
	if err != nil {
		if res != nil && (res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf(`%w (status %d)`, domain.ErrAuthRejected, res.StatusCode)
		}
		return nil, fmt.Errorf(`dialing relay failed - %w`, err)
	}

	return NewWebSocket(conn), nil
}
