package transport

import (
	"context"
	"fmt"
	"github.com/YasiruR/walletconnect-prober/domain"
	"github.com/YasiruR/walletconnect-prober/domain/services"
	"github.com/YasiruR/walletconnect-prober/log"
	"github.com/YasiruR/walletconnect-prober/pubsub"
	"github.com/cenkalti/backoff/v4"
	"sync"
	"time"
)

const (
	CloseNormal  = 1000
	writeTimeout = 10 * time.Second
	inboundSize  = 64
)

type outbound struct {
	ctx    context.Context
	data   []byte
	onSent func(err error)
	once   sync.Once
}

func (o *outbound) done(err error) {
	o.once.Do(func() {
		if o.onSent != nil {
			o.onSent(err)
		}
	})
}

// Dispatcher owns the single relay connection. Outbound frames are written by
// one goroutine in submission order while another reads inbound frames. With
// the automatic policy frames are queued while disconnected and the
// connection is re-established with exponential backoff.
type Dispatcher struct {
	connType domain.ConnectionType
	urls     services.URLFactory
	sockets  services.WebSocketFactory
	log      *log.Logger

	mu           *sync.Mutex
	socket       services.WebSocket
	queue        []*outbound
	reconnecting bool
	// stopped is set by an explicit disconnect and suppresses reconnects
	stopped bool
	closed  bool

	wake       chan struct{}
	inbound    chan []byte
	statuses   *pubsub.Broker[domain.SocketStatus]
	newBackOff func() backoff.BackOff
	ctx        context.Context
	cancel     context.CancelFunc
}

func NewDispatcher(connType domain.ConnectionType, urls services.URLFactory, sockets services.WebSocketFactory, logger *log.Logger) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		connType:   connType,
		urls:       urls,
		sockets:    sockets,
		log:        logger,
		mu:         &sync.Mutex{},
		wake:       make(chan struct{}, 1),
		inbound:    make(chan []byte, inboundSize),
		statuses:   pubsub.NewBroker[domain.SocketStatus](),
		newBackOff: defaultBackOff,
		ctx:        ctx,
		cancel:     cancel,
	}

	go d.write()
	return d
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}

func (d *Dispatcher) Inbound() <-chan []byte {
	return d.inbound
}

func (d *Dispatcher) StatusUpdates() <-chan domain.SocketStatus {
	ch, _ := d.statuses.Subscribe()
	return ch
}

func (d *Dispatcher) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.socket != nil
}

// Connect dials the relay unless already connected. A failed attempt under the
// automatic policy keeps retrying in the background.
func (d *Dispatcher) Connect(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return domain.ErrSocketClosed
	}

	d.stopped = false
	if d.socket != nil {
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	err := d.dial(ctx)
	if err != nil && d.connType == domain.ConnectionAutomatic {
		d.scheduleReconnect()
	}
	return err
}

// Disconnect closes the connection with the given close code and keeps it
// closed until Connect is called again
func (d *Dispatcher) Disconnect(code int) error {
	d.mu.Lock()
	d.stopped = true
	sock := d.socket
	d.socket = nil
	var pending []*outbound
	if d.connType == domain.ConnectionManual {
		pending, d.queue = d.queue, nil
	}
	d.mu.Unlock()

	for _, o := range pending {
		o.done(domain.ErrNotConnected)
	}

	if sock == nil {
		return nil
	}

	d.statuses.Publish(domain.StatusDisconnected)
	if err := sock.Close(code, ``); err != nil {
		return fmt.Errorf(`closing websocket failed - %w`, err)
	}
	return nil
}

// Send blocks until the frame is written or ctx is done. A cancelled frame
// which is still queued is dropped.
func (d *Dispatcher) Send(ctx context.Context, data []byte) error {
	res := make(chan error, 1)
	if err := d.enqueue(ctx, data, func(err error) { res <- err }); err != nil {
		return err
	}

	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) SendAsync(data []byte, onSent func(err error)) {
	if err := d.enqueue(context.Background(), data, onSent); err != nil && onSent != nil {
		onSent(err)
	}
}

func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}

	d.closed = true
	sock := d.socket
	d.socket = nil
	pending := d.queue
	d.queue = nil
	d.mu.Unlock()

	d.cancel()
	for _, o := range pending {
		o.done(domain.ErrSocketClosed)
	}

	d.statuses.Publish(domain.StatusDisconnected)
	d.statuses.Close()
	if sock != nil {
		return sock.Close(CloseNormal, ``)
	}
	return nil
}

func (d *Dispatcher) enqueue(ctx context.Context, data []byte, onSent func(err error)) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return domain.ErrSocketClosed
	}

	if d.connType == domain.ConnectionManual && d.socket == nil {
		d.mu.Unlock()
		return domain.ErrNotConnected
	}

	d.queue = append(d.queue, &outbound{ctx: ctx, data: data, onSent: onSent})
	d.mu.Unlock()

	d.signal()
	return nil
}

func (d *Dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) dial(ctx context.Context) error {
	u, err := d.urls.URL()
	if err != nil {
		return err
	}

	sock, err := d.sockets.Dial(ctx, u)
	if err != nil {
		return err
	}

	d.mu.Lock()
	if d.closed || d.stopped || d.socket != nil {
		closed := d.closed
		d.mu.Unlock()
		_ = sock.Close(CloseNormal, ``)
		if closed {
			return domain.ErrSocketClosed
		}
		return nil
	}
	d.socket = sock
	d.mu.Unlock()

	go d.read(sock)
	d.statuses.Publish(domain.StatusConnected)
	d.signal()
	d.log.Info(`dispatcher`, `connected to relay`)
	return nil
}

func (d *Dispatcher) read(sock services.WebSocket) {
	for {
		data, err := sock.Read(d.ctx)
		if err != nil {
			d.onDisconnect(sock, err)
			return
		}

		select {
		case d.inbound <- data:
		case <-d.ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) onDisconnect(sock services.WebSocket, cause error) {
	d.mu.Lock()
	if d.socket != sock {
		d.mu.Unlock()
		return
	}

	d.socket = nil
	reconnect := d.connType == domain.ConnectionAutomatic && !d.stopped && !d.closed
	var pending []*outbound
	if d.connType == domain.ConnectionManual {
		pending, d.queue = d.queue, nil
	}
	d.mu.Unlock()

	for _, o := range pending {
		o.done(domain.ErrNotConnected)
	}

	_ = sock.Close(CloseNormal, ``)
	d.statuses.Publish(domain.StatusDisconnected)
	d.log.Warn(`dispatcher`, fmt.Sprintf(`relay connection lost - %v`, cause))
	if reconnect {
		d.scheduleReconnect()
	}
}

func (d *Dispatcher) scheduleReconnect() {
	d.mu.Lock()
	if d.reconnecting {
		d.mu.Unlock()
		return
	}
	d.reconnecting = true
	d.mu.Unlock()

	go func() {
		for {
			err := backoff.RetryNotify(func() error {
				if !d.needsConnection() {
					return nil
				}
				return d.dial(d.ctx)
			}, backoff.WithContext(d.newBackOff(), d.ctx), func(err error, next time.Duration) {
				d.log.Debug(`dispatcher`, fmt.Sprintf(`reconnecting in %s - %v`, next, err))
			})

			d.mu.Lock()
			if err != nil || d.closed || d.stopped || d.socket != nil {
				d.reconnecting = false
				d.mu.Unlock()
				return
			}
			d.mu.Unlock()
		}
	}()
}

func (d *Dispatcher) needsConnection() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.closed && !d.stopped && d.socket == nil
}

func (d *Dispatcher) write() {
	for {
		select {
		case <-d.wake:
		case <-d.ctx.Done():
			return
		}

		for d.flushHead() {
		}
	}
}

// flushHead writes the oldest queued frame and reports whether the queue
// should be flushed further
func (d *Dispatcher) flushHead() bool {
	d.mu.Lock()
	if d.socket == nil || len(d.queue) == 0 {
		d.mu.Unlock()
		return false
	}
	sock, msg := d.socket, d.queue[0]
	d.mu.Unlock()

	if err := msg.ctx.Err(); err != nil {
		d.pop(msg)
		msg.done(err)
		return true
	}

	ctx, cancel := context.WithTimeout(d.ctx, writeTimeout)
	err := sock.Write(ctx, msg.data)
	cancel()
	if err != nil {
		d.log.Error(`dispatcher`, fmt.Sprintf(`writing frame failed - %v`, err))
		if d.connType == domain.ConnectionManual {
			d.pop(msg)
			d.onDisconnect(sock, err)
			msg.done(fmt.Errorf(`%w - %v`, domain.ErrSendFailed, err))
			return false
		}

		// under the automatic policy the frame stays at the head of the queue
		d.onDisconnect(sock, err)
		return false
	}

	d.pop(msg)
	msg.done(nil)
	return true
}

func (d *Dispatcher) pop(msg *outbound) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) > 0 && d.queue[0] == msg {
		d.queue = d.queue[1:]
	}
}
