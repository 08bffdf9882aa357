package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/YasiruR/walletconnect-prober/domain"
	"github.com/YasiruR/walletconnect-prober/domain/messages"
	"github.com/YasiruR/walletconnect-prober/domain/models"
	"github.com/YasiruR/walletconnect-prober/domain/services"
	"github.com/YasiruR/walletconnect-prober/log"
	"github.com/YasiruR/walletconnect-prober/pubsub"
	"sync"
	"time"
)

// Client speaks the relay json-rpc protocol over the dispatcher. Responses are
// matched to their waiters on the reading goroutine while subscription
// deliveries are handed over to an unbounded queue, so a consumer may call
// back into the client without stalling the reader.
type Client struct {
	dispatcher services.Dispatcher
	history    *History
	metrics    *Metrics
	log        *log.Logger

	subsMu        *sync.RWMutex
	subscriptions map[string]string // topic to subscription id

	waitersMu *sync.Mutex
	waiters   map[int64]chan messages.Response

	deliveries *pubsub.Queue[models.RelayMessage]
	statuses   *pubsub.Broker[domain.SocketStatus]
	done       chan struct{}
	closeOnce  sync.Once
}

func NewClient(dispatcher services.Dispatcher, history *History, metrics *Metrics, logger *log.Logger) *Client {
	c := &Client{
		dispatcher:    dispatcher,
		history:       history,
		metrics:       metrics,
		log:           logger,
		subsMu:        &sync.RWMutex{},
		subscriptions: map[string]string{},
		waitersMu:     &sync.Mutex{},
		waiters:       map[int64]chan messages.Response{},
		deliveries:    pubsub.NewQueue[models.RelayMessage](),
		statuses:      pubsub.NewBroker[domain.SocketStatus](),
		done:          make(chan struct{}),
	}

	go c.listen(dispatcher.Inbound())
	go c.watch(dispatcher.StatusUpdates())
	return c
}

// Messages delivers every new message published on a subscribed topic in the
// order received
func (c *Client) Messages() <-chan models.RelayMessage {
	return c.deliveries.Out()
}

// StatusUpdates streams connection changes until cancel is called
func (c *Client) StatusUpdates() (<-chan domain.SocketStatus, func()) {
	return c.statuses.Subscribe()
}

func (c *Client) Connect(ctx context.Context) error {
	return c.dispatcher.Connect(ctx)
}

func (c *Client) Disconnect(code int) error {
	return c.dispatcher.Disconnect(code)
}

// Publish completes once the request is written to the socket
func (c *Client) Publish(ctx context.Context, topic, message string, tag domain.PublishTag, prompt bool) error {
	req, err := messages.NewRequest(domain.MethodPublish, c.publishParams(topic, message, tag, prompt))
	if err != nil {
		return err
	}

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf(`marshalling publish request failed - %w`, err)
	}

	err = c.dispatcher.Send(ctx, data)
	c.metrics.request(domain.MethodPublish, err)
	if err != nil {
		return fmt.Errorf(`publishing on %s failed - %w`, topic, err)
	}

	c.metrics.message(kindPublished)
	return nil
}

// PublishWithAck completes once the relay acknowledges the message
func (c *Client) PublishWithAck(ctx context.Context, topic, message string, tag domain.PublishTag, prompt bool) error {
	if _, err := c.request(ctx, domain.MethodPublish, c.publishParams(topic, message, tag, prompt)); err != nil {
		return fmt.Errorf(`publishing on %s failed - %w`, topic, err)
	}

	c.metrics.message(kindPublished)
	return nil
}

func (c *Client) Subscribe(ctx context.Context, topic string) (string, error) {
	res, err := c.request(ctx, domain.MethodSubscribe, messages.SubscribeParams{Topic: topic})
	if err != nil {
		return ``, fmt.Errorf(`subscribing to %s failed - %w`, topic, err)
	}

	var id string
	if err = res.ResultAs(&id); err != nil {
		return ``, fmt.Errorf(`invalid subscription id for %s - %w`, topic, err)
	}

	c.subsMu.Lock()
	c.subscriptions[topic] = id
	c.subsMu.Unlock()

	c.log.Debug(`relay`, fmt.Sprintf(`subscribed to %s (subscription id: %s)`, topic, id))
	return id, nil
}

func (c *Client) Unsubscribe(ctx context.Context, topic string) error {
	c.subsMu.RLock()
	id, ok := c.subscriptions[topic]
	c.subsMu.RUnlock()
	if !ok {
		return fmt.Errorf(`%w (%s)`, domain.ErrNoSubscriptId, topic)
	}

	if _, err := c.request(ctx, domain.MethodUnsubscribe, messages.UnsubscribeParams{ID: id, Topic: topic}); err != nil {
		return fmt.Errorf(`unsubscribing from %s failed - %w`, topic, err)
	}

	c.subsMu.Lock()
	delete(c.subscriptions, topic)
	c.subsMu.Unlock()

	// deliveries may still arrive until the relay confirms
	if err := c.history.Delete(topic); err != nil {
		c.log.Error(`relay`, fmt.Sprintf(`deleting history of %s failed - %v`, topic, err))
	}
	return nil
}

func (c *Client) SubscriptionID(topic string) (string, bool) {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	id, ok := c.subscriptions[topic]
	return id, ok
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.deliveries.Close()
		c.statuses.Close()
		err = c.dispatcher.Close()
	})
	return err
}

func (c *Client) publishParams(topic, message string, tag domain.PublishTag, prompt bool) messages.PublishParams {
	return messages.PublishParams{
		Topic:   topic,
		Message: message,
		TTL:     int64(domain.RelayMessageTTL / time.Second),
		Prompt:  prompt,
		Tag:     int(tag),
	}
}

// request sends a relay json-rpc request and waits for its response. Errors
// returned by the relay surface as *messages.RPCError.
func (c *Client) request(ctx context.Context, method string, params interface{}) (messages.Response, error) {
	req, err := messages.NewRequest(method, params)
	if err != nil {
		return messages.Response{}, err
	}

	data, err := json.Marshal(req)
	if err != nil {
		return messages.Response{}, fmt.Errorf(`marshalling %s request failed - %w`, method, err)
	}

	wait := make(chan messages.Response, 1)
	c.waitersMu.Lock()
	c.waiters[req.ID] = wait
	c.waitersMu.Unlock()

	defer func() {
		c.waitersMu.Lock()
		delete(c.waiters, req.ID)
		c.waitersMu.Unlock()
	}()

	if err = c.dispatcher.Send(ctx, data); err != nil {
		c.metrics.request(method, err)
		return messages.Response{}, err
	}

	select {
	case res := <-wait:
		if res.Error != nil {
			c.metrics.request(method, res.Error)
			return res, res.Error
		}
		c.metrics.request(method, nil)
		return res, nil
	case <-ctx.Done():
		return messages.Response{}, ctx.Err()
	case <-c.done:
		return messages.Response{}, domain.ErrSocketClosed
	}
}

func (c *Client) listen(inbound <-chan []byte) {
	for {
		select {
		case data, ok := <-inbound:
			if !ok {
				return
			}
			c.handleFrame(data)
		case <-c.done:
			return
		}
	}
}

func (c *Client) handleFrame(data []byte) {
	frame, err := messages.ParseFrame(data)
	if err != nil {
		c.log.Error(`relay`, fmt.Sprintf(`dropping inbound frame - %v`, err))
		return
	}

	if !frame.IsRequest() {
		c.resolve(frame.Response())
		return
	}

	if frame.Method != domain.MethodSubscription {
		c.log.Warn(`relay`, fmt.Sprintf(`unexpected relay request %s`, frame.Method))
		return
	}

	c.handleSubscription(frame.Request())
}

func (c *Client) resolve(res messages.Response) {
	c.waitersMu.Lock()
	wait, ok := c.waiters[res.ID]
	c.waitersMu.Unlock()
	if !ok {
		c.log.Trace(`relay`, fmt.Sprintf(`no waiter for relay response %d`, res.ID))
		return
	}

	select {
	case wait <- res:
	default:
	}
}

// handleSubscription records the delivery in the history, hands it over to
// the consumer and acknowledges it. Duplicates are only acknowledged.
func (c *Client) handleSubscription(req messages.Request) {
	var params messages.SubscriptionParams
	if err := req.ParamsAs(&params); err != nil {
		c.log.Error(`relay`, fmt.Sprintf(`invalid subscription delivery %d - %v`, req.ID, err))
		c.ack(req.ID)
		return
	}

	err := c.history.Set(params.Data.Topic, req)
	switch {
	case errors.Is(err, domain.ErrDuplicateRequest):
		c.log.Info(`relay`, fmt.Sprintf(`duplicate delivery %d on %s dropped`, req.ID, params.Data.Topic))
		c.metrics.message(kindDuplicate)
		c.ack(req.ID)
		return
	case err != nil:
		c.log.Error(`relay`, fmt.Sprintf(`recording delivery %d failed - %v`, req.ID, err))
	}

	c.deliveries.Push(models.RelayMessage{Topic: params.Data.Topic, Message: params.Data.Message})
	c.metrics.message(kindDelivered)
	c.ack(req.ID)
}

func (c *Client) ack(id int64) {
	data, err := json.Marshal(messages.NewSuccess(id))
	if err != nil {
		c.log.Error(`relay`, fmt.Sprintf(`marshalling ack failed - %v`, err))
		return
	}

	c.dispatcher.SendAsync(data, func(err error) {
		if err != nil {
			c.metrics.message(kindFailed)
			c.log.Error(`relay`, fmt.Sprintf(`acknowledging delivery %d failed - %v`, id, err))
			return
		}
		c.metrics.message(kindAcked)
	})
}

// watch republishes connection changes and restores subscriptions once the
// connection comes back
func (c *Client) watch(statuses <-chan domain.SocketStatus) {
	wasConnected := false
	for {
		select {
		case status, ok := <-statuses:
			if !ok {
				return
			}

			c.statuses.Publish(status)
			if status == domain.StatusConnected {
				if wasConnected {
					go c.resubscribe()
				}
				wasConnected = true
			}
		case <-c.done:
			return
		}
	}
}

func (c *Client) resubscribe() {
	c.subsMu.RLock()
	topics := make([]string, 0, len(c.subscriptions))
	for topic := range c.subscriptions {
		topics = append(topics, topic)
	}
	c.subsMu.RUnlock()

	for _, topic := range topics {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if _, err := c.Subscribe(ctx, topic); err != nil {
			c.log.Error(`relay`, fmt.Sprintf(`restoring subscription to %s failed - %v`, topic, err))
		}
		cancel()
	}
}
