package networking

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
	"github.com/YasiruR/walletconnect-prober/relay"
	"sync"
)

// Interactor seals json-rpc payloads for a topic before publishing them and
// opens, parses and routes every message delivered by the relay. Inbound
// requests are routed by method while responses are routed by the method of
// the request they answer.
type Interactor struct {
	relay   services.Relayer
	codec   services.Codec
	kms     services.KeyManager
	history *relay.History
	log     *log.Logger

	handlersMu  *sync.RWMutex
	reqHandlers map[string]services.RequestHandler
	resHandlers map[string]services.ResponseHandler

	ctx    context.Context
	cancel context.CancelFunc
}

func NewInteractor(relayer services.Relayer, codec services.Codec, kms services.KeyManager, history *relay.History, logger *log.Logger) *Interactor {
	ctx, cancel := context.WithCancel(context.Background())
	i := &Interactor{
		relay:       relayer,
		codec:       codec,
		kms:         kms,
		history:     history,
		log:         logger,
		handlersMu:  &sync.RWMutex{},
		reqHandlers: map[string]services.RequestHandler{},
		resHandlers: map[string]services.ResponseHandler{},
		ctx:         ctx,
		cancel:      cancel,
	}

	go i.listen(relayer.Messages())
	return i
}

func (i *Interactor) OnRequest(method string, h services.RequestHandler) {
	i.handlersMu.Lock()
	defer i.handlersMu.Unlock()
	i.reqHandlers[method] = h
}

func (i *Interactor) OnResponse(method string, h services.ResponseHandler) {
	i.handlersMu.Lock()
	defer i.handlersMu.Unlock()
	i.resHandlers[method] = h
}

func (i *Interactor) Subscribe(ctx context.Context, topic string) error {
	_, err := i.relay.Subscribe(ctx, topic)
	return err
}

// Unsubscribe stops deliveries on the topic and forgets its json-rpc records
func (i *Interactor) Unsubscribe(ctx context.Context, topic string) error {
	if err := i.history.Delete(topic); err != nil {
		i.log.Error(`interactor`, fmt.Sprintf(`deleting history of %s failed - %v`, topic, err))
	}
	return i.relay.Unsubscribe(ctx, topic)
}

// Request records the request so that its response can be correlated and
// publishes it sealed with the symmetric key of the topic
func (i *Interactor) Request(ctx context.Context, topic string, req messages.Request, opts models.EnvelopeOptions) error {
	env, err := i.seal(topic, req, opts)
	if err != nil {
		return err
	}

	if err = i.history.Set(topic, req); err != nil {
		return err
	}

	prompt := req.Method == domain.MethodSessionPropose || req.Method == domain.MethodChatInvite
	if err = i.relay.Publish(ctx, topic, env, domain.RequestTag(req.Method), prompt); err != nil {
		return err
	}

	i.log.Debug(`interactor`, fmt.Sprintf(`sent %s (id: %d) on %s`, req.Method, req.ID, topic))
	return nil
}

func (i *Interactor) Respond(ctx context.Context, topic, method string, res messages.Response, opts models.EnvelopeOptions) error {
	env, err := i.seal(topic, res, opts)
	if err != nil {
		return err
	}

	return i.relay.Publish(ctx, topic, env, domain.ResponseTag(method), false)
}

func (i *Interactor) RespondSuccess(ctx context.Context, topic, method string, id int64) error {
	return i.Respond(ctx, topic, method, messages.NewSuccess(id), models.Type0())
}

func (i *Interactor) RespondError(ctx context.Context, topic, method string, id int64, reason domain.Reason) error {
	return i.Respond(ctx, topic, method, messages.NewError(id, reason), models.Type0())
}

func (i *Interactor) Close() {
	i.cancel()
}

func (i *Interactor) seal(topic string, payload interface{}, opts models.EnvelopeOptions) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return ``, fmt.Errorf(`marshalling payload failed - %w`, err)
	}

	key, err := i.kms.SymmetricKey(topic)
	if err != nil {
		return ``, fmt.Errorf(`no symmetric key for %s - %w`, topic, err)
	}

	return i.codec.Encrypt(opts, key, data)
}

func (i *Interactor) listen(deliveries <-chan models.RelayMessage) {
	for {
		select {
		case msg, ok := <-deliveries:
			if !ok {
				return
			}
			i.handle(msg)
		case <-i.ctx.Done():
			return
		}
	}
}

func (i *Interactor) handle(msg models.RelayMessage) {
	env, err := i.codec.Decode(msg.Message)
	if err != nil {
		i.log.Error(`interactor`, fmt.Sprintf(`dropping message on %s - %v`, msg.Topic, err))
		return
	}

	key, err := i.openingKey(msg.Topic, env)
	if err != nil {
		i.log.Error(`interactor`, fmt.Sprintf(`dropping message on %s - %v`, msg.Topic, err))
		return
	}

	payload, err := i.codec.Open(key, env)
	if err != nil {
		i.log.Error(`interactor`, fmt.Sprintf(`dropping message on %s - %v`, msg.Topic, err))
		return
	}

	frame, err := messages.ParseFrame(payload)
	if err != nil {
		i.log.Error(`interactor`, fmt.Sprintf(`dropping message on %s - %v`, msg.Topic, err))
		return
	}

	if frame.IsRequest() {
		i.handleRequest(msg.Topic, frame.Request())
		return
	}
	i.handleResponse(msg.Topic, frame.Response())
}

// openingKey falls back to the key agreement with the sender of a type-1
// envelope when the topic has no symmetric key yet
func (i *Interactor) openingKey(topic string, env models.Envelope) (models.SymmetricKey, error) {
	key, err := i.kms.SymmetricKey(topic)
	if err == nil || env.Type != models.EnvelopeType1 || !errors.Is(err, domain.ErrKeyNotFound) {
		return key, err
	}

	selfPub, err := i.kms.PublicKey(topic)
	if err != nil {
		return models.SymmetricKey{}, fmt.Errorf(`no key to open type-1 envelope - %w`, err)
	}

	keys, err := i.kms.PerformKeyAgreement(selfPub, env.SenderPublicKey.Hex())
	if err != nil {
		return models.SymmetricKey{}, err
	}
	return keys.SharedKey, nil
}

func (i *Interactor) handleRequest(topic string, req messages.Request) {
	i.handlersMu.RLock()
	h, ok := i.reqHandlers[req.Method]
	i.handlersMu.RUnlock()
	if !ok {
		i.log.Warn(`interactor`, fmt.Sprintf(`no handler for %s on %s`, req.Method, topic))
		return
	}

	if err := i.history.Receive(topic, req); err != nil {
		if errors.Is(err, domain.ErrDuplicateRequest) {
			i.log.Debug(`interactor`, fmt.Sprintf(`dropping already seen %s on %s - %v`, req.Method, topic, err))
			return
		}
		i.log.Error(`interactor`, fmt.Sprintf(`recording %s on %s failed - %v`, req.Method, topic, err))
	}

	i.log.Debug(`interactor`, fmt.Sprintf(`received %s (id: %d) on %s`, req.Method, req.ID, topic))
	h(i.ctx, messages.InboundRequest{Topic: topic, Request: req})
}

func (i *Interactor) handleResponse(topic string, res messages.Response) {
	rec, err := i.history.Resolve(res)
	if err != nil {
		i.log.Warn(`interactor`, fmt.Sprintf(`dropping response on %s - %v`, topic, err))
		return
	}

	i.handlersMu.RLock()
	h, ok := i.resHandlers[rec.Request.Method]
	i.handlersMu.RUnlock()
	if !ok {
		i.log.Trace(`interactor`, fmt.Sprintf(`no response handler for %s`, rec.Request.Method))
		return
	}

	h(i.ctx, messages.InboundResponse{Topic: topic, Request: rec.Request, Response: res})
}
