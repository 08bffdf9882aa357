// Package networkingtest provides a recording interactor whose inbound
// traffic is driven by the test.
package networkingtest

import (
	"context"
	"github.com/YasiruR/walletconnect-prober/domain"
	"github.com/YasiruR/walletconnect-prober/domain/messages"
	"github.com/YasiruR/walletconnect-prober/domain/models"
	"github.com/YasiruR/walletconnect-prober/domain/services"
	"sync"
)

type Sent struct {
	Topic    string
	Request  messages.Request
	Envelope models.EnvelopeOptions
}

type Responded struct {
	Topic    string
	Method   string
	Response messages.Response
}

// Interactor implements services.Interactor and records every outbound call
type Interactor struct {
	*sync.Mutex
	subscribed  map[string]bool
	sent        []Sent
	responded   []Responded
	reqHandlers map[string]services.RequestHandler
	resHandlers map[string]services.ResponseHandler
	// RequestErr is returned by Request when set
	RequestErr error
}

func New() *Interactor {
	return &Interactor{
		Mutex:       &sync.Mutex{},
		subscribed:  map[string]bool{},
		reqHandlers: map[string]services.RequestHandler{},
		resHandlers: map[string]services.ResponseHandler{},
	}
}

func (f *Interactor) Subscribe(_ context.Context, topic string) error {
	f.Lock()
	defer f.Unlock()
	f.subscribed[topic] = true
	return nil
}

func (f *Interactor) Unsubscribe(_ context.Context, topic string) error {
	f.Lock()
	defer f.Unlock()
	delete(f.subscribed, topic)
	return nil
}

func (f *Interactor) Request(_ context.Context, topic string, req messages.Request, opts models.EnvelopeOptions) error {
	f.Lock()
	defer f.Unlock()
	if f.RequestErr != nil {
		return f.RequestErr
	}
	f.sent = append(f.sent, Sent{Topic: topic, Request: req, Envelope: opts})
	return nil
}

func (f *Interactor) Respond(_ context.Context, topic, method string, res messages.Response, _ models.EnvelopeOptions) error {
	f.Lock()
	defer f.Unlock()
	f.responded = append(f.responded, Responded{Topic: topic, Method: method, Response: res})
	return nil
}

func (f *Interactor) RespondSuccess(ctx context.Context, topic, method string, id int64) error {
	return f.Respond(ctx, topic, method, messages.NewSuccess(id), models.Type0())
}

func (f *Interactor) RespondError(ctx context.Context, topic, method string, id int64, reason domain.Reason) error {
	return f.Respond(ctx, topic, method, messages.NewError(id, reason), models.Type0())
}

func (f *Interactor) OnRequest(method string, h services.RequestHandler) {
	f.Lock()
	defer f.Unlock()
	f.reqHandlers[method] = h
}

func (f *Interactor) OnResponse(method string, h services.ResponseHandler) {
	f.Lock()
	defer f.Unlock()
	f.resHandlers[method] = h
}

// Deliver runs the registered request handler as if the request had arrived
// on the topic. It reports false when no handler is registered.
func (f *Interactor) Deliver(ctx context.Context, topic string, req messages.Request) bool {
	f.Lock()
	h, ok := f.reqHandlers[req.Method]
	f.Unlock()
	if ok {
		h(ctx, messages.InboundRequest{Topic: topic, Request: req})
	}
	return ok
}

// Answer runs the registered response handler for a previously sent request
func (f *Interactor) Answer(ctx context.Context, sent Sent, res messages.Response) bool {
	f.Lock()
	h, ok := f.resHandlers[sent.Request.Method]
	f.Unlock()
	if ok {
		res.ID = sent.Request.ID
		h(ctx, messages.InboundResponse{Topic: sent.Topic, Request: sent.Request, Response: res})
	}
	return ok
}

func (f *Interactor) Subscribed(topic string) bool {
	f.Lock()
	defer f.Unlock()
	return f.subscribed[topic]
}

func (f *Interactor) Sent() []Sent {
	f.Lock()
	defer f.Unlock()
	return append([]Sent(nil), f.sent...)
}

// LastSent returns the most recent request for the method
func (f *Interactor) LastSent(method string) (Sent, bool) {
	f.Lock()
	defer f.Unlock()
	for i := len(f.sent) - 1; i >= 0; i-- {
		if f.sent[i].Request.Method == method {
			return f.sent[i], true
		}
	}
	return Sent{}, false
}

func (f *Interactor) Responded() []Responded {
	f.Lock()
	defer f.Unlock()
	return append([]Responded(nil), f.responded...)
}
