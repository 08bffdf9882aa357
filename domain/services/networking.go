package services

import (
	"context"
	"github.com/YasiruR/walletconnect-prober/domain"
	"github.com/YasiruR/walletconnect-prober/domain/messages"
	"github.com/YasiruR/walletconnect-prober/domain/models"
)

type RequestHandler func(ctx context.Context, req messages.InboundRequest)

type ResponseHandler func(ctx context.Context, res messages.InboundResponse)

type Interactor interface {
	Subscribe(ctx context.Context, topic string) error
	Unsubscribe(ctx context.Context, topic string) error
	Request(ctx context.Context, topic string, req messages.Request, opts models.EnvelopeOptions) error
	Respond(ctx context.Context, topic, method string, res messages.Response, opts models.EnvelopeOptions) error
	RespondSuccess(ctx context.Context, topic, method string, id int64) error
	RespondError(ctx context.Context, topic, method string, id int64, reason domain.Reason) error
	// OnRequest and OnResponse register the handler for a method. Handlers
	// are invoked one at a time in delivery order.
	OnRequest(method string, h RequestHandler)
	OnResponse(method string, h ResponseHandler)
}
