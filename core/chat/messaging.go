package chat

import (
	"context"
	"fmt"
	"github.com/YasiruR/walletconnect-prober/domain"
	"github.com/YasiruR/walletconnect-prober/domain/messages"
	"github.com/YasiruR/walletconnect-prober/domain/models"
	"github.com/YasiruR/walletconnect-prober/domain/services"
	"github.com/YasiruR/walletconnect-prober/log"
	"github.com/YasiruR/walletconnect-prober/pubsub"
	"time"
)

type MessagingService struct {
	interactor services.Interactor
	threads    *Threads
	events     *pubsub.Broker[models.Event]
	log        *log.Logger
}

func NewMessagingService(interactor services.Interactor, threads *Threads, events *pubsub.Broker[models.Event], logger *log.Logger) *MessagingService {
	m := &MessagingService{interactor: interactor, threads: threads, events: events, log: logger}
	interactor.OnRequest(domain.MethodChatMessage, m.handleMessage)
	interactor.OnResponse(domain.MethodChatMessage, m.handleMessageResponse)
	return m
}

func (m *MessagingService) Send(ctx context.Context, topic, text string) error {
	thread, err := m.threads.Get(topic)
	if err != nil {
		return err
	}

	req, err := messages.NewRequest(domain.MethodChatMessage, messages.ChatMessageParams{
		Message:       text,
		AuthorAccount: thread.SelfAccount,
		Timestamp:     time.Now().UnixMilli(),
	})
	if err != nil {
		return err
	}

	return m.interactor.Request(ctx, topic, req, models.Type0())
}

func (m *MessagingService) Threads() ([]models.Thread, error) {
	return m.threads.All()
}

func (m *MessagingService) handleMessage(ctx context.Context, in messages.InboundRequest) {
	var params messages.ChatMessageParams
	if _, err := m.threads.Get(in.Topic); err != nil {
		m.respondError(ctx, in, err)
		return
	}

	if err := in.Request.ParamsAs(&params); err != nil {
		m.respondError(ctx, in, err)
		return
	}

	if err := m.interactor.RespondSuccess(ctx, in.Topic, in.Request.Method, in.Request.ID); err != nil {
		m.log.Error(`chat`, fmt.Sprintf(`acknowledging message failed - %v`, err))
	}

	msg := models.ChatMessage{Topic: in.Topic, Message: params.Message, Author: params.AuthorAccount, Timestamp: params.Timestamp}
	m.events.Publish(models.Event{Type: models.EventChatMessage, Topic: in.Topic, Message: &msg})
}

func (m *MessagingService) handleMessageResponse(_ context.Context, in messages.InboundResponse) {
	if in.Response.Error != nil {
		m.log.Warn(`chat`, fmt.Sprintf(`message on %s was rejected - %v`, in.Topic, in.Response.Error))
		return
	}
	m.log.Trace(`chat`, fmt.Sprintf(`message %d delivered on %s`, in.Request.ID, in.Topic))
}

func (m *MessagingService) respondError(ctx context.Context, in messages.InboundRequest, cause error) {
	m.log.Warn(`chat`, cause.Error())
	if err := m.interactor.RespondError(ctx, in.Topic, in.Request.Method, in.Request.ID, domain.ReasonInvalidRequest); err != nil {
		m.log.Error(`chat`, err.Error())
	}
}
