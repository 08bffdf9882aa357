package session

import (
	"context"
	"errors"
	"fmt"
	"github.com/YasiruR/walletconnect-prober/domain"
	"github.com/YasiruR/walletconnect-prober/domain/messages"
	"github.com/YasiruR/walletconnect-prober/domain/models"
	"github.com/YasiruR/walletconnect-prober/domain/services"
	"github.com/YasiruR/walletconnect-prober/log"
	"github.com/YasiruR/walletconnect-prober/pubsub"
	"github.com/YasiruR/walletconnect-prober/storage"
	"sync"
	"time"
)

const (
	prefixSessions  = `session:`
	teardownTimeout = 10 * time.Second
)

var updateEvents = map[string]models.EventType{
	domain.MethodSessionUpdateAccounts: models.EventSessionUpdateAccounts,
	domain.MethodSessionUpdateMethods:  models.EventSessionUpdateMethods,
	domain.MethodSessionUpdateEvents:   models.EventSessionUpdateEvents,
	domain.MethodSessionUpdateExpiry:   models.EventSessionUpdateExpiry,
}

// Engine drives the sessions of a client. The side which responded to the
// proposal settles the session and becomes its controller, so it is the
// only side allowed to update it.
type Engine struct {
	// guards sessions, writers hold it across read-modify-write cycles
	*sync.RWMutex
	interactor services.Interactor
	kms        services.KeyManager
	sessions   *storage.SequenceStore[models.Session]
	metadata   models.AppMetadata
	events     *pubsub.Broker[models.Event]
	log        *log.Logger
}

func NewEngine(interactor services.Interactor, kms services.KeyManager, kv services.KeyValueStorage, metadata models.AppMetadata, events *pubsub.Broker[models.Event], logger *log.Logger) *Engine {
	e := &Engine{
		RWMutex:    &sync.RWMutex{},
		interactor: interactor,
		kms:        kms,
		sessions:   storage.NewSequenceStore[models.Session](kv, prefixSessions),
		metadata:   metadata,
		events:     events,
		log:        logger,
	}

	e.sessions.OnExpiration(e.onExpired)
	interactor.OnRequest(domain.MethodSessionSettle, e.handleSettle)
	interactor.OnResponse(domain.MethodSessionSettle, e.handleSettleResponse)
	for method := range updateEvents {
		interactor.OnRequest(method, e.handleUpdate)
		interactor.OnResponse(method, e.handleUpdateResponse)
	}
	interactor.OnRequest(domain.MethodSessionDelete, e.handleDelete)
	interactor.OnRequest(domain.MethodSessionPing, e.handlePing)
	interactor.OnResponse(domain.MethodSessionPing, e.handlePingResponse)
	return e
}

// HandleProposeResponse subscribes to the session topic of an accepted
// proposal so that the settlement from the controller can be received
func (e *Engine) HandleProposeResponse(ctx context.Context, topic string) error {
	if err := e.interactor.Subscribe(ctx, topic); err != nil {
		return fmt.Errorf(`subscribing to session topic failed - %w`, err)
	}
	return nil
}

// Settle subscribes to the session topic and sends the settlement to the
// proposer. The session stays unacknowledged until the proposer responds.
func (e *Engine) Settle(ctx context.Context, topic string, proposal models.SessionProposal, accounts models.Set) (models.Session, error) {
	if err := models.ValidateAccounts(accounts); err != nil {
		return models.Session{}, err
	}

	keys, err := e.kms.AgreementSecret(topic)
	if err != nil {
		return models.Session{}, fmt.Errorf(`no agreement for session topic - %w`, err)
	}

	e.Lock()
	defer e.Unlock()
	if err = e.interactor.Subscribe(ctx, topic); err != nil {
		return models.Session{}, fmt.Errorf(`subscribing to session topic failed - %w`, err)
	}

	session := models.Session{
		Topic:            topic,
		Relay:            proposal.Relay,
		Self:             models.Participant{PublicKey: keys.PublicKey.Hex(), Metadata: e.metadata},
		Peer:             proposal.Proposer,
		Expiry:           time.Now().Add(domain.SessionTTL),
		SelfIsController: true,
		Accounts:         accounts.Clone(),
		Methods:          proposal.Permissions.Methods.Clone(),
		Events:           proposal.Permissions.Events.Clone(),
		Blockchains:      proposal.Blockchains.Clone(),
	}

	req, err := messages.NewRequest(domain.MethodSessionSettle, messages.SettleParams{
		Relay:       session.Relay,
		Controller:  session.Self,
		Accounts:    session.Accounts,
		Methods:     session.Methods,
		Events:      session.Events,
		Blockchains: session.Blockchains,
		Expiry:      session.Expiry.Unix(),
	})
	if err != nil {
		return models.Session{}, err
	}

	if err = e.sessions.Set(session); err != nil {
		return models.Session{}, fmt.Errorf(`storing session failed - %w`, err)
	}

	if err = e.interactor.Request(ctx, topic, req, models.Type1(keys.PublicKey)); err != nil {
		e.teardown(ctx, session)
		return models.Session{}, fmt.Errorf(`sending settlement failed - %w`, err)
	}

	return session, nil
}

func (e *Engine) UpdateAccounts(ctx context.Context, topic string, accounts models.Set) error {
	if err := models.ValidateAccounts(accounts); err != nil {
		return err
	}

	return e.update(ctx, topic, domain.MethodSessionUpdateAccounts, messages.UpdateAccountsParams{Accounts: accounts}, func(s *models.Session) error {
		s.Accounts = accounts.Clone()
		return nil
	})
}

func (e *Engine) UpdateMethods(ctx context.Context, topic string, methods models.Set) error {
	if err := models.ValidateMethods(methods); err != nil {
		return err
	}

	return e.update(ctx, topic, domain.MethodSessionUpdateMethods, messages.UpdateMethodsParams{Methods: methods}, func(s *models.Session) error {
		s.Methods = methods.Clone()
		return nil
	})
}

func (e *Engine) UpdateEvents(ctx context.Context, topic string, events models.Set) error {
	if err := models.ValidateEvents(events); err != nil {
		return err
	}

	return e.update(ctx, topic, domain.MethodSessionUpdateEvents, messages.UpdateEventsParams{Events: events}, func(s *models.Session) error {
		s.Events = events.Clone()
		return nil
	})
}

// UpdateExpiry moves the expiry to now+ttl, which must extend the current
// expiry without exceeding the session ttl
func (e *Engine) UpdateExpiry(ctx context.Context, topic string, ttl time.Duration) error {
	var params messages.UpdateExpiryParams
	return e.update(ctx, topic, domain.MethodSessionUpdateExpiry, &params, func(s *models.Session) error {
		if err := s.UpdateExpiry(ttl); err != nil {
			return err
		}
		params.Expiry = s.Expiry.Unix()
		return nil
	})
}

// update applies the mutation to a session controlled by this client and
// sends it to the peer
func (e *Engine) update(ctx context.Context, topic, method string, params interface{}, apply func(s *models.Session) error) error {
	e.Lock()
	defer e.Unlock()
	session, err := e.controlledSession(topic)
	if err != nil {
		return err
	}

	if err = apply(&session); err != nil {
		return err
	}

	req, err := messages.NewRequest(method, params)
	if err != nil {
		return err
	}

	if err = e.sessions.Set(session); err != nil {
		return fmt.Errorf(`storing session failed - %w`, err)
	}

	if err = e.interactor.Request(ctx, topic, req, models.Type0()); err != nil {
		return fmt.Errorf(`sending %s failed - %w`, method, err)
	}
	return nil
}

func (e *Engine) controlledSession(topic string) (models.Session, error) {
	session, err := e.sessions.Get(topic)
	if err != nil {
		return models.Session{}, fmt.Errorf(`%w (%s)`, domain.ErrNoSessionMatchingTopic, topic)
	}

	if !session.Acknowledged {
		return models.Session{}, fmt.Errorf(`%w (%s)`, domain.ErrSessionNotAcknowledged, topic)
	}

	if !session.SelfIsController {
		return models.Session{}, fmt.Errorf(`%w (%s)`, domain.ErrUnauthorizedNonControllerCall, topic)
	}
	return session, nil
}

// Delete notifies the peer and tears the session down locally
func (e *Engine) Delete(ctx context.Context, topic string, reason domain.Reason) error {
	e.Lock()
	defer e.Unlock()
	session, err := e.sessions.Get(topic)
	if err != nil {
		return fmt.Errorf(`%w (%s)`, domain.ErrNoSessionMatchingTopic, topic)
	}

	req, err := messages.NewRequest(domain.MethodSessionDelete, messages.DeleteParams{Code: reason.Code, Message: reason.Message})
	if err != nil {
		return err
	}

	if err = e.interactor.Request(ctx, topic, req, models.Type0()); err != nil {
		e.log.Error(`session`, fmt.Sprintf(`notifying session deletion failed - %v`, err))
	}

	e.teardown(ctx, session)
	return nil
}

func (e *Engine) Ping(ctx context.Context, topic string) error {
	if _, err := e.Session(topic); err != nil {
		return err
	}

	req, err := messages.NewRequest(domain.MethodSessionPing, messages.PingParams{})
	if err != nil {
		return err
	}
	return e.interactor.Request(ctx, topic, req, models.Type0())
}

func (e *Engine) Sessions() ([]models.Session, error) {
	e.RLock()
	defer e.RUnlock()
	return e.sessions.All()
}

func (e *Engine) Session(topic string) (models.Session, error) {
	e.RLock()
	defer e.RUnlock()
	session, err := e.sessions.Get(topic)
	if err != nil {
		return models.Session{}, fmt.Errorf(`%w (%s)`, domain.ErrNoSessionMatchingTopic, topic)
	}
	return session, nil
}

// Verify tears down the sessions whose symmetric key is missing from the
// keychain and returns their topics
func (e *Engine) Verify(ctx context.Context) ([]string, error) {
	e.Lock()
	defer e.Unlock()
	sessions, err := e.sessions.All()
	if err != nil {
		return nil, err
	}

	var broken []string
	for _, s := range sessions {
		if _, err = e.kms.SymmetricKey(s.Topic); err == nil {
			continue
		}

		if !errors.Is(err, domain.ErrKeyNotFound) {
			return broken, err
		}

		e.log.Error(`session`, fmt.Sprintf(`symmetric key of session %s is missing, tearing it down`, s.Topic))
		e.teardown(ctx, s)
		reason := domain.ReasonNoSessionForTopic
		e.events.Publish(models.Event{Type: models.EventSessionDelete, Topic: s.Topic, Session: &s, Reason: &reason})
		broken = append(broken, s.Topic)
	}
	return broken, nil
}

func (e *Engine) handleSettle(ctx context.Context, in messages.InboundRequest) {
	var params messages.SettleParams
	if err := in.Request.ParamsAs(&params); err != nil {
		e.log.Error(`session`, err.Error())
		e.respondError(ctx, in, domain.ReasonInvalidRequest)
		return
	}

	keys, err := e.kms.AgreementSecret(in.Topic)
	if err != nil {
		e.log.Error(`session`, fmt.Sprintf(`settlement on unknown topic %s - %v`, in.Topic, err))
		e.respondError(ctx, in, domain.ReasonNoSessionForTopic)
		return
	}

	if err = models.ValidateAccounts(params.Accounts); err != nil {
		e.respondError(ctx, in, domain.ReasonOf(err))
		return
	}

	e.Lock()
	defer e.Unlock()
	if existing, err := e.sessions.Get(in.Topic); err == nil {
		// a settlement never replaces a session, least of all one this client
		// controls and sent the settlement for
		if existing.SelfIsController {
			e.log.Warn(`session`, fmt.Sprintf(`dropping settlement on %s controlled by this client`, in.Topic))
			return
		}

		e.log.Debug(`session`, fmt.Sprintf(`session %s is already settled`, in.Topic))
		if err = e.interactor.RespondSuccess(ctx, in.Topic, in.Request.Method, in.Request.ID); err != nil {
			e.log.Error(`session`, fmt.Sprintf(`acknowledging settlement failed - %v`, err))
		}
		return
	}

	session := models.Session{
		Topic:        in.Topic,
		Relay:        params.Relay,
		Self:         models.Participant{PublicKey: keys.PublicKey.Hex(), Metadata: e.metadata},
		Peer:         params.Controller,
		Expiry:       time.Unix(params.Expiry, 0),
		Acknowledged: true,
		Accounts:     params.Accounts,
		Methods:      params.Methods,
		Events:       params.Events,
		Blockchains:  params.Blockchains,
	}

	if err = e.sessions.Set(session); err != nil {
		e.log.Error(`session`, fmt.Sprintf(`storing session failed - %v`, err))
		return
	}

	if err = e.interactor.RespondSuccess(ctx, in.Topic, in.Request.Method, in.Request.ID); err != nil {
		e.log.Error(`session`, fmt.Sprintf(`acknowledging settlement failed - %v`, err))
	}

	e.events.Publish(models.Event{Type: models.EventSessionSettle, Topic: in.Topic, Session: &session})
}

func (e *Engine) handleSettleResponse(ctx context.Context, in messages.InboundResponse) {
	e.Lock()
	defer e.Unlock()
	session, err := e.sessions.Get(in.Topic)
	if err != nil {
		e.log.Warn(`session`, fmt.Sprintf(`settlement response for unknown session %s`, in.Topic))
		return
	}

	if in.Response.Error != nil {
		reason := in.Response.Error.Reason()
		e.log.Debug(`session`, fmt.Sprintf(`settlement of %s rejected - %v`, in.Topic, reason))
		e.teardown(ctx, session)
		e.events.Publish(models.Event{Type: models.EventSessionRejected, Topic: in.Topic, Reason: &reason})
		return
	}

	session.Acknowledged = true
	if err = e.sessions.Set(session); err != nil {
		e.log.Error(`session`, fmt.Sprintf(`storing session failed - %v`, err))
		return
	}

	e.events.Publish(models.Event{Type: models.EventSessionSettle, Topic: in.Topic, Session: &session})
}

func (e *Engine) handleUpdate(ctx context.Context, in messages.InboundRequest) {
	e.Lock()
	session, err := e.applyUpdate(in)
	e.Unlock()
	if err != nil {
		e.respondError(ctx, in, domain.ReasonOf(err))
		return
	}

	if err = e.interactor.RespondSuccess(ctx, in.Topic, in.Request.Method, in.Request.ID); err != nil {
		e.log.Error(`session`, fmt.Sprintf(`acknowledging %s failed - %v`, in.Request.Method, err))
	}

	e.events.Publish(models.Event{Type: updateEvents[in.Request.Method], Topic: in.Topic, Session: &session})
}

// applyUpdate validates an update sent by the peer and stores the result.
// The returned error maps to the reason sent back to the peer.
func (e *Engine) applyUpdate(in messages.InboundRequest) (models.Session, error) {
	session, err := e.sessions.Get(in.Topic)
	if err != nil {
		return models.Session{}, fmt.Errorf(`%w (%s)`, domain.ErrNoSessionMatchingTopic, in.Topic)
	}

	if !session.PeerIsController() {
		return models.Session{}, domain.ErrUnauthorizedNonControllerCall
	}

	switch in.Request.Method {
	case domain.MethodSessionUpdateAccounts:
		var params messages.UpdateAccountsParams
		if err = in.Request.ParamsAs(&params); err != nil {
			return models.Session{}, domain.ReasonInvalidUpdateAccounts
		}
		if err = models.ValidateAccounts(params.Accounts); err != nil {
			return models.Session{}, err
		}
		session.Accounts = params.Accounts
	case domain.MethodSessionUpdateMethods:
		var params messages.UpdateMethodsParams
		if err = in.Request.ParamsAs(&params); err != nil {
			return models.Session{}, domain.ReasonInvalidUpdateMethods
		}
		if err = models.ValidateMethods(params.Methods); err != nil {
			return models.Session{}, err
		}
		session.Methods = params.Methods
	case domain.MethodSessionUpdateEvents:
		var params messages.UpdateEventsParams
		if err = in.Request.ParamsAs(&params); err != nil {
			return models.Session{}, domain.ReasonInvalidUpdateEvents
		}
		if err = models.ValidateEvents(params.Events); err != nil {
			return models.Session{}, err
		}
		session.Events = params.Events
	case domain.MethodSessionUpdateExpiry:
		var params messages.UpdateExpiryParams
		if err = in.Request.ParamsAs(&params); err != nil {
			return models.Session{}, domain.ReasonInvalidUpdateExpiry
		}
		if err = session.UpdateExpiryDate(time.Unix(params.Expiry, 0)); err != nil {
			return models.Session{}, err
		}
	}

	if err = e.sessions.Set(session); err != nil {
		return models.Session{}, fmt.Errorf(`storing session failed - %w`, err)
	}
	return session, nil
}

func (e *Engine) handleUpdateResponse(_ context.Context, in messages.InboundResponse) {
	event := models.Event{Type: updateEvents[in.Request.Method], Topic: in.Topic}
	if in.Response.Error != nil {
		reason := in.Response.Error.Reason()
		e.log.Warn(`session`, fmt.Sprintf(`peer rejected %s on %s - %v`, in.Request.Method, in.Topic, reason))
		event.Reason = &reason
	} else if session, err := e.Session(in.Topic); err == nil {
		event.Session = &session
	}

	e.events.Publish(event)
}

func (e *Engine) handleDelete(ctx context.Context, in messages.InboundRequest) {
	e.Lock()
	defer e.Unlock()
	session, err := e.sessions.Get(in.Topic)
	if err != nil {
		e.respondError(ctx, in, domain.ReasonNoSessionForTopic)
		return
	}

	var params messages.DeleteParams
	if err = in.Request.ParamsAs(&params); err != nil {
		e.log.Warn(`session`, err.Error())
	}

	if err = e.interactor.RespondSuccess(ctx, in.Topic, in.Request.Method, in.Request.ID); err != nil {
		e.log.Error(`session`, fmt.Sprintf(`acknowledging deletion failed - %v`, err))
	}

	e.teardown(ctx, session)
	reason := domain.Reason{Code: params.Code, Message: params.Message}
	e.events.Publish(models.Event{Type: models.EventSessionDelete, Topic: in.Topic, Session: &session, Reason: &reason})
}

func (e *Engine) handlePing(ctx context.Context, in messages.InboundRequest) {
	e.RLock()
	known := e.sessions.Has(in.Topic)
	e.RUnlock()
	if !known {
		e.respondError(ctx, in, domain.ReasonNoSessionForTopic)
		return
	}

	if err := e.interactor.RespondSuccess(ctx, in.Topic, in.Request.Method, in.Request.ID); err != nil {
		e.log.Error(`session`, fmt.Sprintf(`responding to ping failed - %v`, err))
	}
}

func (e *Engine) handlePingResponse(_ context.Context, in messages.InboundResponse) {
	event := models.Event{Type: models.EventSessionPing, Topic: in.Topic}
	if in.Response.Error != nil {
		reason := in.Response.Error.Reason()
		event.Reason = &reason
	}
	e.events.Publish(event)
}

// teardown unsubscribes from the session topic and purges the session with
// every key bound to it
func (e *Engine) teardown(ctx context.Context, session models.Session) {
	if err := e.interactor.Unsubscribe(ctx, session.Topic); err != nil {
		e.log.Error(`session`, fmt.Sprintf(`unsubscribing from %s failed - %v`, session.Topic, err))
	}

	if err := e.sessions.Delete(session.Topic); err != nil {
		e.log.Error(`session`, err.Error())
	}
	e.purgeKeys(session)
}

func (e *Engine) purgeKeys(session models.Session) {
	if err := e.kms.DeleteSymmetricKey(session.Topic); err != nil {
		e.log.Error(`session`, err.Error())
	}

	if err := e.kms.DeleteAgreementSecret(session.Topic); err != nil {
		e.log.Error(`session`, err.Error())
	}

	selfPub, err := models.AgreementPublicKeyFromHex(session.Self.PublicKey)
	if err != nil {
		return
	}

	if err = e.kms.DeletePrivateKey(selfPub); err != nil {
		e.log.Error(`session`, err.Error())
	}
}

func (e *Engine) respondError(ctx context.Context, in messages.InboundRequest, reason domain.Reason) {
	if err := e.interactor.RespondError(ctx, in.Topic, in.Request.Method, in.Request.ID, reason); err != nil {
		e.log.Error(`session`, fmt.Sprintf(`responding with error failed - %v`, err))
	}
}

// onExpired runs from within store reads and must not take the engine lock
func (e *Engine) onExpired(session models.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	if err := e.interactor.Unsubscribe(ctx, session.Topic); err != nil {
		e.log.Error(`session`, fmt.Sprintf(`unsubscribing from expired session failed - %v`, err))
	}

	e.purgeKeys(session)
	e.events.Publish(models.Event{Type: models.EventSessionExpired, Topic: session.Topic, Session: &session})
}
