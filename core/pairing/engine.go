package pairing

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"github.com/YasiruR/walletconnect-prober/domain"
	"github.com/YasiruR/walletconnect-prober/domain/messages"
	"github.com/YasiruR/walletconnect-prober/domain/models"
	"github.com/YasiruR/walletconnect-prober/domain/services"
	"github.com/YasiruR/walletconnect-prober/log"
	"github.com/YasiruR/walletconnect-prober/pubsub"
	"github.com/YasiruR/walletconnect-prober/storage"
	"io"
	"sync"
	"time"
)

const (
	prefixPairings  = `pairing:`
	prefixProposals = `proposal:`
	teardownTimeout = 10 * time.Second
)

// ProposeResponseHandler is invoked with the session topic derived from an
// accepted proposal
type ProposeResponseHandler func(ctx context.Context, sessionTopic string) error

// Engine owns the pairings of a client. A pairing carries session proposals
// and their responses between two peers sharing the symmetric key from a URI.
type Engine struct {
	interactor services.Interactor
	kms        services.KeyManager
	pairings   *storage.SequenceStore[models.Pairing]
	// pending proposals keyed by the proposer public key
	proposals *storage.CodableStore[messages.InboundRequest]
	metadata  models.AppMetadata
	events    *pubsub.Broker[models.Event]
	log       *log.Logger

	handlerMu         *sync.RWMutex
	onProposeResponse ProposeResponseHandler
}

func NewEngine(interactor services.Interactor, kms services.KeyManager, kv services.KeyValueStorage, metadata models.AppMetadata, events *pubsub.Broker[models.Event], logger *log.Logger) *Engine {
	e := &Engine{
		interactor: interactor,
		kms:        kms,
		pairings:   storage.NewSequenceStore[models.Pairing](kv, prefixPairings),
		proposals:  storage.NewCodableStore[messages.InboundRequest](kv, prefixProposals),
		metadata:   metadata,
		events:     events,
		log:        logger,
		handlerMu:  &sync.RWMutex{},
	}

	e.pairings.OnExpiration(e.onExpired)
	interactor.OnRequest(domain.MethodSessionPropose, e.handlePropose)
	interactor.OnResponse(domain.MethodSessionPropose, e.handleProposeResponse)
	interactor.OnRequest(domain.MethodPairingPing, e.handlePing)
	interactor.OnResponse(domain.MethodPairingPing, e.handlePingResponse)
	return e
}

// OnProposeResponse registers the handler which takes over the session topic
// once a proposal sent by this client is accepted
func (e *Engine) OnProposeResponse(h ProposeResponseHandler) {
	e.handlerMu.Lock()
	defer e.handlerMu.Unlock()
	e.onProposeResponse = h
}

// Create starts an inactive pairing on a random topic and returns the URI
// to be shared with the peer
func (e *Engine) Create(ctx context.Context) (models.URI, error) {
	topicBytes := make([]byte, models.KeySize)
	if _, err := io.ReadFull(rand.Reader, topicBytes); err != nil {
		return models.URI{}, fmt.Errorf(`generating topic failed - %w`, err)
	}
	topic := hex.EncodeToString(topicBytes)

	var symKey models.SymmetricKey
	if _, err := io.ReadFull(rand.Reader, symKey[:]); err != nil {
		return models.URI{}, fmt.Errorf(`generating symmetric key failed - %w`, err)
	}

	if err := e.kms.SetSymmetricKey(symKey, topic); err != nil {
		return models.URI{}, err
	}

	if err := e.interactor.Subscribe(ctx, topic); err != nil {
		_ = e.kms.DeleteSymmetricKey(topic)
		return models.URI{}, fmt.Errorf(`subscribing to pairing topic failed - %w`, err)
	}

	pairing := models.NewPairing(topic, models.DefaultRelay())
	if err := e.pairings.Set(pairing); err != nil {
		return models.URI{}, fmt.Errorf(`storing pairing failed - %w`, err)
	}

	e.log.Debug(`pairing`, fmt.Sprintf(`created pairing %s`, topic))
	return models.NewURI(topic, symKey, pairing.Relay), nil
}

// Pair joins the pairing described by a URI received out of band
func (e *Engine) Pair(ctx context.Context, uri models.URI) error {
	if e.pairings.Has(uri.Topic) {
		return fmt.Errorf(`%w (%s)`, domain.ErrPairingAlreadyExist, uri.Topic)
	}

	symKey, err := uri.SymmetricKey()
	if err != nil {
		return fmt.Errorf(`%w - %v`, domain.ErrMalformedURI, err)
	}

	if err = e.kms.SetSymmetricKey(symKey, uri.Topic); err != nil {
		return err
	}

	if err = e.interactor.Subscribe(ctx, uri.Topic); err != nil {
		_ = e.kms.DeleteSymmetricKey(uri.Topic)
		return fmt.Errorf(`subscribing to pairing topic failed - %w`, err)
	}

	if err = e.pairings.Set(models.PairingFromURI(uri)); err != nil {
		return fmt.Errorf(`storing pairing failed - %w`, err)
	}

	e.log.Debug(`pairing`, fmt.Sprintf(`paired with %s`, uri.Topic))
	return nil
}

// Propose sends a session proposal on the pairing topic. A fresh agreement
// key pair is created for every proposal.
func (e *Engine) Propose(ctx context.Context, topic string, permissions models.SessionPermissions, blockchains models.Set, relay models.RelayProtocolOptions) error {
	if !e.pairings.Has(topic) {
		return fmt.Errorf(`%w (%s)`, domain.ErrNoPairingMatchingTopic, topic)
	}

	pub, err := e.kms.CreateX25519KeyPair()
	if err != nil {
		return err
	}

	proposal := models.SessionProposal{
		Relay:       relay,
		Proposer:    models.Participant{PublicKey: pub.Hex(), Metadata: e.metadata},
		Permissions: permissions,
		Blockchains: blockchains,
	}

	req, err := messages.NewRequest(domain.MethodSessionPropose, proposal)
	if err != nil {
		_ = e.kms.DeletePrivateKey(pub)
		return err
	}

	if err = e.interactor.Request(ctx, topic, req, models.Type0()); err != nil {
		_ = e.kms.DeletePrivateKey(pub)
		return fmt.Errorf(`sending session proposal failed - %w`, err)
	}

	return nil
}

// RespondSessionPropose accepts a pending proposal and returns the session
// topic derived from the key agreement with the proposer
func (e *Engine) RespondSessionPropose(ctx context.Context, proposal models.SessionProposal) (string, error) {
	pending, err := e.proposals.Get(proposal.Proposer.PublicKey)
	if err != nil {
		return ``, fmt.Errorf(`%w (%s)`, domain.ErrProposalNotFound, proposal.Proposer.PublicKey)
	}

	selfPub, err := e.kms.CreateX25519KeyPair()
	if err != nil {
		return ``, err
	}

	keys, err := e.kms.PerformKeyAgreement(selfPub, proposal.Proposer.PublicKey)
	if err != nil {
		_ = e.kms.DeletePrivateKey(selfPub)
		return ``, err
	}

	sessionTopic := keys.DerivedTopic()
	if err = e.kms.SetSymmetricKey(keys.SharedKey, sessionTopic); err != nil {
		return ``, err
	}

	if err = e.kms.SetAgreementSecret(keys, sessionTopic); err != nil {
		return ``, err
	}

	res, err := messages.NewResult(pending.Request.ID, messages.ProposeResponse{Relay: proposal.Relay, ResponderPublicKey: selfPub.Hex()})
	if err != nil {
		return ``, err
	}

	if err = e.interactor.Respond(ctx, pending.Topic, domain.MethodSessionPropose, res, models.Type0()); err != nil {
		return ``, fmt.Errorf(`responding to session proposal failed - %w`, err)
	}

	e.activate(pending.Topic)
	if err = e.proposals.Delete(proposal.Proposer.PublicKey); err != nil {
		e.log.Error(`pairing`, fmt.Sprintf(`deleting proposal failed - %v`, err))
	}

	return sessionTopic, nil
}

// RejectSessionPropose answers a pending proposal with the given reason
func (e *Engine) RejectSessionPropose(ctx context.Context, proposal models.SessionProposal, reason domain.Reason) error {
	pending, err := e.proposals.Get(proposal.Proposer.PublicKey)
	if err != nil {
		return fmt.Errorf(`%w (%s)`, domain.ErrProposalNotFound, proposal.Proposer.PublicKey)
	}

	if err = e.interactor.RespondError(ctx, pending.Topic, domain.MethodSessionPropose, pending.Request.ID, reason); err != nil {
		return fmt.Errorf(`rejecting session proposal failed - %w`, err)
	}

	return e.proposals.Delete(proposal.Proposer.PublicKey)
}

func (e *Engine) Pairings() ([]models.Pairing, error) {
	return e.pairings.All()
}

func (e *Engine) Pairing(topic string) (models.Pairing, error) {
	p, err := e.pairings.Get(topic)
	if err != nil {
		return models.Pairing{}, fmt.Errorf(`%w (%s)`, domain.ErrNoPairingMatchingTopic, topic)
	}
	return p, nil
}

func (e *Engine) Ping(ctx context.Context, topic string) error {
	if !e.pairings.Has(topic) {
		return fmt.Errorf(`%w (%s)`, domain.ErrNoPairingMatchingTopic, topic)
	}

	req, err := messages.NewRequest(domain.MethodPairingPing, messages.PingParams{})
	if err != nil {
		return err
	}
	return e.interactor.Request(ctx, topic, req, models.Type0())
}

// Verify tears down the pairings whose symmetric key is missing from the
// keychain and returns their topics
func (e *Engine) Verify(ctx context.Context) ([]string, error) {
	pairings, err := e.pairings.All()
	if err != nil {
		return nil, err
	}

	var broken []string
	for _, p := range pairings {
		if _, err = e.kms.SymmetricKey(p.Topic); err == nil {
			continue
		}

		if !errors.Is(err, domain.ErrKeyNotFound) {
			return broken, err
		}

		e.log.Error(`pairing`, fmt.Sprintf(`symmetric key of pairing %s is missing, tearing it down`, p.Topic))
		if err = e.interactor.Unsubscribe(ctx, p.Topic); err != nil {
			e.log.Error(`pairing`, fmt.Sprintf(`unsubscribing from %s failed - %v`, p.Topic, err))
		}
		if err = e.pairings.Delete(p.Topic); err != nil {
			return broken, err
		}
		broken = append(broken, p.Topic)
	}
	return broken, nil
}

func (e *Engine) handlePropose(ctx context.Context, in messages.InboundRequest) {
	var proposal models.SessionProposal
	if err := in.Request.ParamsAs(&proposal); err != nil {
		e.log.Error(`pairing`, err.Error())
		e.respondError(ctx, in, domain.ReasonInvalidRequest)
		return
	}

	if !e.pairings.Has(in.Topic) {
		e.respondError(ctx, in, domain.ReasonNoPairingForTopic)
		return
	}

	if err := e.proposals.Set(proposal.Proposer.PublicKey, in); err != nil {
		e.log.Error(`pairing`, fmt.Sprintf(`storing proposal failed - %v`, err))
		return
	}

	e.events.Publish(models.Event{Type: models.EventSessionProposal, Topic: in.Topic, Proposal: &proposal})
}

func (e *Engine) handleProposeResponse(ctx context.Context, in messages.InboundResponse) {
	var proposal models.SessionProposal
	if err := in.Request.ParamsAs(&proposal); err != nil {
		e.log.Error(`pairing`, err.Error())
		return
	}

	selfPub, err := models.AgreementPublicKeyFromHex(proposal.Proposer.PublicKey)
	if err != nil {
		e.log.Error(`pairing`, err.Error())
		return
	}
	defer func() {
		if err := e.kms.DeletePrivateKey(selfPub); err != nil {
			e.log.Error(`pairing`, fmt.Sprintf(`deleting proposal key failed - %v`, err))
		}
	}()

	if in.Response.Error != nil {
		e.handleProposeRejection(ctx, in.Topic, in.Response.Error.Reason())
		return
	}

	var res messages.ProposeResponse
	if err = in.Response.ResultAs(&res); err != nil {
		e.log.Error(`pairing`, err.Error())
		return
	}

	keys, err := e.kms.PerformKeyAgreement(selfPub, res.ResponderPublicKey)
	if err != nil {
		e.log.Error(`pairing`, fmt.Sprintf(`key agreement with responder failed - %v`, err))
		return
	}

	sessionTopic := keys.DerivedTopic()
	if err = e.kms.SetSymmetricKey(keys.SharedKey, sessionTopic); err != nil {
		e.log.Error(`pairing`, err.Error())
		return
	}

	if err = e.kms.SetAgreementSecret(keys, sessionTopic); err != nil {
		e.log.Error(`pairing`, err.Error())
		return
	}

	e.activate(in.Topic)
	e.events.Publish(models.Event{Type: models.EventProposeResponse, Topic: sessionTopic})

	e.handlerMu.RLock()
	h := e.onProposeResponse
	e.handlerMu.RUnlock()
	if h == nil {
		return
	}

	if err = h(ctx, sessionTopic); err != nil {
		e.log.Error(`pairing`, fmt.Sprintf(`handing over session topic %s failed - %v`, sessionTopic, err))
	}
}

// handleProposeRejection drops a pairing which only existed to carry the
// rejected proposal
func (e *Engine) handleProposeRejection(ctx context.Context, topic string, reason domain.Reason) {
	e.log.Debug(`pairing`, fmt.Sprintf(`session proposal on %s rejected - %v`, topic, reason))
	pairing, err := e.pairings.Get(topic)
	if err == nil && !pairing.IsActive {
		if err = e.interactor.Unsubscribe(ctx, topic); err != nil {
			e.log.Error(`pairing`, fmt.Sprintf(`unsubscribing from %s failed - %v`, topic, err))
		}
		if err = e.kms.DeleteSymmetricKey(topic); err != nil {
			e.log.Error(`pairing`, err.Error())
		}
		if err = e.pairings.Delete(topic); err != nil {
			e.log.Error(`pairing`, err.Error())
		}
	}

	e.events.Publish(models.Event{Type: models.EventSessionRejected, Topic: topic, Reason: &reason})
}

func (e *Engine) handlePing(ctx context.Context, in messages.InboundRequest) {
	if !e.pairings.Has(in.Topic) {
		e.respondError(ctx, in, domain.ReasonNoPairingForTopic)
		return
	}

	if err := e.interactor.RespondSuccess(ctx, in.Topic, in.Request.Method, in.Request.ID); err != nil {
		e.log.Error(`pairing`, fmt.Sprintf(`responding to ping failed - %v`, err))
	}
}

func (e *Engine) handlePingResponse(_ context.Context, in messages.InboundResponse) {
	event := models.Event{Type: models.EventPairingPing, Topic: in.Topic}
	if in.Response.Error != nil {
		reason := in.Response.Error.Reason()
		event.Reason = &reason
	}
	e.events.Publish(event)
}

func (e *Engine) activate(topic string) {
	pairing, err := e.pairings.Get(topic)
	if err != nil {
		if !errors.Is(err, domain.ErrRecordNotFound) {
			e.log.Error(`pairing`, err.Error())
		}
		return
	}

	if pairing.IsActive {
		return
	}

	pairing.Activate()
	if err = e.pairings.Set(pairing); err != nil {
		e.log.Error(`pairing`, fmt.Sprintf(`storing activated pairing failed - %v`, err))
	}
}

func (e *Engine) respondError(ctx context.Context, in messages.InboundRequest, reason domain.Reason) {
	if err := e.interactor.RespondError(ctx, in.Topic, in.Request.Method, in.Request.ID, reason); err != nil {
		e.log.Error(`pairing`, fmt.Sprintf(`responding with error failed - %v`, err))
	}
}

// onExpired runs from within store reads and must not block on the engine
func (e *Engine) onExpired(pairing models.Pairing) {
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	if err := e.interactor.Unsubscribe(ctx, pairing.Topic); err != nil {
		e.log.Error(`pairing`, fmt.Sprintf(`unsubscribing from expired pairing failed - %v`, err))
	}

	if err := e.kms.DeleteSymmetricKey(pairing.Topic); err != nil {
		e.log.Error(`pairing`, err.Error())
	}

	e.events.Publish(models.Event{Type: models.EventPairingExpired, Topic: pairing.Topic, Pairing: &pairing})
}
