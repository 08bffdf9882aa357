package chat

import (
	"context"
	"encoding/hex"
	"fmt"
	"github.com/YasiruR/walletconnect-prober/domain"
	"github.com/YasiruR/walletconnect-prober/domain/messages"
	"github.com/YasiruR/walletconnect-prober/domain/models"
	"github.com/YasiruR/walletconnect-prober/domain/services"
	"github.com/YasiruR/walletconnect-prober/log"
	"github.com/YasiruR/walletconnect-prober/pubsub"
	"github.com/YasiruR/walletconnect-prober/storage"
	"github.com/google/uuid"
)

const (
	prefixRegistrations = `chat-registration:`
	prefixReceived      = `chat-invite:`
	prefixSent          = `chat-sent:`
)

// InviteParams describes an invitation to the owner of an invite key
type InviteParams struct {
	PeerPubKey     string
	PeerAccount    string
	Account        string
	OpeningMessage string
}

type registration struct {
	Account   string `json:"account"`
	PublicKey string `json:"publicKey"`
}

// sentInvite is kept under the response topic until the invitee answers
type sentInvite struct {
	InviteTopic string `json:"inviteTopic"`
	PeerAccount string `json:"peerAccount"`
}

// InviteService establishes chat threads. The invitee publishes an invite
// key whose hash is the invite topic. The inviter seals the invite with the
// agreement of a fresh key and that invite key, and both sides then derive the
// thread key from the inviter's key and the key returned in the response.
type InviteService struct {
	interactor    services.Interactor
	kms           services.KeyManager
	threads       *Threads
	registrations *storage.CodableStore[registration]
	received      *storage.CodableStore[models.Invite]
	sent          *storage.CodableStore[sentInvite]
	events        *pubsub.Broker[models.Event]
	log           *log.Logger
}

func NewInviteService(interactor services.Interactor, kms services.KeyManager, threads *Threads, kv services.KeyValueStorage, events *pubsub.Broker[models.Event], logger *log.Logger) *InviteService {
	s := &InviteService{
		interactor:    interactor,
		kms:           kms,
		threads:       threads,
		registrations: storage.NewCodableStore[registration](kv, prefixRegistrations),
		received:      storage.NewCodableStore[models.Invite](kv, prefixReceived),
		sent:          storage.NewCodableStore[sentInvite](kv, prefixSent),
		events:        events,
		log:           logger,
	}

	interactor.OnRequest(domain.MethodChatInvite, s.handleInvite)
	interactor.OnResponse(domain.MethodChatInvite, s.handleInviteResponse)
	return s
}

// Register creates the invite key for an account and listens on its invite
// topic. The returned public key is what inviters need.
func (s *InviteService) Register(ctx context.Context, account string) (string, error) {
	if !models.ValidAccount(account) {
		return ``, fmt.Errorf(`%w (%s)`, domain.ErrInvalidAccount, account)
	}

	pub, err := s.kms.CreateX25519KeyPair()
	if err != nil {
		return ``, err
	}

	topic := models.TopicOf(pub[:])
	if err = s.kms.SetPublicKey(pub, topic); err != nil {
		return ``, err
	}

	if err = s.registrations.Set(topic, registration{Account: account, PublicKey: pub.Hex()}); err != nil {
		return ``, fmt.Errorf(`storing registration failed - %w`, err)
	}

	if err = s.interactor.Subscribe(ctx, topic); err != nil {
		return ``, fmt.Errorf(`subscribing to invite topic failed - %w`, err)
	}

	s.log.Debug(`chat`, fmt.Sprintf(`registered %s on invite topic %s`, account, topic))
	return pub.Hex(), nil
}

// Invite sends a type-1 invitation on the invite topic of the peer key and
// waits for the answer on the response topic
func (s *InviteService) Invite(ctx context.Context, params InviteParams) error {
	peerPub, err := hex.DecodeString(params.PeerPubKey)
	if err != nil || len(peerPub) != models.KeySize {
		return fmt.Errorf(`%w (%s)`, domain.ErrInvalidPublicKey, params.PeerPubKey)
	}

	selfPub, err := s.kms.CreateX25519KeyPair()
	if err != nil {
		return err
	}

	symKeyI, err := s.kms.PerformKeyAgreement(selfPub, params.PeerPubKey)
	if err != nil {
		return err
	}

	inviteTopic := models.TopicOf(peerPub)
	responseTopic := symKeyI.DerivedTopic()
	if err = s.kms.SetSymmetricKey(symKeyI.SharedKey, inviteTopic); err != nil {
		return err
	}

	if err = s.kms.SetSymmetricKey(symKeyI.SharedKey, responseTopic); err != nil {
		return err
	}

	if err = s.sent.Set(responseTopic, sentInvite{InviteTopic: inviteTopic, PeerAccount: params.PeerAccount}); err != nil {
		return fmt.Errorf(`storing invite failed - %w`, err)
	}

	if err = s.interactor.Subscribe(ctx, responseTopic); err != nil {
		return fmt.Errorf(`subscribing to response topic failed - %w`, err)
	}

	req, err := messages.NewRequest(domain.MethodChatInvite, messages.ChatInviteParams{
		Message:   params.OpeningMessage,
		Account:   params.Account,
		PublicKey: selfPub.Hex(),
	})
	if err != nil {
		return err
	}

	if err = s.interactor.Request(ctx, inviteTopic, req, models.Type1(selfPub)); err != nil {
		return fmt.Errorf(`sending invite failed - %w`, err)
	}

	s.log.Debug(`chat`, fmt.Sprintf(`invite sent on topic %s`, inviteTopic))
	return nil
}

// RegisteredTopics lists the invite topics of the registered invite keys
func (s *InviteService) RegisteredTopics() ([]string, error) {
	all, err := s.registrations.All()
	if err != nil {
		return nil, err
	}

	topics := make([]string, 0, len(all))
	for topic := range all {
		topics = append(topics, topic)
	}
	return topics, nil
}

// Invites lists the received invites waiting for a decision
func (s *InviteService) Invites() ([]models.Invite, error) {
	all, err := s.received.All()
	if err != nil {
		return nil, err
	}

	invites := make([]models.Invite, 0, len(all))
	for _, inv := range all {
		invites = append(invites, inv)
	}
	return invites, nil
}

// Accept answers the invite with a fresh thread key and joins the thread
func (s *InviteService) Accept(ctx context.Context, inviteID string) (string, error) {
	invite, responseTopic, err := s.pending(inviteID)
	if err != nil {
		return ``, err
	}

	threadPub, err := s.kms.CreateX25519KeyPair()
	if err != nil {
		return ``, err
	}

	threadKeys, err := s.kms.PerformKeyAgreement(threadPub, invite.InviterPubKey)
	if err != nil {
		return ``, err
	}

	threadTopic := threadKeys.DerivedTopic()
	if err = s.kms.SetSymmetricKey(threadKeys.SharedKey, threadTopic); err != nil {
		return ``, err
	}

	if err = s.interactor.Subscribe(ctx, threadTopic); err != nil {
		return ``, fmt.Errorf(`subscribing to thread topic failed - %w`, err)
	}

	res, err := messages.NewResult(invite.RequestID, messages.ChatInviteResponse{PublicKey: threadPub.Hex()})
	if err != nil {
		return ``, err
	}

	if err = s.interactor.Respond(ctx, responseTopic, domain.MethodChatInvite, res, models.Type0()); err != nil {
		return ``, fmt.Errorf(`responding to invite failed - %w`, err)
	}

	reg, err := s.registrations.Get(invite.Topic)
	if err != nil {
		return ``, fmt.Errorf(`%w (%s)`, domain.ErrNotRegistered, invite.Topic)
	}

	thread := models.Thread{Topic: threadTopic, SelfAccount: reg.Account, PeerAccount: invite.Account}
	if err = s.threads.Set(thread); err != nil {
		return ``, fmt.Errorf(`storing thread failed - %w`, err)
	}

	s.forget(invite, responseTopic)
	if err = s.kms.DeletePrivateKey(threadPub); err != nil {
		s.log.Error(`chat`, err.Error())
	}

	s.events.Publish(models.Event{Type: models.EventChatThread, Topic: threadTopic, Thread: &thread})
	return threadTopic, nil
}

func (s *InviteService) Reject(ctx context.Context, inviteID string) error {
	invite, responseTopic, err := s.pending(inviteID)
	if err != nil {
		return err
	}

	if err = s.interactor.RespondError(ctx, responseTopic, domain.MethodChatInvite, invite.RequestID, domain.ReasonUserRejected); err != nil {
		return fmt.Errorf(`rejecting invite failed - %w`, err)
	}

	s.forget(invite, responseTopic)
	return nil
}

// pending loads a received invite and prepares the key of its response topic
func (s *InviteService) pending(inviteID string) (models.Invite, string, error) {
	invite, err := s.received.Get(inviteID)
	if err != nil {
		return models.Invite{}, ``, fmt.Errorf(`%w (%s)`, domain.ErrInviteNotFound, inviteID)
	}

	selfPub, err := s.kms.PublicKey(invite.Topic)
	if err != nil {
		return models.Invite{}, ``, fmt.Errorf(`%w - %v`, domain.ErrNotRegistered, err)
	}

	symKeyI, err := s.kms.PerformKeyAgreement(selfPub, invite.InviterPubKey)
	if err != nil {
		return models.Invite{}, ``, err
	}

	responseTopic := symKeyI.DerivedTopic()
	if err = s.kms.SetSymmetricKey(symKeyI.SharedKey, responseTopic); err != nil {
		return models.Invite{}, ``, err
	}
	return invite, responseTopic, nil
}

func (s *InviteService) forget(invite models.Invite, responseTopic string) {
	if err := s.kms.DeleteSymmetricKey(responseTopic); err != nil {
		s.log.Error(`chat`, err.Error())
	}

	if err := s.received.Delete(invite.ID); err != nil {
		s.log.Error(`chat`, err.Error())
	}
}

func (s *InviteService) handleInvite(ctx context.Context, in messages.InboundRequest) {
	var params messages.ChatInviteParams
	if err := in.Request.ParamsAs(&params); err != nil {
		s.log.Error(`chat`, err.Error())
		if err = s.interactor.RespondError(ctx, in.Topic, in.Request.Method, in.Request.ID, domain.ReasonInvalidRequest); err != nil {
			s.log.Error(`chat`, err.Error())
		}
		return
	}

	invite := models.Invite{
		ID:             uuid.New().String(),
		Topic:          in.Topic,
		Account:        params.Account,
		OpeningMessage: params.Message,
		InviterPubKey:  params.PublicKey,
		RequestID:      in.Request.ID,
	}

	if err := s.received.Set(invite.ID, invite); err != nil {
		s.log.Error(`chat`, fmt.Sprintf(`storing invite failed - %v`, err))
		return
	}

	s.events.Publish(models.Event{Type: models.EventChatInvite, Topic: in.Topic, Invite: &invite})
}

func (s *InviteService) handleInviteResponse(ctx context.Context, in messages.InboundResponse) {
	var params messages.ChatInviteParams
	if err := in.Request.ParamsAs(&params); err != nil {
		s.log.Error(`chat`, err.Error())
		return
	}

	selfPub, err := models.AgreementPublicKeyFromHex(params.PublicKey)
	if err != nil {
		s.log.Error(`chat`, err.Error())
		return
	}

	sent, err := s.sent.Get(in.Topic)
	if err != nil {
		s.log.Warn(`chat`, fmt.Sprintf(`invite response on unknown topic %s`, in.Topic))
		return
	}

	if in.Response.Error != nil {
		reason := in.Response.Error.Reason()
		s.log.Debug(`chat`, fmt.Sprintf(`invite has been rejected - %v`, reason))
		s.purgeInvite(ctx, in.Topic, sent, selfPub)
		s.events.Publish(models.Event{Type: models.EventChatRejected, Topic: in.Topic, Reason: &reason})
		return
	}

	var res messages.ChatInviteResponse
	if err = in.Response.ResultAs(&res); err != nil {
		s.log.Error(`chat`, err.Error())
		return
	}

	thread, err := s.createThread(ctx, selfPub, res.PublicKey, params.Account, sent.PeerAccount)
	if err != nil {
		s.log.Error(`chat`, fmt.Sprintf(`creating thread failed - %v`, err))
		return
	}

	s.purgeInvite(ctx, in.Topic, sent, selfPub)
	s.events.Publish(models.Event{Type: models.EventChatThread, Topic: thread.Topic, Thread: &thread})
}

func (s *InviteService) createThread(ctx context.Context, selfPub models.AgreementPublicKey, peerPub, selfAccount, peerAccount string) (models.Thread, error) {
	keys, err := s.kms.PerformKeyAgreement(selfPub, peerPub)
	if err != nil {
		return models.Thread{}, err
	}

	thread := models.Thread{Topic: keys.DerivedTopic(), SelfAccount: selfAccount, PeerAccount: peerAccount}
	if err = s.kms.SetSymmetricKey(keys.SharedKey, thread.Topic); err != nil {
		return models.Thread{}, err
	}

	if err = s.interactor.Subscribe(ctx, thread.Topic); err != nil {
		return models.Thread{}, err
	}

	if err = s.threads.Set(thread); err != nil {
		return models.Thread{}, err
	}
	return thread, nil
}

// purgeInvite drops the inviter symmetric key from both the invite and the
// response topics together with the key the invite was sealed with
func (s *InviteService) purgeInvite(ctx context.Context, responseTopic string, sent sentInvite, selfPub models.AgreementPublicKey) {
	if err := s.interactor.Unsubscribe(ctx, responseTopic); err != nil {
		s.log.Error(`chat`, fmt.Sprintf(`unsubscribing from response topic failed - %v`, err))
	}

	for _, topic := range []string{sent.InviteTopic, responseTopic} {
		if err := s.kms.DeleteSymmetricKey(topic); err != nil {
			s.log.Error(`chat`, err.Error())
		}
	}

	if err := s.kms.DeletePrivateKey(selfPub); err != nil {
		s.log.Error(`chat`, err.Error())
	}

	if err := s.sent.Delete(responseTopic); err != nil {
		s.log.Error(`chat`, err.Error())
	}
}
