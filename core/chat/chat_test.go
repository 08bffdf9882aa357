package chat

import (
	"context"
	"testing"
	"time"

	"github.com/YasiruR/walletconnect-prober/crypto"
	"github.com/YasiruR/walletconnect-prober/domain"
	"github.com/YasiruR/walletconnect-prober/domain/models"
	"github.com/YasiruR/walletconnect-prober/log"
	"github.com/YasiruR/walletconnect-prober/networking"
	"github.com/YasiruR/walletconnect-prober/pubsub"
	"github.com/YasiruR/walletconnect-prober/relay"
	"github.com/YasiruR/walletconnect-prober/relay/relaytest"
	"github.com/YasiruR/walletconnect-prober/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	aliceAccount = `eip155:1:0xa11ce`
	bobAccount   = `eip155:1:0xb0b`
)

type member struct {
	peer      *relaytest.Peer
	kms       *crypto.KeyManager
	invites   *InviteService
	messaging *MessagingService
	events    <-chan models.Event
}

func newMember(t *testing.T, bus *relaytest.Bus) *member {
	peer := bus.Peer()
	kms := crypto.NewKeyManager(storage.NewMemory())
	kv := storage.NewMemory()
	logger := log.NewLogger(log.LevelOff)
	interactor := networking.NewInteractor(peer, crypto.NewCodec(), kms, relay.NewHistory(kv, `rpc:`), logger)
	t.Cleanup(func() {
		interactor.Close()
		_ = peer.Close()
	})

	broker := pubsub.NewBroker[models.Event]()
	events, cancel := broker.Subscribe()
	t.Cleanup(cancel)

	threads := NewThreads(kv)
	return &member{
		peer:      peer,
		kms:       kms,
		invites:   NewInviteService(interactor, kms, threads, kv, broker, logger),
		messaging: NewMessagingService(interactor, threads, broker, logger),
		events:    events,
	}
}

func (m *member) next(t *testing.T, typ models.EventType) models.Event {
	for {
		select {
		case ev := <-m.events:
			if ev.Type == typ {
				return ev
			}
		case <-time.After(2 * time.Second):
			t.Fatalf(`no %s event`, typ)
		}
	}
}

// invite registers bob and sends him an invite from alice
func invite(t *testing.T, alice, bob *member) (models.Invite, string) {
	ctx := context.Background()
	bobKey, err := bob.invites.Register(ctx, bobAccount)
	require.NoError(t, err)

	require.NoError(t, alice.invites.Invite(ctx, InviteParams{
		PeerPubKey:     bobKey,
		PeerAccount:    bobAccount,
		Account:        aliceAccount,
		OpeningMessage: `hello bob`,
	}))

	ev := bob.next(t, models.EventChatInvite)
	require.NotNil(t, ev.Invite)
	return *ev.Invite, bobKey
}

func TestInviteAcceptAndMessage(t *testing.T) {
	bus := relaytest.NewBus()
	alice, bob := newMember(t, bus), newMember(t, bus)
	ctx := context.Background()

	inv, bobKey := invite(t, alice, bob)
	assert.Equal(t, `hello bob`, inv.OpeningMessage)
	assert.Equal(t, aliceAccount, inv.Account)

	pending, err := bob.invites.Invites()
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	threadTopic, err := bob.invites.Accept(ctx, inv.ID)
	require.NoError(t, err)

	ev := alice.next(t, models.EventChatThread)
	require.NotNil(t, ev.Thread)
	assert.Equal(t, threadTopic, ev.Thread.Topic)
	assert.Equal(t, bobAccount, ev.Thread.PeerAccount)

	// the inviter symmetric key is gone from both the invite and response topics
	bobPub, err := models.AgreementPublicKeyFromHex(bobKey)
	require.NoError(t, err)
	_, err = alice.kms.SymmetricKey(models.TopicOf(bobPub[:]))
	assert.ErrorIs(t, err, domain.ErrKeyNotFound)

	responses := bob.peer.Published()
	require.Len(t, responses, 1)
	responseTopic := responses[0].Topic
	_, err = alice.kms.SymmetricKey(responseTopic)
	assert.ErrorIs(t, err, domain.ErrKeyNotFound)
	assert.False(t, alice.peer.Subscribed(responseTopic))
	assert.True(t, alice.peer.Subscribed(threadTopic))

	pending, err = bob.invites.Invites()
	require.NoError(t, err)
	assert.Empty(t, pending)

	require.NoError(t, alice.messaging.Send(ctx, threadTopic, `hi`))
	msg := bob.next(t, models.EventChatMessage)
	require.NotNil(t, msg.Message)
	assert.Equal(t, `hi`, msg.Message.Message)
	assert.Equal(t, aliceAccount, msg.Message.Author)

	require.NoError(t, bob.messaging.Send(ctx, threadTopic, `hey`))
	msg = alice.next(t, models.EventChatMessage)
	assert.Equal(t, bobAccount, msg.Message.Author)
}

func TestInviteRejected(t *testing.T) {
	bus := relaytest.NewBus()
	alice, bob := newMember(t, bus), newMember(t, bus)

	inv, bobKey := invite(t, alice, bob)
	require.NoError(t, bob.invites.Reject(context.Background(), inv.ID))

	ev := alice.next(t, models.EventChatRejected)
	require.NotNil(t, ev.Reason)
	assert.Equal(t, domain.ReasonUserRejected.Code, ev.Reason.Code)

	bobPub, err := models.AgreementPublicKeyFromHex(bobKey)
	require.NoError(t, err)
	_, err = alice.kms.SymmetricKey(models.TopicOf(bobPub[:]))
	assert.ErrorIs(t, err, domain.ErrKeyNotFound)
	_, err = alice.kms.SymmetricKey(ev.Topic)
	assert.ErrorIs(t, err, domain.ErrKeyNotFound)

	assert.ErrorIs(t, bob.invites.Reject(context.Background(), inv.ID), domain.ErrInviteNotFound)
}

func TestRegisterRejectsInvalidAccount(t *testing.T) {
	m := newMember(t, relaytest.NewBus())
	_, err := m.invites.Register(context.Background(), `nobody`)
	assert.ErrorIs(t, err, domain.ErrInvalidAccount)
}

func TestInviteRejectsInvalidKey(t *testing.T) {
	m := newMember(t, relaytest.NewBus())
	err := m.invites.Invite(context.Background(), InviteParams{PeerPubKey: `abcd`, Account: aliceAccount})
	assert.ErrorIs(t, err, domain.ErrInvalidPublicKey)
}

func TestSendWithoutThread(t *testing.T) {
	m := newMember(t, relaytest.NewBus())
	assert.ErrorIs(t, m.messaging.Send(context.Background(), `unknown`, `hi`), domain.ErrThreadNotFound)
}
