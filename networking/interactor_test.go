package networking

import (
	"context"
	"testing"
	"time"

	"github.com/YasiruR/walletconnect-prober/crypto"
	"github.com/YasiruR/walletconnect-prober/domain"
	"github.com/YasiruR/walletconnect-prober/domain/messages"
	"github.com/YasiruR/walletconnect-prober/domain/models"
	"github.com/YasiruR/walletconnect-prober/log"
	"github.com/YasiruR/walletconnect-prober/relay"
	"github.com/YasiruR/walletconnect-prober/relay/relaytest"
	"github.com/YasiruR/walletconnect-prober/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type node struct {
	peer *relaytest.Peer
	kms  *crypto.KeyManager
	*Interactor
}

func newNode(t *testing.T, bus *relaytest.Bus) *node {
	peer := bus.Peer()
	kms := crypto.NewKeyManager(storage.NewMemory())
	i := NewInteractor(peer, crypto.NewCodec(), kms, relay.NewHistory(storage.NewMemory(), `rpc:`), log.NewLogger(log.LevelOff))
	t.Cleanup(func() {
		i.Close()
		_ = peer.Close()
	})
	return &node{peer: peer, kms: kms, Interactor: i}
}

func sharedTopic(t *testing.T, nodes ...*node) string {
	key := models.SymmetricKey{7, 7, 7}
	topic := key.DerivedTopic()
	for _, n := range nodes {
		require.NoError(t, n.kms.SetSymmetricKey(key, topic))
		require.NoError(t, n.Subscribe(context.Background(), topic))
	}
	return topic
}

func TestRequestAndResponseRouting(t *testing.T) {
	bus := relaytest.NewBus()
	alice, bob := newNode(t, bus), newNode(t, bus)
	topic := sharedTopic(t, alice, bob)

	requests := make(chan messages.InboundRequest, 1)
	bob.OnRequest(domain.MethodSessionPing, func(ctx context.Context, req messages.InboundRequest) {
		requests <- req
		assert.NoError(t, bob.RespondSuccess(ctx, req.Topic, req.Request.Method, req.Request.ID))
	})

	responses := make(chan messages.InboundResponse, 1)
	alice.OnResponse(domain.MethodSessionPing, func(_ context.Context, res messages.InboundResponse) {
		responses <- res
	})

	req, err := messages.NewRequest(domain.MethodSessionPing, messages.PingParams{})
	require.NoError(t, err)
	require.NoError(t, alice.Request(context.Background(), topic, req, models.Type0()))

	select {
	case in := <-requests:
		assert.Equal(t, topic, in.Topic)
		assert.Equal(t, req.ID, in.Request.ID)
	case <-time.After(time.Second):
		t.Fatal(`request was not delivered`)
	}

	select {
	case in := <-responses:
		assert.Equal(t, domain.MethodSessionPing, in.Request.Method)
		assert.Nil(t, in.Response.Error)
		assert.Equal(t, `true`, string(in.Response.Result))
	case <-time.After(time.Second):
		t.Fatal(`response was not delivered`)
	}

	published := alice.peer.Published()
	require.Len(t, published, 1)
	assert.Equal(t, domain.TagSessionPing, published[0].Tag)
	assert.Equal(t, domain.TagSessionPingResponse, bob.peer.Published()[0].Tag)
}

func TestErrorResponseCarriesReason(t *testing.T) {
	bus := relaytest.NewBus()
	alice, bob := newNode(t, bus), newNode(t, bus)
	topic := sharedTopic(t, alice, bob)

	bob.OnRequest(domain.MethodSessionUpdateAccounts, func(ctx context.Context, req messages.InboundRequest) {
		assert.NoError(t, bob.RespondError(ctx, req.Topic, req.Request.Method, req.Request.ID, domain.ReasonUnauthorizedUpdate))
	})

	responses := make(chan messages.InboundResponse, 1)
	alice.OnResponse(domain.MethodSessionUpdateAccounts, func(_ context.Context, res messages.InboundResponse) {
		responses <- res
	})

	req, err := messages.NewRequest(domain.MethodSessionUpdateAccounts, messages.UpdateAccountsParams{})
	require.NoError(t, err)
	require.NoError(t, alice.Request(context.Background(), topic, req, models.Type0()))

	select {
	case in := <-responses:
		require.NotNil(t, in.Response.Error)
		assert.Equal(t, domain.ReasonUnauthorizedUpdate, in.Response.Error.Reason())
	case <-time.After(time.Second):
		t.Fatal(`response was not delivered`)
	}
}

func TestTypeOneEnvelopeOpensWithRegisteredKey(t *testing.T) {
	bus := relaytest.NewBus()
	alice, bob := newNode(t, bus), newNode(t, bus)

	// bob only knows the key registered for the topic
	bobPub, err := bob.kms.CreateX25519KeyPair()
	require.NoError(t, err)
	topic := models.TopicOf(bobPub[:])
	require.NoError(t, bob.kms.SetPublicKey(bobPub, topic))
	require.NoError(t, bob.Subscribe(context.Background(), topic))

	alicePub, err := alice.kms.CreateX25519KeyPair()
	require.NoError(t, err)
	keys, err := alice.kms.PerformKeyAgreement(alicePub, bobPub.Hex())
	require.NoError(t, err)
	require.NoError(t, alice.kms.SetSymmetricKey(keys.SharedKey, topic))

	requests := make(chan messages.InboundRequest, 1)
	bob.OnRequest(domain.MethodChatInvite, func(_ context.Context, req messages.InboundRequest) {
		requests <- req
	})

	req, err := messages.NewRequest(domain.MethodChatInvite, messages.ChatInviteParams{Message: `hi`, PublicKey: alicePub.Hex()})
	require.NoError(t, err)
	require.NoError(t, alice.Request(context.Background(), topic, req, models.Type1(alicePub)))

	select {
	case in := <-requests:
		var params messages.ChatInviteParams
		require.NoError(t, in.Request.ParamsAs(&params))
		assert.Equal(t, `hi`, params.Message)
	case <-time.After(time.Second):
		t.Fatal(`invite was not delivered`)
	}
	assert.True(t, alice.peer.Published()[0].Prompt)
}

func TestUndecodableMessageIsDropped(t *testing.T) {
	bus := relaytest.NewBus()
	alice, bob := newNode(t, bus), newNode(t, bus)
	topic := sharedTopic(t, alice, bob)

	requests := make(chan messages.InboundRequest, 2)
	bob.OnRequest(domain.MethodSessionPing, func(_ context.Context, req messages.InboundRequest) {
		requests <- req
	})

	bob.peer.Inject(topic, `not-an-envelope`)
	bob.peer.Inject(`unknown-topic`, `AAAA`)

	req, err := messages.NewRequest(domain.MethodSessionPing, messages.PingParams{})
	require.NoError(t, err)
	require.NoError(t, alice.Request(context.Background(), topic, req, models.Type0()))

	select {
	case in := <-requests:
		assert.Equal(t, req.ID, in.Request.ID)
	case <-time.After(time.Second):
		t.Fatal(`valid request after garbage was not delivered`)
	}
}

func TestDuplicateRequestIDIsRejected(t *testing.T) {
	bus := relaytest.NewBus()
	alice := newNode(t, bus)
	topic := sharedTopic(t, alice)

	req, err := messages.NewRequest(domain.MethodSessionPing, messages.PingParams{})
	require.NoError(t, err)
	require.NoError(t, alice.Request(context.Background(), topic, req, models.Type0()))
	assert.ErrorIs(t, alice.Request(context.Background(), topic, req, models.Type0()), domain.ErrDuplicateRequest)
}

func TestRequestWithoutKeyFails(t *testing.T) {
	bus := relaytest.NewBus()
	alice := newNode(t, bus)

	req, err := messages.NewRequest(domain.MethodSessionPing, messages.PingParams{})
	require.NoError(t, err)
	assert.ErrorIs(t, alice.Request(context.Background(), `missing`, req, models.Type0()), domain.ErrKeyNotFound)
	assert.Empty(t, alice.peer.Published())
}

func TestEchoedAndReplayedRequestsAreDropped(t *testing.T) {
	bus := relaytest.NewBus()
	alice, bob := newNode(t, bus), newNode(t, bus)
	topic := sharedTopic(t, alice, bob)

	aliceReqs := make(chan messages.InboundRequest, 4)
	alice.OnRequest(domain.MethodSessionPing, func(_ context.Context, req messages.InboundRequest) {
		aliceReqs <- req
	})
	bobReqs := make(chan messages.InboundRequest, 4)
	bob.OnRequest(domain.MethodSessionPing, func(_ context.Context, req messages.InboundRequest) {
		bobReqs <- req
	})

	first, err := messages.NewRequest(domain.MethodSessionPing, messages.PingParams{})
	require.NoError(t, err)
	require.NoError(t, alice.Request(context.Background(), topic, first, models.Type0()))
	select {
	case in := <-bobReqs:
		assert.Equal(t, first.ID, in.Request.ID)
	case <-time.After(time.Second):
		t.Fatal(`request was not delivered`)
	}

	// the relay hands the same envelope back to its publisher and replays it
	// to the receiver
	envelope := alice.peer.Published()[0].Message
	alice.peer.Inject(topic, envelope)
	bob.peer.Inject(topic, envelope)

	second, err := messages.NewRequest(domain.MethodSessionPing, messages.PingParams{})
	require.NoError(t, err)
	require.NoError(t, alice.Request(context.Background(), topic, second, models.Type0()))
	select {
	case in := <-bobReqs:
		assert.Equal(t, second.ID, in.Request.ID)
	case <-time.After(time.Second):
		t.Fatal(`request was not delivered`)
	}

	third, err := messages.NewRequest(domain.MethodSessionPing, messages.PingParams{})
	require.NoError(t, err)
	require.NoError(t, bob.Request(context.Background(), topic, third, models.Type0()))
	select {
	case in := <-aliceReqs:
		assert.Equal(t, third.ID, in.Request.ID)
	case <-time.After(time.Second):
		t.Fatal(`request was not delivered`)
	}
}

func TestUnsubscribeForgetsHistory(t *testing.T) {
	bus := relaytest.NewBus()
	alice := newNode(t, bus)
	topic := sharedTopic(t, alice)

	req, err := messages.NewRequest(domain.MethodSessionPing, messages.PingParams{})
	require.NoError(t, err)
	require.NoError(t, alice.Request(context.Background(), topic, req, models.Type0()))
	_, err = alice.history.Get(req.ID)
	require.NoError(t, err)

	require.NoError(t, alice.Unsubscribe(context.Background(), topic))
	_, err = alice.history.Get(req.ID)
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)
}
