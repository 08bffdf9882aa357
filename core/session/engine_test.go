package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/YasiruR/walletconnect-prober/crypto"
	"github.com/YasiruR/walletconnect-prober/domain"
	"github.com/YasiruR/walletconnect-prober/domain/messages"
	"github.com/YasiruR/walletconnect-prober/domain/models"
	"github.com/YasiruR/walletconnect-prober/log"
	"github.com/YasiruR/walletconnect-prober/networking/networkingtest"
	"github.com/YasiruR/walletconnect-prober/pubsub"
	"github.com/YasiruR/walletconnect-prober/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const account = `eip155:1:0xab16a96d359ec26a11e2c2b3d8f8b8942d5bfcdb`

type harness struct {
	engine     *Engine
	interactor *networkingtest.Interactor
	kms        *crypto.KeyManager
	events     <-chan models.Event
}

func newHarness(t *testing.T) *harness {
	interactor := networkingtest.New()
	kms := crypto.NewKeyManager(storage.NewMemory())
	broker := pubsub.NewBroker[models.Event]()
	events, cancel := broker.Subscribe()
	t.Cleanup(cancel)

	e := NewEngine(interactor, kms, storage.NewMemory(), models.AppMetadata{Name: `wallet`}, broker, log.NewLogger(log.LevelOff))
	return &harness{engine: e, interactor: interactor, kms: kms, events: events}
}

func (h *harness) next(t *testing.T, typ models.EventType) models.Event {
	for {
		select {
		case ev := <-h.events:
			if ev.Type == typ {
				return ev
			}
		case <-time.After(time.Second):
			t.Fatalf(`no %s event`, typ)
		}
	}
}

// agree runs the key agreement a responder performs for a proposal and
// returns the proposal with the derived session topic
func (h *harness) agree(t *testing.T) (models.SessionProposal, string, models.AgreementPublicKey) {
	proposer := crypto.NewKeyManager(storage.NewMemory())
	proposerPub, err := proposer.CreateX25519KeyPair()
	require.NoError(t, err)

	selfPub, err := h.kms.CreateX25519KeyPair()
	require.NoError(t, err)
	keys, err := h.kms.PerformKeyAgreement(selfPub, proposerPub.Hex())
	require.NoError(t, err)
	topic := keys.DerivedTopic()
	require.NoError(t, h.kms.SetSymmetricKey(keys.SharedKey, topic))
	require.NoError(t, h.kms.SetAgreementSecret(keys, topic))

	proposal := models.SessionProposal{
		Relay:       models.DefaultRelay(),
		Proposer:    models.Participant{PublicKey: proposerPub.Hex(), Metadata: models.AppMetadata{Name: `dapp`}},
		Permissions: models.SessionPermissions{Methods: models.NewSet(`eth_sign`), Events: models.NewSet(`accountsChanged`)},
		Blockchains: models.NewSet(`eip155:1`),
	}
	return proposal, topic, selfPub
}

func (h *harness) storeSession(t *testing.T, selfIsController bool, expiry time.Duration) models.Session {
	session := models.Session{
		Topic:            models.TopicOf([]byte(t.Name())),
		Relay:            models.DefaultRelay(),
		Expiry:           time.Now().Add(expiry),
		Acknowledged:     true,
		SelfIsController: selfIsController,
		Accounts:         models.NewSet(account),
		Methods:          models.NewSet(`eth_sign`),
		Events:           models.NewSet(`accountsChanged`),
		Blockchains:      models.NewSet(`eip155:1`),
	}
	require.NoError(t, h.engine.sessions.Set(session))
	return session
}

func (h *harness) lastResponse(t *testing.T) messages.Response {
	responded := h.interactor.Responded()
	require.NotEmpty(t, responded)
	return responded[len(responded)-1].Response
}

func request(t *testing.T, method string, params interface{}) messages.Request {
	req, err := messages.NewRequest(method, params)
	require.NoError(t, err)
	return req
}

func TestSettleAcknowledged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	proposal, topic, selfPub := h.agree(t)

	session, err := h.engine.Settle(ctx, topic, proposal, models.NewSet(account))
	require.NoError(t, err)
	assert.True(t, session.SelfIsController)
	assert.False(t, session.Acknowledged)
	assert.True(t, h.interactor.Subscribed(topic))

	sent, ok := h.interactor.LastSent(domain.MethodSessionSettle)
	require.True(t, ok)
	assert.Equal(t, models.EnvelopeType1, sent.Envelope.Type)
	assert.Equal(t, selfPub, sent.Envelope.SenderPublicKey)

	var params messages.SettleParams
	require.NoError(t, sent.Request.ParamsAs(&params))
	assert.Equal(t, selfPub.Hex(), params.Controller.PublicKey)
	assert.True(t, params.Accounts.Has(account))

	require.True(t, h.interactor.Answer(ctx, sent, messages.NewSuccess(0)))
	ev := h.next(t, models.EventSessionSettle)
	require.NotNil(t, ev.Session)
	assert.True(t, ev.Session.Acknowledged)

	stored, err := h.engine.Session(topic)
	require.NoError(t, err)
	assert.True(t, stored.Acknowledged)
}

func TestSettleAckErrorPurgesSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	proposal, topic, selfPub := h.agree(t)

	_, err := h.engine.Settle(ctx, topic, proposal, models.NewSet(account))
	require.NoError(t, err)
	sent, ok := h.interactor.LastSent(domain.MethodSessionSettle)
	require.True(t, ok)
	require.True(t, h.interactor.Answer(ctx, sent, messages.NewError(0, domain.ReasonUserRejected)))

	_, err = h.engine.Session(topic)
	assert.ErrorIs(t, err, domain.ErrNoSessionMatchingTopic)
	_, err = h.kms.SymmetricKey(topic)
	assert.ErrorIs(t, err, domain.ErrKeyNotFound)
	_, err = h.kms.PrivateKey(selfPub)
	assert.ErrorIs(t, err, domain.ErrKeyNotFound)
	assert.False(t, h.interactor.Subscribed(topic))
	h.next(t, models.EventSessionRejected)
}

func TestSettleRejectsInvalidAccounts(t *testing.T) {
	h := newHarness(t)
	proposal, topic, _ := h.agree(t)
	_, err := h.engine.Settle(context.Background(), topic, proposal, models.NewSet(`not-an-account`))
	assert.ErrorIs(t, err, domain.ErrInvalidAccount)
	assert.Empty(t, h.interactor.Sent())
}

func TestInboundSettle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, topic, _ := h.agree(t)

	controller := models.Participant{PublicKey: models.AgreementPublicKey{9}.Hex(), Metadata: models.AppMetadata{Name: `peer`}}
	expiry := time.Now().Add(domain.SessionTTL).Unix()
	req := request(t, domain.MethodSessionSettle, messages.SettleParams{
		Relay:       models.DefaultRelay(),
		Controller:  controller,
		Accounts:    models.NewSet(account),
		Methods:     models.NewSet(`eth_sign`),
		Events:      models.NewSet(),
		Blockchains: models.NewSet(`eip155:1`),
		Expiry:      expiry,
	})
	require.True(t, h.interactor.Deliver(ctx, topic, req))

	res := h.lastResponse(t)
	assert.Nil(t, res.Error)
	assert.Equal(t, req.ID, res.ID)

	session, err := h.engine.Session(topic)
	require.NoError(t, err)
	assert.True(t, session.Acknowledged)
	assert.False(t, session.SelfIsController)
	assert.Equal(t, controller.PublicKey, session.Peer.PublicKey)
	assert.Equal(t, expiry, session.Expiry.Unix())
	h.next(t, models.EventSessionSettle)
}

func TestSettleSendFailureTearsDown(t *testing.T) {
	h := newHarness(t)
	proposal, topic, selfPub := h.agree(t)
	h.interactor.RequestErr = errors.New(`relay unavailable`)

	_, err := h.engine.Settle(context.Background(), topic, proposal, models.NewSet(account))
	require.Error(t, err)

	_, err = h.engine.Session(topic)
	assert.ErrorIs(t, err, domain.ErrNoSessionMatchingTopic)
	assert.False(t, h.interactor.Subscribed(topic))
	_, err = h.kms.SymmetricKey(topic)
	assert.ErrorIs(t, err, domain.ErrKeyNotFound)
	_, err = h.kms.PrivateKey(selfPub)
	assert.ErrorIs(t, err, domain.ErrKeyNotFound)
}

func TestInboundSettleKeepsControlledSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	proposal, topic, selfPub := h.agree(t)

	_, err := h.engine.Settle(ctx, topic, proposal, models.NewSet(account))
	require.NoError(t, err)
	sent, ok := h.interactor.LastSent(domain.MethodSessionSettle)
	require.True(t, ok)
	require.True(t, h.interactor.Answer(ctx, sent, messages.NewSuccess(0)))

	// the settlement this client sent comes back on the session topic
	require.True(t, h.interactor.Deliver(ctx, topic, sent.Request))
	assert.Empty(t, h.interactor.Responded())

	session, err := h.engine.Session(topic)
	require.NoError(t, err)
	assert.True(t, session.SelfIsController)
	assert.Equal(t, selfPub.Hex(), session.Self.PublicKey)
	assert.Equal(t, proposal.Proposer.PublicKey, session.Peer.PublicKey)
	require.NoError(t, h.engine.UpdateAccounts(ctx, topic, models.NewSet(account)))
}

func TestInboundSettleIsNotReapplied(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, topic, _ := h.agree(t)

	settle := func(name string) messages.Request {
		return request(t, domain.MethodSessionSettle, messages.SettleParams{
			Relay:       models.DefaultRelay(),
			Controller:  models.Participant{PublicKey: models.AgreementPublicKey{9}.Hex(), Metadata: models.AppMetadata{Name: name}},
			Accounts:    models.NewSet(account),
			Methods:     models.NewSet(`eth_sign`),
			Events:      models.NewSet(),
			Blockchains: models.NewSet(`eip155:1`),
			Expiry:      time.Now().Add(domain.SessionTTL).Unix(),
		})
	}

	require.True(t, h.interactor.Deliver(ctx, topic, settle(`peer`)))
	second := settle(`impostor`)
	require.True(t, h.interactor.Deliver(ctx, topic, second))

	res := h.lastResponse(t)
	assert.Equal(t, second.ID, res.ID)
	assert.Nil(t, res.Error)

	session, err := h.engine.Session(topic)
	require.NoError(t, err)
	assert.Equal(t, `peer`, session.Peer.Metadata.Name)
}

func TestInboundSettleWithoutAgreement(t *testing.T) {
	h := newHarness(t)
	req := request(t, domain.MethodSessionSettle, messages.SettleParams{Accounts: models.NewSet(account)})
	require.True(t, h.interactor.Deliver(context.Background(), `unknown`, req))

	res := h.lastResponse(t)
	require.NotNil(t, res.Error)
	assert.Equal(t, domain.ReasonNoSessionForTopic.Code, res.Error.Code)
}

func TestUpdateByNonControllerIsRejected(t *testing.T) {
	h := newHarness(t)
	session := h.storeSession(t, true, 24*time.Hour)

	req := request(t, domain.MethodSessionUpdateAccounts, messages.UpdateAccountsParams{Accounts: models.NewSet(`eip155:1:0x1`)})
	require.True(t, h.interactor.Deliver(context.Background(), session.Topic, req))

	res := h.lastResponse(t)
	require.NotNil(t, res.Error)
	assert.Equal(t, 3003, res.Error.Code)

	stored, err := h.engine.Session(session.Topic)
	require.NoError(t, err)
	assert.Equal(t, session.Accounts, stored.Accounts)
}

func TestInboundUpdates(t *testing.T) {
	tests := []struct {
		name   string
		method string
		params interface{}
		code   int
		check  func(t *testing.T, s models.Session)
	}{
		{
			name:   `accounts`,
			method: domain.MethodSessionUpdateAccounts,
			params: messages.UpdateAccountsParams{Accounts: models.NewSet(`eip155:137:0x1`)},
			check:  func(t *testing.T, s models.Session) { assert.True(t, s.Accounts.Has(`eip155:137:0x1`)) },
		},
		{
			name:   `invalid accounts`,
			method: domain.MethodSessionUpdateAccounts,
			params: messages.UpdateAccountsParams{Accounts: models.NewSet(`0x1`)},
			code:   1003,
		},
		{
			name:   `methods`,
			method: domain.MethodSessionUpdateMethods,
			params: messages.UpdateMethodsParams{Methods: models.NewSet(`personal_sign`)},
			check:  func(t *testing.T, s models.Session) { assert.Equal(t, []string{`personal_sign`}, s.Methods.Slice()) },
		},
		{
			name:   `invalid methods`,
			method: domain.MethodSessionUpdateMethods,
			params: messages.UpdateMethodsParams{Methods: models.NewSet(`bad method`)},
			code:   1004,
		},
		{
			name:   `invalid events`,
			method: domain.MethodSessionUpdateEvents,
			params: messages.UpdateEventsParams{Events: models.NewSet(`chain changed!`)},
			code:   1005,
		},
		{
			name:   `expiry`,
			method: domain.MethodSessionUpdateExpiry,
			params: messages.UpdateExpiryParams{Expiry: time.Now().Add(48 * time.Hour).Unix()},
			check: func(t *testing.T, s models.Session) {
				assert.WithinDuration(t, time.Now().Add(48*time.Hour), s.Expiry, time.Minute)
			},
		},
		{
			name:   `expiry beyond ttl`,
			method: domain.MethodSessionUpdateExpiry,
			params: messages.UpdateExpiryParams{Expiry: time.Now().Add(10 * 24 * time.Hour).Unix()},
			code:   1006,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			h := newHarness(t)
			session := h.storeSession(t, false, 24*time.Hour)
			req := request(t, test.method, test.params)
			require.True(t, h.interactor.Deliver(context.Background(), session.Topic, req))

			res := h.lastResponse(t)
			stored, err := h.engine.Session(session.Topic)
			require.NoError(t, err)
			if test.code != 0 {
				require.NotNil(t, res.Error)
				assert.Equal(t, test.code, res.Error.Code)
				assert.Equal(t, session.Accounts, stored.Accounts)
				assert.Equal(t, session.Methods, stored.Methods)
				return
			}

			assert.Nil(t, res.Error)
			test.check(t, stored)
		})
	}
}

func TestInboundUpdateOnUnknownSession(t *testing.T) {
	h := newHarness(t)
	req := request(t, domain.MethodSessionUpdateEvents, messages.UpdateEventsParams{Events: models.NewSet()})
	require.True(t, h.interactor.Deliver(context.Background(), `unknown`, req))

	res := h.lastResponse(t)
	require.NotNil(t, res.Error)
	assert.Equal(t, 1301, res.Error.Code)
}

func TestUpdateExpiryBounds(t *testing.T) {
	tests := []struct {
		name string
		ttl  time.Duration
		err  error
	}{
		{name: `two days`, ttl: 48 * time.Hour},
		{name: `ten days`, ttl: 10 * 24 * time.Hour, err: domain.ErrInvalidExtendTime},
		{name: `twelve hours`, ttl: 12 * time.Hour, err: domain.ErrInvalidExtendTime},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			h := newHarness(t)
			session := h.storeSession(t, true, 24*time.Hour)

			err := h.engine.UpdateExpiry(context.Background(), session.Topic, test.ttl)
			stored, getErr := h.engine.Session(session.Topic)
			require.NoError(t, getErr)
			if test.err != nil {
				assert.ErrorIs(t, err, test.err)
				assert.Equal(t, session.Expiry.Unix(), stored.Expiry.Unix())
				assert.Empty(t, h.interactor.Sent())
				return
			}

			require.NoError(t, err)
			assert.WithinDuration(t, time.Now().Add(test.ttl), stored.Expiry, time.Minute)

			sent, ok := h.interactor.LastSent(domain.MethodSessionUpdateExpiry)
			require.True(t, ok)
			var params messages.UpdateExpiryParams
			require.NoError(t, sent.Request.ParamsAs(&params))
			assert.Equal(t, stored.Expiry.Unix(), params.Expiry)
		})
	}
}

func TestControllerUpdates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	session := h.storeSession(t, true, 24*time.Hour)

	require.NoError(t, h.engine.UpdateAccounts(ctx, session.Topic, models.NewSet(`eip155:10:0x2`)))
	require.NoError(t, h.engine.UpdateMethods(ctx, session.Topic, models.NewSet(`eth_sendTransaction`)))
	require.NoError(t, h.engine.UpdateEvents(ctx, session.Topic, models.NewSet(`chainChanged`)))
	assert.ErrorIs(t, h.engine.UpdateAccounts(ctx, session.Topic, models.NewSet(`bad`)), domain.ErrInvalidAccount)

	stored, err := h.engine.Session(session.Topic)
	require.NoError(t, err)
	assert.True(t, stored.Accounts.Has(`eip155:10:0x2`))
	assert.True(t, stored.Methods.Has(`eth_sendTransaction`))
	assert.True(t, stored.Events.Has(`chainChanged`))
	assert.Len(t, h.interactor.Sent(), 3)

	sent, ok := h.interactor.LastSent(domain.MethodSessionUpdateEvents)
	require.True(t, ok)
	require.True(t, h.interactor.Answer(ctx, sent, messages.NewSuccess(0)))
	ev := h.next(t, models.EventSessionUpdateEvents)
	assert.Nil(t, ev.Reason)
}

func TestUpdatePreconditions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	assert.ErrorIs(t, h.engine.UpdateMethods(ctx, `unknown`, models.NewSet()), domain.ErrNoSessionMatchingTopic)

	peerControlled := h.storeSession(t, false, 24*time.Hour)
	assert.ErrorIs(t, h.engine.UpdateMethods(ctx, peerControlled.Topic, models.NewSet()), domain.ErrUnauthorizedNonControllerCall)

	pending := peerControlled
	pending.Topic = `pending`
	pending.SelfIsController = true
	pending.Acknowledged = false
	require.NoError(t, h.engine.sessions.Set(pending))
	assert.ErrorIs(t, h.engine.UpdateMethods(ctx, pending.Topic, models.NewSet()), domain.ErrSessionNotAcknowledged)
	assert.Empty(t, h.interactor.Sent())
}

func TestDelete(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, topic, _ := h.agree(t)
	session := h.storeSession(t, true, 24*time.Hour)
	session.Topic = topic
	require.NoError(t, h.engine.sessions.Set(session))
	require.NoError(t, h.interactor.Subscribe(ctx, topic))

	require.NoError(t, h.engine.Delete(ctx, topic, domain.ReasonUserDisconnected))
	sent, ok := h.interactor.LastSent(domain.MethodSessionDelete)
	require.True(t, ok)
	var params messages.DeleteParams
	require.NoError(t, sent.Request.ParamsAs(&params))
	assert.Equal(t, 6000, params.Code)

	_, err := h.engine.Session(topic)
	assert.ErrorIs(t, err, domain.ErrNoSessionMatchingTopic)
	_, err = h.kms.SymmetricKey(topic)
	assert.ErrorIs(t, err, domain.ErrKeyNotFound)
	assert.False(t, h.interactor.Subscribed(topic))
}

func TestInboundDelete(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	session := h.storeSession(t, false, 24*time.Hour)

	req := request(t, domain.MethodSessionDelete, messages.DeleteParams{Code: 6000, Message: `User disconnected`})
	require.True(t, h.interactor.Deliver(ctx, session.Topic, req))
	assert.Nil(t, h.lastResponse(t).Error)

	ev := h.next(t, models.EventSessionDelete)
	require.NotNil(t, ev.Reason)
	assert.Equal(t, 6000, ev.Reason.Code)
	_, err := h.engine.Session(session.Topic)
	assert.ErrorIs(t, err, domain.ErrNoSessionMatchingTopic)
}

func TestPing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	session := h.storeSession(t, false, 24*time.Hour)

	require.NoError(t, h.engine.Ping(ctx, session.Topic))
	sent, ok := h.interactor.LastSent(domain.MethodSessionPing)
	require.True(t, ok)
	require.True(t, h.interactor.Answer(ctx, sent, messages.NewSuccess(0)))
	h.next(t, models.EventSessionPing)

	require.True(t, h.interactor.Deliver(ctx, `unknown`, request(t, domain.MethodSessionPing, messages.PingParams{})))
	res := h.lastResponse(t)
	require.NotNil(t, res.Error)
	assert.Equal(t, 1301, res.Error.Code)
	assert.ErrorIs(t, h.engine.Ping(ctx, `unknown`), domain.ErrNoSessionMatchingTopic)
}

func TestExpiredSessionIsPurged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, topic, _ := h.agree(t)
	session := h.storeSession(t, true, 24*time.Hour)
	session.Topic = topic
	session.Expiry = time.Now().Add(-time.Minute)
	require.NoError(t, h.engine.sessions.Set(session))
	require.NoError(t, h.interactor.Subscribe(ctx, topic))

	sessions, err := h.engine.Sessions()
	require.NoError(t, err)
	for _, s := range sessions {
		assert.NotEqual(t, topic, s.Topic)
	}

	ev := h.next(t, models.EventSessionExpired)
	assert.Equal(t, topic, ev.Topic)
	_, err = h.kms.SymmetricKey(topic)
	assert.ErrorIs(t, err, domain.ErrKeyNotFound)
	assert.False(t, h.interactor.Subscribed(topic))
}

func TestHandleProposeResponseSubscribes(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.engine.HandleProposeResponse(context.Background(), `session-topic`))
	assert.True(t, h.interactor.Subscribed(`session-topic`))
}

func TestVerifyTearsDownSessionsWithoutKey(t *testing.T) {
	h := newHarness(t)
	broken := h.storeSession(t, true, time.Hour)

	proposal, topic, _ := h.agree(t)
	_, err := h.engine.Settle(context.Background(), topic, proposal, models.NewSet(account))
	require.NoError(t, err)

	torn, err := h.engine.Verify(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{broken.Topic}, torn)

	ev := h.next(t, models.EventSessionDelete)
	assert.Equal(t, broken.Topic, ev.Topic)
	require.NotNil(t, ev.Reason)
	assert.Equal(t, domain.ReasonNoSessionForTopic.Code, ev.Reason.Code)

	_, err = h.engine.Session(broken.Topic)
	assert.ErrorIs(t, err, domain.ErrNoSessionMatchingTopic)
	_, err = h.engine.Session(topic)
	assert.NoError(t, err)
}
