package client

import (
	"context"
	"fmt"
	"github.com/YasiruR/walletconnect-prober/core/chat"
	"github.com/YasiruR/walletconnect-prober/core/pairing"
	"github.com/YasiruR/walletconnect-prober/core/session"
	"github.com/YasiruR/walletconnect-prober/crypto"
	"github.com/YasiruR/walletconnect-prober/domain"
	"github.com/YasiruR/walletconnect-prober/domain/container"
	"github.com/YasiruR/walletconnect-prober/domain/models"
	"github.com/YasiruR/walletconnect-prober/internal/debounce"
	"github.com/YasiruR/walletconnect-prober/log"
	"github.com/YasiruR/walletconnect-prober/networking"
	"github.com/YasiruR/walletconnect-prober/pubsub"
	"github.com/YasiruR/walletconnect-prober/relay"
	"github.com/YasiruR/walletconnect-prober/transport"
	"github.com/prometheus/client_golang/prometheus"
	"sync"
	"time"
)

const (
	pairDebounce    = 2 * time.Second
	sweepInterval   = time.Minute
	prefixRelayHist = `relay-history:`
	prefixRPCHist   = `rpc-history:`
)

// Client is the entry point for applications. It wires the relay
// connection, the key store and the protocol engines from a config.
type Client struct {
	*container.Container
	Auth       *crypto.SocketAuthenticator
	relay      *relay.Client
	interactor *networking.Interactor
	pairing    *pairing.Engine
	session    *session.Engine
	invites    *chat.InviteService
	messaging  *chat.MessagingService
	events     *pubsub.Broker[models.Event]
	debouncer  *debounce.Debouncer[string]

	done      chan struct{}
	closeOnce sync.Once
}

// New builds a client from the config. Relay client metrics are registered
// with reg unless it is nil.
func New(cfg *container.Config, reg prometheus.Registerer) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf(`invalid config - %w`, err)
	}

	logger := log.NewLogger(cfg.LogLevel)
	kms := crypto.NewKeyManager(cfg.KeychainStorage)
	codec := crypto.NewCodec()
	auth := crypto.NewSocketAuthenticator(cfg.KeychainStorage)
	urls := transport.NewRelayURLFactory(cfg.RelayHost, cfg.ProjectID, cfg.Insecure, auth)
	dispatcher := transport.NewDispatcher(domain.ConnectionType(cfg.ConnectionType), urls, cfg.WebSocketFactory, logger)
	relayClient := relay.NewClient(dispatcher, relay.NewHistory(cfg.KeyValueStorage, prefixRelayHist), relay.NewMetrics(reg), logger)
	interactor := networking.NewInteractor(relayClient, codec, kms, relay.NewHistory(cfg.KeyValueStorage, prefixRPCHist), logger)

	events := pubsub.NewBroker[models.Event]()
	pairingEngine := pairing.NewEngine(interactor, kms, cfg.KeyValueStorage, cfg.Metadata, events, logger)
	sessionEngine := session.NewEngine(interactor, kms, cfg.KeyValueStorage, cfg.Metadata, events, logger)
	pairingEngine.OnProposeResponse(sessionEngine.HandleProposeResponse)

	threads := chat.NewThreads(cfg.KeyValueStorage)
	c := &Client{
		Container: &container.Container{
			Cfg:        cfg,
			KeyManager: kms,
			Codec:      codec,
			Dispatcher: dispatcher,
			Relayer:    relayClient,
			Interactor: interactor,
			Log:        logger,
		},
		Auth:       auth,
		relay:      relayClient,
		interactor: interactor,
		pairing:    pairingEngine,
		session:    sessionEngine,
		invites:    chat.NewInviteService(interactor, kms, threads, cfg.KeyValueStorage, events, logger),
		messaging:  chat.NewMessagingService(interactor, threads, events, logger),
		events:     events,
		debouncer:  debounce.New[string](pairDebounce),
		done:       make(chan struct{}),
	}

	go c.sweep()
	return c, nil
}

// Start connects to the relay and restores the subscriptions of every
// stored pairing, session and chat topic
func (c *Client) Start(ctx context.Context) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}
	return c.restore(ctx)
}

func (c *Client) Connect(ctx context.Context) error {
	if err := c.relay.Connect(ctx); err != nil {
		return fmt.Errorf(`connecting to relay failed - %w`, err)
	}
	return nil
}

// Disconnect closes the relay connection until Connect is called again
func (c *Client) Disconnect() error {
	return c.relay.Disconnect(transport.CloseNormal)
}

// Events streams the protocol events until cancel is called
func (c *Client) Events() (<-chan models.Event, func()) {
	return c.events.Subscribe()
}

func (c *Client) SocketStatus() (<-chan domain.SocketStatus, func()) {
	return c.relay.StatusUpdates()
}

// Pair joins the pairing of a URI. Repeated calls with the same URI within
// the debounce window are dropped.
func (c *Client) Pair(ctx context.Context, rawURI string) error {
	uri, err := models.ParseURI(rawURI)
	if err != nil {
		return err
	}

	if !c.debouncer.Signal(uri.String()) {
		c.Log.Debug(`client`, fmt.Sprintf(`dropped repeated pairing with %s`, uri.Topic))
		return nil
	}
	return c.pairing.Pair(ctx, uri)
}

// Propose sends a session proposal on an existing pairing. A new pairing is
// created when pairingTopic is empty and its URI is returned.
func (c *Client) Propose(ctx context.Context, permissions models.SessionPermissions, blockchains models.Set, pairingTopic string) (*models.URI, error) {
	var uri *models.URI
	if pairingTopic == `` {
		created, err := c.pairing.Create(ctx)
		if err != nil {
			return nil, err
		}
		uri, pairingTopic = &created, created.Topic
	}

	if err := c.pairing.Propose(ctx, pairingTopic, permissions, blockchains, models.DefaultRelay()); err != nil {
		return nil, err
	}
	return uri, nil
}

// Approve accepts a session proposal and settles the session with the
// given accounts
func (c *Client) Approve(ctx context.Context, proposal models.SessionProposal, accounts models.Set) (models.Session, error) {
	if err := models.ValidateAccounts(accounts); err != nil {
		return models.Session{}, err
	}

	topic, err := c.pairing.RespondSessionPropose(ctx, proposal)
	if err != nil {
		return models.Session{}, err
	}
	return c.session.Settle(ctx, topic, proposal, accounts)
}

func (c *Client) Reject(ctx context.Context, proposal models.SessionProposal, reason domain.Reason) error {
	return c.pairing.RejectSessionPropose(ctx, proposal, reason)
}

func (c *Client) UpdateAccounts(ctx context.Context, topic string, accounts models.Set) error {
	return c.session.UpdateAccounts(ctx, topic, accounts)
}

func (c *Client) UpdateMethods(ctx context.Context, topic string, methods models.Set) error {
	return c.session.UpdateMethods(ctx, topic, methods)
}

func (c *Client) UpdateEvents(ctx context.Context, topic string, events models.Set) error {
	return c.session.UpdateEvents(ctx, topic, events)
}

func (c *Client) UpdateExpiry(ctx context.Context, topic string, ttl time.Duration) error {
	return c.session.UpdateExpiry(ctx, topic, ttl)
}

func (c *Client) DeleteSession(ctx context.Context, topic string, reason domain.Reason) error {
	return c.session.Delete(ctx, topic, reason)
}

func (c *Client) PingSession(ctx context.Context, topic string) error {
	return c.session.Ping(ctx, topic)
}

func (c *Client) PingPairing(ctx context.Context, topic string) error {
	return c.pairing.Ping(ctx, topic)
}

func (c *Client) Sessions() ([]models.Session, error) {
	return c.session.Sessions()
}

func (c *Client) Pairings() ([]models.Pairing, error) {
	return c.pairing.Pairings()
}

// Register publishes an invite key for the account and returns it
func (c *Client) Register(ctx context.Context, account string) (string, error) {
	return c.invites.Register(ctx, account)
}

func (c *Client) Invite(ctx context.Context, params chat.InviteParams) error {
	return c.invites.Invite(ctx, params)
}

func (c *Client) Invites() ([]models.Invite, error) {
	return c.invites.Invites()
}

func (c *Client) AcceptInvite(ctx context.Context, inviteID string) (string, error) {
	return c.invites.Accept(ctx, inviteID)
}

func (c *Client) RejectInvite(ctx context.Context, inviteID string) error {
	return c.invites.Reject(ctx, inviteID)
}

func (c *Client) SendMessage(ctx context.Context, topic, text string) error {
	return c.messaging.Send(ctx, topic, text)
}

func (c *Client) Threads() ([]models.Thread, error) {
	return c.messaging.Threads()
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.interactor.Close()
		err = c.relay.Close()
		c.events.Close()
	})
	return err
}

func (c *Client) restore(ctx context.Context) error {
	if err := c.verify(ctx); err != nil {
		return err
	}

	var topics []string
	pairings, err := c.pairing.Pairings()
	if err != nil {
		return err
	}
	for _, p := range pairings {
		topics = append(topics, p.Topic)
	}

	sessions, err := c.session.Sessions()
	if err != nil {
		return err
	}
	for _, s := range sessions {
		topics = append(topics, s.Topic)
	}

	threads, err := c.messaging.Threads()
	if err != nil {
		return err
	}
	for _, t := range threads {
		topics = append(topics, t.Topic)
	}

	registered, err := c.invites.RegisteredTopics()
	if err != nil {
		return err
	}
	topics = append(topics, registered...)

	for _, topic := range topics {
		if err = c.interactor.Subscribe(ctx, topic); err != nil {
			return fmt.Errorf(`restoring subscription failed - %w`, err)
		}
	}

	if len(topics) > 0 {
		c.Log.Debug(`client`, fmt.Sprintf(`restored %d subscriptions`, len(topics)))
	}
	return nil
}

// verify tears down the pairings and sessions which lost their symmetric key
func (c *Client) verify(ctx context.Context) error {
	if _, err := c.pairing.Verify(ctx); err != nil {
		return fmt.Errorf(`verifying pairings failed - %w`, err)
	}

	if _, err := c.session.Verify(ctx); err != nil {
		return fmt.Errorf(`verifying sessions failed - %w`, err)
	}
	return nil
}

// sweep walks the sequence stores periodically so that expired or broken
// pairings and sessions are torn down even when nothing touches them
func (c *Client) sweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), sweepInterval/2)
			if err := c.verify(ctx); err != nil {
				c.Log.Error(`client`, err.Error())
			}
			cancel()
		case <-c.done:
			return
		}
	}
}
