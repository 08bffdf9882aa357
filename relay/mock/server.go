// Package mock implements a development relay which routes published
// messages between authenticated websocket clients.
package mock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/YasiruR/walletconnect-prober/crypto"
	"github.com/YasiruR/walletconnect-prober/domain"
	"github.com/YasiruR/walletconnect-prober/domain/messages"
	"github.com/YasiruR/walletconnect-prober/log"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
	"nhooyr.io/websocket"
	"sync"
	"time"
)

const (
	SocketEndpoint  = `/`
	MetricsEndpoint = `/metrics`

	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
)

// client is a connection of a relay user identified by the issuer of its
// auth token. A reconnecting user gets a new client with the same id.
type client struct {
	id   string
	conn *websocket.Conn
}

// retained is a published message kept for its ttl. Its delivery id stays
// the same for every delivery so that subscribers can drop duplicates.
type retained struct {
	id      int64
	topic   string
	from    string
	message string
	expiry  time.Time
	acked   map[string]bool
}

// Server keeps published messages for their ttl and hands them to clients
// subscribing later, the way a relay mailbox does
type Server struct {
	log     *log.Logger
	router  *mux.Router
	metrics *metrics

	*sync.Mutex
	subs       map[string]map[*client]string // topic to subscriber and subscription id
	mailbox    map[string][]*retained
	deliveries map[int64]*retained
	now        func() time.Time
}

func NewServer(logger *log.Logger) *Server {
	s := &Server{
		log:     logger,
		router:  mux.NewRouter(),
		metrics: newMetrics(),
		Mutex:   &sync.Mutex{},
		subs:       map[string]map[*client]string{},
		mailbox:    map[string][]*retained{},
		deliveries: map[int64]*retained{},
		now:        time.Now,
	}

	s.router.Handle(MetricsEndpoint, promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	s.router.HandleFunc(SocketEndpoint, s.handleSocket).Methods(http.MethodGet)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves the relay on addr until ctx is done
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Info(fmt.Sprintf(`mock relay started listening on %s`, addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf(`http server failed - %w`, err)
	}
	return nil
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	claims, err := crypto.VerifyAuthToken(r.URL.Query().Get(`auth`), `wss://`+r.Host)
	if err != nil {
		s.metrics.rejected.Inc()
		s.log.Warn(`mock relay`, fmt.Sprintf(`rejected connection - %v`, err))
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Error(`mock relay`, fmt.Sprintf(`accepting websocket failed - %v`, err))
		return
	}

	c := &client{id: claims.Issuer, conn: conn}
	s.metrics.connections.Inc()
	defer s.metrics.connections.Dec()
	defer s.drop(c)
	s.log.Debug(`mock relay`, fmt.Sprintf(`client connected (%s)`, c.id))

	ctx := r.Context()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			s.log.Debug(`mock relay`, fmt.Sprintf(`client disconnected (%s) - %v`, c.id, err))
			return
		}
		s.handleFrame(ctx, c, data)
	}
}

func (s *Server) handleFrame(ctx context.Context, c *client, data []byte) {
	frame, err := messages.ParseFrame(data)
	if err != nil {
		s.log.Warn(`mock relay`, err.Error())
		return
	}

	if !frame.IsRequest() {
		s.metrics.frames.WithLabelValues(`ack`).Inc()
		s.acknowledge(c, frame.ID)
		return
	}
	req := frame.Request()
	s.metrics.frames.WithLabelValues(req.Method).Inc()

	switch req.Method {
	case domain.MethodSubscribe:
		var params messages.SubscribeParams
		if err = req.ParamsAs(&params); err != nil || params.Topic == `` {
			s.reply(ctx, c, invalidParams(req.ID))
			return
		}

		id, backlog := s.subscribe(c, params.Topic)
		res, _ := messages.NewResult(req.ID, id)
		s.reply(ctx, c, res)
		for _, msg := range backlog {
			s.deliver(ctx, c, id, msg)
		}
	case domain.MethodUnsubscribe:
		var params messages.UnsubscribeParams
		if err = req.ParamsAs(&params); err != nil {
			s.reply(ctx, c, invalidParams(req.ID))
			return
		}
		s.unsubscribe(c, params.Topic)
		s.reply(ctx, c, messages.NewSuccess(req.ID))
	case domain.MethodPublish:
		var params messages.PublishParams
		if err = req.ParamsAs(&params); err != nil || params.Topic == `` {
			s.reply(ctx, c, invalidParams(req.ID))
			return
		}

		s.reply(ctx, c, messages.NewSuccess(req.ID))
		msg, targets := s.publish(c, params)
		for sub, id := range targets {
			s.deliver(ctx, sub, id, msg)
		}
	default:
		s.reply(ctx, c, messages.Response{
			ID:      req.ID,
			JSONRPC: domain.JSONRPCVersion,
			Error:   &messages.RPCError{Code: codeMethodNotFound, Message: `method not found`},
		})
	}
}

// subscribe registers the client and returns the retained messages of the
// topic which were neither published nor acknowledged by its user
func (s *Server) subscribe(c *client, topic string) (string, []retained) {
	s.Lock()
	defer s.Unlock()
	if s.subs[topic] == nil {
		s.subs[topic] = map[*client]string{}
	}

	id, ok := s.subs[topic][c]
	if !ok {
		id = uuid.New().String()
		s.subs[topic][c] = id
	}

	var backlog []retained
	for _, r := range s.retainedLocked(topic) {
		if r.from != c.id && !r.acked[c.id] {
			backlog = append(backlog, *r)
		}
	}
	return id, backlog
}

func (s *Server) unsubscribe(c *client, topic string) {
	s.Lock()
	defer s.Unlock()
	delete(s.subs[topic], c)
	if len(s.subs[topic]) == 0 {
		delete(s.subs, topic)
	}
}

// publish retains the message and returns the subscribers of the topic which
// belong to other users
func (s *Server) publish(c *client, params messages.PublishParams) (retained, map[*client]string) {
	s.Lock()
	defer s.Unlock()
	r := &retained{
		id:      messages.NextID(),
		topic:   params.Topic,
		from:    c.id,
		message: params.Message,
		expiry:  s.now().Add(time.Duration(params.TTL) * time.Second),
		acked:   map[string]bool{},
	}
	s.mailbox[params.Topic] = append(s.retainedLocked(params.Topic), r)
	s.deliveries[r.id] = r

	targets := map[*client]string{}
	for sub, id := range s.subs[params.Topic] {
		if sub.id != c.id {
			targets[sub] = id
		}
	}
	return *r, targets
}

// acknowledge stops further deliveries of a retained message to the user
func (s *Server) acknowledge(c *client, id int64) {
	s.Lock()
	defer s.Unlock()
	if r, ok := s.deliveries[id]; ok {
		r.acked[c.id] = true
	}
}

// retainedLocked prunes expired messages of the topic and returns the rest
func (s *Server) retainedLocked(topic string) []*retained {
	var alive []*retained
	now := s.now()
	for _, r := range s.mailbox[topic] {
		if now.Before(r.expiry) {
			alive = append(alive, r)
			continue
		}
		delete(s.deliveries, r.id)
	}

	if len(alive) == 0 {
		delete(s.mailbox, topic)
		return nil
	}
	s.mailbox[topic] = alive
	return alive
}

func (s *Server) drop(c *client) {
	s.Lock()
	defer s.Unlock()
	for topic, subs := range s.subs {
		delete(subs, c)
		if len(subs) == 0 {
			delete(s.subs, topic)
		}
	}
}

func (s *Server) deliver(ctx context.Context, c *client, subID string, msg retained) {
	params, err := json.Marshal(messages.SubscriptionParams{
		ID:   subID,
		Data: messages.SubscriptionData{Topic: msg.topic, Message: msg.message},
	})
	if err != nil {
		s.log.Error(`mock relay`, fmt.Sprintf(`marshalling delivery failed - %v`, err))
		return
	}

	req := messages.Request{ID: msg.id, JSONRPC: domain.JSONRPCVersion, Method: domain.MethodSubscription, Params: params}
	if err = s.write(ctx, c, req); err == nil {
		s.metrics.delivered.Inc()
	}
}

func (s *Server) reply(ctx context.Context, c *client, res messages.Response) {
	_ = s.write(ctx, c, res)
}

func (s *Server) write(ctx context.Context, c *client, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf(`marshalling frame failed - %w`, err)
	}

	if err = c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		s.log.Warn(`mock relay`, fmt.Sprintf(`writing to %s failed - %v`, c.id, err))
		return err
	}
	return nil
}

func invalidParams(id int64) messages.Response {
	return messages.Response{
		ID:      id,
		JSONRPC: domain.JSONRPCVersion,
		Error:   &messages.RPCError{Code: codeInvalidParams, Message: `invalid params`},
	}
}

type metrics struct {
	registry    *prometheus.Registry
	connections prometheus.Gauge
	rejected    prometheus.Counter
	delivered   prometheus.Counter
	frames      *prometheus.CounterVec
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "walletconnect",
			Subsystem: "mock_relay",
			Name:      "connections",
			Help:      "Open client connections.",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "walletconnect",
			Subsystem: "mock_relay",
			Name:      "rejected_connections_total",
			Help:      "Connections rejected for an invalid auth token.",
		}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "walletconnect",
			Subsystem: "mock_relay",
			Name:      "delivered_total",
			Help:      "Messages delivered to subscribers.",
		}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "walletconnect",
			Subsystem: "mock_relay",
			Name:      "frames_total",
			Help:      "Inbound json-rpc frames segmented by method.",
		}, []string{"method"}),
	}

	m.registry.MustRegister(m.connections, m.rejected, m.delivered, m.frames)
	return m
}
