// Package relaytest provides an in-process relay for engine tests.
package relaytest

import (
	"context"
	"fmt"
	"github.com/YasiruR/walletconnect-prober/domain"
	"github.com/YasiruR/walletconnect-prober/domain/models"
	"github.com/YasiruR/walletconnect-prober/pubsub"
	"sync"
)

type Published struct {
	Topic   string
	Message string
	Tag     domain.PublishTag
	Prompt  bool
}

type posted struct {
	from *Peer
	msg  models.RelayMessage
}

// Bus routes published messages to every other peer subscribed to the
// topic. Messages are retained per topic and handed to late subscribers.
type Bus struct {
	*sync.Mutex
	peers   []*Peer
	mailbox map[string][]posted
}

func NewBus() *Bus {
	return &Bus{Mutex: &sync.Mutex{}, mailbox: map[string][]posted{}}
}

// Peer attaches a new client to the bus
func (b *Bus) Peer() *Peer {
	b.Lock()
	defer b.Unlock()
	p := &Peer{
		bus:    b,
		topics: map[string]bool{},
		out:    pubsub.NewQueue[models.RelayMessage](),
	}
	b.peers = append(b.peers, p)
	return p
}

// Peer implements services.Relayer over the bus
type Peer struct {
	bus       *Bus
	topics    map[string]bool
	published []Published
	out       *pubsub.Queue[models.RelayMessage]
	// FailPublish makes every publish fail when set
	FailPublish error
}

func (p *Peer) Publish(_ context.Context, topic, message string, tag domain.PublishTag, prompt bool) error {
	b := p.bus
	b.Lock()
	defer b.Unlock()
	if p.FailPublish != nil {
		return p.FailPublish
	}

	p.published = append(p.published, Published{Topic: topic, Message: message, Tag: tag, Prompt: prompt})
	msg := models.RelayMessage{Topic: topic, Message: message}
	b.mailbox[topic] = append(b.mailbox[topic], posted{from: p, msg: msg})
	for _, peer := range b.peers {
		if peer != p && peer.topics[topic] {
			peer.out.Push(msg)
		}
	}
	return nil
}

func (p *Peer) PublishWithAck(ctx context.Context, topic, message string, tag domain.PublishTag, prompt bool) error {
	return p.Publish(ctx, topic, message, tag, prompt)
}

func (p *Peer) Subscribe(_ context.Context, topic string) (string, error) {
	b := p.bus
	b.Lock()
	defer b.Unlock()
	if !p.topics[topic] {
		p.topics[topic] = true
		for _, m := range b.mailbox[topic] {
			if m.from != p {
				p.out.Push(m.msg)
			}
		}
	}
	return fmt.Sprintf(`sub-%s`, topic), nil
}

func (p *Peer) Unsubscribe(_ context.Context, topic string) error {
	p.bus.Lock()
	defer p.bus.Unlock()
	delete(p.topics, topic)
	return nil
}

func (p *Peer) Messages() <-chan models.RelayMessage {
	return p.out.Out()
}

func (p *Peer) Close() error {
	p.out.Close()
	return nil
}

func (p *Peer) Subscribed(topic string) bool {
	p.bus.Lock()
	defer p.bus.Unlock()
	return p.topics[topic]
}

func (p *Peer) Published() []Published {
	p.bus.Lock()
	defer p.bus.Unlock()
	return append([]Published(nil), p.published...)
}

// Inject delivers a message to the peer as if the relay had forwarded it
func (p *Peer) Inject(topic, message string) {
	p.out.Push(models.RelayMessage{Topic: topic, Message: message})
}
