package pubsub

import (
	"sync"
)

const defaultBufferSize = 32

// Broker fans out every published value to all current subscribers. A
// subscriber whose buffer is full misses the value instead of blocking the
// publisher.
type Broker[T any] struct {
	*sync.RWMutex
	subs    map[int]chan T
	nextID  int
	bufSize int
	closed  bool
}

func NewBroker[T any]() *Broker[T] {
	return NewBufferedBroker[T](defaultBufferSize)
}

func NewBufferedBroker[T any](size int) *Broker[T] {
	return &Broker[T]{RWMutex: &sync.RWMutex{}, subs: map[int]chan T{}, bufSize: size}
}

// Subscribe returns a channel of published values and a function which
// removes the subscription and closes the channel
func (b *Broker[T]) Subscribe() (<-chan T, func()) {
	b.Lock()
	defer b.Unlock()
	ch := make(chan T, b.bufSize)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.Lock()
			defer b.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Publish reports whether every subscriber received the value
func (b *Broker[T]) Publish(val T) bool {
	b.RLock()
	defer b.RUnlock()
	delivered := true
	for _, ch := range b.subs {
		select {
		case ch <- val:
		default:
			delivered = false
		}
	}
	return delivered
}

func (b *Broker[T]) Close() {
	b.Lock()
	defer b.Unlock()
	if b.closed {
		return
	}

	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
