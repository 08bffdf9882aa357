package pubsub

import "sync"

// Queue is an unbounded fifo drained through a channel so that producers
// never block on a slow consumer
type Queue[T any] struct {
	*sync.Mutex
	items  []T
	notify chan struct{}
	out    chan T
	done   chan struct{}
	once   sync.Once
}

func NewQueue[T any]() *Queue[T] {
	q := &Queue[T]{
		Mutex:  &sync.Mutex{},
		notify: make(chan struct{}, 1),
		out:    make(chan T),
		done:   make(chan struct{}),
	}

	go q.drain()
	return q
}

func (q *Queue[T]) Push(item T) {
	q.Lock()
	q.items = append(q.items, item)
	q.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Out is closed once the queue is closed
func (q *Queue[T]) Out() <-chan T {
	return q.out
}

func (q *Queue[T]) Len() int {
	q.Lock()
	defer q.Unlock()
	return len(q.items)
}

func (q *Queue[T]) Close() {
	q.once.Do(func() { close(q.done) })
}

func (q *Queue[T]) drain() {
	defer close(q.out)
	for {
		q.Lock()
		if len(q.items) == 0 {
			q.Unlock()
			select {
			case <-q.notify:
				continue
			case <-q.done:
				return
			}
		}

		item := q.items[0]
		q.items = q.items[1:]
		q.Unlock()

		select {
		case q.out <- item:
		case <-q.done:
			return
		}
	}
}
