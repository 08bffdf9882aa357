package debounce

import (
	"sync"
	"time"
)

// Debouncer drops repeated signals of the same value until the delay since
// the first accepted signal has elapsed
type Debouncer[T comparable] struct {
	*sync.Mutex
	delay     time.Duration
	debounced map[T]struct{}
	afterFunc func(d time.Duration, f func()) *time.Timer
}

func New[T comparable](delay time.Duration) *Debouncer[T] {
	return &Debouncer[T]{
		Mutex:     &sync.Mutex{},
		delay:     delay,
		debounced: map[T]struct{}{},
		afterFunc: time.AfterFunc,
	}
}

// Signal reports true for the first signal of a value within the window
func (d *Debouncer[T]) Signal(val T) bool {
	d.Lock()
	defer d.Unlock()
	if _, ok := d.debounced[val]; ok {
		return false
	}

	d.debounced[val] = struct{}{}
	d.afterFunc(d.delay, func() { d.reset(val) })
	return true
}

func (d *Debouncer[T]) reset(val T) {
	d.Lock()
	defer d.Unlock()
	delete(d.debounced, val)
}
