package storage

import (
	"errors"
	"fmt"
	"github.com/YasiruR/walletconnect-prober/domain"
	"github.com/YasiruR/walletconnect-prober/domain/services"
	"sync"
	"time"
)

// Sequence is a pairing or a session addressed by its topic
type Sequence interface {
	Key() string
	ExpiryDate() time.Time
}

// SequenceStore removes sequences lazily once their expiry has passed. Every
// removal through expiry is reported to the registered callback.
type SequenceStore[T Sequence] struct {
	*sync.RWMutex
	store        *CodableStore[T]
	onExpiration func(seq T)
	now          func() time.Time
}

func NewSequenceStore[T Sequence](kv services.KeyValueStorage, prefix string) *SequenceStore[T] {
	return &SequenceStore[T]{
		RWMutex: &sync.RWMutex{},
		store:   NewCodableStore[T](kv, prefix),
		now:     time.Now,
	}
}

func (s *SequenceStore[T]) OnExpiration(f func(seq T)) {
	s.Lock()
	defer s.Unlock()
	s.onExpiration = f
}

func (s *SequenceStore[T]) Set(seq T) error {
	s.Lock()
	defer s.Unlock()
	return s.store.Set(seq.Key(), seq)
}

func (s *SequenceStore[T]) Has(topic string) bool {
	_, err := s.Get(topic)
	return err == nil
}

// Get returns domain.ErrRecordNotFound for unknown and expired sequences
func (s *SequenceStore[T]) Get(topic string) (T, error) {
	var empty T
	s.Lock()
	seq, err := s.store.Get(topic)
	if err != nil {
		s.Unlock()
		return empty, err
	}

	if !s.expiredLocked(seq) {
		s.Unlock()
		return seq, nil
	}

	removed := s.removeLocked(seq)
	f := s.onExpiration
	s.Unlock()

	if removed && f != nil {
		f(seq)
	}
	return empty, domain.ErrRecordNotFound
}

func (s *SequenceStore[T]) All() ([]T, error) {
	s.Lock()
	all, err := s.store.All()
	if err != nil {
		s.Unlock()
		return nil, fmt.Errorf(`reading sequences failed - %w`, err)
	}

	var seqs, removed []T
	for _, seq := range all {
		if !s.expiredLocked(seq) {
			seqs = append(seqs, seq)
			continue
		}
		if s.removeLocked(seq) {
			removed = append(removed, seq)
		}
	}
	f := s.onExpiration
	s.Unlock()

	if f != nil {
		for _, seq := range removed {
			f(seq)
		}
	}
	return seqs, nil
}

func (s *SequenceStore[T]) Delete(topic string) error {
	s.Lock()
	defer s.Unlock()
	if err := s.store.Delete(topic); err != nil && !errors.Is(err, domain.ErrRecordNotFound) {
		return err
	}
	return nil
}

func (s *SequenceStore[T]) expiredLocked(seq T) bool {
	return !s.now().Before(seq.ExpiryDate())
}

// removeLocked reports whether this call removed the expired sequence. Only
// the caller which removed it fires the expiration callback.
func (s *SequenceStore[T]) removeLocked(seq T) bool {
	if _, err := s.store.Get(seq.Key()); err != nil {
		return false
	}
	if err := s.store.Delete(seq.Key()); err != nil {
		return false
	}
	return true
}
