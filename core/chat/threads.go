package chat

import (
	"fmt"
	"github.com/YasiruR/walletconnect-prober/domain"
	"github.com/YasiruR/walletconnect-prober/domain/models"
	"github.com/YasiruR/walletconnect-prober/domain/services"
	"github.com/YasiruR/walletconnect-prober/storage"
)

const prefixThreads = `thread:`

// Threads holds the established chat threads keyed by thread topic
type Threads struct {
	store *storage.CodableStore[models.Thread]
}

func NewThreads(kv services.KeyValueStorage) *Threads {
	return &Threads{store: storage.NewCodableStore[models.Thread](kv, prefixThreads)}
}

func (t *Threads) Set(thread models.Thread) error {
	return t.store.Set(thread.Topic, thread)
}

func (t *Threads) Get(topic string) (models.Thread, error) {
	thread, err := t.store.Get(topic)
	if err != nil {
		return models.Thread{}, fmt.Errorf(`%w (%s)`, domain.ErrThreadNotFound, topic)
	}
	return thread, nil
}

func (t *Threads) All() ([]models.Thread, error) {
	all, err := t.store.All()
	if err != nil {
		return nil, err
	}

	threads := make([]models.Thread, 0, len(all))
	for _, thread := range all {
		threads = append(threads, thread)
	}
	return threads, nil
}
