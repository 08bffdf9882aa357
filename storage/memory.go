package storage

import (
	"github.com/YasiruR/walletconnect-prober/domain"
	"sync"
)

// Memory is a runtime key-value store used when nothing has to survive a
// restart and in tests
type Memory struct {
	*sync.RWMutex
	data map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{RWMutex: &sync.RWMutex{}, data: map[string][]byte{}}
}

func (m *Memory) Get(key string) ([]byte, error) {
	m.RLock()
	defer m.RUnlock()
	val, ok := m.data[key]
	if !ok {
		return nil, domain.ErrRecordNotFound
	}

	return clone(val), nil
}

func (m *Memory) Set(key string, val []byte) error {
	m.Lock()
	defer m.Unlock()
	m.data[key] = clone(val)
	return nil
}

func (m *Memory) Delete(key string) error {
	m.Lock()
	defer m.Unlock()
	delete(m.data, key)
	return nil
}

func (m *Memory) All() (map[string][]byte, error) {
	m.RLock()
	defer m.RUnlock()
	all := make(map[string][]byte, len(m.data))
	for k, v := range m.data {
		all[k] = clone(v)
	}
	return all, nil
}

func clone(val []byte) []byte {
	c := make([]byte, len(val))
	copy(c, val)
	return c
}
