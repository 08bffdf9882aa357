package storage

import (
	"encoding/json"
	"fmt"
	"github.com/YasiruR/walletconnect-prober/domain/services"
	"strings"
)

// CodableStore keeps json encoded values of T under a key prefix of the
// underlying key-value storage
type CodableStore[T any] struct {
	kv     services.KeyValueStorage
	prefix string
}

func NewCodableStore[T any](kv services.KeyValueStorage, prefix string) *CodableStore[T] {
	return &CodableStore[T]{kv: kv, prefix: prefix}
}

func (c *CodableStore[T]) Set(key string, val T) error {
	data, err := json.Marshal(val)
	if err != nil {
		return fmt.Errorf(`marshalling %s failed - %w`, key, err)
	}
	return c.kv.Set(c.prefix+key, data)
}

func (c *CodableStore[T]) Get(key string) (T, error) {
	var val T
	data, err := c.kv.Get(c.prefix + key)
	if err != nil {
		return val, err
	}

	if err = json.Unmarshal(data, &val); err != nil {
		return val, fmt.Errorf(`unmarshalling %s failed - %w`, key, err)
	}
	return val, nil
}

func (c *CodableStore[T]) Delete(key string) error {
	return c.kv.Delete(c.prefix + key)
}

// All decodes every value under the prefix keyed without the prefix. Entries
// which cannot be decoded are skipped.
func (c *CodableStore[T]) All() (map[string]T, error) {
	all, err := c.kv.All()
	if err != nil {
		return nil, err
	}

	vals := map[string]T{}
	for k, data := range all {
		if !strings.HasPrefix(k, c.prefix) {
			continue
		}

		var val T
		if err = json.Unmarshal(data, &val); err != nil {
			continue
		}
		vals[strings.TrimPrefix(k, c.prefix)] = val
	}
	return vals, nil
}
