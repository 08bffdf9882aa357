package relay

import (
	"errors"
	"fmt"
	"github.com/YasiruR/walletconnect-prober/domain"
	"github.com/YasiruR/walletconnect-prober/domain/messages"
	"github.com/YasiruR/walletconnect-prober/domain/services"
	"github.com/YasiruR/walletconnect-prober/storage"
	"strconv"
	"sync"
)

// Record is a json-rpc request seen on a topic and the response to it once
// known. Inbound records are requests received from the peer.
type Record struct {
	ID       int64              `json:"id"`
	Topic    string             `json:"topic"`
	Inbound  bool               `json:"inbound,omitempty"`
	Request  messages.Request   `json:"request"`
	Response *messages.Response `json:"response,omitempty"`
}

// History keeps json-rpc records in the key-value storage so that a request
// id is accepted only once, including across restarts
type History struct {
	*sync.Mutex
	records *storage.CodableStore[Record]
}

func NewHistory(kv services.KeyValueStorage, prefix string) *History {
	return &History{Mutex: &sync.Mutex{}, records: storage.NewCodableStore[Record](kv, prefix)}
}

// Set records an outgoing request
func (h *History) Set(topic string, req messages.Request) error {
	return h.set(topic, req, false)
}

// Receive records an incoming request and fails with domain.ErrDuplicateRequest
// when the id was already seen in either direction
func (h *History) Receive(topic string, req messages.Request) error {
	return h.set(topic, req, true)
}

func (h *History) set(topic string, req messages.Request, inbound bool) error {
	h.Lock()
	defer h.Unlock()
	key := strconv.FormatInt(req.ID, 10)
	_, err := h.records.Get(key)
	if err == nil {
		return fmt.Errorf(`%w (id: %d)`, domain.ErrDuplicateRequest, req.ID)
	}

	if !errors.Is(err, domain.ErrRecordNotFound) {
		return fmt.Errorf(`reading history failed - %w`, err)
	}

	return h.records.Set(key, Record{ID: req.ID, Topic: topic, Inbound: inbound, Request: req})
}

// Resolve attaches the response to the record of its request
func (h *History) Resolve(res messages.Response) (Record, error) {
	h.Lock()
	defer h.Unlock()
	key := strconv.FormatInt(res.ID, 10)
	rec, err := h.records.Get(key)
	if err != nil {
		return Record{}, fmt.Errorf(`no request found for response %d - %w`, res.ID, err)
	}

	if rec.Inbound {
		return Record{}, fmt.Errorf(`response %d does not answer an outgoing request - %w`, res.ID, domain.ErrRecordNotFound)
	}

	if rec.Response != nil {
		return Record{}, fmt.Errorf(`%w (response id: %d)`, domain.ErrDuplicateRequest, res.ID)
	}

	rec.Response = &res
	if err = h.records.Set(key, rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (h *History) Get(id int64) (Record, error) {
	return h.records.Get(strconv.FormatInt(id, 10))
}

func (h *History) Delete(topic string) error {
	h.Lock()
	defer h.Unlock()
	all, err := h.records.All()
	if err != nil {
		return fmt.Errorf(`reading history failed - %w`, err)
	}

	for key, rec := range all {
		if rec.Topic != topic {
			continue
		}
		if err = h.records.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

// Pending lists the records still waiting for a response
func (h *History) Pending() ([]Record, error) {
	all, err := h.records.All()
	if err != nil {
		return nil, fmt.Errorf(`reading history failed - %w`, err)
	}

	var pending []Record
	for _, rec := range all {
		if !rec.Inbound && rec.Response == nil {
			pending = append(pending, rec)
		}
	}
	return pending, nil
}
