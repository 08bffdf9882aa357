package relay

import (
	"encoding/json"
	"testing"

	"github.com/YasiruR/walletconnect-prober/domain"
	"github.com/YasiruR/walletconnect-prober/domain/messages"
	"github.com/YasiruR/walletconnect-prober/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func request(id int64) messages.Request {
	return messages.Request{ID: id, JSONRPC: domain.JSONRPCVersion, Method: domain.MethodSessionPing, Params: json.RawMessage(`{}`)}
}

func TestHistoryRejectsDuplicates(t *testing.T) {
	h := NewHistory(storage.NewMemory(), `h:`)
	require.NoError(t, h.Set(`t1`, request(1)))
	assert.ErrorIs(t, h.Set(`t1`, request(1)), domain.ErrDuplicateRequest)
	assert.ErrorIs(t, h.Set(`t2`, request(1)), domain.ErrDuplicateRequest)
}

func TestHistoryResolveAndPending(t *testing.T) {
	h := NewHistory(storage.NewMemory(), `h:`)
	require.NoError(t, h.Set(`t1`, request(1)))
	require.NoError(t, h.Set(`t1`, request(2)))

	pending, err := h.Pending()
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	rec, err := h.Resolve(messages.NewSuccess(1))
	require.NoError(t, err)
	assert.Equal(t, `t1`, rec.Topic)
	assert.Equal(t, domain.MethodSessionPing, rec.Request.Method)
	require.NotNil(t, rec.Response)

	_, err = h.Resolve(messages.NewSuccess(1))
	assert.ErrorIs(t, err, domain.ErrDuplicateRequest)

	_, err = h.Resolve(messages.NewSuccess(99))
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)

	pending, err = h.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(2), pending[0].ID)
}

func TestHistoryDeleteByTopic(t *testing.T) {
	h := NewHistory(storage.NewMemory(), `h:`)
	require.NoError(t, h.Set(`t1`, request(1)))
	require.NoError(t, h.Set(`t2`, request(2)))
	require.NoError(t, h.Delete(`t1`))

	_, err := h.Get(1)
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)
	rec, err := h.Get(2)
	require.NoError(t, err)
	assert.Equal(t, `t2`, rec.Topic)
}

func TestHistoryReceive(t *testing.T) {
	h := NewHistory(storage.NewMemory(), `h:`)
	require.NoError(t, h.Set(`t1`, request(1)))

	// an outgoing request coming back is not accepted as a peer request
	assert.ErrorIs(t, h.Receive(`t1`, request(1)), domain.ErrDuplicateRequest)

	require.NoError(t, h.Receive(`t1`, request(2)))
	assert.ErrorIs(t, h.Receive(`t1`, request(2)), domain.ErrDuplicateRequest)

	// our own response to a peer request is not routed as an answer
	_, err := h.Resolve(messages.NewSuccess(2))
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)

	pending, err := h.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(1), pending[0].ID)
}
