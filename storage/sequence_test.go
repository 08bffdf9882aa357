package storage

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/YasiruR/walletconnect-prober/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testSequence struct {
	Topic  string    `json:"topic"`
	Expiry time.Time `json:"expiry"`
}

func (s testSequence) Key() string           { return s.Topic }
func (s testSequence) ExpiryDate() time.Time { return s.Expiry }

func TestSequenceStoreSetGet(t *testing.T) {
	store := NewSequenceStore[testSequence](NewMemory(), `seq:`)
	seq := testSequence{Topic: `t1`, Expiry: time.Now().Add(time.Hour).UTC()}
	require.NoError(t, store.Set(seq))

	got, err := store.Get(`t1`)
	require.NoError(t, err)
	assert.Equal(t, seq.Topic, got.Topic)
	assert.True(t, seq.Expiry.Equal(got.Expiry))
	assert.True(t, store.Has(`t1`))
	assert.False(t, store.Has(`t2`))

	require.NoError(t, store.Delete(`t1`))
	require.NoError(t, store.Delete(`t1`))
	assert.False(t, store.Has(`t1`))
}

func TestSequenceStoreExpiresLazily(t *testing.T) {
	kv := NewMemory()
	store := NewSequenceStore[testSequence](kv, `seq:`)
	var expired []string
	store.OnExpiration(func(seq testSequence) { expired = append(expired, seq.Topic) })

	require.NoError(t, store.Set(testSequence{Topic: `old`, Expiry: time.Now().Add(time.Minute)}))
	require.NoError(t, store.Set(testSequence{Topic: `new`, Expiry: time.Now().Add(time.Hour)}))

	store.now = func() time.Time { return time.Now().Add(10 * time.Minute) }

	_, err := store.Get(`old`)
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)
	assert.Equal(t, []string{`old`}, expired)

	_, err = kv.Get(`seq:old`)
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)

	all, err := store.All()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, `new`, all[0].Topic)
	assert.Equal(t, []string{`old`}, expired)
}

// slowKV widens the window between reading and deleting a record
type slowKV struct {
	*Memory
}

func (s slowKV) Get(key string) ([]byte, error) {
	time.Sleep(20 * time.Millisecond)
	return s.Memory.Get(key)
}

func TestSequenceStoreExpiresOnceUnderConcurrentReads(t *testing.T) {
	store := NewSequenceStore[testSequence](slowKV{NewMemory()}, `seq:`)
	var calls int32
	store.OnExpiration(func(testSequence) { atomic.AddInt32(&calls, 1) })

	require.NoError(t, store.Set(testSequence{Topic: `old`, Expiry: time.Now().Add(time.Minute)}))
	store.now = func() time.Time { return time.Now().Add(10 * time.Minute) }

	wg := &sync.WaitGroup{}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Get(`old`)
			assert.ErrorIs(t, err, domain.ErrRecordNotFound)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		all, err := store.All()
		assert.NoError(t, err)
		assert.Empty(t, all)
	}()
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestCodableStoreSkipsOtherPrefixes(t *testing.T) {
	kv := NewMemory()
	require.NoError(t, kv.Set(`other:x`, []byte(`{}`)))
	require.NoError(t, kv.Set(`seq:broken`, []byte(`{`)))

	store := NewCodableStore[testSequence](kv, `seq:`)
	require.NoError(t, store.Set(`a`, testSequence{Topic: `a`}))

	all, err := store.All()
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Contains(t, all, `a`)
}
