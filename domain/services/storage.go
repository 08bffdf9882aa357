package services

// KeyValueStorage persists byte blobs keyed by string. Get returns
// domain.ErrRecordNotFound for missing keys.
type KeyValueStorage interface {
	Get(key string) ([]byte, error)
	Set(key string, val []byte) error
	Delete(key string) error
	All() (map[string][]byte, error)
}

// KeychainStorage has the same shape as KeyValueStorage but holds secrets
type KeychainStorage interface {
	KeyValueStorage
}
