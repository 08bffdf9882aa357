package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"github.com/YasiruR/walletconnect-prober/domain"
	"github.com/klauspost/compress/zstd"
	"os"
	"path/filepath"
	"sync"
)

// File is a keychain kept as a zstd compressed json snapshot which is
// rewritten on every change
type File struct {
	*sync.RWMutex
	path    string
	data    map[string][]byte
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func NewFile(path string) (*File, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		return nil, fmt.Errorf(`creating zstd encoder failed - %w`, err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf(`creating zstd decoder failed - %w`, err)
	}

	f := &File{
		RWMutex: &sync.RWMutex{},
		path:    path,
		data:    map[string][]byte{},
		encoder: encoder,
		decoder: decoder,
	}

	if err = f.load(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) Get(key string) ([]byte, error) {
	f.RLock()
	defer f.RUnlock()
	val, ok := f.data[key]
	if !ok {
		return nil, domain.ErrRecordNotFound
	}

	return clone(val), nil
}

func (f *File) Set(key string, val []byte) error {
	f.Lock()
	defer f.Unlock()
	f.data[key] = clone(val)
	return f.flush()
}

func (f *File) Delete(key string) error {
	f.Lock()
	defer f.Unlock()
	if _, ok := f.data[key]; !ok {
		return nil
	}

	delete(f.data, key)
	return f.flush()
}

func (f *File) All() (map[string][]byte, error) {
	f.RLock()
	defer f.RUnlock()
	all := make(map[string][]byte, len(f.data))
	for k, v := range f.data {
		all[k] = clone(v)
	}
	return all, nil
}

func (f *File) load() error {
	compressed, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf(`reading keychain file failed - %w`, err)
	}

	data, err := f.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return fmt.Errorf(`decompressing keychain file failed - %w`, err)
	}

	if err = json.Unmarshal(data, &f.data); err != nil {
		return fmt.Errorf(`unmarshalling keychain file failed - %w`, err)
	}
	return nil
}

// flush must be called while holding the write lock
func (f *File) flush() error {
	data, err := json.Marshal(f.data)
	if err != nil {
		return fmt.Errorf(`marshalling keychain failed - %w`, err)
	}

	if err = os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf(`creating keychain directory failed - %w`, err)
	}

	tmp := f.path + `.tmp`
	if err = os.WriteFile(tmp, f.encoder.EncodeAll(data, nil), 0o600); err != nil {
		return fmt.Errorf(`writing keychain file failed - %w`, err)
	}

	if err = os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf(`replacing keychain file failed - %w`, err)
	}
	return nil
}
