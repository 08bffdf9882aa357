package storage

import (
	"errors"
	"fmt"
	"github.com/YasiruR/walletconnect-prober/domain"
	"github.com/syndtr/goleveldb/leveldb"
	lvlstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
	"path/filepath"
	"strings"
)

// LevelDB persists records on disk so that json-rpc history and sequences
// survive restarts. All keys are scoped under a namespace prefix.
type LevelDB struct {
	db     *leveldb.DB
	prefix string
	owner  bool
}

func NewLevelDB(path string) (*LevelDB, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == `` {
		return nil, fmt.Errorf(`leveldb path is required`)
	}

	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf(`resolving leveldb path failed - %w`, err)
	}

	db, err := leveldb.OpenFile(abs, nil)
	if err != nil {
		return nil, fmt.Errorf(`opening leveldb failed - %w`, err)
	}

	return &LevelDB{db: db, owner: true}, nil
}

// NewInMemoryLevelDB runs leveldb on a memory backed storage
func NewInMemoryLevelDB() (*LevelDB, error) {
	db, err := leveldb.Open(lvlstorage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf(`opening in-memory leveldb failed - %w`, err)
	}

	return &LevelDB{db: db, owner: true}, nil
}

// Namespace returns a view of the same database restricted to keys with the
// given prefix
func (l *LevelDB) Namespace(prefix string) *LevelDB {
	return &LevelDB{db: l.db, prefix: l.prefix + prefix}
}

func (l *LevelDB) Get(key string) ([]byte, error) {
	val, err := l.db.Get([]byte(l.prefix+key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, domain.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf(`reading leveldb failed - %w`, err)
	}

	return val, nil
}

func (l *LevelDB) Set(key string, val []byte) error {
	if err := l.db.Put([]byte(l.prefix+key), val, nil); err != nil {
		return fmt.Errorf(`writing leveldb failed - %w`, err)
	}
	return nil
}

func (l *LevelDB) Delete(key string) error {
	if err := l.db.Delete([]byte(l.prefix+key), nil); err != nil {
		return fmt.Errorf(`deleting from leveldb failed - %w`, err)
	}
	return nil
}

func (l *LevelDB) All() (map[string][]byte, error) {
	iter := l.db.NewIterator(util.BytesPrefix([]byte(l.prefix)), nil)
	defer iter.Release()

	all := map[string][]byte{}
	for iter.Next() {
		all[strings.TrimPrefix(string(iter.Key()), l.prefix)] = clone(iter.Value())
	}

	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf(`iterating leveldb failed - %w`, err)
	}
	return all, nil
}

// Close releases the database if this instance opened it
func (l *LevelDB) Close() error {
	if !l.owner {
		return nil
	}
	return l.db.Close()
}
