package cli

import (
	"fmt"
	"github.com/YasiruR/walletconnect-prober/domain/container"
	"github.com/YasiruR/walletconnect-prober/domain/models"
	"github.com/YasiruR/walletconnect-prober/storage"
	"github.com/YasiruR/walletconnect-prober/transport"
	"os"
	"path/filepath"
)

const (
	kvDir        = `kv`
	keychainFile = `keychain.zst`
)

// setConfigs opens the persistent stores under the data directory and
// returns the client config along with a function releasing them
func setConfigs(args *container.Args) (*container.Config, func() error, error) {
	if err := os.MkdirAll(args.DataDir, 0o700); err != nil {
		return nil, nil, fmt.Errorf(`creating data directory failed - %w`, err)
	}

	kv, err := storage.NewLevelDB(filepath.Join(args.DataDir, kvDir))
	if err != nil {
		return nil, nil, err
	}

	keychain, err := storage.NewFile(filepath.Join(args.DataDir, keychainFile))
	if err != nil {
		_ = kv.Close()
		return nil, nil, err
	}

	cfg := &container.Config{
		Args: args,
		Metadata: models.AppMetadata{
			Name:        args.Name,
			Description: `walletconnect prober agent`,
			URL:         `https://walletconnect.com`,
			Icons:       []string{},
		},
		KeyValueStorage:  kv,
		KeychainStorage:  keychain,
		WebSocketFactory: transport.NewDialer(nil),
	}

	return cfg, kv.Close, nil
}
