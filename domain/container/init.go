package container

import (
	"fmt"
	"github.com/YasiruR/walletconnect-prober/domain"
	"github.com/YasiruR/walletconnect-prober/domain/models"
	"github.com/YasiruR/walletconnect-prober/domain/services"
	"github.com/YasiruR/walletconnect-prober/log"
)

// Args are the values accepted from the command line or a config file
type Args struct {
	RelayHost      string `yaml:"relayHost"`
	ProjectID      string `yaml:"projectId"`
	ConnectionType string `yaml:"socketConnectionType"`
	LogLevel       string `yaml:"logLevel"`
	DataDir        string `yaml:"dataDir"`
	Name           string `yaml:"name"`
	Insecure       bool   `yaml:"insecure"`
}

type Config struct {
	*Args
	Metadata         models.AppMetadata
	KeyValueStorage  services.KeyValueStorage
	KeychainStorage  services.KeychainStorage
	WebSocketFactory services.WebSocketFactory
}

func (c *Config) Validate() error {
	if c.Args == nil || c.RelayHost == `` {
		return fmt.Errorf(`relay host is required`)
	}

	switch domain.ConnectionType(c.ConnectionType) {
	case domain.ConnectionAutomatic, domain.ConnectionManual:
	case ``:
		c.ConnectionType = string(domain.ConnectionAutomatic)
	default:
		return fmt.Errorf(`invalid socket connection type (%s)`, c.ConnectionType)
	}

	if c.LogLevel != `` && !log.ValidLevel(c.LogLevel) {
		return fmt.Errorf(`invalid log level (%s)`, c.LogLevel)
	}

	if c.KeyValueStorage == nil || c.KeychainStorage == nil || c.WebSocketFactory == nil {
		return fmt.Errorf(`key-value storage, keychain storage and websocket factory must be provided`)
	}

	return nil
}

// Container holds the wired components of a client
type Container struct {
	Cfg        *Config
	KeyManager services.KeyManager
	Codec      services.Codec
	Dispatcher services.Dispatcher
	Relayer    services.Relayer
	Interactor services.Interactor
	Log        *log.Logger
}
