package cli

import (
	"fmt"
	"github.com/YasiruR/walletconnect-prober/domain"
	"github.com/YasiruR/walletconnect-prober/domain/container"
	"github.com/YasiruR/walletconnect-prober/log"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
	"os"
)

const (
	flagConfig     = `config`
	flagRelayHost  = `relay-host`
	flagProjectID  = `project-id`
	flagConnection = `connection`
	flagLogLevel   = `log-level`
	flagDataDir    = `data-dir`
	flagName       = `name`
	flagInsecure   = `insecure`
)

func defaultArgs() *container.Args {
	return &container.Args{
		RelayHost:      `relay.walletconnect.com`,
		ConnectionType: string(domain.ConnectionAutomatic),
		LogLevel:       log.LevelError,
		DataDir:        `.walletconnect`,
		Name:           `prober`,
	}
}

// loadArgs reads the yaml file at path over the defaults. An empty path
// returns the defaults.
func loadArgs(path string) (*container.Args, error) {
	args := defaultArgs()
	if path == `` {
		return args, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf(`reading config file failed - %w`, err)
	}

	if err = yaml.Unmarshal(data, args); err != nil {
		return nil, fmt.Errorf(`parsing config file failed - %w`, err)
	}
	return args, nil
}

// overrideArgs applies the flags explicitly set on the command line
func overrideArgs(args *container.Args, flags *pflag.FlagSet) error {
	var err error
	str := func(name string, dst *string) {
		if err == nil && flags.Changed(name) {
			*dst, err = flags.GetString(name)
		}
	}

	str(flagRelayHost, &args.RelayHost)
	str(flagProjectID, &args.ProjectID)
	str(flagConnection, &args.ConnectionType)
	str(flagLogLevel, &args.LogLevel)
	str(flagDataDir, &args.DataDir)
	str(flagName, &args.Name)
	if err == nil && flags.Changed(flagInsecure) {
		args.Insecure, err = flags.GetBool(flagInsecure)
	}

	if err != nil {
		return fmt.Errorf(`reading flags failed - %w`, err)
	}
	return nil
}
