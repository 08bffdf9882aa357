package cli

import (
	"context"
	"errors"
	"fmt"
	"github.com/YasiruR/walletconnect-prober/client"
	"github.com/YasiruR/walletconnect-prober/log"
	"github.com/YasiruR/walletconnect-prober/relay/mock"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"net/http"
	"os"
	"os/signal"
	"syscall"
)

var (
	configPath  string
	metricsAddr string
	relayAddr   string
)

func Execute() error {
	root := &cobra.Command{
		Use:           `walletconnect-prober`,
		Short:         `WalletConnect v2 pairing, session and chat agent`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&configPath, flagConfig, ``, `yaml config file`)
	root.AddCommand(agentCmd(), relayCmd())
	return root.Execute()
}

func agentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   `agent`,
		Short: `Run an interactive agent connected to a relay`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			args, err := loadArgs(configPath)
			if err != nil {
				return err
			}

			if err = overrideArgs(args, cmd.Flags()); err != nil {
				return err
			}

			cfg, release, err := setConfigs(args)
			if err != nil {
				return err
			}
			defer release()

			reg := prometheus.NewRegistry()
			c, err := client.New(cfg, reg)
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if metricsAddr != `` {
				go serveMetrics(ctx, metricsAddr, reg, c.Log)
			}

			if err = c.Start(ctx); err != nil {
				return err
			}

			return Init(ctx, c)
		},
	}

	cmd.Flags().String(flagRelayHost, ``, `relay host (host[:port])`)
	cmd.Flags().String(flagProjectID, ``, `project id sent to the relay`)
	cmd.Flags().String(flagConnection, ``, `socket connection type (automatic|manual)`)
	cmd.Flags().String(flagLogLevel, ``, `log level (off|error|debug)`)
	cmd.Flags().String(flagDataDir, ``, `directory for the key-value store and keychain`)
	cmd.Flags().String(flagName, ``, `name advertised in the app metadata`)
	cmd.Flags().Bool(flagInsecure, false, `connect with ws instead of wss`)
	cmd.Flags().StringVar(&metricsAddr, `metrics`, ``, `address to serve prometheus metrics on`)
	return cmd
}

func relayCmd() *cobra.Command {
	var level string
	cmd := &cobra.Command{
		Use:   `relay`,
		Short: `Run a local relay for development`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return mock.NewServer(log.NewLogger(level)).Run(ctx, relayAddr)
		},
	}

	cmd.Flags().StringVar(&relayAddr, `addr`, `127.0.0.1:5555`, `listen address`)
	cmd.Flags().StringVar(&level, flagLogLevel, log.LevelDebug, `log level (off|error|debug)`)
	return cmd
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger *log.Logger) {
	router := mux.NewRouter()
	router.Handle(mock.MetricsEndpoint, promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	srv := &http.Server{Addr: addr, Handler: router}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error(`metrics`, fmt.Sprintf(`serving metrics failed - %v`, err))
	}
}
