package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/glimte/svcbus"
	"github.com/glimte/svcbus/internal/config"
	"github.com/glimte/svcbus/internal/logging"
)

var (
	// Version information
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// app carries what every command needs once the configuration is loaded
type app struct {
	envFile   string
	service   string
	rabbitURL string

	cfg    *config.Config
	logger *slog.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "svcbus",
		Short: "Run and inspect services connected through RabbitMQ",
		Long: `svcbus connects a logical service (user, auth, ...) to RabbitMQ.
It runs the service's supervised consumer, publishes events, sends requests
to other services and inspects the service's queues.

Settings come from SVCBUS_ environment variables and an optional .env file.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildTime),
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "Env file to load before reading the environment")
	rootCmd.PersistentFlags().StringVarP(&a.service, "service", "s", "", "Service name (overrides SVCBUS_SERVICE)")
	rootCmd.PersistentFlags().StringVarP(&a.rabbitURL, "url", "u", "", "RabbitMQ connection URL (overrides SVCBUS_RABBIT_URL)")

	rootCmd.AddCommand(
		newRunCmd(a),
		newPublishCmd(a),
		newRequestCmd(a),
		newInspectCmd(a),
		newHealthCmd(a),
	)
	return rootCmd
}

// load applies the flag overrides, then reads the configuration
func (a *app) load() error {
	overrides := map[string]string{
		config.EnvPrefix + "_SERVICE":    a.service,
		config.EnvPrefix + "_RABBIT_URL": a.rabbitURL,
	}
	for key, value := range overrides {
		if value == "" {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return err
		}
	}

	cfg, err := config.Load(a.envFile)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logging.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(a.logger)
	return nil
}

// newService wires a service from the loaded configuration
func (a *app) newService() (*svcbus.Service, error) {
	return svcbus.NewService(a.cfg.Broker(),
		svcbus.WithLogger(a.logger),
		svcbus.WithConnectionName("svcbus-"+a.cfg.Service),
		svcbus.WithConnectRetries(a.cfg.ConnectMaxRetries, a.cfg.ConnectRetryDelay),
		svcbus.WithRequestTimeout(a.cfg.RPCTimeout),
		svcbus.WithPrefetchCount(a.cfg.PrefetchCount),
		svcbus.WithStartDelay(a.cfg.StartDelay),
		svcbus.WithRestartBackoff(a.cfg.RestartInitial, a.cfg.RestartMax),
	)
}

func printJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
