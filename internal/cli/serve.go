package cli

import (
	"fmt"

	"github.com/harun/nexus/internal/config"
	"github.com/harun/nexus/internal/daemon"
	"github.com/harun/nexus/internal/logger"
	"github.com/spf13/cobra"
)

var serveWatchConfig bool

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"start"},
	Short:   "Run the Nexus daemon in the foreground",
	Long: `Start the agent engine and its HTTP gateway in the foreground.
The daemon runs until it receives SIGINT or SIGTERM, then cancels running
sessions and drains its streams before exiting. Edits to the config file
are applied live where possible.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveWatchConfig, "watch-config", true, "reload log level and rate limits when the config file changes")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}
	if err := d.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	if serveWatchConfig {
		err := loader.Watch(func(next *config.Config, err error) {
			if err != nil {
				log.Error().Err(err).Msg("Failed to reload config")
				return
			}
			if logLevel != "" {
				next.Logging.Level = logLevel
			}
			if err := next.Validate(); err != nil {
				log.Error().Err(err).Msg("Ignoring invalid config change")
				return
			}
			d.ApplyConfig(next)
		})
		if err != nil {
			log.Debug().Err(err).Msg("Config file watching disabled")
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Nexus %s listening on %s\n", daemon.Version, d.Status().Addr)
	d.Wait()
	return nil
}
