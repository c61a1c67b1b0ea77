package cli

import (
	"os"

	"github.com/harun/nexus/internal/daemon"
	"github.com/spf13/cobra"
)

const defaultServer = "http://127.0.0.1:8080"

var (
	cfgFile   string
	logLevel  string
	serverURL string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "nexus",
	Short: "Nexus - ReAct agent orchestration service",
	Long: `Nexus runs multi-step ReAct agent sessions over a registry of typed tools.
Each session streams its thought, action and observation steps live over SSE
or WebSocket while the engine enforces step limits, retries and timeouts.`,
	Version:       daemon.Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	server := os.Getenv("NEXUS_SERVER")
	if server == "" {
		server = defaultServer
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.nexus/nexus.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); overrides the config file")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", server, "base URL of a running nexus gateway")

	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the current version
func GetVersion() string {
	return daemon.Version
}
