package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	// Persistent flags available to all subcommands
	configFile string
	logLevel   string
	logFormat  string
	jsonOutput bool

	// Version is injected during build
	Version = "dev"
	// Commit is injected during build
	Commit = "none"
	// BuildDate is injected during build
	BuildDate = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "netlens",
	Short: "netlens observes outgoing HTTP and gRPC traffic",
	Long: `netlens captures the requests a Go process makes, normalizes them into
network events, and serves them as a filterable feed over HTTP and WebSocket.

Configuration is read from the file given with --config; flags override the
log settings it contains.`,
	SilenceUsage:  true,
	SilenceErrors: true, // We handle errors in Execute()
}

// Execute runs the root command and exits non-zero on error. SIGINT and
// SIGTERM cancel the command context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configFile, "config", "c", "", "Path to a YAML or JSON configuration file")
	pf.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides the config file")
	pf.StringVar(&logFormat, "log-format", "", "Log format (text, json); overrides the config file")
	pf.BoolVar(&jsonOutput, "json", false, "Output command results in JSON format")
}
