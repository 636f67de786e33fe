/*
main.go - Application entry point

PURPOSE:
  Command-line interface for the reaction points engine. Loads
  configuration, wires the datastore, lock, policies and engine, and runs
  one of the subcommands below.

COMMANDS:
  serve     Run the HTTP API (default port 8080) and the periodic auditor
  migrate   Create the schema and the platform account
  seed      Reset the datastore and load a demo scenario
  audit     Run one consistency audit and exit non-zero on drift
  token     Print a signed JWT for an account (development helper)

CONFIGURATION (lowest to highest precedence):
  1. Built-in defaults (config/config.go)
  2. --config file (yaml, json or toml)
  3. .env in the working directory
  4. PP_* environment variables, e.g. PP_STORE_DRIVER=postgres
  5. Command-line flags

  The X-Account-ID dev header and the admin routes default to on for the
  memory driver only. Persistent stores need auth.jwt_secret to serve.

STARTUP SEQUENCE (serve):
  1. Load config, initialize logger, metrics and tracing
  2. Open the datastore (migrations run on open)
  3. Build the pair locker (Redis when lock.redis_addr is set)
  4. Apply the policies file, then stored policy overrides
  5. Verify the platform account exists
  6. Start the auditor and the HTTP server

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the auditor, flush traces, close the datastore
  4. Exit

EXAMPLES:
  # In-memory store with the walkthrough scenario
  ./server serve --store-driver memory

  # SQLite file
  ./server migrate --store-dsn ./data/points.db --platform-balance 1000
  PP_AUTH_JWT_SECRET=change-me ./server serve --store-dsn ./data/points.db

  # PostgreSQL with a shared Redis lock
  PP_STORE_DRIVER=postgres PP_STORE_DSN=postgres://... PP_LOCK_REDIS_ADDR=redis:6379 \
    PP_AUTH_JWT_SECRET=change-me PP_ADMIN_ENABLED=true ./server serve

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Configuration keys
*/
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/nuxni/reaction-engine/config"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	v          = config.New()
	configFile string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "server",
	Short: "Reaction points engine",
	Long: `Like/dislike toggles that move points between the reacting account,
the content owner and the platform account, atomically with reaction state
and counters.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(v, configFile)
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"reaction-engine version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "Config file (yaml, json or toml)")
	flags.String("store-driver", "", "Datastore: sqlite, postgres or memory")
	flags.String("store-dsn", "", "SQLite path or PostgreSQL DSN")
	flags.String("platform-account", "", "Platform account ID")
	flags.String("log-level", "", "Log level: debug, info, warn, error")
	flags.String("log-file", "", "Rotated JSON log file")
	bindFlags(v, flags, map[string]string{
		"store.driver":        "store-driver",
		"store.dsn":           "store-dsn",
		"platform.account_id": "platform-account",
		"log.level":           "log-level",
		"log.file":            "log-file",
	})

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(tokenCmd)
}

// bindFlags binds each config key to a flag so an explicitly set flag wins
// over every other source.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", name, err))
		}
	}
}
