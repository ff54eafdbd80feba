package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lucasfdcampos/cnae-search/internal/config"
	"github.com/lucasfdcampos/cnae-search/internal/logging"
)

var (
	// Global flags
	logLevel string
	offline  bool

	cfg    config.Config
	logger *zap.Logger
)

// rootCmd runs the HTTP service when called without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "cnae-search",
	Short: "Smart search over the Brazilian CNAE classification",
	Long: `cnae-search maps free-text business descriptions to CNAE subclass codes.

A query goes through explicit overrides, semantic expansion, a local ranked index,
an optional AI classifier (Groq) and result diversification.

Environment (or .env): ADDR, REDIS_ADDR, REDIS_PASSWORD, REDIS_DB, MONGO_URI,
CNAE_REGISTRY_URL, GROQ_API_KEY, GROQ_MODEL, INDEX_TIMEOUT, VARIANT_TTL, LOG_LEVEL.

Run without arguments to start the HTTP API.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		logger, err = logging.New(cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides LOG_LEVEL)")
	rootCmd.PersistentFlags().BoolVar(&offline, "offline", false, "skip Redis and MongoDB; use the in-memory cache only")

	rootCmd.AddCommand(serveCmd, searchCmd, catalogCmd)
	catalogCmd.AddCommand(catalogInfoCmd, catalogRefreshCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
