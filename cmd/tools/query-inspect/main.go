package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"query-orchestrator/internal/common/logger"
	"query-orchestrator/internal/configsvc"
)

var (
	configFile string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:   "query-inspect",
	Short: "Inspect classification, routing and configuration offline",
	Long: `query-inspect runs the classifier, the multi-intent analyzer and the structural
validator against a local orchestration file, without a broker or any backend.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "orchestration file (default: built-in configuration)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "log component diagnostics to stderr")

	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(checkConfigCmd)
	rootCmd.AddCommand(checkPayloadCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newLogger() logger.Logger {
	if debug {
		return logger.NewStructured("debug", "console", "stderr")
	}
	return logger.NewNoOpLogger()
}

// loadService builds a configuration service over the --config file. Without a file
// every component keeps its built-in configuration.
func loadService(ctx context.Context, log logger.Logger) *configsvc.Service {
	var sources []configsvc.Source
	if configFile != "" {
		sources = append(sources, configsvc.NewFileSource(configFile, log))
	}
	svc := configsvc.NewService(configsvc.Options{Sources: sources}, log)
	svc.Initialize(ctx, 5*time.Second)
	return svc
}

// refresh loads configuration into each component; failures keep built-in values.
func refresh(ctx context.Context, refreshers ...configsvc.Refresher) {
	for _, r := range refreshers {
		_ = r.Refresh(ctx)
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
