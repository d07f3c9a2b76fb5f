package memoria

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/soundprediction/memoria"
	"github.com/soundprediction/memoria/pkg/config"
	"github.com/soundprediction/memoria/pkg/logger"
	"github.com/soundprediction/memoria/pkg/types"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "memoria",
		Short: "Memoria: bitemporal knowledge graph memory",
		Long: `Memoria captures natural-language memories into a bitemporal knowledge
graph and serves them back through recall, traversal, and path queries.

Memories are plain text. Entity extraction turns them into entities,
relationships, and mention provenance, tracked on both valid time and
transaction time so queries can ask what was true at a moment and what
was known at a moment.`,
	}
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./memoria.yaml, then ~/.memoria/memoria.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")

	// Bind flags to viper
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// setup loads configuration and builds the logger shared by every subcommand.
func setup() (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, logger.New(cfg.Log.Level, cfg.Log.Format), nil
}

// openClient assembles a client for one-shot commands. The caller owns Close.
func openClient() (*memoria.Client, *config.Config, error) {
	cfg, log, err := setup()
	if err != nil {
		return nil, nil, err
	}
	client, err := memoria.Open(cfg, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open memoria: %w", err)
	}
	return client, cfg, nil
}

// addDomainFlags registers the domain scope flags shared by commands that
// capture or query.
func addDomainFlags(cmd *cobra.Command) {
	cmd.Flags().String("organization", "", "Domain scope: organization")
	cmd.Flags().String("project", "", "Domain scope: project")
	cmd.Flags().String("repository", "", "Domain scope: repository")
}

func domainFromFlags(cmd *cobra.Command) types.Domain {
	org, _ := cmd.Flags().GetString("organization")
	project, _ := cmd.Flags().GetString("project")
	repo, _ := cmd.Flags().GetString("repository")
	return types.Domain{Organization: org, Project: project, Repository: repo}
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
