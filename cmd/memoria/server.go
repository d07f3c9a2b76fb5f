package memoria

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/soundprediction/memoria"
	"github.com/soundprediction/memoria/pkg/config"
	"github.com/soundprediction/memoria/pkg/server"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the memoria HTTP server",
	Long: `Start the memoria HTTP server to provide REST API access to the knowledge graph.

The server provides endpoints for:
- Capturing and forgetting memories
- Listing entities, with bitemporal time-travel filters
- Recall, traversal, and path queries
- Health checks

Configuration can be provided through config files, environment variables, or command-line flags.`,
	RunE: runServer,
}

var (
	serverHost string
	serverPort int
	serverMode string
)

func init() {
	rootCmd.AddCommand(serverCmd)

	// Server-specific flags
	serverCmd.Flags().StringVar(&serverHost, "host", "localhost", "Server host")
	serverCmd.Flags().IntVar(&serverPort, "port", 8080, "Server port")
	serverCmd.Flags().StringVar(&serverMode, "mode", "release", "Server mode (debug, release, test)")

	// Database flags
	serverCmd.Flags().String("db-driver", "sqlite", "Database driver (sqlite, memory)")
	serverCmd.Flags().String("db-path", "./memoria.db", "Database path (sqlite only)")

	// Extraction flags
	serverCmd.Flags().String("extraction-provider", "llm", "Extraction provider (llm, pattern)")
	serverCmd.Flags().String("extraction-model", "", "Model for LLM extraction")
	serverCmd.Flags().String("extraction-api-key", "", "API key for LLM extraction")
	serverCmd.Flags().String("extraction-base-url", "", "Base URL for OpenAI-compatible services")
	serverCmd.Flags().String("extraction-rules", "", "YAML file with pattern extraction rules")

	// Checkpoint flags
	serverCmd.Flags().Bool("checkpoint", false, "Skip memories that were already captured")
	serverCmd.Flags().String("checkpoint-path", "", "Checkpoint store directory")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}

	// Override config with command-line flags
	overrideConfigWithFlags(cmd, cfg)

	// Validate configuration
	if err := validateServerConfig(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	client, err := memoria.Open(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to open memoria: %w", err)
	}
	defer client.Close()

	// Create and setup server
	srv := server.New(cfg, client, log)
	srv.Setup()

	// Handle signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start server in a goroutine
	serverErrChan := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			serverErrChan <- err
		}
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-serverErrChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		fmt.Printf("\nReceived signal: %v\n", sig)

		// Create shutdown context with timeout
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		// Shutdown server
		if err := srv.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}

		fmt.Println("Server stopped gracefully")
		return nil
	}
}

func overrideConfigWithFlags(cmd *cobra.Command, cfg *config.Config) {
	// Server flags
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = serverHost
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = serverPort
	}
	if cmd.Flags().Changed("mode") {
		cfg.Server.Mode = serverMode
	}

	// Database flags
	if cmd.Flags().Changed("db-driver") {
		cfg.Database.Driver, _ = cmd.Flags().GetString("db-driver")
	}
	if cmd.Flags().Changed("db-path") {
		cfg.Database.Path, _ = cmd.Flags().GetString("db-path")
	}

	// Extraction flags
	if cmd.Flags().Changed("extraction-provider") {
		cfg.Extraction.Provider, _ = cmd.Flags().GetString("extraction-provider")
	}
	if cmd.Flags().Changed("extraction-model") {
		cfg.Extraction.Model, _ = cmd.Flags().GetString("extraction-model")
	}
	if cmd.Flags().Changed("extraction-api-key") {
		cfg.Extraction.APIKey, _ = cmd.Flags().GetString("extraction-api-key")
	}
	if cmd.Flags().Changed("extraction-base-url") {
		cfg.Extraction.BaseURL, _ = cmd.Flags().GetString("extraction-base-url")
	}
	if cmd.Flags().Changed("extraction-rules") {
		cfg.Extraction.RulesPath, _ = cmd.Flags().GetString("extraction-rules")
	}

	// Checkpoint flags
	if cmd.Flags().Changed("checkpoint") {
		cfg.Checkpoint.Enabled, _ = cmd.Flags().GetBool("checkpoint")
	}
	if cmd.Flags().Changed("checkpoint-path") {
		cfg.Checkpoint.Path, _ = cmd.Flags().GetString("checkpoint-path")
	}
}

func validateServerConfig(cfg *config.Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", cfg.Server.Port)
	}
	if cfg.Database.Driver == "sqlite" && cfg.Database.Path == "" {
		return fmt.Errorf("database path is required for the sqlite driver")
	}
	return nil
}
