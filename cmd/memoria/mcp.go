package memoria

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/soundprediction/memoria"
	"github.com/soundprediction/memoria/pkg/mcpserver"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start the Model Context Protocol (MCP) server",
	Long: `Start the Model Context Protocol (MCP) server on stdio.

The MCP server provides tools for:
- Capturing memories into the knowledge graph
- Recalling memories and traversing entity neighborhoods
- Finding paths between entities
- Reading graph statistics

It is designed to be launched by MCP clients such as Claude Desktop. Logs go
to stderr so stdout stays clean for the protocol.`,
	RunE: runMCPServer,
}

func init() {
	rootCmd.AddCommand(mcpCmd)

	// Database flags
	mcpCmd.Flags().String("db-driver", "", "Database driver (sqlite, memory)")
	mcpCmd.Flags().String("db-path", "", "Database path (sqlite only)")

	// Extraction flags
	mcpCmd.Flags().String("extraction-provider", "", "Extraction provider (llm, pattern)")
}

func runMCPServer(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}

	if v, _ := cmd.Flags().GetString("db-driver"); v != "" {
		cfg.Database.Driver = v
	}
	if v, _ := cmd.Flags().GetString("db-path"); v != "" {
		cfg.Database.Path = v
	}
	if v, _ := cmd.Flags().GetString("extraction-provider"); v != "" {
		cfg.Extraction.Provider = v
	}

	client, err := memoria.Open(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to open memoria: %w", err)
	}
	defer client.Close()

	return mcpserver.New(client, log).ServeStdio()
}
