package memoria

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	recallDepth int
	recallLimit int
)

var recallCmd = &cobra.Command{
	Use:   "recall <query>",
	Short: "Recall memories matching a query",
	Long: `Recall entities whose names match the query, expanded with their graph
neighborhood, and print the result as JSON.`,
	Args: cobra.ExactArgs(1),
	RunE: runRecall,
}

func init() {
	rootCmd.AddCommand(recallCmd)

	recallCmd.Flags().IntVar(&recallDepth, "depth", -1, "Neighborhood expansion depth (0 disables expansion)")
	recallCmd.Flags().IntVar(&recallLimit, "limit", 0, "Maximum number of direct hits")
	addDomainFlags(recallCmd)
}

func runRecall(cmd *cobra.Command, args []string) error {
	client, _, err := openClient()
	if err != nil {
		return err
	}
	defer client.Close()

	result, err := client.Recall(cmd.Context(), args[0], domainFromFlags(cmd), recallDepth, recallLimit)
	if err != nil {
		return fmt.Errorf("recall failed: %w", err)
	}

	return printJSON(result)
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print knowledge graph statistics",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	client, _, err := openClient()
	if err != nil {
		return err
	}
	defer client.Close()

	stats, err := client.Stats(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read stats: %w", err)
	}

	return printJSON(stats)
}
