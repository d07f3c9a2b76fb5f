package memoria

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/soundprediction/memoria/pkg/export"
)

var exportDir string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the graph to Parquet files",
	Long: `Export the graph to Parquet files.

Writes entities.parquet and relationships.parquet into the export directory,
ready for analytical tools that read Parquet.`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVar(&exportDir, "dir", "", "Output directory (default from config)")
}

func runExport(cmd *cobra.Command, args []string) error {
	client, cfg, err := openClient()
	if err != nil {
		return err
	}
	defer client.Close()

	dir := cfg.Export.Dir
	if exportDir != "" {
		dir = exportDir
	}

	stats, err := export.Snapshot(cmd.Context(), client.GetBackend(), dir)
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}

	fmt.Printf("Exported %d entities and %d relationships to %s\n", stats.EntityCount, stats.RelationshipCount, stats.Dir)
	return nil
}

var clearYes bool

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all graph data",
	Long: `Delete all entities, relationships, and mentions, along with any capture
checkpoints. Refuses to run without --yes.`,
	Args: cobra.NoArgs,
	RunE: runClear,
}

func init() {
	rootCmd.AddCommand(clearCmd)

	clearCmd.Flags().BoolVar(&clearYes, "yes", false, "Confirm deletion")
}

func runClear(cmd *cobra.Command, args []string) error {
	if !clearYes {
		return errors.New("refusing to clear the graph without --yes")
	}

	client, _, err := openClient()
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Clear(cmd.Context()); err != nil {
		return fmt.Errorf("clear failed: %w", err)
	}

	fmt.Println("Graph cleared")
	return nil
}
