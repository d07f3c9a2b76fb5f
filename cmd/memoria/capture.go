package memoria

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var captureCmd = &cobra.Command{
	Use:   "capture <memory-id> [text]",
	Short: "Capture a memory into the knowledge graph",
	Long: `Capture a memory into the knowledge graph.

The text comes from the second argument, or from stdin when it is absent,
so memories can be piped in:

  git log -1 --format=%B | memoria capture commit-abc123

The result lists created and updated entities, relationships, and mentions
as JSON. Capturing the same memory ID twice is a no-op when checkpointing
is enabled.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runCapture,
}

func init() {
	rootCmd.AddCommand(captureCmd)
	addDomainFlags(captureCmd)
}

func runCapture(cmd *cobra.Command, args []string) error {
	var text string
	if len(args) == 2 {
		text = args[1]
	} else {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read text from stdin: %w", err)
		}
		text = string(data)
	}

	client, _, err := openClient()
	if err != nil {
		return err
	}
	defer client.Close()

	result, err := client.Capture(cmd.Context(), args[0], text, domainFromFlags(cmd))
	if err != nil {
		return fmt.Errorf("capture failed: %w", err)
	}

	return printJSON(result)
}

var forgetCmd = &cobra.Command{
	Use:   "forget <memory-id>",
	Short: "Remove a memory's mentions from the knowledge graph",
	Long: `Remove a memory's mentions from the knowledge graph.

Entities and relationships stay; only the provenance links back to this
memory are deleted, along with its capture checkpoint so the memory can be
captured again.`,
	Args: cobra.ExactArgs(1),
	RunE: runForget,
}

func init() {
	rootCmd.AddCommand(forgetCmd)
}

func runForget(cmd *cobra.Command, args []string) error {
	client, _, err := openClient()
	if err != nil {
		return err
	}
	defer client.Close()

	removed, err := client.Forget(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("forget failed: %w", err)
	}

	fmt.Printf("Removed %d mentions of memory %s\n", removed, args[0])
	return nil
}
