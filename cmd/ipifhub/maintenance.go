package ipifhub

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/soundprediction/ipifhub/pkg/types"
)

var reclusterCmd = &cobra.Command{
	Use:   "recluster [persons|sources]...",
	Short: "Rebuild the entity clusters from the stored identifiers",
	Long: `Discard the clusters of the given kinds (all kinds when none are given)
and rebuild them from the identifier URIs of the stored entities. Every
rebuilt cluster is scheduled for an index refresh.`,
	RunE: runRecluster,
}

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Schedule an index refresh of every record",
	Long: `Enqueue a refresh task for every indexable record. With --wait the
tasks are processed before the command exits, which is required for the
memory queue.`,
	RunE: runReindex,
}

func init() {
	rootCmd.AddCommand(reclusterCmd)
	rootCmd.AddCommand(reindexCmd)

	reindexCmd.Flags().Bool("wait", true, "process the refresh tasks before exiting")
}

func runRecluster(cmd *cobra.Command, args []string) error {
	kinds := types.EntityKinds()
	if len(args) > 0 {
		kinds = kinds[:0]
		for _, arg := range args {
			k, err := types.ParseEntityKind(arg)
			if err != nil {
				return err
			}
			kinds = append(kinds, k)
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	for _, k := range kinds {
		n, err := a.hub.Recluster(ctx, k)
		if err != nil {
			return fmt.Errorf("recluster %s: %w", k.Plural(), err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d clusters\n", k.Plural(), n)
	}
	return drainIfMemory(cmd, a)
}

func runReindex(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	n, err := a.hub.Reindex(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "enqueued %d refresh tasks\n", n)

	wait, _ := cmd.Flags().GetBool("wait")
	if !wait {
		return nil
	}
	done, err := a.sync.Drain(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "processed %d refresh tasks\n", done)
	return nil
}

// drainIfMemory processes queued refresh tasks when they would otherwise be
// lost with the process.
func drainIfMemory(cmd *cobra.Command, a *app) error {
	if a.cfg.Queue.Backend != "memory" {
		return nil
	}
	n, err := a.sync.Drain(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "processed %d refresh tasks\n", n)
	return nil
}
