package cmd

import (
	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-recovery/internal/types"
	"github.com/deploymenttheory/go-recovery/pkg/app"
	"github.com/deploymenttheory/go-recovery/pkg/app/scan"
)

var partitionsCmd = &cobra.Command{
	Use:   "partitions <image>",
	Short: "Look for lost partitions and volumes",
	Long: `Partitions searches the whole source for partition tables and volume
boot sectors, including ones no longer referenced by any table. Each
candidate volume can then be scanned with --offset and --length.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := &scan.Request{
			Source: app.SourceTarget{Path: args[0]},
			Mode:   types.ScanPartition.Tag(),
		}
		appCtx.Reporter = reporterFor(appCtx, "partitions")

		resp, err := scan.Handle(appCtx, req)
		if err != nil {
			return err
		}
		return scan.FormatOutput(appCtx.Out, resp, appCtx.OutputFormat, appCtx.NoColor)
	},
}

func init() {
	rootCmd.AddCommand(partitionsCmd)
}
