package cmd

import (
	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-recovery/pkg/app/scan"
)

var scanFlags struct {
	source        sourceFlags
	mode          string
	fileType      string
	minConfidence float64
	limit         int
}

// Scan Command
var scanCmd = &cobra.Command{
	Use:   "scan <image>",
	Short: "Scan a volume and list recoverable files",
	Long: `Scan reads a disk, partition or image and lists every file it could
recover, with a confidence score for each.

Modes:
  quick   walk filesystem metadata for deleted entries
  deep    walk metadata, then carve signatures from the remaining space
  raw     carve signatures from the whole volume`,
	Example: `  go-recovery scan disk.img
  go-recovery scan --mode deep --type photo disk.img
  go-recovery scan --offset 1MiB --mode raw -o json disk.img`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := scanFlags.source.target(args[0])
		if err != nil {
			return err
		}
		req := &scan.Request{
			Source:        st,
			Mode:          scanFlags.mode,
			FileType:      scanFlags.fileType,
			MinConfidence: scanFlags.minConfidence,
			MaxResults:    scanFlags.limit,
		}
		appCtx.Reporter = reporterFor(appCtx, "scan")

		resp, err := scan.Handle(appCtx, req)
		if err != nil {
			return err
		}
		return scan.FormatOutput(appCtx.Out, resp, appCtx.OutputFormat, appCtx.NoColor)
	},
}

func init() {
	scanFlags.source.register(scanCmd)
	scanCmd.Flags().StringVar(&scanFlags.mode, "mode", "quick", "scan mode (quick, deep, raw)")
	scanCmd.Flags().StringVarP(&scanFlags.fileType, "type", "t", "all", "file type (all, photo, video, audio, document, archive, email)")
	scanCmd.Flags().Float64Var(&scanFlags.minConfidence, "min-confidence", 0, "hide candidates scored below this (0-1)")
	scanCmd.Flags().IntVar(&scanFlags.limit, "limit", 0, "list at most this many candidates")

	rootCmd.AddCommand(scanCmd)
}
