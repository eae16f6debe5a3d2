package cmd

import (
	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-recovery/pkg/app/preview"
	"github.com/deploymenttheory/go-recovery/pkg/app/scan"
)

var previewFlags struct {
	source   sourceFlags
	mode     string
	fileType string
	offset   int64
	length   int
}

var previewCmd = &cobra.Command{
	Use:   "preview <image> <key>",
	Short: "Show the first bytes of one candidate",
	Long: `Preview rescans the source, finds one candidate by key and dumps part of
its content as hex, along with the detected content type.`,
	Example: `  go-recovery preview disk.img ntfs:42
  go-recovery preview --mode raw --length 1024 disk.img carve:png:65536`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := previewFlags.source.target(args[0])
		if err != nil {
			return err
		}
		req := &preview.Request{
			Scan: scan.Request{
				Source:   st,
				Mode:     previewFlags.mode,
				FileType: previewFlags.fileType,
			},
			Key:    args[1],
			Offset: previewFlags.offset,
			Length: previewFlags.length,
		}
		appCtx.Reporter = reporterFor(appCtx, "preview")

		resp, err := preview.Handle(appCtx, req)
		if err != nil {
			return err
		}
		return preview.FormatOutput(appCtx.Out, resp, appCtx.OutputFormat, appCtx.NoColor)
	},
}

func init() {
	previewFlags.source.register(previewCmd)
	previewCmd.Flags().StringVar(&previewFlags.mode, "mode", "quick", "scan mode the key came from (quick, deep, raw)")
	previewCmd.Flags().StringVarP(&previewFlags.fileType, "type", "t", "all", "file type filter the key came from")
	previewCmd.Flags().Int64Var(&previewFlags.offset, "at", 0, "offset inside the file")
	previewCmd.Flags().IntVarP(&previewFlags.length, "bytes", "n", preview.DefaultBytes, "number of bytes to show")

	rootCmd.AddCommand(previewCmd)
}
