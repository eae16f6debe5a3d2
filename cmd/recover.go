package cmd

import (
	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-recovery/pkg/app/recovery"
	"github.com/deploymenttheory/go-recovery/pkg/app/scan"
)

var recoverFlags struct {
	source        sourceFlags
	mode          string
	fileType      string
	dest          string
	keys          []string
	minConfidence float64

	s3         bool
	s3Bucket   string
	s3Endpoint string
	s3Prefix   string
}

// Recovery Command
var recoverCmd = &cobra.Command{
	Use:   "recover <image>",
	Short: "Scan a volume and copy files out",
	Long: `Recover scans the source, then copies the chosen candidates to a local
directory or an S3 bucket. The source is never written to.

Without --select every candidate scored at least --min-confidence is
recovered. Keys come from the output of the scan command and stay the
same between scans of an unchanged source.`,
	Example: `  go-recovery recover --dest ./out disk.img
  go-recovery recover --mode deep --type document --min-confidence 0.5 --dest ./out disk.img
  go-recovery recover --select ntfs:42,carve:jpeg:1048576 --dest ./out disk.img
  go-recovery recover --s3 --s3-bucket evidence --s3-prefix case-17 disk.img`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := recoverFlags.source.target(args[0])
		if err != nil {
			return err
		}

		s3 := &appCtx.Config.S3
		if recoverFlags.s3Bucket != "" {
			s3.Bucket = recoverFlags.s3Bucket
		}
		if recoverFlags.s3Endpoint != "" {
			s3.Endpoint = recoverFlags.s3Endpoint
		}
		if recoverFlags.s3Prefix != "" {
			s3.Prefix = recoverFlags.s3Prefix
		}

		req := &recovery.Request{
			Scan: scan.Request{
				Source:   st,
				Mode:     recoverFlags.mode,
				FileType: recoverFlags.fileType,
			},
			Destination:   recoverFlags.dest,
			UseS3:         recoverFlags.s3,
			Keys:          recoverFlags.keys,
			MinConfidence: recoverFlags.minConfidence,
		}
		appCtx.Reporter = reporterFor(appCtx, "recover")

		resp, err := recovery.Handle(appCtx, req)
		if resp != nil {
			if fmtErr := recovery.FormatOutput(appCtx.Out, resp, appCtx.OutputFormat, appCtx.NoColor); fmtErr != nil && err == nil {
				err = fmtErr
			}
		}
		return err
	},
}

func init() {
	recoverFlags.source.register(recoverCmd)
	recoverCmd.Flags().StringVar(&recoverFlags.mode, "mode", "quick", "scan mode (quick, deep, raw)")
	recoverCmd.Flags().StringVarP(&recoverFlags.fileType, "type", "t", "all", "file type (all, photo, video, audio, document, archive, email)")
	recoverCmd.Flags().StringVarP(&recoverFlags.dest, "dest", "d", "", "destination directory")
	recoverCmd.Flags().StringSliceVar(&recoverFlags.keys, "select", nil, "candidate keys to recover (default: all)")
	recoverCmd.Flags().Float64Var(&recoverFlags.minConfidence, "min-confidence", 0, "skip candidates scored below this (0-1)")
	recoverCmd.Flags().BoolVar(&recoverFlags.s3, "s3", false, "upload to the configured S3 bucket instead of a directory")
	recoverCmd.Flags().StringVar(&recoverFlags.s3Bucket, "s3-bucket", "", "override the configured bucket")
	recoverCmd.Flags().StringVar(&recoverFlags.s3Endpoint, "s3-endpoint", "", "override the configured endpoint")
	recoverCmd.Flags().StringVar(&recoverFlags.s3Prefix, "s3-prefix", "", "key prefix for uploaded files")
	recoverCmd.MarkFlagsMutuallyExclusive("dest", "s3")
	recoverCmd.MarkFlagsOneRequired("dest", "s3")

	rootCmd.AddCommand(recoverCmd)
}
