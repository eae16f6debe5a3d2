package cmd

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-recovery/pkg/app"
)

// sourceFlags narrow an image to one partition
type sourceFlags struct {
	offset string
	length string
}

func (f *sourceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.offset, "offset", "", "start of the volume inside the image (bytes, accepts 1MiB style sizes)")
	cmd.Flags().StringVar(&f.length, "length", "", "length of the volume (default: to the end of the image)")
}

func (f *sourceFlags) target(path string) (app.SourceTarget, error) {
	st := app.SourceTarget{Path: path}
	var err error
	if st.Offset, err = parseSize("offset", f.offset); err != nil {
		return st, err
	}
	if st.Length, err = parseSize("length", f.length); err != nil {
		return st, err
	}
	return st, nil
}

func parseSize(name, value string) (uint64, error) {
	if value == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(value)
	if err != nil {
		return 0, app.NewError(app.ErrCodeInvalidInput, fmt.Sprintf("invalid %s %q", name, value), err)
	}
	return n, nil
}
