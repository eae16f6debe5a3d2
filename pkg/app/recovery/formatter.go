package recovery

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/deploymenttheory/go-recovery/internal/types"
	"github.com/deploymenttheory/go-recovery/pkg/app"
)

// FormatOutput writes recovery results in format
func FormatOutput(w io.Writer, response *Response, format string, noColor bool) error {
	if format != app.FormatTable {
		return app.WriteStructured(w, response, format)
	}
	p := app.NewPalette(noColor)

	if len(response.Results) == 0 {
		fmt.Fprintln(w, "No files were recovered.")
	} else {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintf(tw, "KEY\tNAME\tSIZE\tDESTINATION\tSTATUS\n")
		fmt.Fprintf(tw, "---\t----\t----\t-----------\t------\n")
		for _, res := range response.Results {
			status := res.Status
			switch res.Status {
			case types.StatusRecovered.String():
				status = p.Good.Sprint(status)
			case types.StatusPartiallyRecovered.String():
				status = p.Warn.Sprint(status + ": " + res.FailureReason)
			default:
				if res.FailureReason != "" {
					status += ": " + res.FailureReason
				}
				status = p.Bad.Sprint(status)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", res.CandidateKey, res.Name, humanize.IBytes(res.Size), res.DestinationPath, status)
		}
		tw.Flush()
	}

	c := response.Summary.Counters
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Recovered %d of %d selected files to %s (%s written) in %s\n",
		c.Recovered+c.PartiallyRecovered, response.Selected, response.Destination,
		response.Summary.BytesRecovered, response.RecoveryTime.Round(time.Millisecond))
	if c.PartiallyRecovered > 0 {
		fmt.Fprintln(w, p.Warn.Sprintf("%d files have unreadable ranges filled with zeros", c.PartiallyRecovered))
	}
	if c.Failed > 0 {
		fmt.Fprintln(w, p.Bad.Sprintf("%d files could not be recovered", c.Failed))
	}
	if response.Interrupted != "" {
		fmt.Fprintln(w, p.Bad.Sprint("Recovery interrupted: "+response.Interrupted))
	}
	return nil
}
