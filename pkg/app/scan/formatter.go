package scan

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"github.com/deploymenttheory/go-recovery/pkg/app"
)

// FormatOutput writes scan results in format
func FormatOutput(w io.Writer, response *Response, format string, noColor bool) error {
	if format != app.FormatTable {
		return app.WriteStructured(w, response, format)
	}
	palette := app.NewPalette(noColor)
	if response.IsPartitionScan() {
		formatVolumes(w, response, palette)
	} else {
		formatCandidates(w, response, palette)
	}
	formatFooter(w, response, palette)
	return nil
}

func formatCandidates(w io.Writer, response *Response, p app.Palette) {
	if len(response.Candidates) == 0 {
		fmt.Fprintln(w, "No recoverable files found.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "KEY\tPATH\tTYPE\tSIZE\tSOURCE\tCONFIDENCE\n")
	fmt.Fprintf(tw, "---\t----\t----\t----\t------\t----------\n")
	for _, c := range response.Candidates {
		name := c.FullPath()
		if c.Synthesized {
			name = p.Dim.Sprint(name)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			c.Key, name, c.Type, humanize.IBytes(c.Size), c.Evidence, confidence(c, p))
	}
	tw.Flush()
}

func confidence(c CandidateResult, p app.Palette) string {
	text := fmt.Sprintf("%.2f", c.Confidence)
	var flags []string
	if c.OverlapsLive {
		flags = append(flags, "overwritten?")
	}
	if c.UnreadableBytes > 0 {
		flags = append(flags, "damaged")
	}
	if c.Encrypted {
		flags = append(flags, "encrypted")
	}
	if len(flags) > 0 {
		text += " (" + strings.Join(flags, ", ") + ")"
	}
	switch c.GetConfidenceClass() {
	case ConfidenceHigh:
		return p.Good.Sprint(text)
	case ConfidenceMedium:
		return p.Warn.Sprint(text)
	default:
		return p.Bad.Sprint(text)
	}
}

func formatVolumes(w io.Writer, response *Response, p app.Palette) {
	if len(response.Volumes) == 0 {
		fmt.Fprintln(w, "No volumes found.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "KEY\tOFFSET\tSIZE\tSCHEME\tFILESYSTEM\tLABEL\tCONFIDENCE\n")
	fmt.Fprintf(tw, "---\t------\t----\t------\t----------\t-----\t----------\n")
	for _, v := range response.Volumes {
		score := fmt.Sprintf("%.2f", v.Confidence)
		switch {
		case v.Confidence >= 0.8:
			score = p.Good.Sprint(score)
		case v.Confidence >= 0.5:
			score = p.Warn.Sprint(score)
		default:
			score = p.Bad.Sprint(score)
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
			v.Key, v.Offset, humanize.IBytes(v.Size), v.Scheme, v.FileSystem, v.Label, score)
	}
	tw.Flush()
}

func formatFooter(w io.Writer, response *Response, p app.Palette) {
	s := response.Summary
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s of %s (%s) in %s\n", s.Mode, s.Volume.Path, humanize.IBytes(s.Volume.Capacity), s.Duration)

	if response.IsPartitionScan() {
		fmt.Fprintf(w, "Found %d volumes\n", len(response.Volumes))
	} else {
		fmt.Fprintf(w, "Found %d candidates (%d from metadata, %d carved)", s.Counters.Found, s.Counters.FoundByMetadata, s.Counters.FoundByCarving)
		if response.Shown != s.Counters.Found {
			fmt.Fprintf(w, ", %d above the confidence threshold", response.Shown)
		}
		if response.Truncated {
			fmt.Fprintf(w, ", showing first %d", len(response.Candidates))
		}
		fmt.Fprintln(w)
		if counts := response.CountByType(); len(counts) > 1 {
			types := make([]string, 0, len(counts))
			for t := range counts {
				types = append(types, t)
			}
			sort.Strings(types)
			parts := make([]string, 0, len(types))
			for _, t := range types {
				parts = append(parts, fmt.Sprintf("%s %d", t, counts[t]))
			}
			fmt.Fprintf(w, "By type: %s\n", strings.Join(parts, ", "))
		}
	}

	d := response.Diagnostics
	if n := d.MalformedTotal(); n > 0 {
		fmt.Fprintln(w, p.Warn.Sprintf("Skipped %d malformed metadata entries", n))
	}
	if s.UnreadableSize > 0 {
		fmt.Fprintln(w, p.Warn.Sprintf("%s of the volume could not be read", humanize.IBytes(s.UnreadableSize)))
	}
	for _, warning := range d.Warnings {
		fmt.Fprintln(w, p.Warn.Sprint("Warning: "+warning))
	}
	if response.Interrupted != "" {
		fmt.Fprintln(w, p.Bad.Sprint("Scan interrupted: "+response.Interrupted+" (results are partial)"))
	}
}
