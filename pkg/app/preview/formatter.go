package preview

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"

	"github.com/deploymenttheory/go-recovery/pkg/app"
)

// FormatOutput writes a preview in format. The table format is a hex dump.
func FormatOutput(w io.Writer, response *Response, format string, noColor bool) error {
	if format != app.FormatTable {
		return app.WriteStructured(w, response, format)
	}
	p := app.NewPalette(noColor)
	c := response.Candidate

	fmt.Fprintf(w, "%s  %s  %s  %s  confidence %.2f\n", c.Key, c.FullPath(), humanize.IBytes(c.Size), response.ContentType, c.Confidence)
	if len(response.Data) == 0 {
		fmt.Fprintln(w, p.Dim.Sprint("(no data at this offset)"))
	} else {
		dumper := hex.Dumper(&offsetWriter{w: w, base: response.Offset})
		dumper.Write(response.Data)
		dumper.Close()
	}
	if response.Unreadable != "" {
		fmt.Fprintln(w, p.Bad.Sprint("stopped at unreadable data: "+response.Unreadable))
	}
	return nil
}

// offsetWriter passes hex dump lines through. hex.Dumper numbers lines from
// zero, so a preview at a later offset gets a header naming its base.
type offsetWriter struct {
	w       io.Writer
	base    int64
	started bool
}

func (o *offsetWriter) Write(b []byte) (int, error) {
	if !o.started && o.base > 0 {
		fmt.Fprintf(o.w, "(offsets relative to %d)\n", o.base)
	}
	o.started = true
	return o.w.Write(b)
}
