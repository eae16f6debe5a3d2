package cmd

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/deploymenttheory/go-recovery/internal/interfaces"
	"github.com/deploymenttheory/go-recovery/internal/progress"
	"github.com/deploymenttheory/go-recovery/pkg/app"
)

// lineReporter redraws one status line on a terminal
type lineReporter struct {
	mu    sync.Mutex
	w     io.Writer
	width int
}

func (r *lineReporter) OnProgress(percentage int, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	line := fmt.Sprintf("%3d%% %s", percentage, message)
	pad := max(r.width-len(line), 0)
	r.width = len(line)
	fmt.Fprintf(r.w, "\r%s%*s", line, pad, "")
}

func (r *lineReporter) OnComplete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.width > 0 {
		fmt.Fprintln(r.w)
		r.width = 0
	}
}

// reporterFor returns the progress reporter of one operation: a status line
// unless quiet or writing structured output, and debug log events when
// verbose
func reporterFor(ctx *app.Context, operation string) interfaces.ProgressReporter {
	var line interfaces.ProgressReporter
	if !ctx.Quiet && ctx.OutputFormat == app.FormatTable {
		line = &lineReporter{w: os.Stderr}
	}
	var logged interfaces.ProgressReporter
	if ctx.Verbose {
		logged = progress.NewLogReporter(ctx.Logger, operation)
	}
	return progress.Multi(line, logged)
}
