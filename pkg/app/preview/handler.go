// Package preview shows the first bytes of a candidate without extracting it.
package preview

import (
	"errors"
	"fmt"
	"io"

	"github.com/gabriel-vasile/mimetype"

	"github.com/deploymenttheory/go-recovery/internal/extraction"
	"github.com/deploymenttheory/go-recovery/internal/types"
	"github.com/deploymenttheory/go-recovery/pkg/app"
	"github.com/deploymenttheory/go-recovery/pkg/app/scan"
)

// Handle processes a preview request
func Handle(ctx *app.Context, req *Request) (*Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	scanned, err := scan.Execute(ctx, &req.Scan)
	if err != nil {
		return nil, err
	}
	defer scanned.Source.Close()

	c, ok := scanned.Session.Get(req.Key)
	if !ok {
		return nil, app.NewError(app.ErrCodeCandidateMissing, "unknown candidate", fmt.Errorf("%w: %s", types.ErrCandidateNotFound, req.Key))
	}

	length := req.Length
	if length == 0 {
		length = DefaultBytes
	}
	r := extraction.NewCandidateReader(ctx, scanned.Source.Reader, c)
	resp := &Response{Candidate: scan.NewCandidateResult(c), Offset: req.Offset}

	buf := make([]byte, length)
	n, err := r.ReadAt(buf, req.Offset)
	resp.Data = buf[:n]
	switch {
	case err == nil, errors.Is(err, io.EOF):
	case errors.Is(err, types.ErrRangeUnreadable):
		resp.Unreadable = err.Error()
	default:
		return nil, app.NewError(app.ErrCodeSourceAccess, "cannot read candidate", err)
	}

	// content type comes from the start of the file, whatever was asked for
	head := make([]byte, 3072)
	if m, _ := r.ReadAt(head, 0); m > 0 {
		resp.ContentType = mimetype.Detect(head[:m]).String()
	}
	return resp, nil
}
