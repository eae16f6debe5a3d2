package extraction

import (
	"context"
	"errors"
	"io"

	"github.com/deploymenttheory/go-recovery/internal/blockreader"
	"github.com/deploymenttheory/go-recovery/internal/types"
)

// maxReadSpan bounds a single volume read of CandidateReader
const maxReadSpan = 1 << 20

// CandidateReader exposes the content of a candidate as one contiguous
// stream over its byte ranges. Unreadable ranges fail with an error that
// matches types.ErrRangeUnreadable.
type CandidateReader struct {
	ctx    context.Context
	reader *blockreader.Reader
	ranges []types.ByteRange
	size   int64
	pos    int64
}

// NewCandidateReader returns a reader over c. Reads stop when ctx is done.
func NewCandidateReader(ctx context.Context, reader *blockreader.Reader, c *types.CandidateFile) *CandidateReader {
	ranges := append([]types.ByteRange(nil), c.ByteRanges...)
	return &CandidateReader{ctx: ctx, reader: reader, ranges: ranges, size: int64(types.TotalLength(ranges))}
}

// Size returns the content length
func (r *CandidateReader) Size() int64 {
	return r.size
}

// ReadAt implements io.ReaderAt
func (r *CandidateReader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("negative offset")
	}
	if off >= r.size {
		return 0, io.EOF
	}

	n := 0
	var base int64
	for _, rng := range r.ranges {
		length := int64(rng.Length)
		if off >= base+length {
			base += length
			continue
		}
		for n < len(p) && off < base+length {
			within := off - base
			span := min(int64(len(p)-n), length-within, maxReadSpan)
			data, err := r.reader.ReadAt(r.ctx, rng.Offset+uint64(within), uint32(span))
			if err != nil {
				return n, err
			}
			copy(p[n:], data)
			n += int(span)
			off += span
		}
		if n == len(p) {
			return n, nil
		}
		base += length
	}
	return n, io.EOF
}

// Read implements io.Reader
func (r *CandidateReader) Read(p []byte) (int, error) {
	n, err := r.ReadAt(p, r.pos)
	r.pos += int64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

// Seek implements io.Seeker
func (r *CandidateReader) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = r.pos + offset
	case io.SeekEnd:
		next = r.size + offset
	default:
		return 0, errors.New("invalid whence")
	}
	if next < 0 {
		return 0, errors.New("negative position")
	}
	r.pos = next
	return next, nil
}
