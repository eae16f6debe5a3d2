package blockreader

import (
	"context"
	"errors"
	"fmt"

	"github.com/deploymenttheory/go-recovery/internal/types"
)

// SalvageResult is the outcome of reading a span that may contain bad sectors
type SalvageResult struct {
	Offset uint64
	// Data always has the requested length; unreadable sectors are zero-filled.
	Data []byte
	// Gaps are absolute volume ranges that could not be read.
	Gaps []types.ByteRange
	// LastErr is the last read error seen, if any
	LastErr error
}

// Unreadable returns the number of zero-filled bytes
func (s *SalvageResult) Unreadable() uint64 {
	return types.TotalLength(s.Gaps)
}

// Complete reports whether every byte was read
func (s *SalvageResult) Complete() bool {
	return len(s.Gaps) == 0
}

// RelativeGaps returns the gaps relative to the start of the read
func (s *SalvageResult) RelativeGaps() []types.ByteRange {
	out := make([]types.ByteRange, len(s.Gaps))
	for i, g := range s.Gaps {
		out[i] = types.ByteRange{Offset: g.Offset - s.Offset, Length: g.Length}
	}
	return out
}

// ReadSalvage reads [offset, offset+length) in chunks. A failing chunk is
// retried sector by sector and unreadable sectors are recorded as gaps.
// The only error returned is a context error or a request beyond capacity.
func (r *Reader) ReadSalvage(ctx context.Context, offset, length uint64) (*SalvageResult, error) {
	if offset > r.capacity || length > r.capacity-offset {
		return nil, &types.IOError{Offset: offset, Length: length, Err: fmt.Errorf("beyond volume capacity %d", r.capacity)}
	}

	res := &SalvageResult{Offset: offset, Data: make([]byte, length)}
	end := offset + length
	chunk := uint64(r.opts.ChunkSize)

	for pos := offset; pos < end; {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n := min(chunk, end-pos)

		data, err := r.ReadAt(ctx, pos, uint32(n))
		if err == nil {
			copy(res.Data[pos-offset:], data)
			pos += n
			continue
		}
		if isContextErr(err) {
			return nil, err
		}

		r.opts.Logger.Debug().Uint64("offset", pos).Uint64("length", n).Err(err).Msg("chunk unreadable, salvaging by sector")
		if err := r.salvageSectors(ctx, res, pos, pos+n); err != nil {
			return nil, err
		}
		pos += n
	}

	res.Gaps = types.CoalesceAdjacent(res.Gaps)
	return res, nil
}

// salvageSectors reads [from, to) one sector at a time into res
func (r *Reader) salvageSectors(ctx context.Context, res *SalvageResult, from, to uint64) error {
	ss := uint64(r.opts.SectorSize)
	for s := from; s < to; {
		if err := ctx.Err(); err != nil {
			return err
		}
		next := min((s/ss+1)*ss, to)

		data, err := r.ReadAt(ctx, s, uint32(next-s))
		if err != nil {
			if isContextErr(err) {
				return err
			}
			res.Gaps = append(res.Gaps, types.ByteRange{Offset: s, Length: next - s})
			res.LastErr = err
		} else {
			copy(res.Data[s-res.Offset:], data)
		}
		s = next
	}
	return nil
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
