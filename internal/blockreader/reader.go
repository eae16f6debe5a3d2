package blockreader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/deploymenttheory/go-recovery/internal/interfaces"
	"github.com/deploymenttheory/go-recovery/internal/types"
)

const (
	DefaultSectorSize    = 512
	DefaultChunkSize     = 1 << 20
	DefaultBlockSize     = 4096
	DefaultCacheBlocks   = 2048
	DefaultRetryAttempts = 2
	DefaultRetryDelay    = 10 * time.Millisecond
)

// Options configures a Reader
type Options struct {
	SectorSize    uint32
	ChunkSize     uint32
	RetryAttempts int
	RetryDelay    time.Duration
	// CacheBlocks is the number of DefaultBlockSize blocks kept for metadata reads. Zero disables the cache.
	CacheBlocks int
	Logger      zerolog.Logger
}

// DefaultOptions returns the options used when none are configured
func DefaultOptions() Options {
	return Options{
		SectorSize:    DefaultSectorSize,
		ChunkSize:     DefaultChunkSize,
		RetryAttempts: DefaultRetryAttempts,
		RetryDelay:    DefaultRetryDelay,
		CacheBlocks:   DefaultCacheBlocks,
		Logger:        zerolog.Nop(),
	}
}

// Reader wraps a volume with retries, sector salvage and a small block cache.
// It is safe for concurrent use.
type Reader struct {
	vol      interfaces.VolumeHandle
	capacity uint64
	opts     Options

	mu           sync.RWMutex
	blockCache   map[uint64][]byte
	maxCacheSize int
}

// New creates a Reader over vol
func New(vol interfaces.VolumeHandle, opts Options) *Reader {
	if opts.SectorSize == 0 {
		opts.SectorSize = DefaultSectorSize
	}
	if opts.ChunkSize == 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	// Chunks are whole sectors
	if rem := opts.ChunkSize % opts.SectorSize; rem != 0 {
		opts.ChunkSize += opts.SectorSize - rem
	}
	if opts.RetryAttempts < 0 {
		opts.RetryAttempts = 0
	}

	return &Reader{
		vol:          vol,
		capacity:     vol.CapacityBytes(),
		opts:         opts,
		blockCache:   make(map[uint64][]byte),
		maxCacheSize: opts.CacheBlocks,
	}
}

// Capacity returns the size of the underlying volume
func (r *Reader) Capacity() uint64 {
	return r.capacity
}

// SectorSize returns the salvage granularity
func (r *Reader) SectorSize() uint32 {
	return r.opts.SectorSize
}

// ChunkSize returns the preferred read size for streaming
func (r *Reader) ChunkSize() uint32 {
	return r.opts.ChunkSize
}

// Volume returns the wrapped volume
func (r *Reader) Volume() interfaces.VolumeHandle {
	return r.vol
}

// ReadAt reads length bytes at offset, retrying transient failures.
// Errors are *types.IOError unless ctx was cancelled.
func (r *Reader) ReadAt(ctx context.Context, offset uint64, length uint32) ([]byte, error) {
	if length == 0 {
		return []byte{}, nil
	}
	if offset >= r.capacity || uint64(length) > r.capacity-offset {
		return nil, &types.IOError{Offset: offset, Length: uint64(length), Err: fmt.Errorf("beyond volume capacity %d", r.capacity)}
	}

	var data []byte
	attempt := 0
	operation := func() error {
		attempt++
		var err error
		data, err = r.vol.ReadAt(offset, length)
		if err != nil && attempt <= r.opts.RetryAttempts {
			r.opts.Logger.Debug().Uint64("offset", offset).Uint32("length", length).Int("attempt", attempt).Err(err).Msg("retrying read")
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = max(r.opts.RetryDelay, time.Millisecond)
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.opts.RetryAttempts)), ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var ioErr *types.IOError
		if errors.As(err, &ioErr) {
			return nil, err
		}
		return nil, &types.IOError{Offset: offset, Length: uint64(length), Err: err}
	}
	if uint32(len(data)) != length {
		return nil, &types.IOError{Offset: offset, Length: uint64(length), Err: fmt.Errorf("short read: got %d bytes", len(data))}
	}
	return data, nil
}

// Probe verifies that at least one sector of the first n bytes is readable.
// It returns types.ErrVolumeUnreadable otherwise.
func (r *Reader) Probe(ctx context.Context, n uint64) error {
	if r.capacity == 0 {
		return fmt.Errorf("%w: volume is empty", types.ErrVolumeUnreadable)
	}
	n = min(n, r.capacity)
	if n == 0 {
		n = min(uint64(r.opts.SectorSize), r.capacity)
	}

	res, err := r.ReadSalvage(ctx, 0, n)
	if err != nil {
		return err
	}
	if res.Unreadable() == n {
		return fmt.Errorf("%w: first %d bytes cannot be read", types.ErrVolumeUnreadable, n)
	}
	return nil
}

// cacheBlock adds a block to the cache, respecting size limits
// Must be called with mu locked
func (r *Reader) cacheBlock(blockNumber uint64, data []byte) {
	if len(r.blockCache) >= r.maxCacheSize {
		r.blockCache = make(map[uint64][]byte)
	}
	r.blockCache[blockNumber] = data
}

// ReadBlock reads one DefaultBlockSize block through the cache. The last block
// of the volume may be shorter.
func (r *Reader) ReadBlock(ctx context.Context, blockNumber uint64) ([]byte, error) {
	if r.maxCacheSize > 0 {
		r.mu.RLock()
		if cached, ok := r.blockCache[blockNumber]; ok {
			r.mu.RUnlock()
			return cached, nil
		}
		r.mu.RUnlock()
	}

	offset := blockNumber * DefaultBlockSize
	if offset >= r.capacity {
		return nil, &types.IOError{Offset: offset, Length: DefaultBlockSize, Err: fmt.Errorf("block %d is beyond volume capacity", blockNumber)}
	}
	length := uint32(min(uint64(DefaultBlockSize), r.capacity-offset))

	data, err := r.ReadAt(ctx, offset, length)
	if err != nil {
		return nil, err
	}

	if r.maxCacheSize > 0 {
		r.mu.Lock()
		r.cacheBlock(blockNumber, data)
		r.mu.Unlock()
	}
	return data, nil
}

// ReadCached reads an arbitrary span through the block cache. The returned
// slice is a copy.
func (r *Reader) ReadCached(ctx context.Context, offset uint64, length uint32) ([]byte, error) {
	if length == 0 {
		return []byte{}, nil
	}
	if offset >= r.capacity || uint64(length) > r.capacity-offset {
		return nil, &types.IOError{Offset: offset, Length: uint64(length), Err: fmt.Errorf("beyond volume capacity %d", r.capacity)}
	}

	first := offset / DefaultBlockSize
	last := (offset + uint64(length) - 1) / DefaultBlockSize
	if first == last {
		block, err := r.ReadBlock(ctx, first)
		if err != nil {
			return nil, err
		}
		start := offset - first*DefaultBlockSize
		return append([]byte(nil), block[start:start+uint64(length)]...), nil
	}

	out := make([]byte, 0, length)
	for bn := first; bn <= last; bn++ {
		block, err := r.ReadBlock(ctx, bn)
		if err != nil {
			return nil, err
		}
		blockStart := bn * DefaultBlockSize
		lo := max(offset, blockStart) - blockStart
		hi := min(offset+uint64(length), blockStart+uint64(len(block))) - blockStart
		out = append(out, block[lo:hi]...)
	}
	return out, nil
}

// ClearCache removes all cached blocks
func (r *Reader) ClearCache() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.blockCache = make(map[uint64][]byte)
}

// CacheStats describes the block cache
type CacheStats struct {
	Blocks    int `json:"blocks" yaml:"blocks"`
	MaxBlocks int `json:"max_blocks" yaml:"max_blocks"`
}

// CacheStats returns cache statistics
func (r *Reader) CacheStats() CacheStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return CacheStats{Blocks: len(r.blockCache), MaxBlocks: r.maxCacheSize}
}
