package exfat

import (
	"context"
	"fmt"
	"iter"
	"strconv"

	"github.com/deploymenttheory/go-recovery/internal/helpers"
	"github.com/deploymenttheory/go-recovery/internal/types"
)

// StrategyName identifies exFAT entries in keys and diagnostics
const StrategyName = "exfat"

// maxDirBytes bounds the size of one directory read
const maxDirBytes = 256 << 20

type dirTask struct {
	path       string
	cluster    uint32
	size       uint64
	noFatChain bool
	deleted    bool
}

// Entries walks the directory tree from the root directory. Live files and
// deleted entry sets of live directories are always produced; with deep set,
// deleted directories are descended into as well. Damaged entry sets are
// reported as *types.MalformedError values and the walk continues.
func (v *Volume) Entries(ctx context.Context, deep bool) iter.Seq2[types.RawEntry, error] {
	return func(yield func(types.RawEntry, error) bool) {
		stack := []dirTask{{cluster: v.Boot.RootCluster}}
		visited := map[uint32]struct{}{v.Boot.RootCluster: {}}
		done := 0

		for len(stack) > 0 {
			if err := ctx.Err(); err != nil {
				yield(types.RawEntry{}, err)
				return
			}
			task := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			done++

			data, units, err := v.readDirectory(ctx, task)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					yield(types.RawEntry{}, ctxErr)
					return
				}
				if !yield(types.RawEntry{}, types.NewMalformedError(StrategyName, "dir "+task.path, "%v", err)) {
					return
				}
				continue
			}
			progress := float64(done) / float64(done+len(stack))

			for off := 0; off+entrySize <= len(data); {
				kind := data[off]
				if kind == typeEndOfDirectory && !task.deleted {
					break
				}
				if kind&^typeInUse != typeFile {
					off += entrySize
					continue
				}

				entryOffset := units[uint64(off)/v.clusterSize] + uint64(off)%v.clusterSize
				id := strconv.FormatUint(entryOffset, 10)

				set, err := parseEntrySet(data[off:])
				off += set.Slots * entrySize
				if err != nil {
					if !yield(types.RawEntry{}, types.NewMalformedError(StrategyName, id, "%v", err)) {
						return
					}
					continue
				}

				deleted := set.Deleted || task.deleted
				name := helpers.SanitizeName(set.Name)

				if set.IsDirectory() {
					c := set.Stream.FirstCluster
					if !v.ValidCluster(c) {
						continue
					}
					if _, seen := visited[c]; seen || (deleted && !deep) {
						continue
					}
					visited[c] = struct{}{}
					stack = append(stack, dirTask{
						path:       task.path + "/" + name,
						cluster:    c,
						size:       set.Stream.DataLength,
						noFatChain: set.Stream.NoFatChain(),
						deleted:    deleted,
					})
					continue
				}

				if set.Stream.DataLength == 0 {
					continue
				}

				entry := types.RawEntry{
					ID:           id,
					Name:         name,
					Path:         task.path,
					DeclaredSize: set.Stream.DataLength,
					HasSize:      true,
					Deleted:      deleted,
					Timestamps:   set.Timestamps(),
					Progress:     progress,
				}
				if entry.Path == "" {
					entry.Path = "/"
				}

				entry.Extents, err = v.fileExtents(ctx, set, deleted)
				if err != nil {
					if ctxErr := ctx.Err(); ctxErr != nil {
						yield(types.RawEntry{}, ctxErr)
						return
					}
					if !yield(types.RawEntry{}, types.NewMalformedError(StrategyName, id, "%v", err)) {
						return
					}
					continue
				}
				if !yield(entry, nil) {
					return
				}
			}
		}
	}
}

// readDirectory returns the raw entries of a directory and the absolute
// offset of each cluster read
func (v *Volume) readDirectory(ctx context.Context, task dirTask) ([]byte, []uint64, error) {
	var chain []uint32
	var err error
	switch {
	case task.noFatChain:
		chain, err = v.contiguous(task.cluster, min(task.size, maxDirBytes))
	case task.deleted:
		// the chain of a freed directory may be reused; trust the first cluster only
		chain, err = v.contiguous(task.cluster, v.clusterSize)
	default:
		chain, err = v.Chain(ctx, task.cluster, int(maxDirBytes/v.clusterSize))
		if err != nil && len(chain) > 0 {
			err = nil
		}
	}
	if err != nil {
		return nil, nil, err
	}

	data := make([]byte, 0, uint64(len(chain))*v.clusterSize)
	offsets := make([]uint64, 0, len(chain))
	for _, c := range chain {
		off := v.ClusterOffset(c)
		if off+v.clusterSize > v.end {
			break
		}
		buf, err := v.src.ReadCached(ctx, off, uint32(v.clusterSize))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read directory cluster %d: %w", c, err)
		}
		data = append(data, buf...)
		offsets = append(offsets, off)
	}

	if task.deleted && (len(data) == 0 || data[0]&^typeInUse != typeFile) {
		return nil, nil, fmt.Errorf("cluster %d no longer holds a directory", task.cluster)
	}
	return data, offsets, nil
}

// fileExtents locates the data of a file entry set. Deleted fragmented files
// keep their FAT chain on exFAT until it is reused, so the chain is tried
// first and contiguity is assumed when it is no longer intact.
func (v *Volume) fileExtents(ctx context.Context, set *EntrySet, deleted bool) ([]types.ByteRange, error) {
	size := set.Stream.DataLength
	first := set.Stream.FirstCluster
	need := int((size + v.clusterSize - 1) / v.clusterSize)

	var chain []uint32
	var err error
	if set.Stream.NoFatChain() {
		chain, err = v.contiguous(first, size)
	} else {
		chain, err = v.Chain(ctx, first, need)
		if err == nil && len(chain) < need {
			err = fmt.Errorf("cluster chain holds %d of %d clusters", len(chain), need)
		}
		if err != nil && deleted && ctx.Err() == nil {
			chain, err = v.contiguous(first, size)
		}
	}
	if err != nil {
		return nil, err
	}

	ranges := types.TrimToSize(v.ChainRanges(chain), size)
	for _, r := range ranges {
		if r.End() > v.end {
			return nil, fmt.Errorf("cluster run %s lies past the end of the volume", r)
		}
	}
	return ranges, nil
}
