package fat

import (
	"context"
	"fmt"
	"iter"
	"strconv"

	"github.com/deploymenttheory/go-recovery/internal/helpers"
	"github.com/deploymenttheory/go-recovery/internal/types"
)

// StrategyName identifies FAT entries in keys and diagnostics
const StrategyName = "fat"

// maxDirClusters bounds the chain followed for one directory
const maxDirClusters = 65536

type dirTask struct {
	path    string
	cluster uint32
	// deleted directories are read from their first cluster only
	deleted bool
}

// Entries walks the directory tree. Live files and deleted files of live
// directories are always produced; with deep set, deleted directories are
// descended into and their files produced too. Malformed entries are reported
// as *types.MalformedError values and the walk continues.
func (v *Volume) Entries(ctx context.Context, deep bool) iter.Seq2[types.RawEntry, error] {
	return func(yield func(types.RawEntry, error) bool) {
		stack := []dirTask{{path: "", cluster: 0}}
		visited := make(map[uint32]struct{})
		done := 0

		for len(stack) > 0 {
			if err := ctx.Err(); err != nil {
				yield(types.RawEntry{}, err)
				return
			}
			task := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			done++

			data, units, unitSize, err := v.readDirectory(ctx, task)
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
			var lfn longNameAccumulator

			for off := 0; off+dirEntrySize <= len(data); off += dirEntrySize {
				raw := data[off : off+dirEntrySize]
				if raw[0] == markerEnd {
					break
				}
				if raw[11]&0x3F == AttrLongName {
					lfn.add(parseLongNamePart(raw))
					continue
				}

				e, err := parseDirEntry(raw)
				if err != nil {
					lfn.reset()
					continue
				}
				if e.Attr&AttrVolumeID != 0 || e.IsDotEntry() {
					lfn.reset()
					continue
				}

				longName, first := lfn.resolve(e)
				name := longName
				if name == "" {
					name = e.ShortName(first)
				}
				name = helpers.SanitizeName(name)
				entryOffset := units[uint64(off)/unitSize] + uint64(off)%unitSize
				id := strconv.FormatUint(entryOffset, 10)
				deleted := e.IsDeleted() || task.deleted

				if e.IsDirectory() {
					child := e.FirstCluster()
					if !v.ValidCluster(child) {
						continue
					}
					if _, seen := visited[child]; seen {
						continue
					}
					if deleted && !deep {
						continue
					}
					visited[child] = struct{}{}
					stack = append(stack, dirTask{path: task.path + "/" + name, cluster: child, deleted: deleted})
					continue
				}

				if e.FileSize == 0 {
					continue
				}
				if deleted && task.deleted && !deep {
					continue
				}

				entry := types.RawEntry{
					ID:           id,
					Name:         name,
					Path:         task.path,
					DeclaredSize: uint64(e.FileSize),
					HasSize:      true,
					Deleted:      deleted,
					Timestamps:   e.Timestamps(),
					Progress:     progress,
				}
				if entry.Path == "" {
					entry.Path = "/"
				}

				if deleted {
					entry.Extents, err = v.deletedExtents(e)
				} else {
					entry.Extents, err = v.liveExtents(ctx, e)
				}
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

// readDirectory returns the raw entries of a directory, the absolute offset
// of each unit read and the unit size
func (v *Volume) readDirectory(ctx context.Context, task dirTask) ([]byte, []uint64, uint64, error) {
	if task.cluster == 0 && v.Boot.Type != types.FileSystemFAT32 {
		data, err := v.src.ReadCached(ctx, v.rootDirOffset, uint32(v.rootDirSize))
		if err != nil {
			return nil, nil, 0, fmt.Errorf("failed to read root directory: %w", err)
		}
		return data, []uint64{v.rootDirOffset}, v.rootDirSize, nil
	}

	first := task.cluster
	if first == 0 {
		first = v.Boot.Ext32.RootCluster
	}

	var chain []uint32
	if task.deleted {
		if !v.ValidCluster(first) {
			return nil, nil, 0, fmt.Errorf("directory cluster %d out of range", first)
		}
		chain = []uint32{first}
	} else {
		var err error
		chain, err = v.Chain(ctx, first, maxDirClusters)
		if err != nil && len(chain) == 0 {
			return nil, nil, 0, err
		}
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
			return nil, nil, 0, fmt.Errorf("failed to read directory cluster %d: %w", c, err)
		}
		data = append(data, buf...)
		offsets = append(offsets, off)
	}

	if task.deleted && !isLikelyDirectory(data) {
		return nil, nil, 0, fmt.Errorf("cluster %d no longer holds a directory", first)
	}
	return data, offsets, v.clusterSize, nil
}

// deletedExtents assumes the freed clusters were contiguous from the first one
func (v *Volume) deletedExtents(e *DirEntry) ([]types.ByteRange, error) {
	first := e.FirstCluster()
	if !v.ValidCluster(first) {
		return nil, fmt.Errorf("first cluster %d out of range", first)
	}
	start := v.ClusterOffset(first)
	size := uint64(e.FileSize)
	if start+size > v.end {
		return nil, fmt.Errorf("%d bytes from cluster %d run past the end of the volume", size, first)
	}
	return []types.ByteRange{{Offset: start, Length: size}}, nil
}

// liveExtents follows the FAT chain of an allocated file
func (v *Volume) liveExtents(ctx context.Context, e *DirEntry) ([]types.ByteRange, error) {
	size := uint64(e.FileSize)
	need := int((size + v.clusterSize - 1) / v.clusterSize)
	chain, err := v.Chain(ctx, e.FirstCluster(), need)
	if err != nil {
		return nil, err
	}
	if len(chain) < need {
		return nil, fmt.Errorf("cluster chain holds %d of %d clusters", len(chain), need)
	}

	ranges := types.TrimToSize(v.ChainRanges(chain), size)
	for _, r := range ranges {
		if r.End() > v.end {
			return nil, fmt.Errorf("cluster run %s lies past the end of the volume", r)
		}
	}
	return ranges, nil
}
