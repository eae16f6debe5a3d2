package ntfs

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strconv"
	"strings"

	"github.com/deploymenttheory/go-recovery/internal/helpers"
	"github.com/deploymenttheory/go-recovery/internal/types"
)

// StrategyName identifies NTFS entries in keys and diagnostics
const StrategyName = "ntfs"

// OrphanPath is the folder of deleted records whose parent cannot be resolved
const OrphanPath = "/$Orphan"

const maxPathDepth = 256

// node is what the first pass keeps of every base record
type node struct {
	name      string
	parent    uint64
	parentSeq uint16
	seq       uint16
	inUse     bool
	dir       bool
}

type index map[uint64]node

// owns reports whether n is the record a reference with sequence want points
// to. Deleting a record bumps its sequence number once.
func (n node) owns(want uint16) bool {
	return n.seq == want || (!n.inUse && n.seq == want+1)
}

// path resolves the directory path of a parent reference
func (idx index) path(parent uint64, parentSeq uint16) (string, bool) {
	var parts []string
	for depth := 0; parent != recordRoot; depth++ {
		n, ok := idx[parent]
		if !ok || !n.dir || !n.owns(parentSeq) || depth > maxPathDepth {
			return "", false
		}
		parts = append(parts, helpers.SanitizeName(n.name))
		parent, parentSeq = n.parent, n.parentSeq
	}
	slices.Reverse(parts)
	return "/" + strings.Join(parts, "/"), true
}

// liveParent reports whether the reference names an allocated directory
func (idx index) liveParent(parent uint64, parentSeq uint16) bool {
	if parent == recordRoot {
		return true
	}
	n, ok := idx[parent]
	return ok && n.inUse && n.dir && n.seq == parentSeq
}

// Entries walks the MFT. A first pass indexes directory names; the second
// produces files. Live files and deleted files whose parent directory is
// still allocated are always produced; with deep set every deleted record
// is, and those whose parent cannot be resolved land under OrphanPath.
// Damaged records are reported as *types.MalformedError values.
func (v *Volume) Entries(ctx context.Context, deep bool) iter.Seq2[types.RawEntry, error] {
	return func(yield func(types.RawEntry, error) bool) {
		total := float64(v.recordCount)
		idx := make(index)
		damaged := make(map[uint64]error)

		for n := uint64(firstUserRecord); n < v.recordCount; n++ {
			if err := ctx.Err(); err != nil {
				yield(types.RawEntry{}, err)
				return
			}
			rec, err := v.ReadRecord(ctx, n)
			if err != nil {
				if errors.Is(err, errNotRecord) {
					continue
				}
				if ctxErr := ctx.Err(); ctxErr != nil {
					yield(types.RawEntry{}, ctxErr)
					return
				}
				damaged[n] = err
				continue
			}
			if rec.Header.BaseReference() != 0 {
				continue
			}
			fn := rec.FileName()
			if fn == nil {
				continue
			}
			parent, parentSeq := fn.Parent()
			idx[n] = node{
				name:      fn.Name,
				parent:    parent,
				parentSeq: parentSeq,
				seq:       rec.Header.Sequence,
				inUse:     rec.Header.InUse(),
				dir:       rec.Header.IsDirectory(),
			}
		}

		for n := uint64(firstUserRecord); n < v.recordCount; n++ {
			if err := ctx.Err(); err != nil {
				yield(types.RawEntry{}, err)
				return
			}
			id := strconv.FormatUint(n, 10)
			if err, ok := damaged[n]; ok {
				if !yield(types.RawEntry{}, types.NewMalformedError(StrategyName, id, "%v", err)) {
					return
				}
				continue
			}
			nd, ok := idx[n]
			if !ok || nd.dir {
				continue
			}
			if !nd.inUse && !deep && !idx.liveParent(nd.parent, nd.parentSeq) {
				continue
			}

			entry, err := v.entry(ctx, n, nd, idx)
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
			if entry == nil {
				continue
			}
			entry.Progress = float64(n+1) / total
			if !yield(*entry, nil) {
				return
			}
		}
	}
}

// entry builds the raw entry of record n. It returns nil for records without
// file content.
func (v *Volume) entry(ctx context.Context, n uint64, nd node, idx index) (*types.RawEntry, error) {
	rec, err := v.ReadRecord(ctx, n)
	if err != nil {
		return nil, err
	}

	entry := &types.RawEntry{
		ID:         strconv.FormatUint(n, 10),
		Name:       helpers.SanitizeName(nd.name),
		Deleted:    !nd.inUse,
		Timestamps: rec.Timestamps(),
	}
	if path, ok := idx.path(nd.parent, nd.parentSeq); ok {
		entry.Path = path
	} else {
		entry.Path = OrphanPath
		entry.Orphan = true
	}

	data := rec.Data()
	extra := v.extensionData(ctx, rec)
	if data == nil && len(extra) > 0 && extra[0].StartVCN == 0 {
		data = &extra[0]
		extra = extra[1:]
	}
	if data == nil {
		return nil, nil
	}
	entry.Compressed, entry.Encrypted, entry.Sparse = rec.fileFlags(data)

	if !data.NonResident {
		if len(data.Value) == 0 {
			return nil, nil
		}
		entry.DeclaredSize, entry.HasSize = uint64(len(data.Value)), true
		entry.Extents, err = v.residentRanges(rec, data)
		return entry, err
	}

	if data.DataSize == 0 {
		return nil, nil
	}
	entry.DeclaredSize, entry.HasSize = data.DataSize, true

	runs := slices.Clone(data.Runs)
	for _, a := range extra {
		runs = append(runs, a.Runs...)
	}
	ranges, sparse, err := v.runRanges(runs, data.DataSize)
	if err != nil {
		return nil, err
	}
	entry.Extents = ranges
	entry.Sparse = entry.Sparse || sparse
	return entry, nil
}

// extensionData collects the non-resident unnamed $DATA pieces a resident
// $ATTRIBUTE_LIST places in extension records, ordered by starting VCN
func (v *Volume) extensionData(ctx context.Context, rec *Record) []Attribute {
	list := rec.find(AttrAttributeList, "")
	if list == nil || list.NonResident {
		return nil
	}
	entries, err := parseAttributeList(list.Value)
	if err != nil {
		return nil
	}

	var out []Attribute
	for _, e := range entries {
		if e.Type != AttrData || e.NameLength != 0 || e.Record() == rec.Number {
			continue
		}
		ext, err := v.ReadRecord(ctx, e.Record())
		if err != nil || ext.Header.BaseReference() != rec.Number {
			continue
		}
		for _, a := range ext.Attributes {
			if a.Type == AttrData && a.Name == "" && a.NonResident && a.StartVCN == e.StartVCN {
				out = append(out, a)
			}
		}
	}
	slices.SortFunc(out, func(a, b Attribute) int {
		switch {
		case a.StartVCN < b.StartVCN:
			return -1
		case a.StartVCN > b.StartVCN:
			return 1
		}
		return 0
	})
	return out
}

// String describes the volume for diagnostics
func (v *Volume) String() string {
	return fmt.Sprintf("NTFS<serial=%s records=%d record_size=%d cluster=%d>", v.Boot.Serial(), v.recordCount, v.recordSize, v.clusterSize)
}
