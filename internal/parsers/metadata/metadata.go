// Package metadata selects the filesystem strategy that can walk a volume's
// residual metadata. The set of strategies is closed: a Kind names one and
// Probe decides which apply by reading boot sectors and partition tables.
package metadata

import (
	"context"
	"fmt"
	"iter"

	"github.com/deploymenttheory/go-recovery/internal/parsers/exfat"
	"github.com/deploymenttheory/go-recovery/internal/parsers/fat"
	"github.com/deploymenttheory/go-recovery/internal/parsers/ntfs"
	"github.com/deploymenttheory/go-recovery/internal/types"
)

// Kind identifies a metadata strategy
type Kind int

const (
	// KindNone walks nothing; also called generic
	KindNone Kind = iota
	KindFAT
	KindExFAT
	KindNTFS
)

// String returns the strategy name used in candidate keys and logs
func (k Kind) String() string {
	switch k {
	case KindFAT:
		return fat.StrategyName
	case KindExFAT:
		return exfat.StrategyName
	case KindNTFS:
		return ntfs.StrategyName
	default:
		return "generic"
	}
}

// Depth selects how much of the metadata a strategy produces
type Depth int

const (
	// DepthQuick yields live entries and deleted entries of live directories
	DepthQuick Depth = iota
	// DepthDeep adds entries inside deleted directories and orphans
	DepthDeep
)

// String returns the depth name
func (d Depth) String() string {
	if d == DepthDeep {
		return "deep"
	}
	return "quick"
}

// Strategy is one filesystem found on the volume. Exactly one of the volume
// fields is set, matching Kind; KindNone has none.
type Strategy struct {
	Kind       Kind
	FileSystem types.FileSystemType
	// Base and Size locate the filesystem on the volume
	Base uint64
	Size uint64
	// Partition is the table slot the filesystem was found through, or -1
	Partition int

	fat   *fat.Volume
	exfat *exfat.Volume
	ntfs  *ntfs.Volume
}

// None is the generic strategy for volumes without recognizable metadata
func None() *Strategy {
	return &Strategy{Kind: KindNone, Partition: -1}
}

// Name returns the strategy name
func (s *Strategy) Name() string {
	return s.Kind.String()
}

// Range returns the byte range the filesystem occupies
func (s *Strategy) Range() types.ByteRange {
	return types.ByteRange{Offset: s.Base, Length: s.Size}
}

// Entries walks the filesystem. Malformed entries are reported as
// *types.MalformedError values and the walk continues; a context error ends it.
func (s *Strategy) Entries(ctx context.Context, depth Depth) iter.Seq2[types.RawEntry, error] {
	deep := depth == DepthDeep
	switch s.Kind {
	case KindFAT:
		return s.fat.Entries(ctx, deep)
	case KindExFAT:
		return s.exfat.Entries(ctx, deep)
	case KindNTFS:
		return s.ntfs.Entries(ctx, deep)
	default:
		return func(func(types.RawEntry, error) bool) {}
	}
}

// String describes the strategy for diagnostics
func (s *Strategy) String() string {
	if s.Kind == KindNone {
		return "generic"
	}
	return fmt.Sprintf("%s<offset=%d size=%d>", s.FileSystem, s.Base, s.Size)
}
