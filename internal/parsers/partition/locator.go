package partition

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/deploymenttheory/go-recovery/internal/interfaces"
	"github.com/deploymenttheory/go-recovery/internal/signatures"
	"github.com/deploymenttheory/go-recovery/internal/types"
)

// Confidence weights of a candidate volume
const (
	BaseConfidence  = 0.5
	TableBonus      = 0.3
	BootSectorBonus = 0.2
)

// Locator collects partition tables and boot records found on a volume and
// merges them into candidate volumes
type Locator struct {
	capacity uint64
	tables   []*Table
	boots    []*BootRecord
}

// NewLocator creates a locator for a volume of the given capacity
func NewLocator(capacity uint64) *Locator {
	return &Locator{capacity: capacity}
}

// Tables returns the accepted partition tables
func (l *Locator) Tables() []*Table {
	return l.tables
}

// AddTable records a partition table. A GPT already known by its disk GUID
// is kept once, preferring the primary header over the backup.
func (l *Locator) AddTable(t *Table) {
	if t.Scheme == types.SchemeGPT && t.DiskGUID != "" {
		for i, known := range l.tables {
			if known.Scheme != types.SchemeGPT || known.DiskGUID != t.DiskGUID {
				continue
			}
			if known.Backup && !t.Backup {
				l.tables[i] = t
			}
			return
		}
	}
	l.tables = append(l.tables, t)
}

// AddBoot records a boot record
func (l *Locator) AddBoot(r *BootRecord) {
	l.boots = append(l.boots, r)
}

// Inspect decodes the structure a partition signature match points at and
// records it. Structures that fail validation are returned as errors and
// not recorded.
func (l *Locator) Inspect(ctx context.Context, src interfaces.MetadataSource, m signatures.PartitionMatch, sectorSize uint32) error {
	switch m.Kind {
	case signatures.StructureGPT:
		t, err := ReadGPT(ctx, src, m.Offset, sectorSize)
		if err != nil {
			return fmt.Errorf("GPT header at %d: %w", m.Offset, err)
		}
		l.AddTable(t)
	case signatures.StructureMBR:
		t, err := l.readMBR(ctx, src, m.Offset, sectorSize)
		if err != nil {
			return fmt.Errorf("partition table at %d: %w", m.Offset, err)
		}
		l.AddTable(t)
	default:
		r, err := ReadBootRecord(ctx, src, m.Offset)
		if err != nil {
			return fmt.Errorf("%s boot record at %d: %w", m.Kind, m.Offset, err)
		}
		l.AddBoot(r)
	}
	return nil
}

// readMBR follows extended partitions only for the table at the start of the
// disk. Elsewhere the sector may be an extended boot record, whose link slot
// is relative to an extended partition start that is not known here.
func (l *Locator) readMBR(ctx context.Context, src interfaces.MetadataSource, offset uint64, sectorSize uint32) (*Table, error) {
	if offset == 0 {
		return ReadMBR(ctx, src, 0, sectorSize)
	}
	sector, err := src.ReadCached(ctx, offset, 512)
	if err != nil {
		return nil, err
	}
	return ParseMBR(sector, offset, sectorSize, src.Capacity())
}

// isCopy reports whether r repeats a record already accepted: the same
// filesystem and serial, placed inside that record's volume
func isCopy(r *BootRecord, accepted []*BootRecord) bool {
	if r.Serial == "" {
		return false
	}
	for _, p := range accepted {
		if p.FileSystem == r.FileSystem && p.Serial == r.Serial && r.Offset > p.Offset && r.Offset < p.Offset+p.Size {
			return true
		}
	}
	return false
}

// Volumes merges tables and boot records into candidate volumes ordered by
// offset. A table entry and a boot record at the same offset are one volume.
func (l *Locator) Volumes() []types.CandidateVolume {
	byOffset := make(map[uint64]*types.CandidateVolume)
	var order []uint64
	add := func(v *types.CandidateVolume) {
		byOffset[v.Offset] = v
		order = append(order, v.Offset)
	}

	for _, t := range l.tables {
		for _, e := range t.Entries {
			if _, ok := byOffset[e.Offset]; ok {
				continue
			}
			add(&types.CandidateVolume{
				Offset:        e.Offset,
				Size:          min(e.Size, l.capacity-e.Offset),
				Scheme:        t.Scheme,
				Index:         e.Index,
				FileSystem:    e.FileSystem,
				PartitionType: e.TypeName,
				Label:         e.Name,
				UUID:          e.UUID,
				InTable:       true,
			})
		}
	}

	boots := slices.Clone(l.boots)
	slices.SortStableFunc(boots, func(a, b *BootRecord) int {
		switch {
		case a.Offset < b.Offset:
			return -1
		case a.Offset > b.Offset:
			return 1
		}
		return 0
	})

	var accepted []*BootRecord
	for _, r := range boots {
		if v, ok := byOffset[r.Offset]; ok {
			if !v.BootSector {
				attachBoot(v, r)
				accepted = append(accepted, r)
			}
			continue
		}
		if isCopy(r, accepted) {
			continue
		}
		// a copy whose primary was destroyed still confirms its table entry
		if r.BackupDistance > 0 && r.Offset >= r.BackupDistance {
			if v, ok := byOffset[r.Offset-r.BackupDistance]; ok && !v.BootSector {
				attachBoot(v, r)
				continue
			}
		}
		accepted = append(accepted, r)
		add(&types.CandidateVolume{
			Offset:     r.Offset,
			Size:       min(r.Size, l.capacity-r.Offset),
			Scheme:     types.SchemeNone,
			Index:      -1,
			FileSystem: r.FileSystem,
			Label:      r.Label,
			UUID:       r.Serial,
			BootSector: true,
		})
	}

	slices.Sort(order)
	out := make([]types.CandidateVolume, 0, len(order))
	for _, off := range order {
		v := byOffset[off]
		v.Confidence = Confidence(v)
		v.Key = fmt.Sprintf("volume:%d", v.Offset)
		out = append(out, *v)
	}
	return out
}

func attachBoot(v *types.CandidateVolume, r *BootRecord) {
	v.BootSector = true
	v.FileSystem = r.FileSystem
	if v.Label == "" {
		v.Label = r.Label
	}
	if v.UUID == "" {
		v.UUID = r.Serial
	}
	if v.Size == 0 {
		v.Size = r.Size
	}
}

// Confidence scores a candidate volume from the evidence that located it
func Confidence(v *types.CandidateVolume) float64 {
	c := BaseConfidence
	if v.InTable {
		c += TableBonus
	}
	if v.BootSector {
		c += BootSectorBonus
	}
	return min(c, 1)
}

// IsNotFound reports whether err means a sector simply held no structure,
// as opposed to a damaged one
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotBootSector) || errors.Is(err, errNoEntries)
}
