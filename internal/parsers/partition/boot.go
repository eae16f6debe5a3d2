package partition

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/deploymenttheory/go-recovery/internal/interfaces"
	"github.com/deploymenttheory/go-recovery/internal/parsers/exfat"
	"github.com/deploymenttheory/go-recovery/internal/parsers/fat"
	"github.com/deploymenttheory/go-recovery/internal/parsers/ntfs"
	"github.com/deploymenttheory/go-recovery/internal/types"
)

// bootProbeSize covers a boot sector and the container superblock fields
const bootProbeSize = 512

// exFAT keeps a copy of the boot region twelve sectors in
const exfatBackupSector = 12

// BootRecord is a filesystem boot sector or container superblock
type BootRecord struct {
	Offset     uint64
	FileSystem types.FileSystemType
	Size       uint64
	Label      string
	// Serial is the volume serial or container UUID
	Serial string
	// BackupDistance is how far past Offset the filesystem keeps a copy of
	// this record, or zero when it keeps none
	BackupDistance uint64
}

// ErrNotBootSector is returned for data no boot record parser accepts
var ErrNotBootSector = errors.New("not a recognized boot sector")

// IdentifyBootSector decodes data found at offset as an NTFS, exFAT or FAT
// boot sector or an APFS container superblock
func IdentifyBootSector(data []byte, offset uint64) (*BootRecord, error) {
	if bs, err := ntfs.ParseBootSector(data); err == nil {
		return &BootRecord{
			Offset:         offset,
			FileSystem:     types.FileSystemNTFS,
			Size:           bs.VolumeSize(),
			Serial:         bs.Serial(),
			BackupDistance: bs.TotalSectors * uint64(bs.BytesPerSector),
		}, nil
	}
	if bsh, err := exfat.ParseBootSector(data); err == nil {
		return &BootRecord{
			Offset:         offset,
			FileSystem:     types.FileSystemExFAT,
			Size:           bsh.VolumeSize(),
			Serial:         bsh.SerialNumber(),
			BackupDistance: exfatBackupSector * bsh.SectorSize(),
		}, nil
	}
	if bs, err := fat.ParseBootSector(data); err == nil {
		rec := &BootRecord{
			Offset:     offset,
			FileSystem: bs.Type,
			Size:       bs.VolumeSize(),
			Label:      bs.Label(),
			Serial:     bs.VolumeID(),
		}
		if bs.Ext32 != nil && bs.Ext32.BackupBootSector != 0 {
			rec.BackupDistance = uint64(bs.Ext32.BackupBootSector) * uint64(bs.BPB.BytesPerSector)
		}
		return rec, nil
	}
	if sb, err := ParseContainerSuperblock(data); err == nil {
		return &BootRecord{
			Offset:     offset,
			FileSystem: types.FileSystemAPFS,
			Size:       sb.Size(),
			Serial:     strings.ToUpper(sb.ContainerUUID().String()),
		}, nil
	}
	return nil, ErrNotBootSector
}

// ReadBootRecord reads and identifies the structure at offset
func ReadBootRecord(ctx context.Context, src interfaces.MetadataSource, offset uint64) (*BootRecord, error) {
	if offset >= src.Capacity() || src.Capacity()-offset < bootProbeSize {
		return nil, fmt.Errorf("boot record at %d runs past the end of the volume", offset)
	}
	data, err := src.ReadCached(ctx, offset, bootProbeSize)
	if err != nil {
		return nil, fmt.Errorf("failed to read boot record: %w", err)
	}
	return IdentifyBootSector(data, offset)
}
