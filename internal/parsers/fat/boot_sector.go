package fat

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/go-restruct/restruct"

	"github.com/deploymenttheory/go-recovery/internal/types"
)

const (
	bootSectorSize = 512

	// cluster count thresholds that decide the FAT width
	maxFAT12Clusters = 4085
	maxFAT16Clusters = 65525
)

var defaultEncoding = binary.LittleEndian

// BIOSParameterBlock is the part of the boot sector shared by FAT12, FAT16 and FAT32
type BIOSParameterBlock struct {
	JumpBoot          [3]byte
	OEMName           [8]byte
	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	NumFATs           uint8
	RootEntryCount    uint16
	TotalSectors16    uint16
	Media             uint8
	FATSize16         uint16
	SectorsPerTrack   uint16
	NumHeads          uint16
	HiddenSectors     uint32
	TotalSectors32    uint32
}

// Extension16 follows the BPB on FAT12 and FAT16 volumes
type Extension16 struct {
	DriveNumber    uint8
	Reserved       uint8
	BootSignature  uint8
	VolumeID       uint32
	VolumeLabel    [11]byte
	FileSystemType [8]byte
}

// Extension32 follows the BPB on FAT32 volumes
type Extension32 struct {
	FATSize32        uint32
	ExtFlags         uint16
	FSVersion        uint16
	RootCluster      uint32
	FSInfoSector     uint16
	BackupBootSector uint16
	Reserved         [12]byte
	DriveNumber      uint8
	Reserved1        uint8
	BootSignature    uint8
	VolumeID         uint32
	VolumeLabel      [11]byte
	FileSystemType   [8]byte
}

// BootSector is a decoded and validated FAT boot sector
type BootSector struct {
	BPB   BIOSParameterBlock
	Ext16 *Extension16
	Ext32 *Extension32

	Type            types.FileSystemType
	FATSize         uint32
	TotalSectors    uint32
	RootDirSectors  uint32
	FirstDataSector uint32
	ClusterCount    uint32
}

// ParseBootSector decodes a FAT boot sector and derives the volume geometry
func ParseBootSector(data []byte) (*BootSector, error) {
	if len(data) < bootSectorSize {
		return nil, fmt.Errorf("boot sector too short: %d bytes", len(data))
	}
	if data[510] != 0x55 || data[511] != 0xAA {
		return nil, fmt.Errorf("missing boot sector signature")
	}

	bs := &BootSector{}
	if err := restruct.Unpack(data[:36], defaultEncoding, &bs.BPB); err != nil {
		return nil, fmt.Errorf("failed to decode BPB: %w", err)
	}

	bpb := &bs.BPB
	switch bpb.BytesPerSector {
	case 512, 1024, 2048, 4096:
	default:
		return nil, fmt.Errorf("invalid bytes per sector: %d", bpb.BytesPerSector)
	}
	if spc := bpb.SectorsPerCluster; spc == 0 || spc&(spc-1) != 0 {
		return nil, fmt.Errorf("invalid sectors per cluster: %d", spc)
	}
	if bpb.ReservedSectors == 0 {
		return nil, fmt.Errorf("reserved sector count is zero")
	}
	if bpb.NumFATs == 0 {
		return nil, fmt.Errorf("FAT count is zero")
	}

	if bpb.FATSize16 != 0 {
		bs.FATSize = uint32(bpb.FATSize16)
		bs.Ext16 = &Extension16{}
		if err := restruct.Unpack(data[36:62], defaultEncoding, bs.Ext16); err != nil {
			return nil, fmt.Errorf("failed to decode FAT16 extension: %w", err)
		}
	} else {
		bs.Ext32 = &Extension32{}
		if err := restruct.Unpack(data[36:90], defaultEncoding, bs.Ext32); err != nil {
			return nil, fmt.Errorf("failed to decode FAT32 extension: %w", err)
		}
		bs.FATSize = bs.Ext32.FATSize32
	}
	if bs.FATSize == 0 {
		return nil, fmt.Errorf("FAT size is zero")
	}

	bs.TotalSectors = uint32(bpb.TotalSectors16)
	if bs.TotalSectors == 0 {
		bs.TotalSectors = bpb.TotalSectors32
	}

	bps := uint32(bpb.BytesPerSector)
	bs.RootDirSectors = (uint32(bpb.RootEntryCount)*32 + bps - 1) / bps
	bs.FirstDataSector = uint32(bpb.ReservedSectors) + uint32(bpb.NumFATs)*bs.FATSize + bs.RootDirSectors
	if bs.FirstDataSector >= bs.TotalSectors {
		return nil, fmt.Errorf("data region starts at sector %d beyond total %d", bs.FirstDataSector, bs.TotalSectors)
	}
	bs.ClusterCount = (bs.TotalSectors - bs.FirstDataSector) / uint32(bpb.SectorsPerCluster)

	switch {
	case bs.ClusterCount < maxFAT12Clusters:
		bs.Type = types.FileSystemFAT12
	case bs.ClusterCount < maxFAT16Clusters:
		bs.Type = types.FileSystemFAT16
	default:
		bs.Type = types.FileSystemFAT32
	}
	if bs.Type == types.FileSystemFAT32 && bs.Ext32 == nil {
		return nil, fmt.Errorf("FAT32 cluster count with a FAT16 BPB")
	}
	if bs.Type != types.FileSystemFAT32 && bpb.RootEntryCount == 0 {
		return nil, fmt.Errorf("%s volume without root directory entries", bs.Type)
	}

	return bs, nil
}

// BytesPerCluster returns the cluster size in bytes
func (bs *BootSector) BytesPerCluster() uint64 {
	return uint64(bs.BPB.BytesPerSector) * uint64(bs.BPB.SectorsPerCluster)
}

// VolumeSize returns the size of the volume in bytes
func (bs *BootSector) VolumeSize() uint64 {
	return uint64(bs.TotalSectors) * uint64(bs.BPB.BytesPerSector)
}

// Label returns the volume label stored in the boot sector
func (bs *BootSector) Label() string {
	var raw []byte
	switch {
	case bs.Ext32 != nil:
		raw = bs.Ext32.VolumeLabel[:]
	case bs.Ext16 != nil:
		raw = bs.Ext16.VolumeLabel[:]
	}
	label := strings.TrimRight(string(raw), " \x00")
	if label == "NO NAME" {
		return ""
	}
	return label
}

// VolumeID returns the volume serial number formatted as XXXX-XXXX
func (bs *BootSector) VolumeID() string {
	var id uint32
	switch {
	case bs.Ext32 != nil:
		id = bs.Ext32.VolumeID
	case bs.Ext16 != nil:
		id = bs.Ext16.VolumeID
	}
	if id == 0 {
		return ""
	}
	return fmt.Sprintf("%04X-%04X", id>>16, id&0xFFFF)
}
