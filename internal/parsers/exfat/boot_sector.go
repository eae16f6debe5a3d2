package exfat

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/go-restruct/restruct"
)

const (
	bootSectorSize   = 512
	bootHeaderSize   = 120
	minFatOffset     = 24
	maxClusterShift  = 25
	maxClusterNumber = 0xFFFFFFF6
)

var (
	defaultEncoding = binary.LittleEndian

	requiredJumpBoot       = []byte{0xEB, 0x76, 0x90}
	requiredFileSystemName = []byte("EXFAT   ")
)

// BootSectorHeader holds the fields of the main boot sector up to the boot code
type BootSectorHeader struct {
	JumpBoot               [3]byte
	FileSystemName         [8]byte
	MustBeZero             [53]byte
	PartitionOffset        uint64
	VolumeLength           uint64
	FatOffset              uint32
	FatLength              uint32
	ClusterHeapOffset      uint32
	ClusterCount           uint32
	RootCluster            uint32
	VolumeSerialNumber     uint32
	FileSystemRevision     [2]uint8
	VolumeFlags            VolumeFlags
	BytesPerSectorShift    uint8
	SectorsPerClusterShift uint8
	NumberOfFats           uint8
	DriveSelect            uint8
	PercentInUse           uint8
	Reserved               [7]byte
}

// VolumeFlags is the VolumeFlags field of the boot sector
type VolumeFlags uint16

const (
	VolumeFlagActiveFat    VolumeFlags = 1
	VolumeFlagVolumeDirty  VolumeFlags = 2
	VolumeFlagMediaFailure VolumeFlags = 4
)

// UseSecondFat reports whether the second FAT is the active one
func (vf VolumeFlags) UseSecondFat() bool {
	return vf&VolumeFlagActiveFat != 0
}

// IsDirty reports whether the volume was not cleanly unmounted
func (vf VolumeFlags) IsDirty() bool {
	return vf&VolumeFlagVolumeDirty != 0
}

// ParseBootSector decodes and validates an exFAT main boot sector
func ParseBootSector(data []byte) (*BootSectorHeader, error) {
	if len(data) < bootSectorSize {
		return nil, fmt.Errorf("boot sector too short: %d bytes", len(data))
	}

	bsh := &BootSectorHeader{}
	if err := restruct.Unpack(data[:bootHeaderSize], defaultEncoding, bsh); err != nil {
		return nil, fmt.Errorf("failed to decode boot sector: %w", err)
	}

	switch {
	case !bytes.Equal(bsh.JumpBoot[:], requiredJumpBoot):
		return nil, fmt.Errorf("jump-boot value not correct: %x", bsh.JumpBoot[:])
	case !bytes.Equal(bsh.FileSystemName[:], requiredFileSystemName):
		return nil, fmt.Errorf("filesystem name not correct: %q", bsh.FileSystemName[:])
	case data[510] != 0x55 || data[511] != 0xAA:
		return nil, fmt.Errorf("missing boot sector signature")
	}
	for _, c := range bsh.MustBeZero {
		if c != 0 {
			return nil, fmt.Errorf("must-be-zero field not all zeros")
		}
	}

	if bsh.BytesPerSectorShift < 9 || bsh.BytesPerSectorShift > 12 {
		return nil, fmt.Errorf("invalid bytes per sector shift: %d", bsh.BytesPerSectorShift)
	}
	if bsh.BytesPerSectorShift+bsh.SectorsPerClusterShift > maxClusterShift {
		return nil, fmt.Errorf("cluster size 2^%d exceeds 32MB", bsh.BytesPerSectorShift+bsh.SectorsPerClusterShift)
	}
	if bsh.NumberOfFats != 1 && bsh.NumberOfFats != 2 {
		return nil, fmt.Errorf("invalid FAT count: %d", bsh.NumberOfFats)
	}
	if bsh.FatOffset < minFatOffset || bsh.FatLength == 0 {
		return nil, fmt.Errorf("invalid FAT placement: offset %d length %d", bsh.FatOffset, bsh.FatLength)
	}
	if uint64(bsh.ClusterHeapOffset) < uint64(bsh.FatOffset)+uint64(bsh.FatLength)*uint64(bsh.NumberOfFats) {
		return nil, fmt.Errorf("cluster heap at sector %d overlaps the FAT", bsh.ClusterHeapOffset)
	}
	if bsh.ClusterCount == 0 || bsh.ClusterCount > maxClusterNumber {
		return nil, fmt.Errorf("invalid cluster count: %d", bsh.ClusterCount)
	}
	if bsh.RootCluster < 2 || bsh.RootCluster-2 >= bsh.ClusterCount {
		return nil, fmt.Errorf("root directory cluster %d out of range", bsh.RootCluster)
	}
	return bsh, nil
}

// SectorSize returns the sector size in bytes
func (bsh *BootSectorHeader) SectorSize() uint64 {
	return 1 << bsh.BytesPerSectorShift
}

// ClusterSize returns the cluster size in bytes
func (bsh *BootSectorHeader) ClusterSize() uint64 {
	return 1 << (bsh.BytesPerSectorShift + bsh.SectorsPerClusterShift)
}

// VolumeSize returns the size of the volume in bytes
func (bsh *BootSectorHeader) VolumeSize() uint64 {
	return bsh.VolumeLength << bsh.BytesPerSectorShift
}

// SerialNumber returns the volume serial formatted as XXXX-XXXX
func (bsh *BootSectorHeader) SerialNumber() string {
	return fmt.Sprintf("%04X-%04X", bsh.VolumeSerialNumber>>16, bsh.VolumeSerialNumber&0xFFFF)
}

func (bsh BootSectorHeader) String() string {
	return fmt.Sprintf("BootSector<SN=(0x%08x) REVISION=(0x%02x)-(0x%02x)>", bsh.VolumeSerialNumber, bsh.FileSystemRevision[1], bsh.FileSystemRevision[0])
}
