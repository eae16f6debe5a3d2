package ntfs

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/go-restruct/restruct"
)

const (
	bootSectorSize = 512
	bootHeaderSize = 84
)

var (
	defaultEncoding = binary.LittleEndian
	requiredOEMID   = []byte("NTFS    ")
)

// BootSector is the NTFS volume boot record
type BootSector struct {
	JumpBoot               [3]byte
	OEMID                  [8]byte
	BytesPerSector         uint16
	SectorsPerCluster      uint8
	Reserved1              [7]byte
	MediaDescriptor        uint8
	Reserved2              uint16
	SectorsPerTrack        uint16
	NumHeads               uint16
	HiddenSectors          uint32
	Reserved3              [8]byte
	TotalSectors           uint64
	MFTCluster             uint64
	MFTMirrorCluster       uint64
	ClustersPerMFTRecord   int8
	Reserved4              [3]byte
	ClustersPerIndexRecord int8
	Reserved5              [3]byte
	SerialNumber           uint64
	Checksum               uint32
}

// ParseBootSector decodes and validates an NTFS boot sector
func ParseBootSector(data []byte) (*BootSector, error) {
	if len(data) < bootSectorSize {
		return nil, fmt.Errorf("boot sector too short: %d bytes", len(data))
	}
	bs := &BootSector{}
	if err := restruct.Unpack(data[:bootHeaderSize], defaultEncoding, bs); err != nil {
		return nil, fmt.Errorf("failed to decode boot sector: %w", err)
	}

	if !bytes.Equal(bs.OEMID[:], requiredOEMID) {
		return nil, fmt.Errorf("OEM id not correct: %q", bs.OEMID[:])
	}
	if data[510] != 0x55 || data[511] != 0xAA {
		return nil, fmt.Errorf("missing boot sector signature")
	}
	switch bs.BytesPerSector {
	case 512, 1024, 2048, 4096:
	default:
		return nil, fmt.Errorf("invalid bytes per sector: %d", bs.BytesPerSector)
	}
	if spc := bs.SectorsPerCluster; spc == 0 || spc&(spc-1) != 0 {
		return nil, fmt.Errorf("invalid sectors per cluster: %d", spc)
	}
	if bs.TotalSectors == 0 {
		return nil, fmt.Errorf("total sector count is zero")
	}
	if bs.MFTCluster == 0 || bs.MFTCluster*uint64(bs.SectorsPerCluster) >= bs.TotalSectors {
		return nil, fmt.Errorf("MFT cluster %d out of range", bs.MFTCluster)
	}
	rs := bs.RecordSize()
	if rs < 256 || rs > 65536 || rs&(rs-1) != 0 {
		return nil, fmt.Errorf("invalid MFT record size: %d", rs)
	}
	return bs, nil
}

// ClusterSize returns the cluster size in bytes
func (bs *BootSector) ClusterSize() uint64 {
	return uint64(bs.BytesPerSector) * uint64(bs.SectorsPerCluster)
}

// RecordSize returns the MFT record size. Negative values encode a power of two.
func (bs *BootSector) RecordSize() uint64 {
	if bs.ClustersPerMFTRecord > 0 {
		return uint64(bs.ClustersPerMFTRecord) * bs.ClusterSize()
	}
	shift := -int(bs.ClustersPerMFTRecord)
	if shift >= 32 {
		return 0
	}
	return 1 << shift
}

// VolumeSize returns the size of the volume in bytes. The backup boot
// sector in the last sector is not counted in TotalSectors.
func (bs *BootSector) VolumeSize() uint64 {
	return (bs.TotalSectors + 1) * uint64(bs.BytesPerSector)
}

// Serial returns the volume serial number in hex
func (bs *BootSector) Serial() string {
	return fmt.Sprintf("%016X", bs.SerialNumber)
}
