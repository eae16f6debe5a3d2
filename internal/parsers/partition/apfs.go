package partition

import (
	"fmt"

	"github.com/go-restruct/restruct"
	"github.com/google/uuid"
)

const (
	// NxMagic is 'NXSB' read as a little endian integer
	NxMagic uint32 = 'B'<<24 | 'S'<<16 | 'X'<<8 | 'N'

	containerHeaderSize = 104
	nxMinimumBlockSize  = 4096
	nxMaximumBlockSize  = 65536
)

// ContainerSuperblock is the leading part of an APFS container superblock
// (nx_superblock_t): the object header and the fields that size the container
type ContainerSuperblock struct {
	Checksum [8]byte
	Oid      uint64
	Xid      uint64
	Type     uint32
	Subtype  uint32

	Magic                      uint32
	BlockSize                  uint32
	BlockCount                 uint64
	Features                   uint64
	ReadonlyCompatibleFeatures uint64
	IncompatibleFeatures       uint64
	UUID                       [16]byte
	NextOid                    uint64
	NextXid                    uint64
}

// ParseContainerSuperblock decodes and validates an APFS container superblock
func ParseContainerSuperblock(data []byte) (*ContainerSuperblock, error) {
	if len(data) < containerHeaderSize {
		return nil, fmt.Errorf("data too small for container superblock: %d bytes", len(data))
	}

	sb := &ContainerSuperblock{}
	if err := restruct.Unpack(data[:containerHeaderSize], defaultEncoding, sb); err != nil {
		return nil, fmt.Errorf("failed to parse container superblock: %w", err)
	}
	if sb.Magic != NxMagic {
		return nil, fmt.Errorf("invalid container superblock magic: got 0x%08X, want 0x%08X", sb.Magic, NxMagic)
	}
	if sb.BlockSize < nxMinimumBlockSize || sb.BlockSize > nxMaximumBlockSize || sb.BlockSize&(sb.BlockSize-1) != 0 {
		return nil, fmt.Errorf("invalid container block size: %d", sb.BlockSize)
	}
	if sb.BlockCount == 0 {
		return nil, fmt.Errorf("container block count is zero")
	}
	return sb, nil
}

// Size returns the size of the container in bytes
func (sb *ContainerSuperblock) Size() uint64 {
	return uint64(sb.BlockSize) * sb.BlockCount
}

// ContainerUUID returns the container UUID. APFS stores UUIDs in RFC 4122
// byte order.
func (sb *ContainerSuperblock) ContainerUUID() uuid.UUID {
	return uuid.UUID(sb.UUID)
}
