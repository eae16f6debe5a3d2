package types

// FileSystemType identifies a filesystem found on a candidate volume.
type FileSystemType int

const (
	FileSystemUnknown FileSystemType = iota
	FileSystemNTFS
	FileSystemFAT12
	FileSystemFAT16
	FileSystemFAT32
	FileSystemExFAT
	FileSystemAPFS
)

// String returns the conventional filesystem name
func (f FileSystemType) String() string {
	switch f {
	case FileSystemNTFS:
		return "NTFS"
	case FileSystemFAT12:
		return "FAT12"
	case FileSystemFAT16:
		return "FAT16"
	case FileSystemFAT32:
		return "FAT32"
	case FileSystemExFAT:
		return "exFAT"
	case FileSystemAPFS:
		return "APFS"
	default:
		return "Unknown"
	}
}

// MarshalText implements encoding.TextMarshaler
func (f FileSystemType) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// PartitionScheme names the structure that described a candidate volume.
type PartitionScheme string

const (
	SchemeNone PartitionScheme = "none"
	SchemeMBR  PartitionScheme = "mbr"
	SchemeGPT  PartitionScheme = "gpt"
)

// CandidateVolume is a volume located by a partition recovery scan.
type CandidateVolume struct {
	Key    string          `json:"key" yaml:"key"`
	Offset uint64          `json:"offset" yaml:"offset"`
	Size   uint64          `json:"size" yaml:"size"`
	Scheme PartitionScheme `json:"scheme" yaml:"scheme"`
	// Index is the table slot, or -1 for volumes found only by boot sector.
	Index         int            `json:"index" yaml:"index"`
	FileSystem    FileSystemType `json:"file_system" yaml:"file_system"`
	PartitionType string         `json:"partition_type,omitempty" yaml:"partition_type,omitempty"`
	Label         string         `json:"label,omitempty" yaml:"label,omitempty"`
	UUID          string         `json:"uuid,omitempty" yaml:"uuid,omitempty"`
	Confidence    float64        `json:"confidence" yaml:"confidence"`
	// InTable is set when a partition table described the volume.
	InTable bool `json:"in_table" yaml:"in_table"`
	// BootSector is set when a filesystem boot sector was found at Offset.
	BootSector bool `json:"boot_sector" yaml:"boot_sector"`
}

// Range returns the byte range of the volume
func (v *CandidateVolume) Range() ByteRange {
	return ByteRange{Offset: v.Offset, Length: v.Size}
}
