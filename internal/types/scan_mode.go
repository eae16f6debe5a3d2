package types

import (
	"fmt"
	"strings"
)

// ScanMode selects how thoroughly a volume is examined.
type ScanMode int

const (
	// ScanQuick consults recently deleted entries of live metadata structures only.
	ScanQuick ScanMode = iota
	// ScanDeep walks all metadata, including entries of deleted directories, and
	// carves unallocated space.
	ScanDeep
	// ScanRaw ignores metadata and carves the whole volume.
	ScanRaw
	// ScanPartition looks for partition tables and boot sectors.
	ScanPartition
)

// String returns the display name of the mode
func (m ScanMode) String() string {
	switch m {
	case ScanQuick:
		return "Quick Scan"
	case ScanDeep:
		return "Deep Scan"
	case ScanRaw:
		return "Raw Recovery"
	case ScanPartition:
		return "Partition Recovery"
	default:
		return "Unknown Mode"
	}
}

// Tag returns the short identifier used in flags and logs
func (m ScanMode) Tag() string {
	switch m {
	case ScanQuick:
		return "quick"
	case ScanDeep:
		return "deep"
	case ScanRaw:
		return "raw"
	case ScanPartition:
		return "partition"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler
func (m ScanMode) MarshalText() ([]byte, error) {
	return []byte(m.Tag()), nil
}

// ParseScanMode converts a CLI or config spelling into a ScanMode.
func ParseScanMode(s string) (ScanMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "quick", "quick_scan", "quickscan":
		return ScanQuick, nil
	case "deep", "deep_scan", "deepscan":
		return ScanDeep, nil
	case "raw", "raw_recovery", "rawrecovery", "carve":
		return ScanRaw, nil
	case "partition", "partition_recovery", "partitionrecovery", "partitions":
		return ScanPartition, nil
	}
	return ScanQuick, fmt.Errorf("unknown scan mode %q", s)
}
