package types

import "time"

// Timestamps holds the optional times recovered from metadata.
type Timestamps struct {
	Created  *time.Time `json:"created,omitempty" yaml:"created,omitempty"`
	Modified *time.Time `json:"modified,omitempty" yaml:"modified,omitempty"`
	Accessed *time.Time `json:"accessed,omitempty" yaml:"accessed,omitempty"`
}

// IsZero reports whether no timestamp is known
func (t Timestamps) IsZero() bool {
	return t.Created == nil && t.Modified == nil && t.Accessed == nil
}

// RawEntry is one directory entry or file record as exposed by a metadata strategy.
type RawEntry struct {
	// ID is unique within one strategy walk, e.g. an MFT record number or entry offset.
	ID   string
	Name string
	// Path is the reconstructed parent path, without the entry name.
	Path string

	DeclaredSize uint64
	HasSize      bool

	// Extents are absolute volume ranges, trimmed to DeclaredSize when known.
	Extents []ByteRange

	Deleted   bool
	Directory bool
	// Orphan is set when the parent directory could not be resolved.
	Orphan bool

	Timestamps Timestamps

	Compressed bool
	Encrypted  bool
	// Sparse is set when some runs had no backing clusters and were omitted.
	Sparse bool

	// Progress is the fraction of the walk completed when this entry was produced.
	Progress float64
}

// FullPath joins Path and Name
func (e RawEntry) FullPath() string {
	if e.Path == "" || e.Path == "/" {
		return "/" + e.Name
	}
	return e.Path + "/" + e.Name
}
