// Package ntfsimage builds small NTFS volumes in memory for tests. Only the
// structures a recovery walk reads are written: the boot sector, the $MFT
// record, the root directory record and user records with their data.
package ntfsimage

import (
	"encoding/binary"
	"strings"
	"time"

	"github.com/deploymenttheory/go-recovery/internal/helpers"
)

const (
	bytesPerSector    = 512
	sectorsPerCluster = 8
	clusterSize       = bytesPerSector * sectorsPerCluster
	totalClusters     = 1024
	recordSize        = 1024
	recordCount       = 64
	mftCluster        = 4
	mftClusters       = recordCount * recordSize / clusterSize
	firstDataCluster  = 32
	usaOffset         = 48
	attrOffset        = 56
	usn               = 0x0001

	recordInUse     = 0x0001
	recordDirectory = 0x0002

	attrStandardInformation = 0x10
	attrAttributeList       = 0x20
	attrFileName            = 0x30
	attrData                = 0x80

	flagCompressed = 0x0001
	flagEncrypted  = 0x4000
	flagSparse     = 0x8000

	namespaceWin32    = 1
	namespaceDOS      = 2
	namespaceWin32DOS = 3
)

// Run is one data run. Sparse runs have no LCN.
type Run struct {
	LCN    int64
	Length uint64
	Sparse bool
}

// Timestamp is written into every record
var Timestamp = time.Date(2023, 6, 7, 8, 9, 10, 0, time.UTC)

// Ref identifies a record and its sequence number
type Ref struct {
	Record uint64
	Seq    uint16
}

// RootRef is the root directory
var RootRef = Ref{Record: 5, Seq: 5}

// File describes a file written to an Image
type File struct {
	Ref
	Name string
	Size uint64
	// Runs are the data runs; empty for resident files
	Runs []Run
	// Extension is the record holding the second half of the runs, if any
	Extension uint64
}

// Image is an NTFS volume under construction with 4 KB clusters
type Image struct {
	data        []byte
	records     map[uint64][]byte
	torn        map[uint64]bool
	nextRecord  uint64
	nextCluster int64
}

// New creates an empty 4 MB volume
func New() *Image {
	img := &Image{
		data:        make([]byte, totalClusters*clusterSize),
		records:     make(map[uint64][]byte),
		torn:        make(map[uint64]bool),
		nextRecord:  24,
		nextCluster: firstDataCluster,
	}
	img.writeBootSector()

	mft := newRecord(0, 1, recordInUse)
	mft.addResident(attrStandardInformation, standardInformation(0))
	mft.addResident(attrFileName, fileName(RootRef, "$MFT", namespaceWin32DOS))
	mft.addNonResident(attrData, 0, []Run{{LCN: mftCluster, Length: mftClusters}}, recordCount*recordSize, 0)
	img.records[0] = mft.finish()

	root := newRecord(5, 5, recordInUse|recordDirectory)
	root.addResident(attrStandardInformation, standardInformation(0))
	root.addResident(attrFileName, fileName(RootRef, ".", namespaceWin32DOS))
	img.records[5] = root.finish()
	return img
}

func (img *Image) writeBootSector() {
	b := img.data[:bytesPerSector]
	copy(b[0:], []byte{0xEB, 0x52, 0x90})
	copy(b[3:], "NTFS    ")
	binary.LittleEndian.PutUint16(b[11:], bytesPerSector)
	b[13] = sectorsPerCluster
	b[21] = 0xF8
	binary.LittleEndian.PutUint64(b[40:], totalClusters*sectorsPerCluster-1)
	binary.LittleEndian.PutUint64(b[48:], mftCluster)
	binary.LittleEndian.PutUint64(b[56:], totalClusters/2)
	b[64] = 0xF6 // 2^10 byte records
	b[68] = 1
	binary.LittleEndian.PutUint64(b[72:], 0x1122334455667788)
	b[510], b[511] = 0x55, 0xAA
}

// ClusterOffset returns the absolute offset of a cluster
func ClusterOffset(lcn int64) uint64 {
	return uint64(lcn) * clusterSize
}

// RecordOffset returns the absolute offset of record n
func RecordOffset(n uint64) uint64 {
	return ClusterOffset(mftCluster) + n*recordSize
}

// FileOption adjusts how a file is written
type FileOption func(*fileOptions)

type fileOptions struct {
	resident   bool
	fragmented bool
	sparse     bool
	flags      uint16
	extension  bool
}

// Resident stores the content inside the record
func Resident() FileOption { return func(o *fileOptions) { o.resident = true } }

// Fragmented leaves a free cluster between the data clusters
func Fragmented() FileOption { return func(o *fileOptions) { o.fragmented = true } }

// Sparse makes the second cluster of the file a sparse run
func Sparse() FileOption {
	return func(o *fileOptions) { o.sparse = true; o.flags |= flagSparse }
}

// Compressed sets the compressed attribute flag
func Compressed() FileOption { return func(o *fileOptions) { o.flags |= flagCompressed } }

// Encrypted sets the encrypted attribute flag
func Encrypted() FileOption { return func(o *fileOptions) { o.flags |= flagEncrypted } }

// InExtensionRecord moves the second half of the runs to an extension record
// referenced from an $ATTRIBUTE_LIST
func InExtensionRecord() FileOption { return func(o *fileOptions) { o.extension = true; o.fragmented = true } }

// AddDir creates a directory record under parent
func (img *Image) AddDir(parent Ref, name string) Ref {
	ref := Ref{Record: img.nextRecord, Seq: 1}
	img.nextRecord++

	r := newRecord(ref.Record, ref.Seq, recordInUse|recordDirectory)
	r.addResident(attrStandardInformation, standardInformation(0))
	r.addResident(attrFileName, fileName(parent, name, namespaceWin32))
	img.records[ref.Record] = r.finish()
	return ref
}

// AddFile creates a file record under parent holding content
func (img *Image) AddFile(parent Ref, name string, content []byte, opts ...FileOption) File {
	var o fileOptions
	for _, opt := range opts {
		opt(&o)
	}

	f := File{Ref: Ref{Record: img.nextRecord, Seq: 1}, Name: name, Size: uint64(len(content))}
	img.nextRecord++

	r := newRecord(f.Record, f.Seq, recordInUse)
	r.addResident(attrStandardInformation, standardInformation(0))
	if short := dosName(name); short != name {
		r.addResident(attrFileName, fileName(parent, short, namespaceDOS))
	}
	r.addResident(attrFileName, fileName(parent, name, namespaceWin32))

	if o.resident {
		r.addResidentFlags(attrData, content, o.flags)
		img.records[f.Record] = r.finish()
		return f
	}

	f.Runs = img.allocate(content, o)
	if !o.extension {
		r.addNonResident(attrData, 0, f.Runs, f.Size, o.flags)
		img.records[f.Record] = r.finish()
		return f
	}

	half := len(f.Runs) / 2
	var vcn uint64
	for _, run := range f.Runs[:half] {
		vcn += run.Length
	}
	f.Extension = img.nextRecord
	img.nextRecord++

	list := make([]byte, 0, 64)
	list = append(list, attributeListEntry(attrData, 0, f.Ref)...)
	list = append(list, attributeListEntry(attrData, vcn, Ref{Record: f.Extension, Seq: 1})...)
	r.addResident(attrAttributeList, list)
	r.addNonResident(attrData, 0, f.Runs[:half], f.Size, o.flags)
	img.records[f.Record] = r.finish()

	ext := newRecord(f.Extension, 1, recordInUse)
	ext.base = f.Record | uint64(f.Seq)<<48
	ext.addNonResident(attrData, vcn, f.Runs[half:], 0, o.flags)
	img.records[f.Extension] = ext.finish()
	return f
}

// allocate writes content to fresh clusters and returns its runs
func (img *Image) allocate(content []byte, o fileOptions) []Run {
	n := (len(content) + clusterSize - 1) / clusterSize
	var runs []Run
	for i := 0; i < n; i++ {
		chunk := content[i*clusterSize : min((i+1)*clusterSize, len(content))]
		if o.sparse && i == 1 {
			runs = append(runs, Run{Length: 1, Sparse: true})
			continue
		}
		lcn := img.nextCluster
		img.nextCluster++
		if o.fragmented {
			img.nextCluster++
		}
		copy(img.data[ClusterOffset(lcn):], chunk)

		if last := len(runs) - 1; last >= 0 && !runs[last].Sparse && runs[last].LCN+int64(runs[last].Length) == lcn {
			runs[last].Length++
		} else {
			runs = append(runs, Run{LCN: lcn, Length: 1})
		}
	}
	return runs
}

// Delete marks a record free and bumps its sequence number, as NTFS does
func (img *Image) Delete(ref Ref) {
	r := img.records[ref.Record]
	flags := binary.LittleEndian.Uint16(r[22:])
	binary.LittleEndian.PutUint16(r[22:], flags&^recordInUse)
	binary.LittleEndian.PutUint16(r[16:], ref.Seq+1)
}

// Wipe removes a record entirely
func (img *Image) Wipe(ref Ref) {
	delete(img.records, ref.Record)
}

// Tear corrupts the update sequence number of a record, as a torn write would
func (img *Image) Tear(ref Ref) {
	img.torn[ref.Record] = true
}

// Bytes lays out every record with its fixups applied and returns the volume
func (img *Image) Bytes() []byte {
	base := RecordOffset(0)
	clear(img.data[base : base+recordCount*recordSize])
	for n, raw := range img.records {
		out := img.data[RecordOffset(n) : RecordOffset(n)+recordSize]
		copy(out, raw)
		binary.LittleEndian.PutUint16(out[usaOffset:], usn)
		for i := 1; i <= recordSize/512; i++ {
			end := i*512 - 2
			copy(out[usaOffset+2*i:], out[end:end+2])
			binary.LittleEndian.PutUint16(out[end:], usn)
			if img.torn[n] {
				binary.LittleEndian.PutUint16(out[end:], usn+1)
			}
		}
	}
	return img.data
}

// record is a record buffer before fixups
type record struct {
	buf   []byte
	off   int
	attr  uint16
	base  uint64
	flags uint16
}

func newRecord(n uint64, seq uint16, flags uint16) *record {
	r := &record{buf: make([]byte, recordSize), off: attrOffset, flags: flags}
	copy(r.buf, "FILE")
	binary.LittleEndian.PutUint16(r.buf[4:], usaOffset)
	binary.LittleEndian.PutUint16(r.buf[6:], recordSize/512+1)
	binary.LittleEndian.PutUint16(r.buf[16:], seq)
	binary.LittleEndian.PutUint16(r.buf[18:], 1)
	binary.LittleEndian.PutUint16(r.buf[20:], attrOffset)
	binary.LittleEndian.PutUint32(r.buf[28:], recordSize)
	binary.LittleEndian.PutUint32(r.buf[44:], uint32(n))
	return r
}

func (r *record) addResident(kind uint32, value []byte) {
	r.addResidentFlags(kind, value, 0)
}

func (r *record) addResidentFlags(kind uint32, value []byte, flags uint16) {
	length := align8(24 + len(value))
	a := r.buf[r.off : r.off+length]
	binary.LittleEndian.PutUint32(a[0:], kind)
	binary.LittleEndian.PutUint32(a[4:], uint32(length))
	binary.LittleEndian.PutUint16(a[10:], 24)
	binary.LittleEndian.PutUint16(a[12:], flags)
	binary.LittleEndian.PutUint16(a[14:], r.attr)
	binary.LittleEndian.PutUint32(a[16:], uint32(len(value)))
	binary.LittleEndian.PutUint16(a[20:], 24)
	copy(a[24:], value)
	r.off += length
	r.attr++
}

func (r *record) addNonResident(kind uint32, startVCN uint64, runs []Run, size uint64, flags uint16) {
	runlist := EncodeRunlist(runs)
	length := align8(64 + len(runlist))
	var clusters uint64
	for _, run := range runs {
		clusters += run.Length
	}

	a := r.buf[r.off : r.off+length]
	binary.LittleEndian.PutUint32(a[0:], kind)
	binary.LittleEndian.PutUint32(a[4:], uint32(length))
	a[8] = 1
	binary.LittleEndian.PutUint16(a[10:], 64)
	binary.LittleEndian.PutUint16(a[12:], flags)
	binary.LittleEndian.PutUint16(a[14:], r.attr)
	binary.LittleEndian.PutUint64(a[16:], startVCN)
	binary.LittleEndian.PutUint64(a[24:], startVCN+clusters-1)
	binary.LittleEndian.PutUint16(a[32:], 64)
	if startVCN == 0 {
		binary.LittleEndian.PutUint64(a[40:], align(size, clusterSize))
		binary.LittleEndian.PutUint64(a[48:], size)
		binary.LittleEndian.PutUint64(a[56:], size)
	}
	copy(a[64:], runlist)
	r.off += length
	r.attr++
}

func (r *record) finish() []byte {
	binary.LittleEndian.PutUint32(r.buf[r.off:], 0xFFFFFFFF)
	binary.LittleEndian.PutUint16(r.buf[22:], r.flags)
	binary.LittleEndian.PutUint32(r.buf[24:], uint32(r.off+8))
	binary.LittleEndian.PutUint64(r.buf[32:], r.base)
	binary.LittleEndian.PutUint16(r.buf[40:], r.attr)
	return r.buf
}

func standardInformation(attrs uint32) []byte {
	v := make([]byte, 72)
	ft := helpers.ToFiletime(Timestamp)
	for i := 0; i < 4; i++ {
		binary.LittleEndian.PutUint64(v[i*8:], ft)
	}
	binary.LittleEndian.PutUint32(v[32:], attrs)
	return v
}

func fileName(parent Ref, name string, namespace uint8) []byte {
	units := helpers.EncodeUTF16(name)
	v := make([]byte, 66+len(units))
	binary.LittleEndian.PutUint64(v[0:], parent.Record|uint64(parent.Seq)<<48)
	ft := helpers.ToFiletime(Timestamp)
	for i := 0; i < 4; i++ {
		binary.LittleEndian.PutUint64(v[8+i*8:], ft)
	}
	v[64] = byte(len(units) / 2)
	v[65] = namespace
	copy(v[66:], units)
	return v
}

func attributeListEntry(kind uint32, vcn uint64, ref Ref) []byte {
	e := make([]byte, 32)
	binary.LittleEndian.PutUint32(e[0:], kind)
	binary.LittleEndian.PutUint16(e[4:], 32)
	e[7] = 26
	binary.LittleEndian.PutUint64(e[8:], vcn)
	binary.LittleEndian.PutUint64(e[16:], ref.Record|uint64(ref.Seq)<<48)
	return e
}

// dosName derives an 8.3 alias for names that need one
func dosName(name string) string {
	upper := strings.ToUpper(name)
	base, ext, _ := strings.Cut(upper, ".")
	if upper == name && len(base) <= 8 && len(ext) <= 3 && !strings.ContainsRune(base, ' ') {
		return name
	}
	base = strings.ReplaceAll(base, " ", "")
	if len(base) > 6 {
		base = base[:6]
	}
	if len(ext) > 3 {
		ext = ext[:3]
	}
	return base + "~1." + ext
}

// EncodeRunlist encodes runs as NTFS mapping pairs
func EncodeRunlist(runs []Run) []byte {
	var out []byte
	var prev int64
	for _, r := range runs {
		lenBytes := minBytes(int64(r.Length), false)
		var offBytes int
		var delta int64
		if !r.Sparse {
			delta = r.LCN - prev
			prev = r.LCN
			offBytes = minBytes(delta, true)
		}
		out = append(out, byte(offBytes<<4|lenBytes))
		for k := 0; k < lenBytes; k++ {
			out = append(out, byte(r.Length>>(8*k)))
		}
		for k := 0; k < offBytes; k++ {
			out = append(out, byte(delta>>(8*k)))
		}
	}
	return append(out, 0)
}

func minBytes(v int64, signed bool) int {
	for n := 1; n < 8; n++ {
		if signed {
			lim := int64(1) << (8*n - 1)
			if v >= -lim && v < lim {
				return n
			}
		} else if uint64(v) < uint64(1)<<(8*n) {
			return n
		}
	}
	return 8
}

func align8(n int) int {
	return (n + 7) &^ 7
}

func align(n, to uint64) uint64 {
	return (n + to - 1) / to * to
}
