// Package exfatimage builds small exFAT volumes in memory for tests.
package exfatimage

import (
	"encoding/binary"

	"github.com/deploymenttheory/go-recovery/internal/helpers"
)

const (
	bytesPerSector = 512
	volumeSectors  = 4096
	fatOffset      = 24
	fatLength      = 32
	heapOffset     = fatOffset + fatLength
	clusterCount   = volumeSectors - heapOffset
	rootClusters   = 4
	dirClusters    = 2

	entrySize = 32
)

// Timestamp is written into every file entry
var Timestamp = helpers.FromDOSDateTime(0x5822, 0x1883, 0)

// Image is an exFAT volume under construction with 512 byte clusters
type Image struct {
	data        []byte
	nextCluster uint32
	root        *Dir
}

// Dir is a directory of an Image
type Dir struct {
	img    *Image
	offset uint64
	size   uint64
	used   uint64
}

// File describes an entry set written to an Image
type File struct {
	Name        string
	EntryOffset uint64
	Slots       int
	Clusters    []uint32
	Size        uint64
}

// New creates an empty 2 MB volume
func New() *Image {
	img := &Image{
		data:        make([]byte, volumeSectors*bytesPerSector),
		nextCluster: 2,
	}
	img.writeBootSector()
	img.setFAT(0, 0xFFFFFFF8)
	img.setFAT(1, 0xFFFFFFFF)

	clusters := img.allocate(rootClusters, false)
	img.link(clusters)
	img.root = &Dir{img: img, offset: img.ClusterOffset(clusters[0]), size: rootClusters * bytesPerSector}
	return img
}

func (img *Image) writeBootSector() {
	b := img.data[:bytesPerSector]
	copy(b[0:], []byte{0xEB, 0x76, 0x90})
	copy(b[3:], "EXFAT   ")
	binary.LittleEndian.PutUint64(b[72:], volumeSectors)
	binary.LittleEndian.PutUint32(b[80:], fatOffset)
	binary.LittleEndian.PutUint32(b[84:], fatLength)
	binary.LittleEndian.PutUint32(b[88:], heapOffset)
	binary.LittleEndian.PutUint32(b[92:], clusterCount)
	binary.LittleEndian.PutUint32(b[96:], 2)
	binary.LittleEndian.PutUint32(b[100:], 0xCAFE0042)
	b[104], b[105] = 0x00, 0x01
	b[108] = 9
	b[109] = 0
	b[110] = 1
	b[111] = 0x80
	b[510], b[511] = 0x55, 0xAA
}

// ClusterOffset returns the absolute offset of cluster c
func (img *Image) ClusterOffset(c uint32) uint64 {
	return heapOffset*bytesPerSector + uint64(c-2)*bytesPerSector
}

func (img *Image) setFAT(c, value uint32) {
	binary.LittleEndian.PutUint32(img.data[fatOffset*bytesPerSector+uint64(c)*4:], value)
}

// Link overwrites the FAT entry of cluster c
func (img *Image) Link(c, next uint32) {
	img.setFAT(c, next)
}

func (img *Image) link(clusters []uint32) {
	for i, c := range clusters {
		if i+1 < len(clusters) {
			img.setFAT(c, clusters[i+1])
		} else {
			img.setFAT(c, 0xFFFFFFFF)
		}
	}
}

func (img *Image) allocate(n int, fragmented bool) []uint32 {
	clusters := make([]uint32, n)
	for i := range clusters {
		clusters[i] = img.nextCluster
		img.nextCluster++
		if fragmented {
			img.nextCluster++
		}
	}
	return clusters
}

// Root returns the root directory
func (img *Image) Root() *Dir {
	return img.root
}

// Bytes returns the volume content
func (img *Image) Bytes() []byte {
	return img.data
}

// FileOption adjusts how a file is written
type FileOption func(*fileOptions)

type fileOptions struct {
	fragmented bool
}

// Fragmented spreads the file over non-adjacent clusters linked in the FAT.
// Other files are contiguous and flagged NoFatChain.
func Fragmented() FileOption {
	return func(o *fileOptions) { o.fragmented = true }
}

// AddFile writes a file with the given content into d
func (d *Dir) AddFile(name string, content []byte, opts ...FileOption) File {
	var o fileOptions
	for _, opt := range opts {
		opt(&o)
	}

	img := d.img
	n := (len(content) + bytesPerSector - 1) / bytesPerSector
	if n == 0 {
		n = 1
	}
	clusters := img.allocate(n, o.fragmented)
	if o.fragmented {
		img.link(clusters)
	}
	for i, c := range clusters {
		start := i * bytesPerSector
		end := min(start+bytesPerSector, len(content))
		if start < end {
			copy(img.data[img.ClusterOffset(c):], content[start:end])
		}
	}

	f := d.writeSet(name, 0x20, clusters[0], uint64(len(content)), !o.fragmented)
	f.Clusters = clusters
	return f
}

// AddDir creates a contiguous subdirectory
func (d *Dir) AddDir(name string) (*Dir, File) {
	img := d.img
	clusters := img.allocate(dirClusters, false)
	size := uint64(dirClusters * bytesPerSector)
	sub := &Dir{img: img, offset: img.ClusterOffset(clusters[0]), size: size}

	f := d.writeSet(name, 0x10, clusters[0], size, true)
	f.Clusters = clusters
	return sub, f
}

func (d *Dir) writeSet(name string, attrs uint16, first uint32, size uint64, noFatChain bool) File {
	units := helpers.EncodeUTF16(name)
	nameEntries := (len(units)/2 + 14) / 15
	slots := 2 + nameEntries
	if d.used+uint64(slots)*entrySize > d.size {
		panic("exfatimage: directory full")
	}
	off := d.offset + d.used
	d.used += uint64(slots) * entrySize
	raw := d.img.data[off : off+uint64(slots)*entrySize]

	date, tm := helpers.ToDOSDateTime(*Timestamp)
	ts := uint32(date)<<16 | uint32(tm)

	raw[0] = 0x85
	raw[1] = byte(slots - 1)
	binary.LittleEndian.PutUint16(raw[4:], attrs)
	binary.LittleEndian.PutUint32(raw[8:], ts)
	binary.LittleEndian.PutUint32(raw[12:], ts)
	binary.LittleEndian.PutUint32(raw[16:], ts)
	raw[22], raw[23], raw[24] = 0x80, 0x80, 0x80

	s := raw[entrySize:]
	s[0] = 0xC0
	s[1] = 0x01
	if noFatChain {
		s[1] |= 0x02
	}
	s[3] = byte(len(units) / 2)
	binary.LittleEndian.PutUint64(s[8:], size)
	binary.LittleEndian.PutUint32(s[20:], first)
	binary.LittleEndian.PutUint64(s[24:], size)

	for i := 0; i < nameEntries; i++ {
		e := raw[(2+i)*entrySize:]
		e[0] = 0xC1
		start := i * 30
		end := min(start+30, len(units))
		copy(e[2:32], units[start:end])
	}

	f := File{Name: name, EntryOffset: off, Slots: slots, Size: size}
	d.img.updateChecksum(f)
	return f
}

// updateChecksum stores the set checksum computed as if every entry were in use
func (img *Image) updateChecksum(f File) {
	raw := img.data[f.EntryOffset : f.EntryOffset+uint64(f.Slots)*entrySize]
	var sum uint16
	for i, b := range raw {
		if i == 2 || i == 3 {
			continue
		}
		if i%entrySize == 0 {
			b |= 0x80
		}
		sum = (sum&1)<<15 + sum>>1 + uint16(b)
	}
	binary.LittleEndian.PutUint16(raw[2:], sum)
}

// Delete clears the InUse bit of every entry of the set. The FAT is left
// alone, as exFAT only clears the allocation bitmap.
func (img *Image) Delete(f File, children ...File) {
	for _, child := range children {
		img.Delete(child)
	}
	for i := 0; i < f.Slots; i++ {
		img.data[f.EntryOffset+uint64(i)*entrySize] &^= 0x80
	}
}

// PatchCluster rewrites the first cluster of a set and fixes its checksum
func (img *Image) PatchCluster(f File, c uint32) {
	binary.LittleEndian.PutUint32(img.data[f.EntryOffset+entrySize+20:], c)
	img.updateChecksum(f)
}

// Corrupt flips a byte of the set without fixing its checksum
func (img *Image) Corrupt(f File) {
	img.data[f.EntryOffset+entrySize+8] ^= 0xFF
}

// Overwrite fills the clusters of an entry with b
func (img *Image) Overwrite(f File, b byte) {
	for _, c := range f.Clusters {
		off := img.ClusterOffset(c)
		for i := uint64(0); i < bytesPerSector; i++ {
			img.data[off+i] = b
		}
	}
}
