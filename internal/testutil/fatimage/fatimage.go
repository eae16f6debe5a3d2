// Package fatimage builds small FAT12/16/32 volumes in memory for tests.
package fatimage

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/deploymenttheory/go-recovery/internal/helpers"
)

const bytesPerSector = 512

// Timestamp is written into every directory entry
var Timestamp = time.Date(2024, 1, 2, 3, 4, 6, 0, time.UTC)

// Image is a FAT volume under construction
type Image struct {
	data         []byte
	spc          uint32
	reserved     uint32
	numFATs      uint32
	fatSize      uint32
	rootEntries  uint32
	totalSectors uint32
	width        int // 12, 16 or 32
	nextCluster  uint32
	root         *Dir
}

// Dir is a directory of an Image
type Dir struct {
	img     *Image
	cluster uint32
	offset  uint64
	size    uint64
	used    uint64
}

// File describes a file written to an Image
type File struct {
	Name        string
	EntryOffset uint64
	// LongEntries are the offsets of the long name slots, if any
	LongEntries []uint64
	Clusters    []uint32
	Size        uint64
	dir         *Dir
}

// DataOffset returns the absolute offset of the first data byte
func (f File) DataOffset(img *Image) uint64 {
	return img.ClusterOffset(f.Clusters[0])
}

// NewFAT12 creates a 2 MB FAT12 volume with 1 sector clusters
func NewFAT12() *Image {
	return newImage(12, 4000, 1, 224, 12)
}

// NewFAT16 creates a 4 MB FAT16 volume with 1 sector clusters
func NewFAT16() *Image {
	return newImage(16, 8192, 1, 512, 32)
}

// NewFAT32 creates a 34 MB FAT32 volume with 1 sector clusters
func NewFAT32() *Image {
	return newImage(32, 70000, 1, 0, 560)
}

func newImage(width int, totalSectors, spc, rootEntries, fatSize uint32) *Image {
	img := &Image{
		data:         make([]byte, uint64(totalSectors)*bytesPerSector),
		spc:          spc,
		reserved:     1,
		numFATs:      2,
		fatSize:      fatSize,
		rootEntries:  rootEntries,
		totalSectors: totalSectors,
		width:        width,
		nextCluster:  2,
	}
	if width == 32 {
		img.reserved = 32
	}
	img.writeBootSector()

	// media descriptor and end-of-chain markers in entries 0 and 1
	img.setFAT(0, 0x0FFFFFF8)
	img.setFAT(1, 0x0FFFFFFF)

	if width == 32 {
		c := img.allocate(1, false)[0]
		img.root = &Dir{img: img, cluster: c, offset: img.ClusterOffset(c), size: img.clusterSize()}
	} else {
		off := uint64(img.reserved+img.numFATs*img.fatSize) * bytesPerSector
		img.root = &Dir{img: img, offset: off, size: uint64(rootEntries) * 32}
	}
	return img
}

func (img *Image) writeBootSector() {
	b := img.data[:bytesPerSector]
	copy(b[0:], []byte{0xEB, 0x3C, 0x90})
	copy(b[3:], "MSDOS5.0")
	binary.LittleEndian.PutUint16(b[11:], bytesPerSector)
	b[13] = byte(img.spc)
	binary.LittleEndian.PutUint16(b[14:], uint16(img.reserved))
	b[16] = byte(img.numFATs)
	binary.LittleEndian.PutUint16(b[17:], uint16(img.rootEntries))
	if img.totalSectors < 0x10000 {
		binary.LittleEndian.PutUint16(b[19:], uint16(img.totalSectors))
	} else {
		binary.LittleEndian.PutUint32(b[32:], img.totalSectors)
	}
	b[21] = 0xF8

	if img.width == 32 {
		binary.LittleEndian.PutUint32(b[36:], img.fatSize)
		binary.LittleEndian.PutUint32(b[44:], 2)
		b[66] = 0x29
		binary.LittleEndian.PutUint32(b[67:], 0x1234ABCD)
		copy(b[71:], "TESTVOL    ")
		copy(b[82:], "FAT32   ")
	} else {
		binary.LittleEndian.PutUint16(b[22:], uint16(img.fatSize))
		b[38] = 0x29
		binary.LittleEndian.PutUint32(b[39:], 0x1234ABCD)
		copy(b[43:], "TESTVOL    ")
		copy(b[54:], fmt.Sprintf("FAT%d   ", img.width))
	}
	b[510], b[511] = 0x55, 0xAA
}

func (img *Image) clusterSize() uint64 {
	return uint64(img.spc) * bytesPerSector
}

func (img *Image) fatOffset(copyIndex uint32) uint64 {
	return uint64(img.reserved+copyIndex*img.fatSize) * bytesPerSector
}

// ClusterOffset returns the absolute offset of cluster c
func (img *Image) ClusterOffset(c uint32) uint64 {
	rootDirSectors := (img.rootEntries*32 + bytesPerSector - 1) / bytesPerSector
	firstData := img.reserved + img.numFATs*img.fatSize + rootDirSectors
	return uint64(firstData)*bytesPerSector + uint64(c-2)*img.clusterSize()
}

func (img *Image) setFAT(c uint32, value uint32) {
	for i := uint32(0); i < img.numFATs; i++ {
		base := img.fatOffset(i)
		switch img.width {
		case 12:
			off := base + uint64(c+c/2)
			cur := binary.LittleEndian.Uint16(img.data[off:])
			if c&1 == 1 {
				cur = cur&0x000F | uint16(value&0xFFF)<<4
			} else {
				cur = cur&0xF000 | uint16(value&0xFFF)
			}
			binary.LittleEndian.PutUint16(img.data[off:], cur)
		case 16:
			binary.LittleEndian.PutUint16(img.data[base+uint64(c)*2:], uint16(value))
		default:
			binary.LittleEndian.PutUint32(img.data[base+uint64(c)*4:], value&0x0FFFFFFF)
		}
	}
}

func (img *Image) endOfChain() uint32 {
	switch img.width {
	case 12:
		return 0xFFF
	case 16:
		return 0xFFFF
	default:
		return 0x0FFFFFFF
	}
}

// allocate reserves n clusters and links them. Fragmented allocations leave
// one free cluster between consecutive clusters.
func (img *Image) allocate(n int, fragmented bool) []uint32 {
	clusters := make([]uint32, n)
	for i := range clusters {
		clusters[i] = img.nextCluster
		img.nextCluster++
		if fragmented {
			img.nextCluster++
		}
	}
	for i, c := range clusters {
		if i+1 < len(clusters) {
			img.setFAT(c, clusters[i+1])
		} else {
			img.setFAT(c, img.endOfChain())
		}
	}
	return clusters
}

// Link overwrites the FAT entry of cluster c in every FAT copy
func (img *Image) Link(c, next uint32) {
	img.setFAT(c, next)
}

// PatchCluster rewrites the first cluster field of a directory entry
func (img *Image) PatchCluster(f File, c uint32) {
	binary.LittleEndian.PutUint16(img.data[f.EntryOffset+20:], uint16(c>>16))
	binary.LittleEndian.PutUint16(img.data[f.EntryOffset+26:], uint16(c))
}

// SkipClusters leaves n clusters unused
func (img *Image) SkipClusters(n int) {
	img.nextCluster += uint32(n)
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

// Fragmented spreads the file over non-adjacent clusters
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
	cs := img.clusterSize()
	n := int((uint64(len(content)) + cs - 1) / cs)
	if n == 0 {
		n = 1
	}
	clusters := img.allocate(n, o.fragmented)
	for i, c := range clusters {
		start := uint64(i) * cs
		end := min(start+cs, uint64(len(content)))
		if start < end {
			copy(img.data[img.ClusterOffset(c):], content[start:end])
		}
	}

	entry, longs := d.writeEntry(name, 0x20, clusters[0], uint32(len(content)))
	return File{Name: name, EntryOffset: entry, LongEntries: longs, Clusters: clusters, Size: uint64(len(content)), dir: d}
}

// AddDir creates a subdirectory occupying one cluster
func (d *Dir) AddDir(name string) (*Dir, File) {
	img := d.img
	c := img.allocate(1, false)[0]
	sub := &Dir{img: img, cluster: c, offset: img.ClusterOffset(c), size: img.clusterSize()}

	sub.writeRaw(".          ", 0x10, c, 0)
	sub.writeRaw("..         ", 0x10, d.cluster, 0)

	entry, longs := d.writeEntry(name, 0x10, c, 0)
	return sub, File{Name: name, EntryOffset: entry, LongEntries: longs, Clusters: []uint32{c}, dir: d}
}

// Delete marks a file or directory entry deleted and frees its clusters, the
// way an operating system does. Entries of a deleted directory are marked
// deleted as well when children is given.
func (img *Image) Delete(f File, children ...File) {
	for _, child := range children {
		img.Delete(child)
	}
	img.data[f.EntryOffset] = 0xE5
	for _, off := range f.LongEntries {
		img.data[off] = 0xE5
	}
	for _, c := range f.Clusters {
		img.setFAT(c, 0)
	}
}

// Overwrite fills the data of a file with a byte, simulating reuse
func (img *Image) Overwrite(f File, b byte) {
	for _, c := range f.Clusters {
		off := img.ClusterOffset(c)
		for i := uint64(0); i < img.clusterSize(); i++ {
			img.data[off+i] = b
		}
	}
}

func (d *Dir) nextSlot() uint64 {
	if d.used+32 > d.size {
		panic("fatimage: directory full")
	}
	off := d.offset + d.used
	d.used += 32
	return off
}

func (d *Dir) writeRaw(shortName string, attr byte, cluster uint32, size uint32) uint64 {
	off := d.nextSlot()
	b := d.img.data[off : off+32]
	copy(b[0:11], shortName)
	b[11] = attr
	date, tm := helpers.ToDOSDateTime(Timestamp)
	binary.LittleEndian.PutUint16(b[14:], tm)
	binary.LittleEndian.PutUint16(b[16:], date)
	binary.LittleEndian.PutUint16(b[18:], date)
	binary.LittleEndian.PutUint16(b[20:], uint16(cluster>>16))
	binary.LittleEndian.PutUint16(b[22:], tm)
	binary.LittleEndian.PutUint16(b[24:], date)
	binary.LittleEndian.PutUint16(b[26:], uint16(cluster))
	binary.LittleEndian.PutUint32(b[28:], size)
	return off
}

// writeEntry writes long name slots when needed, then the short entry
func (d *Dir) writeEntry(name string, attr byte, cluster uint32, size uint32) (uint64, []uint64) {
	short, exact := shortName(name)
	if exact {
		return d.writeRaw(short, attr, cluster, size), nil
	}

	sum := checksum([]byte(short))
	units := helpers.EncodeUTF16(name)
	units = append(units, 0, 0)
	for len(units)%26 != 0 {
		units = append(units, 0xFF, 0xFF)
	}
	parts := len(units) / 26

	var longs []uint64
	for p := parts; p >= 1; p-- {
		off := d.nextSlot()
		longs = append(longs, off)
		b := d.img.data[off : off+32]
		chunk := units[(p-1)*26 : p*26]
		order := byte(p)
		if p == parts {
			order |= 0x40
		}
		b[0] = order
		copy(b[1:11], chunk[0:10])
		b[11] = 0x0F
		b[13] = sum
		copy(b[14:26], chunk[10:22])
		copy(b[28:32], chunk[22:26])
	}
	return d.writeRaw(short, attr, cluster, size), longs
}

// shortName derives an 8.3 name. exact is false when a long name is needed.
func shortName(name string) (string, bool) {
	base, ext := name, ""
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		base, ext = name[:i], name[i+1:]
	}
	upper := strings.ToUpper(base)
	upperExt := strings.ToUpper(ext)
	exact := base == upper && ext == upperExt && len(base) <= 8 && len(ext) <= 3 && !strings.ContainsAny(name, " +,;=[]")

	clean := func(s string, n int) string {
		s = strings.Map(func(r rune) rune {
			if r > 0x7F || strings.ContainsRune(" .+,;=[]", r) {
				return -1
			}
			return r
		}, s)
		if len(s) > n {
			s = s[:n]
		}
		return s
	}
	b := clean(upper, 8)
	if !exact {
		if len(b) > 6 {
			b = b[:6]
		}
		b += "~1"
	}
	return fmt.Sprintf("%-8s%-3s", b, clean(upperExt, 3)), exact
}

func checksum(name []byte) uint8 {
	var sum uint8
	for _, c := range name[:11] {
		sum = (sum&1)<<7 + sum>>1 + c
	}
	return sum
}
