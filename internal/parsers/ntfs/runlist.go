package ntfs

import "fmt"

// Run is one mapping pair of a runlist. Sparse runs have no LCN.
type Run struct {
	LCN    int64
	Length uint64
	Sparse bool
}

// decodeRunlist decodes mapping pairs until the terminating zero byte
func decodeRunlist(b []byte) ([]Run, error) {
	var runs []Run
	var lcn int64
	for i := 0; ; {
		if i >= len(b) {
			return nil, fmt.Errorf("runlist not terminated")
		}
		header := b[i]
		if header == 0 {
			return runs, nil
		}
		lenBytes := int(header & 0x0F)
		offBytes := int(header >> 4)
		if lenBytes == 0 || lenBytes > 8 || offBytes > 8 {
			return nil, fmt.Errorf("invalid run header %#02x", header)
		}
		i++
		if i+lenBytes+offBytes > len(b) {
			return nil, fmt.Errorf("run at %d truncated", i-1)
		}

		var length uint64
		for k := lenBytes - 1; k >= 0; k-- {
			length = length<<8 | uint64(b[i+k])
		}
		i += lenBytes
		if length == 0 {
			return nil, fmt.Errorf("zero length run")
		}

		if offBytes == 0 {
			runs = append(runs, Run{Length: length, Sparse: true})
			continue
		}

		var delta int64
		for k := offBytes - 1; k >= 0; k-- {
			delta = delta<<8 | int64(b[i+k])
		}
		// sign extend
		shift := uint(64 - 8*offBytes)
		delta = delta << shift >> shift
		i += offBytes

		lcn += delta
		if lcn < 0 {
			return nil, fmt.Errorf("run starts at negative cluster %d", lcn)
		}
		runs = append(runs, Run{LCN: lcn, Length: length})
	}
}
