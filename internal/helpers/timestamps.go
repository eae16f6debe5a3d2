package helpers

import "time"

// filetimeEpochDelta is the number of 100ns intervals between 1601-01-01 and 1970-01-01
const filetimeEpochDelta = 116444736000000000

// FromFiletime converts a Windows FILETIME to a UTC time. Zero yields nil.
func FromFiletime(ft uint64) *time.Time {
	if ft == 0 {
		return nil
	}
	intervals := int64(ft) - filetimeEpochDelta
	t := time.Unix(intervals/10_000_000, (intervals%10_000_000)*100).UTC()
	return &t
}

// ToFiletime converts a time to a Windows FILETIME
func ToFiletime(t time.Time) uint64 {
	return uint64(t.UnixNano()/100 + filetimeEpochDelta)
}

// FromDOSDateTime unpacks a FAT date and time. The centiseconds argument is
// the 10ms refinement stored by some entries (0-199). A zero or invalid date yields nil.
func FromDOSDateTime(date, tm uint16, centiseconds uint8) *time.Time {
	if date == 0 {
		return nil
	}
	year := 1980 + int(date>>9)
	month := time.Month((date >> 5) & 0x0F)
	day := int(date & 0x1F)
	if month < 1 || month > 12 || day < 1 {
		return nil
	}
	hour := int(tm >> 11)
	minute := int((tm >> 5) & 0x3F)
	second := int(tm&0x1F) * 2
	if hour > 23 || minute > 59 || second > 59 {
		return nil
	}

	t := time.Date(year, month, day, hour, minute, second, 0, time.UTC)
	if centiseconds > 0 && centiseconds < 200 {
		t = t.Add(time.Duration(centiseconds) * 10 * time.Millisecond)
	}
	return &t
}

// ToDOSDateTime packs a time into FAT date and time fields
func ToDOSDateTime(t time.Time) (date, tm uint16) {
	t = t.UTC()
	date = uint16(t.Year()-1980)<<9 | uint16(t.Month())<<5 | uint16(t.Day())
	tm = uint16(t.Hour())<<11 | uint16(t.Minute())<<5 | uint16(t.Second()/2)
	return date, tm
}

// FromExFATTimestamp unpacks an exFAT 32-bit timestamp, its 10ms increment
// and its UTC offset byte
func FromExFATTimestamp(ts uint32, increment uint8, utcOffset uint8) *time.Time {
	t := FromDOSDateTime(uint16(ts>>16), uint16(ts), increment)
	if t == nil {
		return nil
	}
	// bit 7 marks the offset as valid; the low 7 bits are a signed count of 15 minute steps
	if utcOffset&0x80 != 0 {
		steps := int8(utcOffset<<1) >> 1
		adjusted := t.Add(-time.Duration(steps) * 15 * time.Minute)
		return &adjusted
	}
	return t
}
