package signatures

import (
	"bytes"
	"sort"
)

// MatchKind distinguishes what a match tells the caller
type MatchKind int

const (
	// KindHeader starts a file whose end is marked by a footer.
	KindHeader MatchKind = iota
	// KindSelfDelimited starts a file whose length is encoded in its header.
	KindSelfDelimited
	// KindFooter ends a file of a header/footer format.
	KindFooter
)

// String returns the match kind name
func (k MatchKind) String() string {
	switch k {
	case KindHeader:
		return "header"
	case KindSelfDelimited:
		return "self-delimited"
	case KindFooter:
		return "footer"
	default:
		return "unknown"
	}
}

// Match is one recognized signature
type Match struct {
	Format *Format
	// Offset is the absolute volume offset of the header or footer.
	Offset uint64
	Kind   MatchKind
	// Size is the total file length for self-delimited matches.
	Size uint64
	// End is the absolute offset past the file for footer matches.
	End uint64
}

// Matcher recognizes format signatures in byte windows. It holds no state
// between calls and is safe for concurrent use.
type Matcher struct {
	formats   []*Format
	byID      map[string]*Format
	lookahead int
}

// NewMatcher builds a matcher over formats. Nil or empty uses DefaultFormats.
func NewMatcher(formats []*Format) *Matcher {
	if len(formats) == 0 {
		formats = DefaultFormats()
	}
	m := &Matcher{formats: formats, byID: make(map[string]*Format, len(formats))}
	for _, f := range formats {
		m.byID[f.ID] = f
		m.lookahead = max(m.lookahead, f.Need)
		if f.Footer != nil {
			m.lookahead = max(m.lookahead, f.Footer.Need, len(f.Footer.Value))
		}
	}
	return m
}

// Lookahead is the largest number of bytes any signature needs from its start.
// Windows must overlap by this much so no match is split.
func (m *Matcher) Lookahead() int {
	return m.lookahead
}

// Formats returns the format table
func (m *Matcher) Formats() []*Format {
	return m.formats
}

// Format looks up a format by ID
func (m *Matcher) Format(id string) (*Format, bool) {
	f, ok := m.byID[id]
	return f, ok
}

// Match returns every header and footer in window, whose first byte is at
// volume offset base, sorted by offset. Matches whose required bytes run past
// the end of the window are not reported.
func (m *Matcher) Match(window []byte, base uint64) []Match {
	var out []Match
	for _, f := range m.formats {
		out = m.matchHeaders(out, f, window, base)
		if f.Footer != nil {
			out = matchFooters(out, f, window, base)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	return out
}

func (m *Matcher) matchHeaders(out []Match, f *Format, window []byte, base uint64) []Match {
	lead := f.Magics[0]
	for from := 0; ; {
		i := bytes.Index(window[from:], lead.Value)
		if i < 0 {
			return out
		}
		pos := from + i - lead.Offset
		from += i + 1
		if pos < 0 {
			continue
		}
		if pos+f.Need > len(window) {
			return out
		}
		b := window[pos:]
		if !f.matchesAt(b) {
			continue
		}
		if f.Size == nil {
			out = append(out, Match{Format: f, Offset: base + uint64(pos), Kind: KindHeader})
			continue
		}
		size, ok := f.Size(b)
		if !ok || size < f.MinSize {
			continue
		}
		out = append(out, Match{Format: f, Offset: base + uint64(pos), Kind: KindSelfDelimited, Size: size})
	}
}

func matchFooters(out []Match, f *Format, window []byte, base uint64) []Match {
	need := max(f.Footer.Need, len(f.Footer.Value))
	for from := 0; ; {
		i := bytes.Index(window[from:], f.Footer.Value)
		if i < 0 {
			return out
		}
		pos := from + i
		from = pos + 1
		if pos+need > len(window) {
			return out
		}
		n, ok := f.Footer.Trailer(window[pos : pos+need])
		if !ok {
			continue
		}
		out = append(out, Match{Format: f, Offset: base + uint64(pos), Kind: KindFooter, End: base + uint64(pos+n)})
	}
}
