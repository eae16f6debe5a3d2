package extraction

import (
	"fmt"
	"path"
	"strings"
	"unicode"

	"github.com/deploymenttheory/go-recovery/internal/types"
)

// destinationName derives the relative destination path of a candidate from
// its recovered directory and name
func destinationName(c *types.CandidateFile) string {
	var parts []string
	for _, seg := range strings.Split(c.Identity.Path, "/") {
		if seg = sanitize(seg); seg != "" {
			parts = append(parts, seg)
		}
	}
	name := sanitize(c.DisplayName())
	if name == "" {
		name = sanitize(c.Key)
	}
	return path.Join(append(parts, name)...)
}

// sanitize makes one path segment safe on common filesystems
func sanitize(seg string) string {
	seg = strings.Map(func(r rune) rune {
		switch {
		case r == unicode.ReplacementChar, unicode.IsControl(r):
			return '_'
		case strings.ContainsRune(`\/:*?"<>|`, r):
			return '_'
		}
		return r
	}, seg)
	seg = strings.TrimSpace(seg)
	if seg == "." || seg == ".." {
		return ""
	}
	return seg
}

// withSuffix returns "name (n).ext"
func withSuffix(name string, n int) string {
	dir, file := path.Split(name)
	ext := path.Ext(file)
	if ext == file {
		ext = ""
	}
	return fmt.Sprintf("%s%s (%d)%s", dir, strings.TrimSuffix(file, ext), n, ext)
}
