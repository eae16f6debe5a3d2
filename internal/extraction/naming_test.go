package extraction

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/deploymenttheory/go-recovery/internal/types"
)

func TestDestinationName(t *testing.T) {
	tests := []struct {
		name     string
		identity types.Identity
		key      string
		want     string
	}{
		{"root file", types.Identity{Name: "a.txt", Path: "/"}, "k", "a.txt"},
		{"nested", types.Identity{Name: "report.pdf", Path: "/docs/2024"}, "k", "docs/2024/report.pdf"},
		{"traversal", types.Identity{Name: "..", Path: "/../../etc"}, "fat:7", "etc/fat_7"},
		{"reserved characters", types.Identity{Name: `a:b*c?.txt`, Path: `/x|y`}, "k", "x_y/a_b_c_.txt"},
		{"control characters", types.Identity{Name: "bad\x01name", Path: ""}, "k", "bad_name"},
		{"no name", types.Identity{Path: "/carved"}, "carve:jpeg:4096", "carved/carve_jpeg_4096"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &types.CandidateFile{Key: tt.key, Identity: tt.identity}
			assert.Equal(t, tt.want, destinationName(c))
		})
	}
}

func TestWithSuffix(t *testing.T) {
	tests := []struct {
		name string
		n    int
		want string
	}{
		{"a.txt", 1, "a (1).txt"},
		{"docs/a.tar.gz", 2, "docs/a.tar (2).gz"},
		{"README", 3, "README (3)"},
		{".bashrc", 1, ".bashrc (1)"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, withSuffix(tt.name, tt.n), tt.name)
	}
}
