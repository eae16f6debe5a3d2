package app

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"
)

// Output formats
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

// WriteStructured encodes v as JSON or YAML
func WriteStructured(w io.Writer, v any, format string) error {
	switch format {
	case FormatJSON:
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(v)
	case FormatYAML:
		encoder := yaml.NewEncoder(w)
		defer encoder.Close()
		encoder.SetIndent(2)
		return encoder.Encode(v)
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

// Palette colors table cells
type Palette struct {
	Good, Warn, Bad, Dim *color.Color
}

// NewPalette returns the table colors. Colors follow terminal detection
// unless noColor is set.
func NewPalette(noColor bool) Palette {
	p := Palette{
		Good: color.New(color.FgGreen),
		Warn: color.New(color.FgYellow),
		Bad:  color.New(color.FgRed),
		Dim:  color.New(color.Faint),
	}
	if noColor {
		for _, c := range []*color.Color{p.Good, p.Warn, p.Bad, p.Dim} {
			c.DisableColor()
		}
	}
	return p
}
