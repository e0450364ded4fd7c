// Package colors samples the dominant color of a frame region and names it
// against a fixed palette.
package colors

import (
	colorful "github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
)

// NotAvailable is the color name shown when a region had no pixels.
const NotAvailable = "N/A"

// PaletteEntry is one named reference color.
type PaletteEntry struct {
	Name  string
	Color ColorSample
}

// Palette is an ordered list of reference colors. Order decides ties.
type Palette []PaletteEntry

// DefaultPalette returns the 15 canonical reference colors.
func DefaultPalette() Palette {
	return Palette{
		{"Red", ColorSample{255, 0, 0}},
		{"Green", ColorSample{0, 255, 0}},
		{"Blue", ColorSample{0, 0, 255}},
		{"Yellow", ColorSample{255, 255, 0}},
		{"Cyan", ColorSample{0, 255, 255}},
		{"Magenta", ColorSample{255, 0, 255}},
		{"Black", ColorSample{0, 0, 0}},
		{"White", ColorSample{255, 255, 255}},
		{"Gray", ColorSample{128, 128, 128}},
		{"Maroon", ColorSample{128, 0, 0}},
		{"Olive", ColorSample{128, 128, 0}},
		{"DarkGreen", ColorSample{0, 128, 0}},
		{"Purple", ColorSample{128, 0, 128}},
		{"Teal", ColorSample{0, 128, 128}},
		{"Navy", ColorSample{0, 0, 128}},
	}
}

// HexColor is a palette entry as written in configuration, e.g. {"Orange", "#ffa500"}.
type HexColor struct {
	Name string `mapstructure:"name"`
	Hex  string `mapstructure:"hex"`
}

// ParsePalette converts configured hex entries into a Palette, keeping their order.
func ParsePalette(entries []HexColor) (Palette, error) {
	if len(entries) == 0 {
		return nil, errors.New("palette must have at least one entry")
	}
	palette := make(Palette, 0, len(entries))
	for i, e := range entries {
		if e.Name == "" {
			return nil, errors.Errorf("palette entry %d has no name", i)
		}
		c, err := colorful.Hex(e.Hex)
		if err != nil {
			return nil, errors.Wrapf(err, "palette entry %q", e.Name)
		}
		r, g, b := c.RGB255()
		palette = append(palette, PaletteEntry{Name: e.Name, Color: ColorSample{R: r, G: g, B: b}})
	}
	return palette, nil
}

// Hex formats c as "#rrggbb".
func (c ColorSample) Hex() string {
	cf, _ := colorful.MakeColor(c.RGBA())
	return cf.Hex()
}

// Name returns the entry closest to c by squared RGB distance. The first entry
// at the minimum distance wins.
func (p Palette) Name(c ColorSample) string {
	if len(p) == 0 {
		return NotAvailable
	}
	best := 0
	bestDist := distanceSq(c, p[0].Color)
	for i := 1; i < len(p); i++ {
		if d := distanceSq(c, p[i].Color); d < bestDist {
			best, bestDist = i, d
		}
	}
	return p[best].Name
}

func distanceSq(a, b ColorSample) int {
	dr := int(a.R) - int(b.R)
	dg := int(a.G) - int(b.G)
	db := int(a.B) - int(b.B)
	return dr*dr + dg*dg + db*db
}
