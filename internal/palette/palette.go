// Package palette implements the PaletteTables component: a curated table
// mapping DMG ROM titles to the color palettes CGB hardware applies when it
// runs a DMG-only cartridge, grounded on the teacher's
// internal/emu/compat_tables.go title-hash heuristics.
package palette

import "strings"

// RGB555 is a little-endian 15-bit color as stored in CGB palette RAM.
type RGB555 uint16

// ToRGBA expands an RGB555 value to 8-bit-per-channel RGBA (alpha always
// opaque), scaling each 5-bit channel to 8 bits.
func (c RGB555) ToRGBA() (r, g, b, a byte) {
	r5 := byte(c & 0x1F)
	g5 := byte((c >> 5) & 0x1F)
	b5 := byte((c >> 10) & 0x1F)
	scale := func(v byte) byte { return (v << 3) | (v >> 2) }
	return scale(r5), scale(g5), scale(b5), 0xFF
}

// Set is the four-entry (color-index 0..3) palette applied to BG, OBJ0, or
// OBJ1 respectively.
type Set [4]RGB555

// Scheme bundles the three DMG palettes (BG, OBJ0, OBJ1) a CGB applies
// when running a given DMG cartridge.
type Scheme struct {
	BG, OBJ0, OBJ1 Set
}

// Curated schemes, indexed by id. Values approximate the well-known CGB
// boot-ROM built-in palette families (green, sepia, blue/red accents,
// pastel) rather than reproducing hardware's exact boot-ROM checksum table.
var schemes = []Scheme{
	{ // 0: classic green (Zelda-style)
		BG:   Set{0x7FFF, 0x56B5, 0x294A, 0x0000},
		OBJ0: Set{0x7FFF, 0x3FE6, 0x2129, 0x0000},
		OBJ1: Set{0x7FFF, 0x7D8A, 0x4129, 0x0000},
	},
	{ // 1: sepia
		BG:   Set{0x7FFF, 0x5AD6, 0x3231, 0x0861},
		OBJ0: Set{0x7FFF, 0x5AD6, 0x3231, 0x0861},
		OBJ1: Set{0x7FFF, 0x5AD6, 0x3231, 0x0861},
	},
	{ // 2: blue (Tetris/MegaMan-style)
		BG:   Set{0x7FFF, 0x6E56, 0x2CC6, 0x0000},
		OBJ0: Set{0x7FFF, 0x6318, 0x1CE7, 0x0000},
		OBJ1: Set{0x7FFF, 0x7E6B, 0x3DEF, 0x0000},
	},
	{ // 3: red accent (Mario/Metroid-style)
		BG:   Set{0x7FFF, 0x6E56, 0x2CC6, 0x0000},
		OBJ0: Set{0x7FFF, 0x037F, 0x015F, 0x0000},
		OBJ1: Set{0x7FFF, 0x6E56, 0x2CC6, 0x0000},
	},
	{ // 4: pastel (Kirby/Pokemon-style)
		BG:   Set{0x7FFF, 0x3FFF, 0x1DEF, 0x0000},
		OBJ0: Set{0x7FFF, 0x4A5F, 0x1CE7, 0x0000},
		OBJ1: Set{0x7FFF, 0x7ED6, 0x3DEF, 0x0000},
	},
	{ // 5: grayscale fallback
		BG:   Set{0x7FFF, 0x56B5, 0x294A, 0x0000},
		OBJ0: Set{0x7FFF, 0x56B5, 0x294A, 0x0000},
		OBJ1: Set{0x7FFF, 0x56B5, 0x294A, 0x0000},
	},
}

var exactTitles = map[string]int{
	"TETRIS":              2,
	"TETRIS DX":           2,
	"SUPER MARIO LAND":    3,
	"SUPER MARIO LAND 2":  3,
	"DR. MARIO":           4,
	"DONKEY KONG":         1,
	"THE LEGEND OF ZELDA": 0,
	"ZELDA":               0,
	"METROID II":          3,
	"KIRBY'S DREAM LAND":  4,
	"MEGA MAN":            2,
	"MEGAMAN":             2,
	"WARIO LAND":          1,
	"POKEMON YELLOW":      4,
	"POKEMON RED":         4,
	"POKEMON BLUE":        4,
	"POCKET MONSTERS":     4,
}

type substr struct {
	needle string
	id     int
}

var containsRules = []substr{
	{"TETRIS", 2},
	{"MARIO", 3},
	{"ZELDA", 0},
	{"KIRBY", 4},
	{"DONKEY KONG", 1},
	{"METROID", 3},
	{"MEGA MAN", 2},
	{"MEGAMAN", 2},
	{"WARIO", 1},
	{"POKEMON", 4},
	{"POCKET MONSTERS", 4},
}

// ForTitle returns the curated scheme for a DMG ROM title, consulting an
// exact-match table first, then substring family rules, then falling back
// to a checksum-stable choice for Nintendo-published titles and scheme 0
// (classic green) for anything else unrecognized.
func ForTitle(title string, headerChecksum byte, isNintendoPublished bool) Scheme {
	id, ok := lookupID(title, headerChecksum, isNintendoPublished)
	if !ok {
		id = 0
	}
	return schemes[id]
}

// Grayscale is the explicit monochrome fallback scheme (index 5), for
// callers that want to force DMG-faithful rendering rather than a curated
// color guess.
func Grayscale() Scheme { return schemes[5] }

func lookupID(title string, headerChecksum byte, isNintendoPublished bool) (int, bool) {
	t := strings.ToUpper(strings.TrimRight(strings.TrimSpace(title), "\x00"))
	if id, ok := exactTitles[t]; ok {
		return id, true
	}
	for _, r := range containsRules {
		if strings.Contains(t, r.needle) {
			return r.id, true
		}
	}
	if isNintendoPublished {
		return int(headerChecksum) % len(schemes), true
	}
	return 0, false
}
