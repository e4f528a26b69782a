// Package joypad models the P1/JOYP button matrix at 0xFF00.
package joypad

import (
	"bytes"
	"encoding/gob"

	"github.com/dotmatrixco/gbcore/internal/interrupt"
)

// Button bitmasks for SetState. A set bit means the button is held down.
const (
	Right = 1 << 0
	Left  = 1 << 1
	Up    = 1 << 2
	Down  = 1 << 3
	A     = 1 << 4
	B     = 1 << 5
	Select = 1 << 6
	Start  = 1 << 7
)

type Joypad struct {
	selectLines byte // bits 4-5 as last written (0 = line selected)
	buttons     byte // Right..Start bitmask, set bit = pressed
	lastLower4  byte // last computed active-low nibble, for edge detection

	irq *interrupt.Controller
}

func New(irq *interrupt.Controller) *Joypad {
	j := &Joypad{irq: irq}
	j.lastLower4 = 0x0F
	return j
}

// SetState updates which buttons are currently held (Right..Start bitmask, set
// bit = pressed) and raises Joypad in IF on any newly-pressed, currently
// selected button (falling edge on the active-low line).
func (j *Joypad) SetState(mask byte) {
	j.buttons = mask
	j.refresh()
}

func (j *Joypad) lowerNibble() byte {
	lo := byte(0x0F)
	if j.selectLines&0x10 == 0 { // P14 low selects D-pad
		if j.buttons&Right != 0 {
			lo &^= 0x01
		}
		if j.buttons&Left != 0 {
			lo &^= 0x02
		}
		if j.buttons&Up != 0 {
			lo &^= 0x04
		}
		if j.buttons&Down != 0 {
			lo &^= 0x08
		}
	}
	if j.selectLines&0x20 == 0 { // P15 low selects buttons
		if j.buttons&A != 0 {
			lo &^= 0x01
		}
		if j.buttons&B != 0 {
			lo &^= 0x02
		}
		if j.buttons&Select != 0 {
			lo &^= 0x04
		}
		if j.buttons&Start != 0 {
			lo &^= 0x08
		}
	}
	return lo
}

func (j *Joypad) refresh() {
	newLower := j.lowerNibble()
	// Bits that were 1 (unpressed/unselected) and are now 0 (pressed) are a
	// falling edge on that line.
	falling := j.lastLower4 &^ newLower
	if falling != 0 && j.irq != nil {
		j.irq.Request(interrupt.Joypad)
	}
	j.lastLower4 = newLower
}

// Read returns the P1 register: bits 6-7 read as 1, bits 4-5 reflect the
// last-written select lines, bits 0-3 reflect the selected button group.
func (j *Joypad) Read() byte {
	return 0xC0 | (j.selectLines & 0x30) | j.lowerNibble()
}

// Write stores the select lines (bits 4-5 only are writable) and
// re-evaluates the edge detector, since changing selection can itself
// expose an already-pressed button as a falling edge.
func (j *Joypad) Write(v byte) {
	j.selectLines = v & 0x30
	j.refresh()
}

type joypadState struct {
	SelectLines byte
	Buttons     byte
	LastLower4  byte
}

// SaveState serializes the select lines, held buttons, and edge-detector state.
func (j *Joypad) SaveState() []byte {
	s := joypadState{SelectLines: j.selectLines, Buttons: j.buttons, LastLower4: j.lastLower4}
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(s)
	return buf.Bytes()
}

// LoadState restores a blob produced by SaveState. No-op on decode failure.
func (j *Joypad) LoadState(data []byte) {
	var s joypadState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	j.selectLines, j.buttons, j.lastLower4 = s.SelectLines, s.Buttons, s.LastLower4
}
