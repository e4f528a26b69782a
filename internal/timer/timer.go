// Package timer implements the DMG/CGB DIV/TIMA/TMA/TAC counters.
//
// Both counters are derived from one free-running 16-bit internal divider,
// the way real hardware does it: DIV is the divider's high byte, and TIMA
// increments on a falling edge of a TAC-selected divider bit. This gives
// the correct "writing DIV can itself cause a TIMA increment" behavior for
// free, since changing the divider (or TAC) can flip the selected bit.
package timer

import (
	"bytes"
	"encoding/gob"

	"github.com/dotmatrixco/gbcore/internal/interrupt"
)

// divider bit selected by each TAC rate-select value (00..11), chosen so
// that a falling edge occurs at 4096, 262144, 65536, and 16384 Hz on the
// 4.194304 MHz DMG clock.
var tacBit = [4]uint{9, 3, 5, 7}

type Timer struct {
	divider uint16 // free-running internal counter; DIV = divider>>8
	tima    byte
	tma     byte
	tac     byte // bits 0..1 rate select, bit 2 enable

	// TIMA reload is delayed 4 T-cycles after overflow; a write to TIMA
	// during that window cancels the reload (pandocs "TIMA glitch").
	reloadDelay int

	irq *interrupt.Controller
}

func New(irq *interrupt.Controller) *Timer {
	return &Timer{irq: irq}
}

func (t *Timer) input() bool {
	if t.tac&0x04 == 0 {
		return false
	}
	bit := tacBit[t.tac&0x03]
	return (t.divider>>bit)&1 != 0
}

// ReadDIV returns the divider's high byte.
func (t *Timer) ReadDIV() byte { return byte(t.divider >> 8) }

// WriteDIV resets the internal divider to zero. If the reset causes a
// falling edge on the TAC-selected bit, TIMA increments immediately.
func (t *Timer) WriteDIV() {
	before := t.input()
	t.divider = 0
	if before && !t.input() {
		t.incrementTIMA()
	}
}

func (t *Timer) ReadTIMA() byte { return t.tima }

func (t *Timer) WriteTIMA(v byte) {
	t.tima = v
	// A write during the reload window cancels the pending TMA reload.
	t.reloadDelay = 0
}

func (t *Timer) ReadTMA() byte { return t.tma }
func (t *Timer) WriteTMA(v byte) { t.tma = v }

func (t *Timer) ReadTAC() byte { return 0xF8 | (t.tac & 0x07) }

func (t *Timer) WriteTAC(v byte) {
	before := t.input()
	t.tac = v & 0x07
	if before && !t.input() {
		t.incrementTIMA()
	}
}

func (t *Timer) incrementTIMA() {
	if t.reloadDelay > 0 {
		return
	}
	if t.tima == 0xFF {
		t.tima = 0x00
		t.reloadDelay = 4
		return
	}
	t.tima++
}

// Advance runs the timer for the given number of T-cycles.
func (t *Timer) Advance(cycles int) {
	for i := 0; i < cycles; i++ {
		before := t.input()
		t.divider++
		falling := before && !t.input()

		if t.reloadDelay > 0 {
			t.reloadDelay--
			if t.reloadDelay == 0 {
				t.tima = t.tma
				if t.irq != nil {
					t.irq.Request(interrupt.Timer)
				}
			}
		}
		if falling {
			t.incrementTIMA()
		}
	}
}

type timerState struct {
	Divider     uint16
	TIMA        byte
	TMA         byte
	TAC         byte
	ReloadDelay int
}

// SaveState serializes the divider, TIMA/TMA/TAC, and any pending reload.
func (t *Timer) SaveState() []byte {
	s := timerState{Divider: t.divider, TIMA: t.tima, TMA: t.tma, TAC: t.tac, ReloadDelay: t.reloadDelay}
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(s)
	return buf.Bytes()
}

// LoadState restores a blob produced by SaveState. No-op on decode failure.
func (t *Timer) LoadState(data []byte) {
	var s timerState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	t.divider, t.tima, t.tma, t.tac, t.reloadDelay = s.Divider, s.TIMA, s.TMA, s.TAC, s.ReloadDelay
}
