package joypad

import (
	"testing"

	"github.com/dotmatrixco/gbcore/internal/interrupt"
)

func TestUnselectedLinesReadAllOnes(t *testing.T) {
	var irq interrupt.Controller
	j := New(&irq)
	j.Write(0x30) // both lines deselected
	j.SetState(A | Up)
	if got := j.Read() & 0x0F; got != 0x0F {
		t.Fatalf("lower nibble = %#02x, want 0x0F when no line selected", got)
	}
}

func TestDPadSelectionReportsPressedBits(t *testing.T) {
	var irq interrupt.Controller
	j := New(&irq)
	j.Write(0x20) // select D-pad (P14 low)
	j.SetState(Up | Right)
	got := j.Read() & 0x0F
	if got&0x01 != 0 {
		t.Fatalf("Right bit should read 0 (pressed)")
	}
	if got&0x04 != 0 {
		t.Fatalf("Up bit should read 0 (pressed)")
	}
	if got&0x02 == 0 || got&0x08 == 0 {
		t.Fatalf("Left/Down should read 1 (unpressed)")
	}
}

func TestFallingEdgeRaisesJoypadInterrupt(t *testing.T) {
	var irq interrupt.Controller
	irq.WriteIE(0xFF)
	j := New(&irq)
	j.Write(0x20) // select D-pad
	j.SetState(0)
	j.SetState(Down)
	if irq.Pending()&(1<<interrupt.Joypad) == 0 {
		t.Fatalf("expected Joypad interrupt on press")
	}
}
