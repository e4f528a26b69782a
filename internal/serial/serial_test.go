package serial

import (
	"bytes"
	"testing"

	"github.com/dotmatrixco/gbcore/internal/interrupt"
)

func TestTransferCompletesAndRaisesInterrupt(t *testing.T) {
	var irq interrupt.Controller
	irq.WriteIE(0xFF)
	var buf bytes.Buffer
	s := New(&irq)
	s.SetSink(&buf)
	s.WriteSB(0x42)
	s.WriteSC(0x81) // start, internal clock

	for i := 0; i < 10000 && s.ReadSC()&0x80 != 0; i++ {
		s.Advance(1)
	}
	if s.ReadSC()&0x80 != 0 {
		t.Fatalf("transfer did not complete")
	}
	if irq.Pending()&(1<<interrupt.Serial) == 0 {
		t.Fatalf("expected Serial interrupt after transfer")
	}
	if buf.Len() != 1 {
		t.Fatalf("sink got %d bytes, want 1", buf.Len())
	}
}

func TestNoTransferWithoutInternalClock(t *testing.T) {
	var irq interrupt.Controller
	s := New(&irq)
	s.WriteSC(0x80) // start, but external clock selected
	s.Advance(100000)
	if s.ReadSC()&0x80 == 0 {
		t.Fatalf("transfer should not complete without internal clock/peer")
	}
}
