// Package serial models the SB/SC link-cable shift register. No peer is
// ever connected, so incoming bits are always 1 (§9 Open Questions).
package serial

import (
	"bytes"
	"encoding/gob"
	"io"
	"log/slog"

	"github.com/dotmatrixco/gbcore/internal/interrupt"
)

const (
	clockInternalDMG = 8192   // Hz, bit0=1 bit1=0
	clockInternalCGB = 262144 // Hz, bit0=1 bit1=1 (double-speed fast clock)
	cpuHz            = 4194304
)

type Serial struct {
	sb byte // FF01
	sc byte // FF02: bit7 transfer start, bit1 CGB fast clock, bit0 internal clock select
	out byte // SB as it was when the transfer started; the byte sent to the sink

	shiftsLeft  int
	cyclesToNext int
	cgb         bool

	sink io.Writer
	irq  *interrupt.Controller
}

func New(irq *interrupt.Controller) *Serial {
	return &Serial{irq: irq}
}

// SetCGB enables the CGB fast internal clock option (SC bit 1).
func (s *Serial) SetCGB(v bool) { s.cgb = v }

// SetSink directs completed bytes to w; logged bytes are surfaced to
// callers (e.g. Blargg conformance ROMs write their pass/fail text here).
func (s *Serial) SetSink(w io.Writer) { s.sink = w }

func (s *Serial) ReadSB() byte { return s.sb }
func (s *Serial) WriteSB(v byte) { s.sb = v }

func (s *Serial) ReadSC() byte { return 0x7C | (s.sc & 0x83) }

func (s *Serial) WriteSC(v byte) {
	s.sc = v & 0x83
	if s.sc&0x80 != 0 && s.shiftsLeft == 0 {
		s.shiftsLeft = 8
		s.cyclesToNext = s.clockPeriod()
		s.out = s.sb
	}
}

func (s *Serial) clockPeriod() int {
	hz := clockInternalDMG
	if s.cgb && s.sc&0x02 != 0 {
		hz = clockInternalCGB
	}
	return cpuHz / hz
}

// Advance runs the internal clock for the given number of T-cycles. Only
// the internal-clock case is modeled; without a peer there is no external
// clock to shift on.
func (s *Serial) Advance(cycles int) {
	if s.sc&0x80 == 0 || s.sc&0x01 == 0 {
		return
	}
	for i := 0; i < cycles && s.shiftsLeft > 0; i++ {
		s.cyclesToNext--
		if s.cyclesToNext > 0 {
			continue
		}
		// Shift in a 1 bit (no peer connected) and out the top bit of SB.
		s.sb = (s.sb << 1) | 1
		s.shiftsLeft--
		if s.shiftsLeft == 0 {
			s.sc &^= 0x80
			if s.irq != nil {
				s.irq.Request(interrupt.Serial)
			}
			if s.sink != nil {
				if _, err := s.sink.Write([]byte{s.out}); err != nil {
					slog.Debug("serial sink write failed", "error", err)
				}
			}
		} else {
			s.cyclesToNext = s.clockPeriod()
		}
	}
}

type serialState struct {
	SB, SC, Out  byte
	ShiftsLeft   int
	CyclesToNext int
	CGB          bool
}

// SaveState serializes SB/SC and the in-flight shift counters.
func (s *Serial) SaveState() []byte {
	st := serialState{SB: s.sb, SC: s.sc, Out: s.out, ShiftsLeft: s.shiftsLeft, CyclesToNext: s.cyclesToNext, CGB: s.cgb}
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(st)
	return buf.Bytes()
}

// LoadState restores a blob produced by SaveState. No-op on decode failure.
func (s *Serial) LoadState(data []byte) {
	var st serialState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&st); err != nil {
		return
	}
	s.sb, s.sc, s.out, s.shiftsLeft, s.cyclesToNext, s.cgb = st.SB, st.SC, st.Out, st.ShiftsLeft, st.CyclesToNext, st.CGB
}
