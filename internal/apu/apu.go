package apu

import (
	"bytes"
	"encoding/gob"
)

// cpuHz is the DMG/CGB (single-speed) CPU clock, in Hz.
const cpuHz = 4194304

// APU is a 4-channel Game Boy audio unit: two pulse channels (CH1 with
// sweep, CH2 without), one wave channel (CH3), and one noise channel (CH4).
// It mixes to stereo per NR50/NR51 and resamples into a ring buffer that
// internal/ui's audio player drains.
type APU struct {
	enabled bool // NR52 bit 7

	// resampling
	sampleRate      int
	cyclesPerSample float64
	cycAccum        float64
	masterGain      float64

	// frame sequencer, clocked at 512 Hz
	seqCounter int // CPU cycles until next sequencer step
	seqStep    int // 0..7

	// stereo output ring buffer (power-of-two capacity)
	sL    []int16
	sR    []int16
	sHead int
	sTail int

	nr50 byte // 0xFF24 master volume / VIN routing
	nr51 byte // 0xFF25 per-channel stereo panning

	pulse1 pulseChannel // NR10-14
	pulse2 pulseChannel // NR21-24, sweep fields unused
	wave   waveChannel  // NR30-34 + wave RAM
	noise  noiseChannel // NR41-44
}

// envelope is the volume envelope shared by CH1, CH2, and CH4 (NRx2).
type envelope struct {
	initVolume byte // bits 7-4: starting volume, 0-15
	direction  int8 // +1 if bit 3 set (increasing), -1 otherwise
	pace       byte // bits 2-0: steps between volume changes, 0 treated as 8
	volume     byte // current output volume, 0-15
	timer      byte // ticks remaining until the next envelope step
}

// dacOff mirrors the real hardware check (NRx2 bits 7-3 all zero): a channel
// triggered with its DAC off never starts generating sound.
func (e envelope) dacOff() bool {
	return e.initVolume == 0 && e.direction < 0
}

func (e *envelope) trigger() {
	e.volume = e.initVolume
	e.timer = periodOrEight(e.pace)
}

func (e *envelope) clock() {
	if e.pace == 0 {
		return
	}
	if e.timer > 0 {
		e.timer--
	}
	if e.timer == 0 {
		e.timer = e.pace
		if e.direction > 0 && e.volume < 15 {
			e.volume++
		} else if e.direction < 0 && e.volume > 0 {
			e.volume--
		}
	}
}

func periodOrEight(p byte) byte {
	if p == 0 {
		return 8
	}
	return p
}

// lengthCounter is the length timer shared by all four channels; it counts
// down from (max - loaded value) and silences the channel at zero while
// length is enabled. CH1/CH2/CH4 use max=64, CH3 uses max=256.
type lengthCounter struct {
	max     int
	counter int
	enabled bool
}

func (l *lengthCounter) load(v byte) {
	l.counter = l.max - int(v)
}

// reloadIfExpired refills the counter to max on channel trigger, matching
// the real quirk where a fully-expired length counter is reloaded rather
// than left at zero.
func (l *lengthCounter) reloadIfExpired() {
	if l.counter <= 0 {
		l.counter = l.max
	}
}

// clock decrements the counter and reports whether it just reached zero.
func (l *lengthCounter) clock() bool {
	if !l.enabled || l.counter <= 0 {
		return false
	}
	l.counter--
	return l.counter <= 0
}

// sweep is CH1's frequency sweep (NR10); CH2 and CH4 never use it.
type sweep struct {
	pace    byte
	negate  bool
	shift   byte
	timer   byte
	enabled bool
	shadow  uint16
}

type pulseChannel struct {
	enabled bool
	duty    byte // 0-3, indexes dutyPatterns
	length  lengthCounter
	env     envelope
	sweep   sweep // only meaningful for CH1
	freq    uint16
	timer   int // frequency timer, in CPU cycles
	phase   int // 0-7, index into the duty pattern
}

func newPulseChannel() pulseChannel {
	return pulseChannel{length: lengthCounter{max: 64}}
}

func (p *pulseChannel) reloadTimer() {
	period := int(4 * (2048 - (p.freq & 0x7FF)))
	if period < 8 {
		period = 8
	}
	p.timer = period
}

// triggerWithSweep is CH1's trigger handler: unlike CH2, CH1 still resets
// its timer/phase/envelope/sweep state even when the DAC is off.
func (p *pulseChannel) triggerWithSweep() {
	p.enabled = !p.env.dacOff()
	p.length.reloadIfExpired()
	p.phase = 0
	p.reloadTimer()
	p.env.trigger()
	p.sweep.shadow = p.freq & 0x7FF
	p.sweep.enabled = p.sweep.pace != 0 || p.sweep.shift != 0
	p.sweep.timer = periodOrEight(p.sweep.pace)
	if p.sweep.shift != 0 && p.calcSweepFreq(true) > 2047 {
		p.enabled = false
	}
}

// trigger is CH2's trigger handler: a DAC-off trigger is a no-op.
func (p *pulseChannel) trigger() {
	if p.env.dacOff() {
		p.enabled = false
		return
	}
	p.enabled = true
	p.length.reloadIfExpired()
	p.phase = 0
	p.reloadTimer()
	p.env.trigger()
}

func (p *pulseChannel) calcSweepFreq(applyShift bool) int {
	base := int(p.sweep.shadow)
	if p.sweep.shift == 0 {
		return base
	}
	delta := base >> p.sweep.shift
	if p.sweep.negate {
		return base - delta
	}
	if applyShift {
		return base + delta
	}
	return base + delta
}

func (p *pulseChannel) clockSweep() {
	if !p.enabled || !p.sweep.enabled || p.sweep.pace == 0 {
		return
	}
	if p.sweep.timer > 0 {
		p.sweep.timer--
	}
	if p.sweep.timer != 0 {
		return
	}
	p.sweep.timer = periodOrEight(p.sweep.pace)
	nf := p.calcSweepFreq(true)
	if nf > 2047 {
		p.enabled = false
		return
	}
	p.sweep.shadow = uint16(nf)
	p.freq = (p.freq &^ 0x07FF) | (uint16(nf) & 0x07FF)
	p.reloadTimer()
	if p.calcSweepFreq(false) > 2047 {
		p.enabled = false
	}
}

func (p *pulseChannel) amplitude() float64 {
	if !p.enabled {
		return 0
	}
	on := dutyPatterns[p.duty][p.phase] != 0
	amp := float64(p.env.volume) / 15.0
	if on {
		return amp
	}
	return -amp
}

type waveChannel struct {
	enabled bool
	dacEn   bool
	length  lengthCounter
	volCode byte // 0-3: 0 mute, 1=100%, 2=50%, 3=25%
	freq    uint16
	timer   int
	pos     int      // 0-31, sample index
	ram     [16]byte // 0xFF30-0xFF3F, 32 4-bit samples
}

func newWaveChannel() waveChannel {
	return waveChannel{length: lengthCounter{max: 256}}
}

func (w *waveChannel) reloadTimer() {
	period := int(2 * (2048 - (w.freq & 0x7FF)))
	if period < 2 {
		period = 2
	}
	w.timer = period
}

func (w *waveChannel) trigger() {
	w.enabled = w.dacEn
	w.length.reloadIfExpired()
	w.pos = 0
	w.reloadTimer()
}

func (w *waveChannel) amplitude() float64 {
	if !w.enabled || !w.dacEn || w.volCode == 0 {
		return 0
	}
	b := w.ram[w.pos>>1]
	var sample byte
	if w.pos&1 == 0 {
		sample = (b >> 4) & 0x0F
	} else {
		sample = b & 0x0F
	}
	shift := w.volCode - 1
	scaled := float64(sample >> shift)
	max := float64(byte(15) >> shift)
	if max < 1 {
		max = 1
	}
	// center around 0: 0..max -> -1..+1
	return (scaled/max)*2.0 - 1.0
}

type noiseChannel struct {
	enabled bool
	length  lengthCounter
	env     envelope
	// NR43
	shift  byte // 0-15 shift clock frequency
	width7 bool // true selects the 7-bit LFSR, false the 15-bit one
	divSel byte // 0-7 dividing ratio code
	timer  int
	lfsr   uint16 // bit 0 is the current output (inverted)
}

func newNoiseChannel() noiseChannel {
	return noiseChannel{length: lengthCounter{max: 64}}
}

var noiseDivisors = [8]int{8, 16, 32, 48, 64, 80, 96, 112}

func (n *noiseChannel) reloadTimer() {
	period := noiseDivisors[n.divSel&7] << (int(n.shift) + 4)
	if period < 2 {
		period = 2
	}
	n.timer = period
}

func (n *noiseChannel) trigger() {
	n.enabled = !n.env.dacOff()
	n.length.reloadIfExpired()
	n.env.trigger()
	n.lfsr = 0x7FFF
	n.reloadTimer()
}

// step advances the LFSR by one pseudo-random bit per the NR43 taps.
func (n *noiseChannel) step() {
	x := (n.lfsr ^ (n.lfsr >> 1)) & 1
	n.lfsr >>= 1
	n.lfsr |= x << 14
	if n.width7 {
		n.lfsr &^= 1 << 6
		n.lfsr |= x << 6
	}
}

func (n *noiseChannel) amplitude() float64 {
	if !n.enabled {
		return 0
	}
	amp := float64(n.env.volume) / 15.0
	if (^n.lfsr)&1 != 0 {
		return amp
	}
	return -amp
}

// dutyPatterns are the four CH1/CH2 waveform shapes (12.5%, 25%, 50%, 75%).
var dutyPatterns = [4][8]byte{
	{0, 0, 0, 0, 0, 0, 0, 1},
	{1, 0, 0, 0, 0, 0, 0, 1},
	{1, 0, 0, 0, 0, 1, 1, 1},
	{0, 1, 1, 1, 1, 1, 1, 0},
}

func New(sampleRate int) *APU {
	if sampleRate <= 0 {
		sampleRate = 48000
	}
	a := &APU{
		enabled:         true,
		sampleRate:      sampleRate,
		cyclesPerSample: float64(cpuHz) / float64(sampleRate),
		masterGain:      0.20, // headroom to avoid clipping when several channels stack
		seqCounter:      cpuHz / 512,
		sL:              make([]int16, 16384),
		sR:              make([]int16, 16384),
		pulse1:          newPulseChannel(),
		pulse2:          newPulseChannel(),
		wave:            newWaveChannel(),
		noise:           newNoiseChannel(),
	}
	// Sensible stereo defaults: route all channels to both and set max master volume.
	a.nr50 = 0x77
	a.nr51 = 0xFF
	return a
}

// writableWhilePoweredOff reports the handful of registers hardware still
// accepts writes to when NR52 power is off: NR52 itself (so software can
// turn the APU back on), wave RAM, and the DMG-only quirk that the four
// length-counter load registers stay writable even while the rest of the
// unit is dark.
func writableWhilePoweredOff(addr uint16) bool {
	switch addr {
	case 0xFF11, 0xFF16, 0xFF1B, 0xFF20, 0xFF26:
		return true
	}
	return addr >= 0xFF30 && addr <= 0xFF3F
}

// CPURead reads an APU register.
func (a *APU) CPURead(addr uint16) byte {
	switch addr {
	case 0xFF10, 0xFF11, 0xFF12, 0xFF13, 0xFF14:
		return a.readPulse(&a.pulse1, addr)
	case 0xFF16, 0xFF17, 0xFF18, 0xFF19:
		return a.readPulse(&a.pulse2, addr)
	case 0xFF1A, 0xFF1B, 0xFF1C, 0xFF1D, 0xFF1E:
		return a.readWave(addr)
	case 0xFF30, 0xFF31, 0xFF32, 0xFF33, 0xFF34, 0xFF35, 0xFF36, 0xFF37,
		0xFF38, 0xFF39, 0xFF3A, 0xFF3B, 0xFF3C, 0xFF3D, 0xFF3E, 0xFF3F:
		return a.wave.ram[addr-0xFF30]
	case 0xFF20, 0xFF21, 0xFF22, 0xFF23:
		return a.readNoise(addr)
	case 0xFF24:
		return a.nr50
	case 0xFF25:
		return a.nr51
	case 0xFF26:
		return a.readNR52()
	default:
		return 0xFF
	}
}

// readPulse serves both CH1 (0xFF10-14) and CH2 (0xFF16-19); CH2 has no
// sweep register, so NR20 (0xFF15) is simply absent from the caller's switch.
func (a *APU) readPulse(p *pulseChannel, addr uint16) byte {
	switch addr {
	case 0xFF10: // NR10 sweep
		n := (p.sweep.pace & 7) << 4
		if p.sweep.negate {
			n |= 1 << 3
		}
		n |= p.sweep.shift & 7
		return 0x80 | n
	case 0xFF11, 0xFF16: // NR11/NR21 duty/length
		return (p.duty << 6) | byte(0x3F-(p.length.counter&0x3F))
	case 0xFF12, 0xFF17: // NR12/NR22 envelope
		return envelopeByte(p.env)
	case 0xFF13, 0xFF18: // NR13/NR23 freq lo (write-only on hardware, but harmless to expose)
		return byte(p.freq & 0xFF)
	case 0xFF14, 0xFF19: // NR14/NR24
		return (asBit(p.length.enabled) << 6) | byte((p.freq>>8)&7)
	}
	return 0xFF
}

func envelopeByte(e envelope) byte {
	dir := byte(0)
	if e.direction > 0 {
		dir = 1
	}
	return (e.initVolume << 4) | (dir << 3) | (e.pace & 7)
}

func (a *APU) readWave(addr uint16) byte {
	w := &a.wave
	switch addr {
	case 0xFF1A: // NR30 DAC enable
		if w.dacEn {
			return 0x80
		}
		return 0x00
	case 0xFF1B: // NR31 length
		return byte(0xFF - (w.length.counter & 0xFF))
	case 0xFF1C: // NR32 output level
		return (w.volCode << 5) | 0x9F
	case 0xFF1D: // NR33 freq lo
		return byte(w.freq & 0xFF)
	case 0xFF1E: // NR34
		return (asBit(w.length.enabled) << 6) | byte((w.freq>>8)&7)
	}
	return 0xFF
}

func (a *APU) readNoise(addr uint16) byte {
	n := &a.noise
	switch addr {
	case 0xFF20: // NR41 length
		return byte(0x3F - (n.length.counter & 0x3F))
	case 0xFF21: // NR42 envelope
		return envelopeByte(n.env)
	case 0xFF22: // NR43 polynomial counter
		w := byte(0)
		if n.width7 {
			w = 1
		}
		return (n.shift << 4) | (w << 3) | (n.divSel & 7)
	case 0xFF23: // NR44
		return asBit(n.length.enabled) << 6
	}
	return 0xFF
}

func (a *APU) readNR52() byte {
	chFlags := byte(0)
	if a.pulse1.enabled {
		chFlags |= 1 << 0
	}
	if a.pulse2.enabled {
		chFlags |= 1 << 1
	}
	if a.wave.enabled {
		chFlags |= 1 << 2
	}
	if a.noise.enabled {
		chFlags |= 1 << 3
	}
	return 0x70 | (asBit(a.enabled) << 7) | chFlags
}

// CPUWrite writes an APU register. Per spec.md §4.5, while the unit is
// powered off every write is dropped except the handful
// writableWhilePoweredOff names.
func (a *APU) CPUWrite(addr uint16, v byte) {
	if !a.enabled && !writableWhilePoweredOff(addr) {
		return
	}
	switch addr {
	case 0xFF10, 0xFF11, 0xFF12, 0xFF13, 0xFF14:
		a.writePulse(&a.pulse1, addr, v)
	case 0xFF16, 0xFF17, 0xFF18, 0xFF19:
		a.writePulse(&a.pulse2, addr, v)
	case 0xFF1A, 0xFF1B, 0xFF1C, 0xFF1D, 0xFF1E:
		a.writeWave(addr, v)
	case 0xFF30, 0xFF31, 0xFF32, 0xFF33, 0xFF34, 0xFF35, 0xFF36, 0xFF37,
		0xFF38, 0xFF39, 0xFF3A, 0xFF3B, 0xFF3C, 0xFF3D, 0xFF3E, 0xFF3F:
		a.wave.ram[addr-0xFF30] = v
	case 0xFF20, 0xFF21, 0xFF22, 0xFF23:
		a.writeNoise(addr, v)
	case 0xFF24:
		a.nr50 = v
	case 0xFF25:
		a.nr51 = v
	case 0xFF26:
		a.writeNR52(v)
	}
}

func (a *APU) writePulse(p *pulseChannel, addr uint16, v byte) {
	switch addr {
	case 0xFF10: // NR10 sweep (CH1 only; harmless when written via CH2's alias)
		p.sweep.pace = (v >> 4) & 7
		p.sweep.negate = v&(1<<3) != 0
		p.sweep.shift = v & 7
	case 0xFF11, 0xFF16: // NR11/NR21 duty/length
		p.duty = (v >> 6) & 3
		p.length.load(v & 0x3F)
	case 0xFF12, 0xFF17: // NR12/NR22 envelope
		writeEnvelope(&p.env, v)
		if v&0xF8 == 0 { // DAC off disables the channel immediately
			p.enabled = false
		}
	case 0xFF13, 0xFF18: // NR13/NR23 freq lo
		p.freq = (p.freq & 0x0700) | uint16(v)
		p.reloadTimer()
	case 0xFF14: // NR14 (CH1, triggers with sweep)
		p.length.enabled = v&(1<<6) != 0
		p.freq = (p.freq & 0x00FF) | (uint16(v&7) << 8)
		if v&(1<<7) != 0 {
			p.triggerWithSweep()
		}
	case 0xFF19: // NR24 (CH2, no sweep)
		p.length.enabled = v&(1<<6) != 0
		p.freq = (p.freq & 0x00FF) | (uint16(v&7) << 8)
		if v&(1<<7) != 0 {
			p.trigger()
		}
	}
}

func writeEnvelope(e *envelope, v byte) {
	e.initVolume = (v >> 4) & 0x0F
	if v&(1<<3) != 0 {
		e.direction = 1
	} else {
		e.direction = -1
	}
	e.pace = v & 7
}

func (a *APU) writeWave(addr uint16, v byte) {
	w := &a.wave
	switch addr {
	case 0xFF1A: // NR30 DAC enable
		w.dacEn = v&0x80 != 0
		if !w.dacEn {
			w.enabled = false
		}
	case 0xFF1B: // NR31 length
		w.length.load(v)
	case 0xFF1C: // NR32 output level
		w.volCode = (v >> 5) & 3
	case 0xFF1D: // NR33 freq lo
		w.freq = (w.freq & 0x0700) | uint16(v)
		w.reloadTimer()
	case 0xFF1E: // NR34
		w.length.enabled = v&(1<<6) != 0
		w.freq = (w.freq & 0x00FF) | (uint16(v&7) << 8)
		if v&(1<<7) != 0 {
			w.trigger()
		}
	}
}

func (a *APU) writeNoise(addr uint16, v byte) {
	n := &a.noise
	switch addr {
	case 0xFF20: // NR41 length
		n.length.load(v & 0x3F)
	case 0xFF21: // NR42 envelope
		writeEnvelope(&n.env, v)
		if v&0xF8 == 0 {
			n.enabled = false
		}
	case 0xFF22: // NR43 polynomial counter
		n.shift = (v >> 4) & 0x0F
		n.width7 = v&(1<<3) != 0
		n.divSel = v & 7
		n.reloadTimer()
	case 0xFF23: // NR44
		n.length.enabled = v&(1<<6) != 0
		if v&(1<<7) != 0 {
			n.trigger()
		}
	}
}

func (a *APU) writeNR52(v byte) {
	if v&(1<<7) == 0 {
		// Power off clears all register state, per hardware; power back on
		// leaves registers zeroed until rewritten.
		sampleRate := a.sampleRate
		*a = *New(sampleRate)
		a.enabled = false
		a.nr50, a.nr51 = 0, 0
	} else {
		a.enabled = true
	}
}

// Tick advances the APU by the given number of CPU cycles, clocking the
// frame sequencer, channel timers, and pushing resampled stereo frames.
func (a *APU) Tick(cycles int) {
	if cycles <= 0 {
		return
	}
	for i := 0; i < cycles; i++ {
		if !a.enabled {
			continue
		}
		a.clockSequencer()
		a.clockChannelTimers()
		a.cycAccum++
		for a.cycAccum >= a.cyclesPerSample {
			a.cycAccum -= a.cyclesPerSample
			l, r := a.mixStereo()
			a.pushStereo(l, r)
		}
	}
}

func (a *APU) clockSequencer() {
	a.seqCounter--
	if a.seqCounter > 0 {
		return
	}
	a.seqCounter += cpuHz / 512
	a.seqStep = (a.seqStep + 1) & 7
	if a.seqStep%2 == 0 { // steps 0,2,4,6
		a.clockLength()
	}
	if a.seqStep == 2 || a.seqStep == 6 {
		a.pulse1.clockSweep()
	}
	if a.seqStep == 7 {
		a.clockEnvelopes()
	}
}

func (a *APU) clockChannelTimers() {
	if a.pulse1.enabled {
		a.pulse1.timer--
		if a.pulse1.timer <= 0 {
			a.pulse1.reloadTimer()
			a.pulse1.phase = (a.pulse1.phase + 1) & 7
		}
	}
	if a.pulse2.enabled {
		a.pulse2.timer--
		if a.pulse2.timer <= 0 {
			a.pulse2.reloadTimer()
			a.pulse2.phase = (a.pulse2.phase + 1) & 7
		}
	}
	if a.wave.enabled {
		a.wave.timer--
		if a.wave.timer <= 0 {
			a.wave.reloadTimer()
			a.wave.pos = (a.wave.pos + 1) & 31
		}
	}
	if a.noise.enabled {
		a.noise.timer--
		if a.noise.timer <= 0 {
			a.noise.reloadTimer()
			a.noise.step()
		}
	}
}

func (a *APU) clockLength() {
	if a.pulse1.length.clock() {
		a.pulse1.enabled = false
	}
	if a.pulse2.length.clock() {
		a.pulse2.enabled = false
	}
	if a.wave.length.clock() {
		a.wave.enabled = false
	}
	if a.noise.length.clock() {
		a.noise.enabled = false
	}
}

func (a *APU) clockEnvelopes() {
	if a.pulse1.enabled {
		a.pulse1.env.clock()
	}
	if a.pulse2.enabled {
		a.pulse2.env.clock()
	}
	if a.noise.enabled {
		a.noise.env.clock()
	}
}

// mixStereo computes one stereo sample pair according to NR50/NR51.
func (a *APU) mixStereo() (int16, int16) {
	c1 := a.pulse1.amplitude()
	c2 := a.pulse2.amplitude()
	c3 := a.wave.amplitude()
	c4 := a.noise.amplitude()

	// Routing via NR51: lower nibble = right (SO1), upper nibble = left (SO2)
	rMask := a.nr51 & 0x0F
	lMask := (a.nr51 >> 4) & 0x0F
	// Safety: some titles (or boot sequences) leave NR51=0 briefly; route all to both to avoid total silence.
	if rMask == 0 && lMask == 0 {
		rMask, lMask = 0x0F, 0x0F
	}
	l, r := 0.0, 0.0
	if lMask&0x1 != 0 {
		l += c1
	}
	if lMask&0x2 != 0 {
		l += c2
	}
	if lMask&0x4 != 0 {
		l += c3
	}
	if lMask&0x8 != 0 {
		l += c4
	}
	if rMask&0x1 != 0 {
		r += c1
	}
	if rMask&0x2 != 0 {
		r += c2
	}
	if rMask&0x4 != 0 {
		r += c3
	}
	if rMask&0x8 != 0 {
		r += c4
	}
	// Master volumes via NR50: SO1(right) level bits 2-0, SO2(left) bits 6-4.
	// Hardware maps levels 0..7 linearly onto 0..1 (0 is silence).
	l *= float64((a.nr50>>4)&0x07) / 7.0
	r *= float64(a.nr50&0x07) / 7.0
	l *= a.masterGain
	r *= a.masterGain
	return int16(clamp(l) * 32767), int16(clamp(r) * 32767)
}

func clamp(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

// pushStereo pushes a stereo frame to the ring buffer, dropping it if full.
func (a *APU) pushStereo(l, r int16) {
	next := (a.sHead + 1) & (len(a.sL) - 1)
	if next == a.sTail {
		return
	}
	a.sL[a.sHead] = l
	a.sR[a.sHead] = r
	a.sHead = next
}

// PullStereo returns up to max stereo frames as an interleaved int16 slice [L0,R0,L1,R1,...].
func (a *APU) PullStereo(max int) []int16 {
	if max <= 0 || a.sHead == a.sTail {
		return nil
	}
	count := 0
	for i := a.sTail; i != a.sHead && count < max; i = (i + 1) & (len(a.sL) - 1) {
		count++
	}
	out := make([]int16, 0, count*2)
	for i := 0; i < count; i++ {
		out = append(out, a.sL[a.sTail], a.sR[a.sTail])
		a.sTail = (a.sTail + 1) & (len(a.sL) - 1)
	}
	return out
}

// StereoAvailable returns the number of stereo frames currently buffered.
func (a *APU) StereoAvailable() int {
	if a.sHead == a.sTail {
		return 0
	}
	if a.sHead >= a.sTail {
		return a.sHead - a.sTail
	}
	return (len(a.sL) - a.sTail) + a.sHead
}

func asBit(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// --- Save/Load state ---

type envelopeState struct {
	InitVolume byte
	Direction  int8
	Pace       byte
	Volume     byte
	Timer      byte
}

func saveEnvelope(e envelope) envelopeState {
	return envelopeState{e.initVolume, e.direction, e.pace, e.volume, e.timer}
}

func (s envelopeState) restore() envelope {
	return envelope{initVolume: s.InitVolume, direction: s.Direction, pace: s.Pace, volume: s.Volume, timer: s.Timer}
}

type lengthState struct {
	Max     int
	Counter int
	Enabled bool
}

func saveLength(l lengthCounter) lengthState {
	return lengthState{l.max, l.counter, l.enabled}
}

func (s lengthState) restore() lengthCounter {
	return lengthCounter{max: s.Max, counter: s.Counter, enabled: s.Enabled}
}

type sweepState struct {
	Pace    byte
	Negate  bool
	Shift   byte
	Timer   byte
	Enabled bool
	Shadow  uint16
}

type pulseState struct {
	Enabled bool
	Duty    byte
	Length  lengthState
	Env     envelopeState
	Sweep   sweepState
	Freq    uint16
	Timer   int
	Phase   int
}

func savePulse(p pulseChannel) pulseState {
	return pulseState{
		Enabled: p.enabled, Duty: p.duty, Length: saveLength(p.length), Env: saveEnvelope(p.env),
		Sweep: sweepState{p.sweep.pace, p.sweep.negate, p.sweep.shift, p.sweep.timer, p.sweep.enabled, p.sweep.shadow},
		Freq:  p.freq, Timer: p.timer, Phase: p.phase,
	}
}

func (s pulseState) restore() pulseChannel {
	return pulseChannel{
		enabled: s.Enabled, duty: s.Duty, length: s.Length.restore(), env: s.Env.restore(),
		sweep: sweep{pace: s.Sweep.Pace, negate: s.Sweep.Negate, shift: s.Sweep.Shift, timer: s.Sweep.Timer, enabled: s.Sweep.Enabled, shadow: s.Sweep.Shadow},
		freq:  s.Freq, timer: s.Timer, phase: s.Phase,
	}
}

type waveState struct {
	Enabled bool
	DAC     bool
	Length  lengthState
	VolCode byte
	Freq    uint16
	Timer   int
	Pos     int
	RAM     [16]byte
}

func saveWave(w waveChannel) waveState {
	return waveState{w.enabled, w.dacEn, saveLength(w.length), w.volCode, w.freq, w.timer, w.pos, w.ram}
}

func (s waveState) restore() waveChannel {
	return waveChannel{enabled: s.Enabled, dacEn: s.DAC, length: s.Length.restore(), volCode: s.VolCode, freq: s.Freq, timer: s.Timer, pos: s.Pos, ram: s.RAM}
}

type noiseState struct {
	Enabled bool
	Length  lengthState
	Env     envelopeState
	Shift   byte
	Width7  bool
	DivSel  byte
	Timer   int
	LFSR    uint16
}

func saveNoise(n noiseChannel) noiseState {
	return noiseState{n.enabled, saveLength(n.length), saveEnvelope(n.env), n.shift, n.width7, n.divSel, n.timer, n.lfsr}
}

func (s noiseState) restore() noiseChannel {
	return noiseChannel{enabled: s.Enabled, length: s.Length.restore(), env: s.Env.restore(), shift: s.Shift, width7: s.Width7, divSel: s.DivSel, timer: s.Timer, lfsr: s.LFSR}
}

type apuState struct {
	Enabled             bool
	NR50, NR51          byte
	SeqCounter, SeqStep int
	Pulse1, Pulse2      pulseState
	Wave                waveState
	Noise               noiseState
	CycAccum            float64
}

func (a *APU) SaveState() []byte {
	s := apuState{
		Enabled: a.enabled,
		NR50:    a.nr50, NR51: a.nr51,
		SeqCounter: a.seqCounter, SeqStep: a.seqStep,
		Pulse1: savePulse(a.pulse1), Pulse2: savePulse(a.pulse2),
		Wave: saveWave(a.wave), Noise: saveNoise(a.noise),
		CycAccum: a.cycAccum,
	}
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(s)
	return buf.Bytes()
}

func (a *APU) LoadState(data []byte) {
	var s apuState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	a.enabled = s.Enabled
	a.nr50, a.nr51 = s.NR50, s.NR51
	a.seqCounter, a.seqStep = s.SeqCounter, s.SeqStep
	a.pulse1 = s.Pulse1.restore()
	a.pulse2 = s.Pulse2.restore()
	a.wave = s.Wave.restore()
	a.noise = s.Noise.restore()
	a.cycAccum = s.CycAccum
}
