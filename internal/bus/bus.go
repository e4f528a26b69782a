package bus

import (
	"bytes"
	"encoding/gob"
	"io"
	"log/slog"

	"github.com/dotmatrixco/gbcore/internal/apu"
	"github.com/dotmatrixco/gbcore/internal/cart"
	"github.com/dotmatrixco/gbcore/internal/interrupt"
	"github.com/dotmatrixco/gbcore/internal/joypad"
	"github.com/dotmatrixco/gbcore/internal/ppu"
	"github.com/dotmatrixco/gbcore/internal/serial"
	"github.com/dotmatrixco/gbcore/internal/timer"
)

// Bus wires the CPU-visible address space to the cartridge and every
// peripheral. It owns no hardware state itself beyond WRAM/HRAM and the DMA
// engines; VRAM/OAM live in the PPU, sound registers in the APU, and so on.
// No peripheral holds a reference to another — they only raise interrupts
// through the shared Controller.
type Bus struct {
	cart cart.Cartridge

	irq    *interrupt.Controller
	ppu    *ppu.PPU
	apu    *apu.APU
	timer  *timer.Timer
	joypad *joypad.Joypad
	serial *serial.Serial

	// WRAM: bank 0 fixed at 0xC000-0xCFFF, bank 1..7 (DMG: only 1) switched
	// in at 0xD000-0xDFFF via SVBK (0xFF70). Echo 0xE000-0xFDFF mirrors
	// 0xC000-0xDDFF.
	wram     [8][0x1000]byte
	wramBank byte // 1..7, bank 0 selects as 1

	hram [0x7F]byte // 0xFF80-0xFFFE

	cgbMode bool

	// OAM DMA (0xFF46): 160-byte copy to 0xFE00, one byte per peripheral
	// T-cycle passed to Tick.
	dma       byte
	dmaActive bool
	dmaSrc    uint16
	dmaIndex  int

	// CGB general-purpose / HBlank VRAM DMA (0xFF51-0xFF55).
	hdmaSrc     uint16
	hdmaDst     uint16
	hdmaLen     byte // blocks-1, bits 0..6 of HDMA5
	hdmaActive  bool
	hdmaHBlank  bool
	hdmaLastLCD byte // last observed STAT mode, for HBlank edge detection

	// KEY1 (0xFF4D): bit0 armed by write, bit7 reflects current speed.
	key1        byte
	doubleSpeed bool

	// Boot ROM overlay: 0x0000-0x00FF (DMG) and, for the CGB boot ROM,
	// 0x0200-0x08FF as well. Released by any nonzero write to 0xFF50.
	bootROM     []byte
	bootEnabled bool
}

// New constructs a Bus with the cartridge implementation that
// cart.NewCartridge picks from rom's header (ROM-only when the header is
// missing or its type is unrecognised), useful for tests.
func New(rom []byte) *Bus {
	return NewWithCartridge(cart.NewCartridge(rom))
}

// NewWithCartridge wires a provided cartridge implementation to fresh
// peripherals, all sharing one interrupt controller.
func NewWithCartridge(c cart.Cartridge) *Bus {
	irq := &interrupt.Controller{}
	b := &Bus{cart: c, irq: irq, wramBank: 1}
	b.ppu = ppu.New(func(bit int) { irq.Request(bit) })
	b.apu = apu.New(48000)
	b.timer = timer.New(irq)
	b.joypad = joypad.New(irq)
	b.serial = serial.New(irq)
	return b
}

// PPU returns the internal PPU for rendering helpers / tests.
func (b *Bus) PPU() *ppu.PPU { return b.ppu }

// APU returns the internal APU so the orchestrator can pull mixed samples.
func (b *Bus) APU() *apu.APU { return b.apu }

// Cart returns the underlying cartridge for battery/RTC persistence.
func (b *Bus) Cart() cart.Cartridge { return b.cart }

// SetCGBMode toggles CGB-only behavior: 8 WRAM banks become selectable via
// SVBK, the PPU exposes its second VRAM bank and palette RAM, and the
// serial port gains its fast internal clock option.
func (b *Bus) SetCGBMode(on bool) {
	b.cgbMode = on
	b.ppu.SetCGBMode(on)
	b.serial.SetCGB(on)
}

func (b *Bus) CGBMode() bool { return b.cgbMode }

// DoubleSpeed reports whether a CGB speed switch (KEY1) is currently active.
func (b *Bus) DoubleSpeed() bool { return b.doubleSpeed }

func (b *Bus) Read(addr uint16) byte {
	switch {
	case addr < 0x8000:
		if b.bootEnabled && b.inBootROM(addr) {
			return b.bootROM[addr]
		}
		return b.cart.Read(addr)
	case addr >= 0x8000 && addr <= 0x9FFF:
		return b.ppu.CPURead(addr)
	case addr >= 0xA000 && addr <= 0xBFFF:
		return b.cart.Read(addr)
	case addr >= 0xC000 && addr <= 0xCFFF:
		return b.wram[0][addr-0xC000]
	case addr >= 0xD000 && addr <= 0xDFFF:
		return b.wram[b.wramBank][addr-0xD000]
	case addr >= 0xE000 && addr <= 0xFDFF:
		return b.readEcho(addr)
	case addr >= 0xFE00 && addr <= 0xFE9F:
		if b.dmaActive {
			return 0xFF
		}
		return b.ppu.CPURead(addr)
	case addr >= 0xFEA0 && addr <= 0xFEFF:
		slog.Debug("bus read from unusable region", "addr", addr)
		return 0xFF // unusable region
	case addr == 0xFF00:
		return b.joypad.Read()
	case addr == 0xFF01:
		return b.serial.ReadSB()
	case addr == 0xFF02:
		return b.serial.ReadSC()
	case addr == 0xFF04:
		return b.timer.ReadDIV()
	case addr == 0xFF05:
		return b.timer.ReadTIMA()
	case addr == 0xFF06:
		return b.timer.ReadTMA()
	case addr == 0xFF07:
		return b.timer.ReadTAC()
	case addr == 0xFF0F:
		return b.irq.ReadIF()
	case addr >= 0xFF10 && addr <= 0xFF3F:
		return b.apu.CPURead(addr)
	case addr == 0xFF46:
		return b.dma
	case addr == 0xFF4D:
		speed := byte(0)
		if b.doubleSpeed {
			speed = 0x80
		}
		return 0x7E | speed | (b.key1 & 0x01)
	case addr == 0xFF50:
		return 0xFF
	case addr == 0xFF51, addr == 0xFF52, addr == 0xFF53, addr == 0xFF54:
		return 0xFF // HDMA1-4 are write-only
	case addr == 0xFF55:
		return b.readHDMA5()
	case addr == 0xFF70:
		if !b.cgbMode {
			return 0xFF
		}
		return 0xF8 | b.wramBank
	case addr >= 0xFF40 && addr <= 0xFF4B, addr == 0xFF4F, addr >= 0xFF68 && addr <= 0xFF6C:
		return b.ppu.CPURead(addr)
	case addr >= 0xFF80 && addr <= 0xFFFE:
		return b.hram[addr-0xFF80]
	case addr == 0xFFFF:
		return b.irq.ReadIE()
	default:
		return 0xFF
	}
}

func (b *Bus) Write(addr uint16, value byte) {
	switch {
	case addr < 0x8000:
		b.cart.Write(addr, value)
	case addr >= 0x8000 && addr <= 0x9FFF:
		b.ppu.CPUWrite(addr, value)
	case addr >= 0xA000 && addr <= 0xBFFF:
		b.cart.Write(addr, value)
	case addr >= 0xC000 && addr <= 0xCFFF:
		b.wram[0][addr-0xC000] = value
	case addr >= 0xD000 && addr <= 0xDFFF:
		b.wram[b.wramBank][addr-0xD000] = value
	case addr >= 0xE000 && addr <= 0xFDFF:
		b.writeEcho(addr, value)
	case addr >= 0xFE00 && addr <= 0xFE9F:
		if b.dmaActive {
			return
		}
		b.ppu.CPUWrite(addr, value)
	case addr >= 0xFEA0 && addr <= 0xFEFF:
		slog.Debug("bus write to unusable region ignored", "addr", addr, "value", value)
	case addr == 0xFF00:
		b.joypad.Write(value)
	case addr == 0xFF01:
		b.serial.WriteSB(value)
	case addr == 0xFF02:
		b.serial.WriteSC(value)
	case addr == 0xFF04:
		b.timer.WriteDIV()
	case addr == 0xFF05:
		b.timer.WriteTIMA(value)
	case addr == 0xFF06:
		b.timer.WriteTMA(value)
	case addr == 0xFF07:
		b.timer.WriteTAC(value)
	case addr == 0xFF0F:
		b.irq.WriteIF(value)
	case addr >= 0xFF10 && addr <= 0xFF3F:
		b.apu.CPUWrite(addr, value)
	case addr == 0xFF46:
		b.startOAMDMA(value)
	case addr == 0xFF4D:
		b.key1 = value & 0x01
	case addr == 0xFF50:
		if value != 0x00 {
			b.bootEnabled = false
		}
	case addr == 0xFF51:
		b.hdmaSrc = (b.hdmaSrc & 0x00FF) | uint16(value)<<8
	case addr == 0xFF52:
		b.hdmaSrc = (b.hdmaSrc & 0xFF00) | uint16(value&0xF0)
	case addr == 0xFF53:
		b.hdmaDst = 0x8000 | (b.hdmaDst&0x00FF)&0x1FFF | uint16(value&0x1F)<<8
	case addr == 0xFF54:
		b.hdmaDst = 0x8000 | (b.hdmaDst-0x8000)&0x1F00 | uint16(value&0xF0)
	case addr == 0xFF55:
		b.writeHDMA5(value)
	case addr >= 0xFF40 && addr <= 0xFF4B, addr == 0xFF4F, addr >= 0xFF68 && addr <= 0xFF6C:
		b.ppu.CPUWrite(addr, value)
	case addr == 0xFF70:
		if b.cgbMode {
			bank := value & 0x07
			if bank == 0 {
				bank = 1
			}
			b.wramBank = bank
		}
	case addr >= 0xFF80 && addr <= 0xFFFE:
		b.hram[addr-0xFF80] = value
	case addr == 0xFFFF:
		b.irq.WriteIE(value)
	}
}

func (b *Bus) inBootROM(addr uint16) bool {
	if len(b.bootROM) == 0 {
		return false
	}
	if addr < 0x0100 {
		return true
	}
	return b.cgbMode && addr >= 0x0200 && addr < 0x0900 && len(b.bootROM) > 0x0200
}

func (b *Bus) readEcho(addr uint16) byte {
	mirror := addr - 0x2000
	if mirror < 0xD000 {
		return b.wram[0][mirror-0xC000]
	}
	return b.wram[b.wramBank][mirror-0xD000]
}

func (b *Bus) writeEcho(addr uint16, value byte) {
	mirror := addr - 0x2000
	if mirror >= 0xE000 {
		return
	}
	if mirror < 0xD000 {
		b.wram[0][mirror-0xC000] = value
	} else {
		b.wram[b.wramBank][mirror-0xD000] = value
	}
}

// SetJoypadState updates held buttons; a set bit means pressed. Mirrors the
// joypad package's bitmask constants so callers needn't import it directly.
const (
	JoypRight     = joypad.Right
	JoypLeft      = joypad.Left
	JoypUp        = joypad.Up
	JoypDown      = joypad.Down
	JoypA         = joypad.A
	JoypB         = joypad.B
	JoypSelectBtn = joypad.Select
	JoypStart     = joypad.Start
)

func (b *Bus) SetJoypadState(mask byte) { b.joypad.SetState(mask) }

// SetSerialWriter directs completed serial bytes to w (e.g. for reading
// Blargg conformance ROM output).
func (b *Bus) SetSerialWriter(w io.Writer) { b.serial.SetSink(w) }

// SetBootROM loads a boot ROM image to overlay cartridge ROM until a
// nonzero value is written to 0xFF50. Accepts either a 256-byte DMG image or a full CGB image.
func (b *Bus) SetBootROM(data []byte) {
	b.bootROM = nil
	b.bootEnabled = false
	if len(data) >= 0x100 {
		b.bootROM = make([]byte, len(data))
		copy(b.bootROM, data)
		b.bootEnabled = true
	}
}

func (b *Bus) startOAMDMA(value byte) {
	b.dma = value
	b.dmaActive = true
	b.dmaSrc = uint16(value) << 8
	b.dmaIndex = 0
}

// readHDMA5 reports remaining blocks-1 in bits 0..6 and whether an
// HBlank-DMA is still in flight in bit 7 (0 = active, 1 = inactive/complete).
func (b *Bus) readHDMA5() byte {
	if b.hdmaActive {
		return b.hdmaLen & 0x7F
	}
	return 0x80 | (b.hdmaLen & 0x7F)
}

func (b *Bus) writeHDMA5(value byte) {
	if b.hdmaActive && value&0x80 == 0 {
		// Writing bit7=0 while an HBlank-DMA is running cancels it.
		b.hdmaActive = false
		return
	}
	blocks := int(value&0x7F) + 1
	if value&0x80 == 0 {
		// General-purpose DMA: copy immediately, all at once.
		b.copyHDMABlocks(blocks)
		b.hdmaLen = 0x7F
		return
	}
	// HBlank DMA: copy 0x10 bytes at the start of each HBlank until done.
	b.hdmaLen = byte(blocks - 1)
	b.hdmaActive = true
	b.hdmaHBlank = true
}

func (b *Bus) copyHDMABlocks(blocks int) {
	for i := 0; i < blocks; i++ {
		for j := 0; j < 0x10; j++ {
			v := b.Read(b.hdmaSrc)
			b.ppu.CPUWrite(b.hdmaDst, v)
			b.hdmaSrc++
			b.hdmaDst++
		}
	}
}

func (b *Bus) serviceHBlankDMA() {
	if !b.hdmaActive {
		return
	}
	mode := b.ppu.CPURead(0xFF41) & 0x03
	entering := mode == 0 && b.hdmaLastLCD != 0
	b.hdmaLastLCD = mode
	if !entering {
		return
	}
	for j := 0; j < 0x10; j++ {
		v := b.Read(b.hdmaSrc)
		b.ppu.CPUWrite(b.hdmaDst, v)
		b.hdmaSrc++
		b.hdmaDst++
	}
	if b.hdmaLen == 0 {
		b.hdmaActive = false
		return
	}
	b.hdmaLen--
}

// Tick advances every peripheral by the given number of CPU T-cycles. In
// CGB double-speed mode the CPU reports twice as many T-cycles per real
// dot, so peripherals (which are calibrated in single-speed dots) see half
// of what's passed in.
func (b *Bus) Tick(cycles int) {
	if cycles <= 0 {
		return
	}
	peripheralCycles := cycles
	if b.doubleSpeed {
		peripheralCycles = cycles / 2
		if cycles%2 != 0 {
			peripheralCycles++ // carry the odd T-cycle rather than lose time
		}
	}

	b.timer.Advance(peripheralCycles)
	b.serial.Advance(peripheralCycles)
	b.apu.Tick(peripheralCycles)

	for i := 0; i < peripheralCycles; i++ {
		b.ppu.Tick(1)
		b.serviceHBlankDMA()
		b.stepOAMDMAByte()
	}
}

func (b *Bus) stepOAMDMAByte() {
	if !b.dmaActive {
		return
	}
	if b.dmaIndex < 0xA0 {
		v := b.Read(b.dmaSrc + uint16(b.dmaIndex))
		b.ppu.CPUWrite(0xFE00+uint16(b.dmaIndex), v)
		b.dmaIndex++
	}
	if b.dmaIndex >= 0xA0 {
		b.dmaActive = false
	}
}

// PerformSpeedSwitch toggles the CPU clock multiplier when STOP is executed
// with KEY1 bit 0 armed, and disarms the request bit afterward.
func (b *Bus) PerformSpeedSwitch() bool {
	if b.key1&0x01 == 0 {
		return false
	}
	b.doubleSpeed = !b.doubleSpeed
	b.key1 &^= 0x01
	return true
}

// --- Save/Load state ---

type busState struct {
	WRAM        [8][0x1000]byte
	WRAMBank    byte
	HRAM        [0x7F]byte
	CGBMode     bool
	DMA         byte
	DMAActive   bool
	DMASrc      uint16
	DMAIdx      int
	HDMASrc     uint16
	HDMADst     uint16
	HDMALen     byte
	HDMAActive  bool
	HDMAHBlank  bool
	HDMALastLCD byte
	Key1        byte
	DoubleSpeed bool
	BootEnabled bool

	IRQ    []byte
	PPU    []byte
	APU    []byte
	Timer  []byte
	Joypad []byte
	Serial []byte
	Cart   []byte
}

func (b *Bus) SaveState() []byte {
	s := busState{
		WRAM: b.wram, WRAMBank: b.wramBank, HRAM: b.hram, CGBMode: b.cgbMode,
		DMA: b.dma, DMAActive: b.dmaActive, DMASrc: b.dmaSrc, DMAIdx: b.dmaIndex,
		HDMASrc: b.hdmaSrc, HDMADst: b.hdmaDst, HDMALen: b.hdmaLen,
		HDMAActive: b.hdmaActive, HDMAHBlank: b.hdmaHBlank, HDMALastLCD: b.hdmaLastLCD,
		Key1: b.key1, DoubleSpeed: b.doubleSpeed, BootEnabled: b.bootEnabled,
		IRQ: b.irq.SaveState(), PPU: b.ppu.SaveState(), APU: b.apu.SaveState(),
		Timer: b.timer.SaveState(), Joypad: b.joypad.SaveState(), Serial: b.serial.SaveState(),
		Cart: b.cart.SaveState(),
	}
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(s)
	return buf.Bytes()
}

func (b *Bus) LoadState(data []byte) {
	var s busState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		slog.Debug("bus state load failed, keeping current state", "error", err)
		return
	}
	b.wram, b.wramBank, b.hram, b.cgbMode = s.WRAM, s.WRAMBank, s.HRAM, s.CGBMode
	b.dma, b.dmaActive, b.dmaSrc, b.dmaIndex = s.DMA, s.DMAActive, s.DMASrc, s.DMAIdx
	b.hdmaSrc, b.hdmaDst, b.hdmaLen = s.HDMASrc, s.HDMADst, s.HDMALen
	b.hdmaActive, b.hdmaHBlank, b.hdmaLastLCD = s.HDMAActive, s.HDMAHBlank, s.HDMALastLCD
	b.key1, b.doubleSpeed, b.bootEnabled = s.Key1, s.DoubleSpeed, s.BootEnabled
	b.irq.LoadState(s.IRQ)
	b.ppu.LoadState(s.PPU)
	b.apu.LoadState(s.APU)
	b.timer.LoadState(s.Timer)
	b.joypad.LoadState(s.Joypad)
	b.serial.LoadState(s.Serial)
	if s.Cart != nil {
		b.cart.LoadState(s.Cart)
	}
}
