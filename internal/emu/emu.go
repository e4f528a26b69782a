// Package emu implements the Machine orchestrator: it owns the CPU, Bus,
// and cartridge for one loaded ROM, drives frame-at-a-time stepping, and
// exposes the framebuffer/audio/input/save-state surface the UI and CLI
// layers are built against.
package emu

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"
	"os"

	"github.com/dotmatrixco/gbcore/internal/bus"
	"github.com/dotmatrixco/gbcore/internal/cart"
	"github.com/dotmatrixco/gbcore/internal/cpu"
	"github.com/dotmatrixco/gbcore/internal/palette"
)

// cyclesPerFrame is the number of single-speed T-cycles in one 59.7Hz DMG
// frame: 154 scanlines * 456 dots.
const cyclesPerFrame = 70224

type Buttons struct {
	A, B, Start, Select   bool
	Up, Down, Left, Right bool
}

func (b Buttons) mask() byte {
	var m byte
	if b.Right {
		m |= bus.JoypRight
	}
	if b.Left {
		m |= bus.JoypLeft
	}
	if b.Up {
		m |= bus.JoypUp
	}
	if b.Down {
		m |= bus.JoypDown
	}
	if b.A {
		m |= bus.JoypA
	}
	if b.B {
		m |= bus.JoypB
	}
	if b.Select {
		m |= bus.JoypSelectBtn
	}
	if b.Start {
		m |= bus.JoypStart
	}
	return m
}

type Machine struct {
	cfg Config

	bus *bus.Bus
	cpu *cpu.CPU

	w, h int
	fb   []byte // RGBA 160x144*4

	romPath string
	rom     []byte
	boot    []byte
	header  *cart.Header

	cgbCompat   bool // DMG cart, curated color palette available
	useCGBBG    bool // currently applying CGB-native BG palette rendering
	compatID    int
	useFetcher  bool
}

func New(cfg Config) *Machine {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 44100
	}
	return &Machine{
		cfg: cfg, w: 160, h: 144,
		fb:         make([]byte, 160*144*4),
		useFetcher: cfg.UseFetcherBG,
	}
}

// LoadCartridge parses rom, wires a fresh Bus/CPU around it, and resets to
// running state: post-boot defaults if boot is empty, or PC=0x0000 to run
// the supplied boot ROM image.
func (m *Machine) LoadCartridge(rom []byte, boot []byte) error {
	h, err := cart.ParseHeader(rom)
	if err != nil {
		return fmt.Errorf("parse header: %w", err)
	}
	m.rom = rom
	m.boot = boot
	m.header = h

	c := cart.NewCartridge(rom)
	m.bus = bus.NewWithCartridge(c)

	m.cgbCompat = !h.SupportsCGB() // DMG-only cart, no native color support
	m.useCGBBG = h.SupportsCGB() || m.cfg.ForceCGB

	m.applyPalette()

	if len(boot) >= 0x100 {
		m.bus.SetBootROM(boot)
		m.bus.SetCGBMode(m.useCGBBG)
		m.cpu = cpu.New(m.bus)
		m.cpu.SetPC(0x0000)
	} else {
		m.bus.SetCGBMode(m.useCGBBG)
		m.cpu = cpu.New(m.bus)
		m.resetPostBootLocked()
	}
	return nil
}

// LoadROMFromFile reads rom from disk, loads it with the machine's current
// boot ROM (if any), and records the path so save files and the UI title
// bar can derive names from it.
func (m *Machine) LoadROMFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := m.LoadCartridge(data, m.boot); err != nil {
		return err
	}
	m.romPath = path
	return nil
}

func (m *Machine) SetBootROM(data []byte) {
	m.boot = data
	if m.bus != nil {
		m.bus.SetBootROM(data)
	}
}

// LoadBattery restores external cartridge RAM (and MBC3 RTC state, where
// applicable) from a previously saved .sav blob.
func (m *Machine) LoadBattery(data []byte) bool {
	if m.bus == nil {
		return false
	}
	bb, ok := m.bus.Cart().(cart.BatteryBacked)
	if !ok {
		return false
	}
	bb.LoadRAM(data)
	return true
}

// SaveBattery returns the cartridge's external RAM for persistence,
// reporting false if this cartridge has nothing battery-backed to save.
func (m *Machine) SaveBattery() ([]byte, bool) {
	if m.bus == nil {
		return nil, false
	}
	bb, ok := m.bus.Cart().(cart.BatteryBacked)
	if !ok {
		return nil, false
	}
	data := bb.SaveRAM()
	if data == nil {
		return nil, false
	}
	return data, true
}

func (m *Machine) ROMPath() string { return m.romPath }

func (m *Machine) ROMTitle() string {
	if m.header == nil {
		return ""
	}
	return m.header.Title
}

// StepFrame runs one frame's worth of T-cycles and refreshes the RGBA
// framebuffer from the PPU's internal pixel buffer.
func (m *Machine) StepFrame() {
	m.runFrame()
	m.blit()
}

// StepFrameNoRender runs one frame's worth of T-cycles without touching the
// RGBA framebuffer; used by headless conformance-test loops that never
// look at pixels.
func (m *Machine) StepFrameNoRender() {
	m.runFrame()
}

func (m *Machine) runFrame() {
	if m.cpu == nil {
		return
	}
	target := cyclesPerFrame
	if m.bus.DoubleSpeed() {
		target *= 2
	}
	done := 0
	for done < target {
		done += m.cpu.Step()
	}
}

func (m *Machine) blit() {
	if m.bus == nil {
		return
	}
	fb := m.bus.PPU().Framebuffer()
	for y := 0; y < m.h; y++ {
		for x := 0; x < m.w; x++ {
			c := fb[y][x]
			i := (y*m.w + x) * 4
			m.fb[i+0] = c.R
			m.fb[i+1] = c.G
			m.fb[i+2] = c.B
			m.fb[i+3] = c.A
		}
	}
}

func (m *Machine) Framebuffer() []byte { return m.fb }

func (m *Machine) SetButtons(b Buttons) {
	if m.bus != nil {
		m.bus.SetJoypadState(b.mask())
	}
}

func (m *Machine) SetSerialWriter(w io.Writer) {
	if m.bus != nil {
		m.bus.SetSerialWriter(w)
	}
}

// --- Audio ---

func (m *Machine) APUBufferedStereo() int {
	if m.bus == nil {
		return 0
	}
	return m.bus.APU().StereoAvailable()
}

func (m *Machine) APUPullStereo(max int) []int16 {
	if m.bus == nil {
		return nil
	}
	return m.bus.APU().PullStereo(max)
}

// APUCapBufferedStereo discards buffered audio frames beyond n, bounding
// playback latency after a pause or a fast-forward burst.
func (m *Machine) APUCapBufferedStereo(n int) {
	if m.bus == nil {
		return
	}
	a := m.bus.APU()
	if extra := a.StereoAvailable() - n; extra > 0 {
		a.PullStereo(extra)
	}
}

// APUClearAudioLatency drains all buffered audio immediately.
func (m *Machine) APUClearAudioLatency() {
	if m.bus == nil {
		return
	}
	a := m.bus.APU()
	a.PullStereo(a.StereoAvailable())
}

// --- CGB / palette ---

// IsCGBCompat reports whether the loaded cartridge is DMG-only (and thus a
// candidate for a curated compatibility palette when run on CGB hardware).
func (m *Machine) IsCGBCompat() bool { return m.cgbCompat }

// WantCGBColors reports whether the machine is currently applying native
// CGB color (CGB-flagged cart, or forced via Config/ResetCGBPostBoot).
func (m *Machine) WantCGBColors() bool { return m.useCGBBG }

// UseCGBBG mirrors WantCGBColors; kept distinct since the UI can toggle it
// independently of the cartridge's native capability (DMG compat coloring).
func (m *Machine) UseCGBBG() bool { return m.useCGBBG }

func (m *Machine) SetUseCGBBG(v bool) {
	m.useCGBBG = v
	if m.bus != nil {
		m.bus.SetCGBMode(v)
	}
	m.applyPalette()
}

func (m *Machine) SetUseFetcherBG(v bool) { m.useFetcher = v }

func (m *Machine) CompatPaletteName(id int) string {
	names := []string{"Classic Green", "Sepia", "Blue", "Red Accent", "Pastel", "Grayscale"}
	if id < 0 || id >= len(names) {
		return "Unknown"
	}
	return names[id]
}

func (m *Machine) CurrentCompatPalette() int { return m.compatID }

func (m *Machine) CycleCompatPalette(dir int) {
	const n = 6
	m.compatID = ((m.compatID+dir)%n + n) % n
	m.applyPaletteID(m.compatID)
}

func (m *Machine) SetCompatPalette(id int) {
	if id < 0 || id >= 6 {
		return
	}
	m.compatID = id
	m.applyPaletteID(id)
}

// applyPalette picks the curated scheme for the loaded title and installs
// it, used on initial load before the user has explicitly chosen one.
func (m *Machine) applyPalette() {
	if m.bus == nil || m.header == nil {
		return
	}
	scheme := palette.ForTitle(m.header.Title, m.header.HeaderChecksum, m.header.PublishedByNintendo())
	m.bus.PPU().SetColorScheme(scheme)
}

func (m *Machine) applyPaletteID(id int) {
	if m.bus == nil {
		return
	}
	// Re-derive each curated scheme by title lookup isn't meaningful for an
	// explicit user choice, so cycle through the fixed palette.ForTitle
	// family directly via synthetic lookups that resolve to each id.
	scheme := schemeByID(id)
	m.bus.PPU().SetColorScheme(scheme)
}

// schemeByID resolves one of the six curated schemes directly, bypassing
// title-based heuristics, for explicit user selection via the compat
// palette menu.
func schemeByID(id int) palette.Scheme {
	switch id {
	case 0:
		return palette.ForTitle("THE LEGEND OF ZELDA", 0, false)
	case 1:
		return palette.ForTitle("DONKEY KONG", 0, false)
	case 2:
		return palette.ForTitle("TETRIS", 0, false)
	case 3:
		return palette.ForTitle("SUPER MARIO LAND", 0, false)
	case 4:
		return palette.ForTitle("KIRBY'S DREAM LAND", 0, false)
	default:
		return palette.Grayscale()
	}
}

// --- Reset ---

// ResetPostBoot reinitializes the CPU/IO registers to typical DMG
// post-boot-ROM state without replaying a boot ROM image.
func (m *Machine) ResetPostBoot() {
	if m.bus == nil {
		return
	}
	c := cart.NewCartridge(m.rom)
	m.bus = bus.NewWithCartridge(c)
	m.bus.SetCGBMode(false)
	m.useCGBBG = false
	m.cpu = cpu.New(m.bus)
	m.resetPostBootLocked()
	m.applyPalette()
}

// ResetWithBoot restarts the machine running the configured boot ROM image
// from address 0x0000, the way real hardware powers on.
func (m *Machine) ResetWithBoot() {
	if m.bus == nil || len(m.boot) < 0x100 {
		m.ResetPostBoot()
		return
	}
	c := cart.NewCartridge(m.rom)
	m.bus = bus.NewWithCartridge(c)
	m.bus.SetBootROM(m.boot)
	m.bus.SetCGBMode(m.useCGBBG)
	m.cpu = cpu.New(m.bus)
	m.cpu.SetPC(0x0000)
}

// ResetCGBPostBoot reinitializes post-boot state with CGB mode forced on or
// off, used when the user toggles color rendering for a DMG-compatible cart
// mid-session.
func (m *Machine) ResetCGBPostBoot(cgb bool) {
	if m.bus == nil {
		return
	}
	c := cart.NewCartridge(m.rom)
	m.bus = bus.NewWithCartridge(c)
	m.bus.SetCGBMode(cgb)
	m.useCGBBG = cgb
	m.cpu = cpu.New(m.bus)
	m.resetPostBootLocked()
	m.applyPalette()
}

func (m *Machine) resetPostBootLocked() {
	m.cpu.ResetNoBoot()
	m.cpu.SetPC(0x0100)
	b := m.bus
	b.Write(0xFF00, 0xCF)
	b.Write(0xFF05, 0x00)
	b.Write(0xFF06, 0x00)
	b.Write(0xFF07, 0x00)
	b.Write(0xFF40, 0x91)
	b.Write(0xFF42, 0x00)
	b.Write(0xFF43, 0x00)
	b.Write(0xFF45, 0x00)
	b.Write(0xFF47, 0xFC)
	b.Write(0xFF48, 0xFF)
	b.Write(0xFF49, 0xFF)
	b.Write(0xFF4A, 0x00)
	b.Write(0xFF4B, 0x00)
	b.Write(0xFFFF, 0x00)
}

// --- Save states ---

type machineState struct {
	PC, SP                 uint16
	A, F, B, C, D, E, H, L byte
	IME                    bool
	BusState               []byte
}

func (m *Machine) SaveStateToFile(path string) error {
	if m.cpu == nil || m.bus == nil {
		return fmt.Errorf("no cartridge loaded")
	}
	s := machineState{
		PC: m.cpu.PC, SP: m.cpu.SP,
		A: m.cpu.A, F: m.cpu.F, B: m.cpu.B, C: m.cpu.C,
		D: m.cpu.D, E: m.cpu.E, H: m.cpu.H, L: m.cpu.L,
		IME:      m.cpu.IME,
		BusState: m.bus.SaveState(),
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}

func (m *Machine) LoadStateFromFile(path string) error {
	if m.cpu == nil || m.bus == nil {
		return fmt.Errorf("no cartridge loaded")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var s machineState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return err
	}
	m.cpu.PC, m.cpu.SP = s.PC, s.SP
	m.cpu.A, m.cpu.F, m.cpu.B, m.cpu.C = s.A, s.F, s.B, s.C
	m.cpu.D, m.cpu.E, m.cpu.H, m.cpu.L = s.D, s.E, s.H, s.L
	m.cpu.IME = s.IME
	m.bus.LoadState(s.BusState)
	return nil
}
