package emu

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// minimalROM builds a ROM-only cartridge image large enough to parse a
// header, with an infinite loop at entry so StepFrame has well-defined
// CPU behavior to drive.
func minimalROM(title string) []byte {
	rom := make([]byte, 0x8000)
	copy(rom[0x0134:0x0144], title)
	rom[0x0100] = 0x00 // NOP
	rom[0x0101] = 0x18 // JR -2 (infinite loop)
	rom[0x0102] = 0xFE
	return rom
}

func TestMachine_LoadCartridge_PostBootDefaults(t *testing.T) {
	m := New(Config{})
	err := m.LoadCartridge(minimalROM("TESTROM"), nil)
	assert.NoError(t, err)
	assert.Equal(t, "TESTROM", m.ROMTitle())
	assert.False(t, m.WantCGBColors(), "DMG-flagged cart should not default to native CGB colors")
}

func TestMachine_StepFrame_AdvancesFramebuffer(t *testing.T) {
	m := New(Config{})
	assert.NoError(t, m.LoadCartridge(minimalROM("LOOP"), nil))

	m.StepFrame()
	fb := m.Framebuffer()
	assert.Len(t, fb, 160*144*4)

	// LCDC is on and BGP is the post-boot default, so at least one pixel
	// channel should be non-zero somewhere in the frame.
	nonZero := false
	for _, b := range fb {
		if b != 0 {
			nonZero = true
			break
		}
	}
	assert.True(t, nonZero, "expected a rendered frame, not an all-zero buffer")
}

func TestMachine_SetButtons_ReachesJoypad(t *testing.T) {
	m := New(Config{})
	assert.NoError(t, m.LoadCartridge(minimalROM("BTN"), nil))

	m.SetButtons(Buttons{A: true})
	assert.Zero(t, m.bus.Read(0xFF00)&0x01, "post-boot P1=0xCF selects both groups, so held A reads as 0 in bit 0")
}

func TestMachine_CompatPaletteCycle(t *testing.T) {
	m := New(Config{})
	assert.NoError(t, m.LoadCartridge(minimalROM("PAL"), nil))

	start := m.CurrentCompatPalette()
	m.CycleCompatPalette(1)
	assert.NotEqual(t, start, m.CurrentCompatPalette())
	assert.NotEmpty(t, m.CompatPaletteName(m.CurrentCompatPalette()))
}

func TestMachine_SaveAndLoadState_RoundTrips(t *testing.T) {
	m := New(Config{})
	assert.NoError(t, m.LoadCartridge(minimalROM("STATE"), nil))

	m.StepFrame()
	path := t.TempDir() + "/state.sav"
	assert.NoError(t, m.SaveStateToFile(path))

	pcBefore := m.cpu.PC
	assert.NoError(t, m.LoadStateFromFile(path))
	assert.Equal(t, pcBefore, m.cpu.PC)
}
