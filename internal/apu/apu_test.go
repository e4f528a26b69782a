package apu

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCPUWrite_IgnoredWhilePoweredOff(t *testing.T) {
	a := New(48000)
	a.CPUWrite(0xFF26, 0x00) // power off
	assert.False(t, a.enabled)

	a.CPUWrite(0xFF12, 0xF0) // NR12 envelope, should be dropped while off
	assert.Zero(t, a.pulse1.env.initVolume, "envelope write should be ignored while powered off")

	a.CPUWrite(0xFF24, 0x77) // NR50, should also be dropped while off
	assert.Zero(t, a.nr50)
}

func TestCPUWrite_LengthLoadsAllowedWhilePoweredOff(t *testing.T) {
	a := New(48000)
	a.CPUWrite(0xFF26, 0x00)

	a.CPUWrite(0xFF11, 0x3F) // NR11 length load, DMG quirk: stays live while off
	assert.Equal(t, 64-0x3F, a.pulse1.length.counter)

	a.CPUWrite(0xFF30, 0xAB) // wave RAM always writable
	assert.Equal(t, byte(0xAB), a.wave.ram[0])
}

func TestCPUWrite_NR52CanRepowerTheUnit(t *testing.T) {
	a := New(48000)
	a.CPUWrite(0xFF26, 0x00)
	assert.False(t, a.enabled)

	a.CPUWrite(0xFF26, 0x80)
	assert.True(t, a.enabled)

	a.CPUWrite(0xFF24, 0x55) // now writable again
	assert.Equal(t, byte(0x55), a.nr50)
}

func TestPulseChannel_TriggerStartsWithInitialVolume(t *testing.T) {
	a := New(48000)
	a.CPUWrite(0xFF12, 0xF0) // max volume, increasing envelope disabled (dir bit 0)
	a.CPUWrite(0xFF14, 0x80) // trigger bit
	if !a.pulse1.enabled {
		t.Fatalf("expected CH1 enabled after trigger with nonzero initial volume")
	}
	if a.pulse1.env.volume != 0x0F {
		t.Fatalf("expected envelope volume 0x0F after trigger, got %#02x", a.pulse1.env.volume)
	}
}

func TestPulseChannel_DACOffKeepsChannelDisabled(t *testing.T) {
	a := New(48000)
	a.CPUWrite(0xFF12, 0x00) // zero volume, decreasing direction => DAC off
	a.CPUWrite(0xFF14, 0x80) // trigger
	if a.pulse1.enabled {
		t.Fatalf("expected CH1 to stay disabled when DAC is off")
	}
}

func TestNoiseChannel_LFSRStepChangesRegister(t *testing.T) {
	a := New(48000)
	a.CPUWrite(0xFF21, 0xF0) // max volume envelope
	a.CPUWrite(0xFF23, 0x80) // trigger
	before := a.noise.lfsr
	a.noise.step()
	if a.noise.lfsr == before {
		t.Fatalf("expected LFSR to change after a step")
	}
}

func TestSaveLoadState_RoundTripsRegisters(t *testing.T) {
	a := New(48000)
	a.CPUWrite(0xFF12, 0xF0)
	a.CPUWrite(0xFF14, 0x80)
	a.CPUWrite(0xFF25, 0x11)
	a.Tick(100)

	data := a.SaveState()
	b := New(48000)
	b.LoadState(data)

	assert.Equal(t, a.pulse1.env.volume, b.pulse1.env.volume)
	assert.Equal(t, a.pulse1.enabled, b.pulse1.enabled)
	assert.Equal(t, a.nr51, b.nr51)
}
