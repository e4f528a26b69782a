package cart

import "testing"

func TestMBC2_ROMBanking(t *testing.T) {
	rom := make([]byte, 256*1024)
	for bank := 0; bank < 16; bank++ {
		rom[bank*0x4000] = byte(bank)
	}
	m := NewMBC2(rom)

	if got := m.Read(0x0000); got != 0x00 {
		t.Fatalf("bank0 read got %02X want 00", got)
	}
	if got := m.Read(0x4000); got != 0x01 {
		t.Fatalf("default switchable bank got %02X want 01", got)
	}

	m.Write(0x2100, 0x05)
	if got := m.Read(0x4000); got != 0x05 {
		t.Fatalf("bank5 read got %02X want 05", got)
	}

	m.Write(0x2100, 0x00)
	if got := m.Read(0x4000); got != 0x01 {
		t.Fatalf("bank0->1 remap failed: got %02X", got)
	}
}

func TestMBC2_BuiltinRAMIsNibbleWide(t *testing.T) {
	rom := make([]byte, 0x4000)
	m := NewMBC2(rom)

	if got := m.Read(0xA000); got != 0xFF {
		t.Fatalf("disabled RAM should read 0xFF, got %02X", got)
	}

	m.Write(0x0000, 0x0A) // enable (bit8 clear)
	m.Write(0xA000, 0xF7)
	if got := m.Read(0xA000); got != 0xF7 {
		t.Fatalf("nibble RAM readback got %02X want F7 (high nibble forced to 1)", got)
	}

	m.Write(0xA001, 0x03)
	if got := m.Read(0xA001); got != 0xF3 {
		t.Fatalf("nibble write should mask to low 4 bits, got %02X", got)
	}
}

func TestMBC2_SaveLoadRAMRoundTrip(t *testing.T) {
	rom := make([]byte, 0x4000)
	m := NewMBC2(rom)
	m.Write(0x0000, 0x0A)
	m.Write(0xA010, 0x0C)

	saved := m.SaveState()

	m2 := NewMBC2(rom)
	m2.Write(0x0000, 0x0A)
	m2.LoadState(saved)
	if got := m2.Read(0xA010); got != 0xFC {
		t.Fatalf("restored RAM got %02X want FC", got)
	}
}
