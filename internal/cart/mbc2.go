package cart

// MBC2 implements ROM banking plus the controller's built-in 512x4-bit RAM.
// Unlike MBC1/3/5, RAM is always present (no RAMSizeCode in the header) and
// only the low nibble of each byte is meaningful; reads return the high
// nibble set to 1.
type MBC2 struct {
	rom []byte
	ram [512]byte

	romBank    byte // 4 bits, 0 maps to 1
	ramEnabled bool
}

func NewMBC2(rom []byte) *MBC2 {
	m := &MBC2{rom: rom}
	m.romBank = 1
	return m
}

func (m *MBC2) Read(addr uint16) byte {
	switch {
	case addr < 0x4000:
		if int(addr) < len(m.rom) {
			return m.rom[addr]
		}
		return 0xFF
	case addr < 0x8000:
		bank := int(m.romBank & 0x0F)
		if bank == 0 {
			bank = 1
		}
		off := bank*0x4000 + int(addr-0x4000)
		if off >= 0 && off < len(m.rom) {
			return m.rom[off]
		}
		return 0xFF
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled {
			return 0xFF
		}
		return 0xF0 | (m.ram[addr&0x1FF] & 0x0F)
	default:
		return 0xFF
	}
}

func (m *MBC2) Write(addr uint16, value byte) {
	switch {
	case addr < 0x4000:
		// Bit 8 of the address distinguishes RAM-enable writes from ROM-bank
		// writes in the same 0x0000-0x3FFF window.
		if addr&0x0100 == 0 {
			m.ramEnabled = value&0x0F == 0x0A
		} else {
			bank := value & 0x0F
			if bank == 0 {
				bank = 1
			}
			m.romBank = bank
		}
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled {
			return
		}
		m.ram[addr&0x1FF] = value & 0x0F
	}
}

func (m *MBC2) SaveRAM() []byte {
	out := make([]byte, len(m.ram))
	copy(out, m.ram[:])
	return out
}

func (m *MBC2) LoadRAM(data []byte) {
	copy(m.ram[:], data)
}

func (m *MBC2) SaveState() []byte     { return m.SaveRAM() }
func (m *MBC2) LoadState(data []byte) { m.LoadRAM(data) }
