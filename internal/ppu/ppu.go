package ppu

import (
	"bytes"
	"encoding/gob"

	"github.com/dotmatrixco/gbcore/internal/palette"
)

// InterruptRequester is a callback signature to request IF bits (0:VBlank, 1:STAT, etc.).
type InterruptRequester func(bit int)

// LineRegs captures the register state that was live when a given scanline
// entered mode 3, for raster-effect-faithful rendering and for tests that
// want to observe the internal window line counter.
type LineRegs struct {
	SCX, SCY byte
	WX, WY   byte
	LCDC     byte
	WinLine  byte
}

// RGBA is a packed 8-bit-per-channel color, opaque by default.
type RGBA struct{ R, G, B, A byte }

// PPU models VRAM/OAM, LCDC/STAT regs, LY/LYC, CGB banking/palette RAM, and
// scanline-granularity rendering into a framebuffer.
// It exposes CPU-facing Read/Write for VRAM/OAM and PPU IO regs.
type PPU struct {
	// memory
	vram [2][0x2000]byte // bank-selected 0x8000–0x9FFF (bank1 only meaningful in CGB mode)
	oam  [0xA0]byte      // 0xFE00–0xFE9F

	// regs
	lcdc byte // FF40
	stat byte // FF41 (mode bits 0-1, coincidence flag bit2, enables bits3-6)
	scy  byte // FF42
	scx  byte // FF43
	ly   byte // FF44
	lyc  byte // FF45
	bgp  byte // FF47
	obp0 byte // FF48
	obp1 byte // FF49
	wy   byte // FF4A
	wx   byte // FF4B

	// CGB-only regs
	cgbMode bool
	vbk     byte // FF4F bit0: VRAM bank
	bgpi    byte // FF68
	obpi    byte // FF6A
	bgPal   [64]byte
	objPal  [64]byte
	opri    byte // FF6C bit0: 0=CGB OAM-index priority, 1=DMG X-priority

	dot int // dots within current line [0..455]

	winLineCounter int // internal window row counter, -1 until first visible line
	lineRegs       [154]LineRegs
	cap            LineRegs // regs captured at this line's mode-3 entry

	fb [144][160]RGBA

	scheme palette.Scheme

	req InterruptRequester
}

func New(req InterruptRequester) *PPU {
	return &PPU{req: req, scheme: palette.Grayscale(), winLineCounter: -1}
}

// SetCGBMode toggles CGB-specific VRAM banking, palette RAM, and OPRI-driven
// sprite priority. DMG carts running on CGB hardware should still call
// SetColorScheme with a curated palette rather than enabling CGB mode.
func (p *PPU) SetCGBMode(on bool) { p.cgbMode = on }

// SetColorScheme installs the DMG->CGB curated palette applied when not in
// native CGB mode.
func (p *PPU) SetColorScheme(s palette.Scheme) { p.scheme = s }

func (p *PPU) vramBank() int { return int(p.vbk & 1) }

// ReadBank reads VRAM from an explicit bank, bypassing FF4F, for renderer use.
func (p *PPU) ReadBank(bank int, addr uint16) byte {
	if addr < 0x8000 || addr > 0x9FFF {
		return 0xFF
	}
	return p.vram[bank&1][addr-0x8000]
}

// Read implements the scanline package's VRAMReader for DMG-style rendering
// against the currently bank-selected VRAM.
func (p *PPU) Read(addr uint16) byte { return p.ReadBank(p.vramBank(), addr) }

// CPURead returns bytes for VRAM, OAM, and PPU IO registers. Returns 0xFF for others.
func (p *PPU) CPURead(addr uint16) byte {
	switch {
	case addr >= 0x8000 && addr <= 0x9FFF:
		if (p.stat & 0x03) == 3 {
			return 0xFF
		}
		return p.vram[p.vramBank()][addr-0x8000]
	case addr >= 0xFE00 && addr <= 0xFE9F:
		m := p.stat & 0x03
		if m == 2 || m == 3 {
			return 0xFF
		}
		return p.oam[addr-0xFE00]
	case addr == 0xFF40:
		return p.lcdc
	case addr == 0xFF41:
		return 0x80 | (p.stat & 0x7F)
	case addr == 0xFF42:
		return p.scy
	case addr == 0xFF43:
		return p.scx
	case addr == 0xFF44:
		return p.ly
	case addr == 0xFF45:
		return p.lyc
	case addr == 0xFF47:
		return p.bgp
	case addr == 0xFF48:
		return p.obp0
	case addr == 0xFF49:
		return p.obp1
	case addr == 0xFF4A:
		return p.wy
	case addr == 0xFF4B:
		return p.wx
	case addr == 0xFF4F:
		return 0xFE | p.vbk
	case addr == 0xFF68:
		return p.bgpi
	case addr == 0xFF69:
		return p.bgPal[p.bgpi&0x3F]
	case addr == 0xFF6A:
		return p.obpi
	case addr == 0xFF6B:
		return p.objPal[p.obpi&0x3F]
	case addr == 0xFF6C:
		return 0xFE | p.opri
	default:
		return 0xFF
	}
}

// CPUWrite handles writes to VRAM, OAM, and PPU IO regs. Others are ignored here.
func (p *PPU) CPUWrite(addr uint16, value byte) {
	switch {
	case addr >= 0x8000 && addr <= 0x9FFF:
		if (p.stat & 0x03) == 3 {
			return
		}
		p.vram[p.vramBank()][addr-0x8000] = value
	case addr >= 0xFE00 && addr <= 0xFE9F:
		m := p.stat & 0x03
		if m == 2 || m == 3 {
			return
		}
		p.oam[addr-0xFE00] = value
	case addr == 0xFF40:
		prev := p.lcdc
		p.lcdc = value
		if (p.lcdc&0x80) == 0 && (prev&0x80) != 0 {
			// Turning LCD off resets LY/mode
			p.ly = 0
			p.dot = 0
			p.setMode(0)
			p.updateLYC()
		} else if (p.lcdc&0x80) != 0 && (prev&0x80) == 0 {
			// Turning LCD on: start at LY=0, mode 2 (OAM)
			p.ly = 0
			p.dot = 0
			p.winLineCounter = -1
			p.setMode(2)
			p.updateLYC()
		}
	case addr == 0xFF41:
		p.stat = (p.stat & 0x07) | (value & 0x78)
	case addr == 0xFF42:
		p.scy = value
	case addr == 0xFF43:
		p.scx = value
	case addr == 0xFF44:
		p.ly = 0
		p.dot = 0
		p.updateLYC()
		if (p.lcdc & 0x80) != 0 {
			p.setMode(2)
		}
	case addr == 0xFF45:
		p.lyc = value
		p.updateLYC()
	case addr == 0xFF47:
		p.bgp = value
	case addr == 0xFF48:
		p.obp0 = value
	case addr == 0xFF49:
		p.obp1 = value
	case addr == 0xFF4A:
		p.wy = value
	case addr == 0xFF4B:
		p.wx = value
	case addr == 0xFF4F:
		p.vbk = value & 1
	case addr == 0xFF68:
		p.bgpi = value & 0xBF
	case addr == 0xFF69:
		p.bgPal[p.bgpi&0x3F] = value
		if p.bgpi&0x80 != 0 {
			p.bgpi = 0x80 | ((p.bgpi + 1) & 0x3F)
		}
	case addr == 0xFF6A:
		p.obpi = value & 0xBF
	case addr == 0xFF6B:
		p.objPal[p.obpi&0x3F] = value
		if p.obpi&0x80 != 0 {
			p.obpi = 0x80 | ((p.obpi + 1) & 0x3F)
		}
	case addr == 0xFF6C:
		p.opri = value & 1
	}
}

// Tick advances PPU state by the given number of dots (CPU cycles).
func (p *PPU) Tick(cycles int) {
	if cycles <= 0 {
		return
	}
	for i := 0; i < cycles; i++ {
		if (p.lcdc & 0x80) == 0 { // LCD off
			continue
		}
		p.dot++

		var mode byte
		if p.ly >= 144 {
			mode = 1
		} else {
			switch {
			case p.dot < 80:
				mode = 2
			case p.dot < 80+172:
				mode = 3
			default:
				mode = 0
			}
		}
		prevMode := p.stat & 0x03
		p.setMode(mode)
		if mode == 3 && prevMode != 3 {
			p.captureLineRegs()
		}
		if mode == 0 && prevMode == 3 {
			p.renderLine()
		}

		if p.dot >= 456 {
			p.dot = 0
			p.ly++
			if p.ly == 144 {
				if p.req != nil {
					p.req(0)
				}
				if (p.stat & (1 << 4)) != 0 {
					if p.req != nil {
						p.req(1)
					}
				}
				p.winLineCounter = -1
			} else if p.ly > 153 {
				p.ly = 0
				p.winLineCounter = -1
			}
			p.updateLYC()
			if p.ly >= 144 {
				p.setMode(1)
			} else {
				p.setMode(2)
			}
		}
	}
}

func (p *PPU) setMode(mode byte) {
	prev := p.stat & 0x03
	if prev == mode {
		return
	}
	p.stat = (p.stat &^ 0x03) | (mode & 0x03)
	switch mode {
	case 0: // HBlank
		if (p.stat & (1 << 3)) != 0 {
			if p.req != nil {
				p.req(1)
			}
		}
	case 2: // OAM
		if (p.stat & (1 << 5)) != 0 {
			if p.req != nil {
				p.req(1)
			}
		}
	}
}

func (p *PPU) updateLYC() {
	if p.ly == p.lyc {
		p.stat |= 1 << 2
		if (p.stat & (1 << 6)) != 0 {
			if p.req != nil {
				p.req(1)
			}
		}
	} else {
		p.stat &^= 1 << 2
	}
}

// windowVisibleThisLine reports whether the window layer paints any pixel on
// the current line, per LCDC bit5, WY, and WX (WX>166 disables the window
// entirely regardless of WY).
func (p *PPU) windowVisibleThisLine() bool {
	return p.lcdc&0x20 != 0 && p.wy <= p.ly && p.wx <= 166
}

// captureLineRegs snapshots the registers a real PPU latches at mode-3 entry
// and advances the internal window line counter the instant the window
// becomes visible for this line.
func (p *PPU) captureLineRegs() {
	if p.windowVisibleThisLine() {
		p.winLineCounter++
	}
	wl := byte(0)
	if p.winLineCounter >= 0 {
		wl = byte(p.winLineCounter)
	}
	p.cap = LineRegs{SCX: p.scx, SCY: p.scy, WX: p.wx, WY: p.wy, LCDC: p.lcdc, WinLine: wl}
	if int(p.ly) < len(p.lineRegs) {
		p.lineRegs[p.ly] = p.cap
	}
}

// LineRegs returns the registers captured for scanline y at its mode-3 entry.
func (p *PPU) LineRegs(y int) LineRegs {
	if y < 0 || y >= len(p.lineRegs) {
		return LineRegs{}
	}
	return p.lineRegs[y]
}

// Framebuffer returns the most recently rendered 160x144 RGBA frame.
func (p *PPU) Framebuffer() *[144][160]RGBA { return &p.fb }

type ppuSelf struct{ p *PPU }

func (s ppuSelf) Read(addr uint16) byte { return s.p.ReadBank(0, addr) }

// renderLine composes BG, window, and sprites for p.ly using the registers
// captured at this line's mode-3 entry, writing one row of the framebuffer.
func (p *PPU) renderLine() {
	ly := p.ly
	if ly >= 144 {
		return
	}
	c := p.cap
	bgMapBase := uint16(0x9800)
	if c.LCDC&0x08 != 0 {
		bgMapBase = 0x9C00
	}
	winMapBase := uint16(0x9800)
	if c.LCDC&0x40 != 0 {
		winMapBase = 0x9C00
	}
	tileData8000 := c.LCDC&0x10 != 0

	var ci, winCi [160]byte
	var pal, winPal [160]byte
	var pri, winPri [160]bool

	if p.cgbMode {
		ci, pal, pri = RenderBGScanlineCGB(p, bgMapBase, bgMapBase, tileData8000, c.SCX, c.SCY, ly)
		if c.LCDC&0x01 == 0 {
			// CGB BG-disable still shows BG-to-OBJ priority as transparent(0)
		}
		if c.LCDC&0x20 != 0 && c.WX <= 166 {
			wxStart := int(c.WX) - 7
			winCi, winPal, winPri = RenderWindowScanlineCGB(p, winMapBase, winMapBase, tileData8000, wxStart, c.WinLine)
			for x := wxStart; x < 160; x++ {
				if x < 0 {
					continue
				}
				ci[x] = winCi[x]
				pal[x] = winPal[x]
				pri[x] = winPri[x]
			}
		}
	} else {
		self := ppuSelf{p}
		if c.LCDC&0x01 != 0 {
			ci = RenderBGScanline(self, bgMapBase, tileData8000, c.SCX, c.SCY, ly)
		}
		if c.LCDC&0x20 != 0 && c.WX <= 166 {
			wxStart := int(c.WX) - 7
			winCi = RenderWindowScanline(self, winMapBase, tileData8000, wxStart, c.WinLine)
			for x := wxStart; x < 160; x++ {
				if x < 0 {
					continue
				}
				ci[x] = winCi[x]
			}
		}
	}

	var spriteOut [160]byte
	if c.LCDC&0x02 != 0 {
		spriteOut = p.composeSprites(ly, ci)
	}

	for x := 0; x < 160; x++ {
		if spriteOut[x] != 0 {
			p.fb[ly][x] = p.spriteColor(spriteOut[x], x, int(ly))
			continue
		}
		p.fb[ly][x] = p.bgColor(ci[x], pal[x], pri[x])
	}
}

func (p *PPU) composeSprites(ly byte, bgci [160]byte) [160]byte {
	tall := p.cap.LCDC&0x04 != 0
	var sprites []Sprite
	selected := 0 // OAM entries picked for this line; an 8x16 object adds two Sprite halves
	for i := 0; i < 40 && selected < 10; i++ {
		o := i * 4
		y := int(p.oam[o]) - 16
		x := int(p.oam[o+1]) - 8
		tile := p.oam[o+2]
		attr := p.oam[o+3]
		height := 8
		if tall {
			height = 16
		}
		row := int(ly) - y
		if row < 0 || row >= height {
			continue
		}
		selected++
		if !tall {
			sprites = append(sprites, Sprite{X: x, Y: y, Tile: tile, Attr: attr, OAMIndex: i})
			continue
		}
		top := tile &^ 1
		bot := tile | 1
		if attr&0x40 != 0 {
			top, bot = bot, top
		}
		sprites = append(sprites, Sprite{X: x, Y: y, Tile: top, Attr: attr, OAMIndex: i})
		sprites = append(sprites, Sprite{X: x, Y: y + 8, Tile: bot, Attr: attr, OAMIndex: i})
	}
	cgbPriority := p.cgbMode && p.opri == 0
	self := ppuSelf{p}
	return ComposeSpriteLine(self, sprites, ly, bgci, cgbPriority)
}

func (p *PPU) bgColor(ciVal, palNum byte, _ bool) RGBA {
	if p.cgbMode {
		lo := p.bgPal[int(palNum)*8+int(ciVal)*2]
		hi := p.bgPal[int(palNum)*8+int(ciVal)*2+1]
		r, g, b, a := palette.RGB555(uint16(lo)|uint16(hi)<<8).ToRGBA()
		return RGBA{r, g, b, a}
	}
	shade := (p.bgp >> (ciVal * 2)) & 0x3
	c := p.scheme.BG[shade]
	r, g, b, a := c.ToRGBA()
	return RGBA{r, g, b, a}
}

func (p *PPU) spriteColor(ciVal byte, x int, ly int) RGBA {
	// Re-find the topmost sprite at (x, ly) to resolve its palette selector,
	// matching composeSprites' own ordering rules.
	tall := p.cap.LCDC&0x04 != 0
	height := 8
	if tall {
		height = 16
	}
	for i := 0; i < 40; i++ {
		o := i * 4
		sy := int(p.oam[o]) - 16
		sx := int(p.oam[o+1]) - 8
		attr := p.oam[o+3]
		if x < sx || x >= sx+8 {
			continue
		}
		if ly-sy < 0 || ly-sy >= height {
			continue
		}
		if p.cgbMode {
			lo := p.objPal[int(attr&0x07)*8+int(ciVal)*2]
			hi := p.objPal[int(attr&0x07)*8+int(ciVal)*2+1]
			r, g, b, a := palette.RGB555(uint16(lo)|uint16(hi)<<8).ToRGBA()
			return RGBA{r, g, b, a}
		}
		shade := (p.obp0 >> (ciVal * 2)) & 0x3
		set := p.scheme.OBJ0
		if attr&0x10 != 0 {
			shade = (p.obp1 >> (ciVal * 2)) & 0x3
			set = p.scheme.OBJ1
		}
		r, g, b, a := set[shade].ToRGBA()
		return RGBA{r, g, b, a}
	}
	r, g, b, a := p.scheme.OBJ0[0].ToRGBA()
	return RGBA{r, g, b, a}
}

type ppuState struct {
	VRAM0, VRAM1                     [0x2000]byte
	OAM                              [0xA0]byte
	LCDC, STAT, SCY, SCX, LY, LYC    byte
	BGP, OBP0, OBP1, WY, WX          byte
	CGBMode                          bool
	VBK, BGPI, OBPI, OPRI            byte
	BGPal, OBJPal                    [64]byte
	Dot                              int
	WinLineCounter                   int
}

// SaveState serializes VRAM, OAM, registers, and CGB palette RAM.
func (p *PPU) SaveState() []byte {
	s := ppuState{
		VRAM0: p.vram[0], VRAM1: p.vram[1], OAM: p.oam,
		LCDC: p.lcdc, STAT: p.stat, SCY: p.scy, SCX: p.scx, LY: p.ly, LYC: p.lyc,
		BGP: p.bgp, OBP0: p.obp0, OBP1: p.obp1, WY: p.wy, WX: p.wx,
		CGBMode: p.cgbMode, VBK: p.vbk, BGPI: p.bgpi, OBPI: p.obpi, OPRI: p.opri,
		BGPal: p.bgPal, OBJPal: p.objPal,
		Dot: p.dot, WinLineCounter: p.winLineCounter,
	}
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(s)
	return buf.Bytes()
}

// LoadState restores a blob produced by SaveState. No-op on decode failure.
func (p *PPU) LoadState(data []byte) {
	var s ppuState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	p.vram[0], p.vram[1], p.oam = s.VRAM0, s.VRAM1, s.OAM
	p.lcdc, p.stat, p.scy, p.scx, p.ly, p.lyc = s.LCDC, s.STAT, s.SCY, s.SCX, s.LY, s.LYC
	p.bgp, p.obp0, p.obp1, p.wy, p.wx = s.BGP, s.OBP0, s.OBP1, s.WY, s.WX
	p.cgbMode, p.vbk, p.bgpi, p.obpi, p.opri = s.CGBMode, s.VBK, s.BGPI, s.OBPI, s.OPRI
	p.bgPal, p.objPal = s.BGPal, s.OBJPal
	p.dot, p.winLineCounter = s.Dot, s.WinLineCounter
}

// Expose palettes and scroll for renderer convenience (optional helpers)
func (p *PPU) BGP() byte  { return p.bgp }
func (p *PPU) OBP0() byte { return p.obp0 }
func (p *PPU) OBP1() byte { return p.obp1 }
func (p *PPU) LCDC() byte { return p.lcdc }
func (p *PPU) SCY() byte  { return p.scy }
func (p *PPU) SCX() byte  { return p.scx }
func (p *PPU) WY() byte   { return p.wy }
func (p *PPU) WX() byte   { return p.wx }
