package ppu

// BankedVRAMReader is a VRAMReader that can also address a specific CGB
// VRAM bank directly, bypassing whatever bank FF4F currently selects. Bank
// 0 always holds tile indices/attributes maps as seen via the 0x9800/0x9C00
// windows; bank 1 holds the CGB BG attribute byte at the same offsets and,
// optionally, alternate tile data.
type BankedVRAMReader interface {
	VRAMReader
	ReadBank(bank int, addr uint16) byte
}

// bgAttr decodes a CGB BG/window attribute byte.
type bgAttr struct {
	palette byte
	bank    int
	xflip   bool
	yflip   bool
	priority bool
}

func decodeBGAttr(v byte) bgAttr {
	return bgAttr{
		palette:  v & 0x07,
		bank:     int((v >> 4) & 1),
		xflip:    v&0x20 != 0,
		yflip:    v&0x40 != 0,
		priority: v&0x80 != 0,
	}
}

func tileRowCGB(mem BankedVRAMReader, bank int, tileData8000 bool, tileNum byte, fineY byte) (lo, hi byte) {
	var base uint16
	if tileData8000 {
		base = 0x8000 + uint16(tileNum)*16 + uint16(fineY)*2
	} else {
		base = 0x9000 + uint16(int8(tileNum))*16 + uint16(fineY)*2
	}
	return mem.ReadBank(bank, base), mem.ReadBank(bank, base+1)
}

// RenderBGScanlineCGB renders 160 BG pixels for LY along with each pixel's
// CGB palette number and BG-to-OBJ priority bit, reading tile indices from
// VRAM bank 0 and attributes from bank 1 at the same map offset.
func RenderBGScanlineCGB(mem BankedVRAMReader, mapBase, attrBase uint16, tileData8000 bool, scx, scy, ly byte) (ci [160]byte, pal [160]byte, pri [160]bool) {
	bgY := uint16(ly) + uint16(scy)
	fineY := byte(bgY & 7)
	mapY := (bgY >> 3) & 31

	for x := 0; x < 160; x++ {
		bgX := uint16(x) + uint16(scx)
		tileX := (bgX >> 3) & 31
		fineX := byte(bgX & 7)

		mapOff := mapY*32 + tileX
		tileNum := mem.ReadBank(0, mapBase+mapOff)
		attr := decodeBGAttr(mem.ReadBank(1, attrBase+mapOff))

		row := fineY
		if attr.yflip {
			row = 7 - fineY
		}
		lo, hi := tileRowCGB(mem, attr.bank, tileData8000, tileNum, row)

		bit := 7 - fineX
		if attr.xflip {
			bit = fineX
		}
		ci[x] = ((hi>>bit)&1)<<1 | ((lo >> bit) & 1)
		pal[x] = attr.palette
		pri[x] = attr.priority
	}
	return
}

// RenderWindowScanlineCGB is RenderBGScanlineCGB's window-layer counterpart:
// it paints from wxStart to the right edge using winLine as the window's
// own internal row counter, leaving columns before wxStart untouched.
func RenderWindowScanlineCGB(mem BankedVRAMReader, mapBase, attrBase uint16, tileData8000 bool, wxStart int, winLine byte) (ci [160]byte, pal [160]byte, pri [160]bool) {
	if wxStart >= 160 {
		return
	}
	if wxStart < 0 {
		wxStart = 0
	}
	mapY := (uint16(winLine) >> 3) & 31
	fineY := winLine & 7

	for x := wxStart; x < 160; x++ {
		col := uint16(x - wxStart)
		tileX := (col >> 3) & 31
		fineX := byte(col & 7)

		mapOff := mapY*32 + tileX
		tileNum := mem.ReadBank(0, mapBase+mapOff)
		attr := decodeBGAttr(mem.ReadBank(1, attrBase+mapOff))

		row := fineY
		if attr.yflip {
			row = 7 - fineY
		}
		lo, hi := tileRowCGB(mem, attr.bank, tileData8000, tileNum, row)

		bit := 7 - fineX
		if attr.xflip {
			bit = fineX
		}
		ci[x] = ((hi>>bit)&1)<<1 | ((lo >> bit) & 1)
		pal[x] = attr.palette
		pri[x] = attr.priority
	}
	return
}
