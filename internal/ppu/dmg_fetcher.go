package ppu

// DMG background/window rendering walks the tile map one 8-pixel tile at a
// time through a small pixel FIFO, mirroring the real PPU's fetch/push
// pipeline closely enough to get SCX/WX fine-scroll behavior right without
// modeling the per-dot fetcher state machine. CGB compositing (tile
// attributes, bank 1, priority) lives in cgb_scanline.go and does not go
// through this path.

// VRAMReader provides read-only access to VRAM bytes for the fetcher and
// scanline renderers, abstracting over live PPU state vs. test fixtures.
type VRAMReader interface {
	Read(addr uint16) byte
}

// pixelFIFO is a ring buffer of 2-bit BG/window color indices (0..3), sized
// for four tiles' worth of pixels (32) so a fetch can land before the FIFO runs dry.
type pixelFIFO struct {
	buf  [32]byte
	head int
	tail int
	size int
}

func (q *pixelFIFO) Len() int { return q.size }

func (q *pixelFIFO) Push(colorIndex byte) bool {
	if q.size == len(q.buf) {
		return false
	}
	q.buf[q.tail] = colorIndex & 0x03
	q.tail = (q.tail + 1) % len(q.buf)
	q.size++
	return true
}

func (q *pixelFIFO) Pop() (byte, bool) {
	if q.size == 0 {
		return 0, false
	}
	v := q.buf[q.head]
	q.head = (q.head + 1) % len(q.buf)
	q.size--
	return v, true
}

// tileFetcher decodes one tile row (8 pixels) at a time into a pixelFIFO.
type tileFetcher struct {
	mem           VRAMReader
	out           *pixelFIFO
	tileData8000  bool   // true: 0x8000 unsigned addressing; false: 0x8800 signed
	tileIndexAddr uint16 // address of the tile number byte within the active map
	fineY         byte   // row within the tile, 0..7
}

func newTileFetcher(mem VRAMReader, out *pixelFIFO) *tileFetcher {
	return &tileFetcher{mem: mem, out: out}
}

// seek points the fetcher at a new map cell and tile row without fetching yet.
func (f *tileFetcher) seek(tileData8000 bool, tileIndexAddr uint16, fineY byte) {
	f.tileData8000 = tileData8000
	f.tileIndexAddr = tileIndexAddr
	f.fineY = fineY & 7
}

// fetch decodes the configured tile row and pushes its 8 color indices.
func (f *tileFetcher) fetch() {
	tileNum := f.mem.Read(f.tileIndexAddr)
	lo, hi := tileRowBytes(f.mem, f.tileData8000, tileNum, f.fineY)
	for px := 0; px < 8; px++ {
		bit := 7 - byte(px)
		ci := ((hi>>bit)&1)<<1 | ((lo >> bit) & 1)
		f.out.Push(ci)
	}
}

// tileRowBytes reads the two bitplane bytes for one row of a DMG tile.
func tileRowBytes(mem VRAMReader, tileData8000 bool, tileNum, fineY byte) (lo, hi byte) {
	var base uint16
	if tileData8000 {
		base = 0x8000 + uint16(tileNum)*16 + uint16(fineY)*2
	} else {
		base = 0x9000 + uint16(int8(tileNum))*16 + uint16(fineY)*2
	}
	return mem.Read(base), mem.Read(base + 1)
}

// RenderBGScanline renders 160 BG color indices for scanline ly, honoring
// SCX/SCY fine scroll and 32x32-tile map wraparound.
func RenderBGScanline(mem VRAMReader, mapBase uint16, tileData8000 bool, scx, scy, ly byte) [160]byte {
	var out [160]byte

	bgY := uint16(ly) + uint16(scy)
	fineY := byte(bgY & 7)
	mapRow := (bgY >> 3) & 31

	fineX := int(scx & 7)
	tileCol := (uint16(scx) >> 3) & 31

	var q pixelFIFO
	f := newTileFetcher(mem, &q)
	f.seek(tileData8000, mapBase+mapRow*32+tileCol, fineY)
	f.fetch()
	for i := 0; i < fineX; i++ {
		q.Pop() // discard scx's fractional pixels from the first tile
	}

	for x := 0; x < 160; x++ {
		if q.Len() == 0 {
			tileCol = (tileCol + 1) & 31
			f.seek(tileData8000, mapBase+mapRow*32+tileCol, fineY)
			f.fetch()
		}
		out[x], _ = q.Pop()
	}
	return out
}

// RenderWindowScanline renders the window layer for a scanline starting at
// wxStart (WX-7); pixels before wxStart are left 0 so callers can blend with BG.
func RenderWindowScanline(mem VRAMReader, mapBase uint16, tileData8000 bool, wxStart int, winLine byte) [160]byte {
	var out [160]byte
	if wxStart >= 160 {
		return out
	}
	if wxStart < 0 {
		wxStart = 0
	}

	mapRow := (uint16(winLine) >> 3) & 31
	fineY := winLine & 7
	tileCol := uint16(0)

	var q pixelFIFO
	f := newTileFetcher(mem, &q)
	f.seek(tileData8000, mapBase+mapRow*32+tileCol, fineY)
	f.fetch()
	for x := wxStart; x < 160; x++ {
		if q.Len() == 0 {
			tileCol = (tileCol + 1) & 31
			f.seek(tileData8000, mapBase+mapRow*32+tileCol, fineY)
			f.fetch()
		}
		out[x], _ = q.Pop()
	}
	return out
}
