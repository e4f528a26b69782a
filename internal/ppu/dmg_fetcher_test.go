package ppu

import "testing"

type mockVRAM map[uint16]byte

func (m mockVRAM) Read(addr uint16) byte { return m[addr] }

func expectedColorIndices(lo, hi byte) [8]byte {
	var want [8]byte
	for i := 0; i < 8; i++ {
		bit := 7 - byte(i)
		want[i] = ((hi>>bit)&1)<<1 | ((lo >> bit) & 1)
	}
	return want
}

func TestPixelFIFOWrapsAroundWhenFull(t *testing.T) {
	var q pixelFIFO
	if q.Len() != 0 {
		t.Fatal("new fifo not empty")
	}
	if _, ok := q.Pop(); ok {
		t.Fatal("pop from empty should fail")
	}
	for i := 0; i < 32; i++ {
		if !q.Push(byte(i)) {
			t.Fatal("unexpected full before capacity reached")
		}
	}
	if q.Push(0) {
		t.Fatal("push should fail once at capacity")
	}
	for i := 0; i < 32; i++ {
		v, ok := q.Pop()
		if !ok {
			t.Fatal("unexpected empty before all pushed values popped")
		}
		if v != byte(i)&3 {
			t.Fatalf("got %d want %d", v, byte(i)&3)
		}
	}
}

func TestTileFetcherDecodesEightPixelsFromBitplanes(t *testing.T) {
	mem := mockVRAM{
		0x9800: 0,    // map cell -> tile 0
		0x8000: 0x55, // lo bitplane
		0x8001: 0x33, // hi bitplane
	}
	var q pixelFIFO
	f := newTileFetcher(mem, &q)
	f.seek(true, 0x9800, 0)
	f.fetch()
	if q.Len() != 8 {
		t.Fatalf("expected 8 pixels in fifo, got %d", q.Len())
	}
	want := expectedColorIndices(0x55, 0x33)
	for i, w := range want {
		got, _ := q.Pop()
		if got != w {
			t.Fatalf("px %d got %d want %d", i, got, w)
		}
	}
}

func TestTileFetcherSignedAddressingAt8800(t *testing.T) {
	mapBase := uint16(0x9C00)
	fineY := byte(5)
	rowAddr := uint16(0x8FF0) + uint16(fineY)*2 // tile index 0xFF (-1) under signed addressing
	lo, hi := byte(0xA5), byte(0x5A)
	mem := mockVRAM{mapBase: 0xFF, rowAddr: lo, rowAddr + 1: hi}

	var q pixelFIFO
	f := newTileFetcher(mem, &q)
	f.seek(false, mapBase, fineY)
	f.fetch()
	want := expectedColorIndices(lo, hi)
	for i, w := range want {
		got, _ := q.Pop()
		if got != w {
			t.Fatalf("px %d got %d want %d", i, got, w)
		}
	}
}

func buildSequentialTileRow(mem mockVRAM, mapBase uint16, fineY byte) {
	for tile := 0; tile < 32; tile++ {
		mem[mapBase+uint16(tile)] = byte(tile)
		base := uint16(0x8000+tile*16) + uint16(fineY)*2
		mem[base] = byte(tile)
		mem[base+1] = ^byte(tile)
	}
}

func TestRenderBGScanlineAppliesSCXOffsetAndWrapsTiles(t *testing.T) {
	mapBase := uint16(0x9800)
	mem := mockVRAM{}
	buildSequentialTileRow(mem, mapBase, 0)

	out := RenderBGScanline(mem, mapBase, true, 5, 0, 0)
	// scx=5 discards the first 5 of tile0's 8 pixels, leaving its last 3.
	want0 := expectedColorIndices(0, ^byte(0))
	for i := 0; i < 3; i++ {
		if out[i] != want0[5+i] {
			t.Fatalf("px %d got %d want %d", i, out[i], want0[5+i])
		}
	}
	want1 := expectedColorIndices(1, ^byte(1))
	for i := 0; i < 8; i++ {
		if out[3+i] != want1[i] {
			t.Fatalf("tile1 px %d got %d want %d", i, out[3+i], want1[i])
		}
	}
}

func TestRenderBGScanlineSelectsMapRowFromSCY(t *testing.T) {
	// ly=0, scy=11 -> bgY=11, map row 1 (tiles start at offset 32), fineY=3
	mapBase := uint16(0x9800)
	mem := mockVRAM{}
	fineY := byte(3)
	mem[mapBase+32+0] = 0
	mem[mapBase+32+1] = 1
	base0 := uint16(0x8000) + uint16(fineY)*2
	mem[base0], mem[base0+1] = 0x12, 0x34
	base1 := uint16(0x8000+16) + uint16(fineY)*2
	mem[base1], mem[base1+1] = 0x56, 0x78

	out := RenderBGScanline(mem, mapBase, true, 0, 11, 0)
	want0 := expectedColorIndices(0x12, 0x34)
	want1 := expectedColorIndices(0x56, 0x78)
	for i := 0; i < 8; i++ {
		if out[i] != want0[i] {
			t.Fatalf("tile0 px %d got %d want %d", i, out[i], want0[i])
		}
		if out[8+i] != want1[i] {
			t.Fatalf("tile1 px %d got %d want %d", i, out[8+i], want1[i])
		}
	}
}

func TestRenderWindowScanlineLeavesPixelsBeforeWXZero(t *testing.T) {
	mapBase := uint16(0x9800)
	mem := mockVRAM{}
	mem[mapBase+0], mem[mapBase+1] = 0, 1
	fineY := byte(2)
	base0 := uint16(0x8000) + uint16(fineY)*2
	mem[base0], mem[base0+1] = 0xAA, 0x0F
	base1 := uint16(0x8000+16) + uint16(fineY)*2
	mem[base1], mem[base1+1] = 0x55, 0xF0

	out := RenderWindowScanline(mem, mapBase, true, 20, fineY)
	for x := 0; x < 20; x++ {
		if out[x] != 0 {
			t.Fatalf("pre-window px %d = %d, want 0", x, out[x])
		}
	}
	want0 := expectedColorIndices(0xAA, 0x0F)
	want1 := expectedColorIndices(0x55, 0xF0)
	for i := 0; i < 8; i++ {
		if out[20+i] != want0[i] {
			t.Fatalf("tile0 px %d got %d want %d", i, out[20+i], want0[i])
		}
		if out[28+i] != want1[i] {
			t.Fatalf("tile1 px %d got %d want %d", i, out[28+i], want1[i])
		}
	}
}

func TestRenderWindowScanlineClampsOutOfRangeWX(t *testing.T) {
	mem := mockVRAM{}
	out := RenderWindowScanline(mem, 0x9800, true, 200, 0)
	for x, v := range out {
		if v != 0 {
			t.Fatalf("expected all-zero output when wxStart is off-screen, px %d = %d", x, v)
		}
	}
}
