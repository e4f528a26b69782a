package palette

import "testing"

func TestExactTitleMatch(t *testing.T) {
	s := ForTitle("TETRIS", 0x00, false)
	if s != schemes[2] {
		t.Fatalf("TETRIS should map to scheme 2")
	}
}

func TestSubstringFamilyMatch(t *testing.T) {
	s := ForTitle("SUPER MARIO LAND 3", 0x00, false)
	if s != schemes[3] {
		t.Fatalf("MARIO family should map to scheme 3")
	}
}

func TestUnknownNintendoTitleIsChecksumStable(t *testing.T) {
	s1 := ForTitle("UNKNOWN GAME", 0x10, true)
	s2 := ForTitle("UNKNOWN GAME", 0x10, true)
	if s1 != s2 {
		t.Fatalf("same inputs should produce the same scheme")
	}
}

func TestUnknownNonNintendoFallsBackToClassicGreen(t *testing.T) {
	s := ForTitle("HOMEBREW", 0x00, false)
	if s != schemes[0] {
		t.Fatalf("non-Nintendo unknown title falls back to scheme 0 default")
	}
}

func TestRGB555ToRGBA(t *testing.T) {
	r, g, b, a := RGB555(0x7FFF).ToRGBA()
	if r != 0xFF || g != 0xFF || b != 0xFF || a != 0xFF {
		t.Fatalf("white RGB555 should expand to (255,255,255,255), got (%d,%d,%d,%d)", r, g, b, a)
	}
}
