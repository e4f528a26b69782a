package emu

// Config contains settings that affect emulation behavior.
type Config struct {
	Trace        bool // log CPU instructions
	LimitFPS     bool // caller wants ~60 Hz pacing (cmd/gbemu sets it for windowed runs); Machine does not read it
	UseFetcherBG bool // stored only; the PPU renders DMG BG/window through the fetcher/FIFO path either way
	SampleRate   int  // defaults to 44100 if zero; not passed to the APU, which the bus creates at 48000 Hz
	ForceCGB     bool // run in CGB mode even when the header does not flag CGB support
}
