package main

import (
	"fmt"
	"hash/crc32"
	"image"
	"image/png"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dotmatrixco/gbcore/internal/cart"
	"github.com/dotmatrixco/gbcore/internal/emu"
	"github.com/dotmatrixco/gbcore/internal/ui"
	"github.com/pkg/profile"
	"github.com/urfave/cli"
)

var commonFlags = []cli.Flag{
	cli.StringFlag{Name: "rom", Usage: "path to ROM (.gb)"},
	cli.StringFlag{Name: "bootrom", Usage: "optional DMG boot ROM"},
	cli.BoolFlag{Name: "trace", Usage: "CPU trace log"},
	cli.BoolTFlag{Name: "save", Usage: "persist battery RAM to ROM.sav on exit and load on start"},
	cli.BoolFlag{Name: "cpuprofile", Usage: "profile CPU usage for the run, writing cpu.pprof to the current directory"},
}

func main() {
	app := cli.NewApp()
	app.Name = "gbemu"
	app.Usage = "Game Boy / Game Boy Color emulator"
	app.Commands = []cli.Command{
		{
			Name:  "run",
			Usage: "open a window and play a ROM",
			Flags: append([]cli.Flag{
				cli.IntFlag{Name: "scale", Value: 3, Usage: "window scale"},
				cli.StringFlag{Name: "title", Value: "gbemu", Usage: "window title"},
			}, commonFlags...),
			Action: runWindowed,
		},
		{
			Name:  "headless",
			Usage: "run N frames without a window, optionally dumping a PNG or asserting a checksum",
			Flags: append([]cli.Flag{
				cli.IntFlag{Name: "frames", Value: 300, Usage: "frames to run"},
				cli.StringFlag{Name: "outpng", Usage: "write last framebuffer to PNG at path"},
				cli.StringFlag{Name: "expect", Usage: "assert framebuffer CRC32 (hex)"},
			}, commonFlags...),
			Action: runHeadlessCmd,
		},
	}
	// Bare invocation with -rom defaults to the windowed runner, matching
	// how the teacher's single stdlib-flag binary used to behave.
	app.Flags = commonFlags
	app.Action = func(c *cli.Context) error {
		if c.String("rom") == "" {
			return cli.ShowAppHelp(c)
		}
		return runWindowed(c)
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func mustRead(path string) []byte {
	if path == "" {
		return nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("read %s: %v", path, err)
	}
	return b
}

func loadMachine(c *cli.Context) (*emu.Machine, string) {
	romPath := c.String("rom")
	var rom []byte
	if romPath != "" {
		rom = mustRead(romPath)
	}
	boot := mustRead(c.String("bootrom"))

	if len(rom) >= 0x150 {
		if h, err := cart.ParseHeader(rom); err == nil {
			slog.Info("rom loaded", "title", h.Title, "type", h.CartTypeStr, "banks", h.ROMBanks, "ram_bytes", h.RAMSizeBytes)
		}
	}

	emuCfg := emu.Config{
		Trace:    c.Bool("trace"),
		LimitFPS: c.Command.Name != "headless",
	}
	m := emu.New(emuCfg)
	if len(boot) >= 0x100 {
		m.SetBootROM(boot)
	}
	if len(rom) > 0 {
		if err := m.LoadCartridge(rom, boot); err != nil {
			log.Fatalf("load cart: %v", err)
		}
		if romPath != "" {
			if abs, err := filepath.Abs(romPath); err == nil {
				_ = m.LoadROMFromFile(abs)
			} else {
				_ = m.LoadROMFromFile(romPath)
			}
		}
	}

	var savPath string
	if c.BoolT("save") && romPath != "" {
		savPath = strings.TrimSuffix(romPath, ".gb") + ".sav"
		if data, err := os.ReadFile(savPath); err == nil {
			if m.LoadBattery(data) {
				slog.Info("save RAM loaded", "path", savPath, "bytes", len(data))
			}
		}
	}
	return m, savPath
}

func writeBattery(m *emu.Machine, savPath string) {
	if savPath == "" {
		if m.ROMPath() == "" || !strings.HasSuffix(strings.ToLower(m.ROMPath()), ".gb") {
			return
		}
		savPath = strings.TrimSuffix(m.ROMPath(), ".gb") + ".sav"
	}
	data, ok := m.SaveBattery()
	if !ok {
		return
	}
	if err := os.WriteFile(savPath, data, 0644); err != nil {
		slog.Debug("battery save write failed", "path", savPath, "error", err)
		return
	}
	slog.Info("save RAM written", "path", savPath)
}

func runWindowed(c *cli.Context) error {
	if c.Bool("cpuprofile") {
		defer profile.Start(profile.CPUProfile, profile.ProfilePath(".")).Stop()
	}
	m, savPath := loadMachine(c)

	uiCfg := ui.Config{Title: c.String("title"), Scale: c.Int("scale")}
	if uiCfg.Title == "" {
		uiCfg.Title = "gbemu"
	}
	if uiCfg.Scale == 0 {
		uiCfg.Scale = 3
	}
	app := ui.NewApp(uiCfg, m)
	if err := app.Run(); err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	if s, ok := any(app).(interface{ SaveSettings() }); ok {
		s.SaveSettings()
	}
	if c.BoolT("save") {
		writeBattery(m, savPath)
	}
	return nil
}

func runHeadlessCmd(c *cli.Context) error {
	if c.Bool("cpuprofile") {
		defer profile.Start(profile.CPUProfile, profile.ProfilePath(".")).Stop()
	}
	m, savPath := loadMachine(c)

	frames := c.Int("frames")
	if frames <= 0 {
		frames = 1
	}
	start := time.Now()
	for i := 0; i < frames; i++ {
		m.StepFrame()
	}
	dur := time.Since(start)

	fb := m.Framebuffer()
	crc := crc32.ChecksumIEEE(fb)
	fps := float64(frames) / dur.Seconds()
	slog.Info("headless run complete", "frames", frames, "elapsed", dur.Truncate(time.Millisecond), "fps", fmt.Sprintf("%.2f", fps), "fb_crc32", fmt.Sprintf("%08x", crc))

	if pngPath := c.String("outpng"); pngPath != "" {
		if err := saveFramePNG(fb, 160, 144, pngPath); err != nil {
			return cli.NewExitError(fmt.Sprintf("write PNG: %v", err), 1)
		}
		slog.Info("wrote framebuffer PNG", "path", pngPath)
	}

	if expect := c.String("expect"); expect != "" {
		want := strings.TrimPrefix(strings.ToLower(expect), "0x")
		got := fmt.Sprintf("%08x", crc)
		if got != want {
			return cli.NewExitError(fmt.Sprintf("checksum mismatch: got %s, want %s", got, want), 1)
		}
	}

	if c.BoolT("save") {
		writeBattery(m, savPath)
	}
	return nil
}

func saveFramePNG(pix []byte, w, h int, path string) error {
	img := &image.RGBA{
		Pix:    make([]byte, len(pix)),
		Stride: 4 * w,
		Rect:   image.Rect(0, 0, w, h),
	}
	copy(img.Pix, pix)
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}
