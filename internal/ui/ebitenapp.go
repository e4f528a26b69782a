package ui

import (
	"fmt"
	"image/color"
	"os"
	"strings"
	"time"

	"github.com/dotmatrixco/gbcore/internal/emu"
	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/audio"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
)

// App drives the windowed front end: input, pacing, audio streaming and the
// overlay menu system (see menu_update.go/menu_draw.go).
type App struct {
	cfg     Config
	m       *emu.Machine
	tex     *ebiten.Image
	paused  bool
	fast    bool
	turbo   int  // turbo speed multiplier (1=off)
	skipOn  bool // whether to skip rendering frames
	skipN   int  // render 1 of (skipN+1) frames
	skipCtr int  // counter for frame skip
	// timing
	lastTime   time.Time
	frameAcc   float64 // accumulated fractional frames
	audioMuted bool

	// audio
	audioCtx    *audio.Context
	audioPlayer *audio.Player
	audioSrc    *apuStream // for stats overlay

	// overlay/menu
	showMenu  bool
	menuIdx   int    // selection index for current menu
	menuMode  string // "main" | "rom" | "keys" | "settings"
	showStats bool   // debug: show audio buffer stats
	// adaptive audio buffering
	targetFrames int // desired stereo frames in buffer
	stableTicks  int // ticks since last underrun

	// save-state slot management
	currentSlot int // 0..3

	// rom picker state
	romList []string
	romSel  int
	romOff  int // scroll offset for ROM list

	// keybindings state
	keysOff int // scroll offset for keybindings

	// settings edit state
	editingROMDir bool
	romDirInput   string
	settingsOff   int // scroll offset for settings list

	// logical canvas size in game pixels; grows when a shell skin is active
	// to make room for the bezel artwork around the 160x144 screen
	curW, curH int
	shellImg   *ebiten.Image
	shellList  []string
	shellIdx   int

	// toast feedback
	toastMsg   string
	toastUntil time.Time
}

func NewApp(cfg Config, m *emu.Machine) *App {
	cfg = loadSettings(cfg)
	cfg.Defaults()
	a := &App{cfg: cfg, m: m}
	a.lastTime = time.Now()
	a.turbo = 1
	a.currentSlot = 0
	a.romDirInput = cfg.ROMsDir
	a.loadShell()
	a.applyWindowSize()
	ebiten.SetWindowTitle(cfg.Title)
	// Init audio at 48kHz to match APU
	a.audioCtx = audio.NewContext(48000)
	if cfg.AudioBufferMs <= 0 {
		cfg.AudioBufferMs = 125
	}
	a.targetFrames = (cfg.AudioBufferMs * 48000) / 1000
	// Defer creating the player until Update runs to ensure window init isn't blocked
	if m != nil && m.ROMPath() == "" {
		a.showMenu = true
		a.menuMode = "rom"
		a.romList = a.findROMs()
	}
	if m != nil && m.ROMPath() != "" {
		a.setWindowTitleForROM()
	}
	if m != nil {
		m.SetUseFetcherBG(a.cfg.UseFetcherBG)
	}
	return a
}

func (a *App) setWindowTitleForROM() {
	title := a.cfg.Title
	if t := a.m.ROMTitle(); t != "" {
		title = a.cfg.Title + " - [" + t + "]"
	}
	ebiten.SetWindowTitle(title)
}

func (a *App) Run() error { return ebiten.RunGame(a) }

// SaveSettings persists current settings to disk.
func (a *App) SaveSettings() { a.saveSettings() }

func (a *App) Update() error {
	// Lazy-create audio player on first update to avoid startup blocking before the window appears
	if a.audioPlayer == nil {
		a.audioMuted = true
		a.m.APUClearAudioLatency()
		a.audioSrc = &apuStream{m: a.m, mono: !a.cfg.AudioStereo, muted: &a.audioMuted, lowLatency: a.cfg.AudioLowLatency}
		if p, err := a.audioCtx.NewPlayer(a.audioSrc); err == nil {
			a.audioPlayer = p
			a.applyPlayerBufferSize()
			a.audioPlayer.Play()
		}
	}
	// Keyboard → Game Boy buttons (disabled when menu is shown)
	if !a.showMenu {
		a.m.SetButtons(a.readButtons())
	} else {
		a.m.SetButtons(emu.Buttons{})
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyP) {
		a.paused = !a.paused
	}
	prevFast := a.fast
	a.fast = ebiten.IsKeyPressed(ebiten.KeyTab)
	if inpututil.IsKeyJustPressed(ebiten.KeyF6) {
		if a.turbo > 1 {
			a.turbo--
		}
		a.toast(fmt.Sprintf("Turbo: x%d", a.turbo))
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyF7) {
		if a.turbo < 10 {
			a.turbo++
		}
		a.toast(fmt.Sprintf("Turbo: x%d", a.turbo))
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyF4) {
		a.skipOn = !a.skipOn
		a.toast(fmt.Sprintf("Frame skip: %v", map[bool]string{true: "On", false: "Off"}[a.skipOn]))
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyR) {
		a.m.ResetPostBoot()
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyB) {
		a.m.ResetWithBoot()
	}
	if !a.showMenu && a.paused && inpututil.IsKeyJustPressed(ebiten.KeyN) {
		a.m.StepFrame()
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyEscape) {
		a.showMenu = !a.showMenu
		if a.showMenu {
			a.menuMode = "main"
			a.menuIdx = 0
		}
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyF11) {
		ebiten.SetFullscreen(!ebiten.IsFullscreen())
	}
	a.handleQuickSlotKeys()

	// Apply mute when paused or menu shown; reset pacing on transitions
	muted := a.paused || a.showMenu
	if muted != a.audioMuted {
		a.audioMuted = muted
		a.lastTime = time.Now()
		a.frameAcc = 0
		if a.m != nil {
			a.m.APUClearAudioLatency()
		}
	}

	// If entering fast-forward, cap audio buffer so it doesn't lag; on exit, clear to resync
	if a.m != nil && prevFast != a.fast {
		if a.fast {
			a.m.APUCapBufferedStereo(1920) // ~40ms at 48kHz
			a.applyPlayerBufferSize()
		} else {
			a.m.APUClearAudioLatency()
			a.applyPlayerBufferSize()
		}
	}

	if a.showMenu {
		switch a.menuMode {
		case "main":
			a.updateMainMenu()
		case "slot":
			a.updateSlotMenu()
		case "rom":
			a.updateRomMenu()
		case "keys":
			a.updateKeysMenu()
		case "settings":
			a.updateSettingsMenu()
		}
	}

	if inpututil.IsKeyJustPressed(ebiten.KeyF12) {
		_ = a.saveScreenshot()
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyF8) {
		a.showStats = !a.showStats
	}

	// In DMG-on-CGB compatibility mode, allow quick palette cycling with [ and ]
	if a.m != nil && a.m.IsCGBCompat() {
		if inpututil.IsKeyJustPressed(ebiten.KeyBracketLeft) {
			a.cyclePalette(-1)
		}
		if inpututil.IsKeyJustPressed(ebiten.KeyBracketRight) {
			a.cyclePalette(+1)
		}
	}

	a.stepEmulation()

	return nil
}

func (a *App) readButtons() emu.Buttons {
	var btn emu.Buttons
	btn.Right = ebiten.IsKeyPressed(ebiten.KeyRight)
	btn.Left = ebiten.IsKeyPressed(ebiten.KeyLeft)
	btn.Up = ebiten.IsKeyPressed(ebiten.KeyUp)
	btn.Down = ebiten.IsKeyPressed(ebiten.KeyDown)
	btn.A = ebiten.IsKeyPressed(ebiten.KeyZ)
	btn.B = ebiten.IsKeyPressed(ebiten.KeyX)
	btn.Start = ebiten.IsKeyPressed(ebiten.KeyEnter)
	btn.Select = ebiten.IsKeyPressed(ebiten.KeyShiftRight)
	return btn
}

func (a *App) handleQuickSlotKeys() {
	for i, key := range []ebiten.Key{ebiten.Key1, ebiten.Key2, ebiten.Key3, ebiten.Key4} {
		if inpututil.IsKeyJustPressed(key) {
			a.currentSlot = i
			a.toast(fmt.Sprintf("Slot set to %d", i+1))
		}
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyF5) {
		if err := a.saveSlot(a.currentSlot); err == nil {
			a.toast(fmt.Sprintf("Saved slot %d", a.currentSlot+1))
		} else {
			a.toast("Save failed: " + err.Error())
		}
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyF9) {
		if _, err := os.Stat(a.statePath(a.currentSlot)); err != nil {
			a.toast("Slot is empty")
		} else if err := a.loadSlot(a.currentSlot); err == nil {
			a.toast(fmt.Sprintf("Loaded slot %d", a.currentSlot+1))
		} else {
			a.toast("Load failed: " + err.Error())
		}
	}
}

// cyclePalette steps the DMG compatibility palette and remembers the choice per ROM.
func (a *App) cyclePalette(dir int) {
	a.m.CycleCompatPalette(dir)
	pid := a.m.CurrentCompatPalette()
	a.toast(fmt.Sprintf("Compat palette: %d - %s", pid, a.m.CompatPaletteName(pid)))
	if a.m.ROMPath() != "" {
		a.cfg.PerROMCompatPalette[a.m.ROMPath()] = pid
		a.saveSettings()
	}
}

// stepEmulation paces the core at ~59.7275 FPS via a time accumulator, decoupled
// from Ebiten's own update rate, and retunes the adaptive audio buffer target.
func (a *App) stepEmulation() {
	if a.showMenu || a.paused {
		return
	}
	now := time.Now()
	dt := now.Sub(a.lastTime).Seconds()
	if dt < 0 {
		dt = 0
	}
	a.lastTime = now
	const gbFps = 4194304.0 / 70224.0 // ~59.7275
	speed := 1.0
	if a.fast {
		speed = float64(max(2, a.turbo))
	}
	a.frameAcc += dt * gbFps * speed
	steps := 0
	for a.frameAcc >= 1.0 && steps < 10 { // cap to avoid spiral of death
		doRender := true
		if a.skipOn {
			if a.skipCtr < a.skipN {
				doRender = false
				a.skipCtr++
			} else {
				a.skipCtr = 0
			}
		}
		if doRender {
			a.m.StepFrame()
		} else {
			a.m.StepFrameNoRender()
		}
		a.frameAcc -= 1.0
		steps++
	}
	if a.cfg.AudioAdaptive && a.audioSrc != nil && !a.cfg.AudioLowLatency {
		maxFrames := 48000 * 200 / 1000 // ~9600
		if a.targetFrames > maxFrames {
			a.targetFrames = maxFrames
		}
		if a.audioSrc.underruns > 0 {
			a.stableTicks = 0
			a.targetFrames += 800
			if a.targetFrames > maxFrames {
				a.targetFrames = maxFrames
			}
			a.audioSrc.underruns = 0
		} else {
			a.stableTicks++
			if a.stableTicks > 90 { // decay a bit faster
				minFrames := 48000 * 40 / 1000 // ~40ms
				a.targetFrames -= 400
				if a.targetFrames < minFrames {
					a.targetFrames = minFrames
				}
				a.stableTicks = 0
			}
		}
	}
	target := a.targetFrames
	if a.cfg.AudioLowLatency {
		target = 48000 * 35 / 1000 // ~35ms
	}
	if a.fast {
		if ffTarget := 48000 * 30 / 1000; target > ffTarget { // ~30ms while fast-forwarding
			target = ffTarget
		}
	}
	buffered := a.m.APUBufferedStereo()
	if a.audioMuted && buffered > 1024 { // ~20ms
		a.audioMuted = false
	}
	if a.cfg.AudioLowLatency {
		if ceiling := target + 48000*10/1000; buffered > ceiling { // target +10ms
			a.m.APUCapBufferedStereo(ceiling)
		}
	}
}

func (a *App) Draw(screen *ebiten.Image) {
	if a.tex == nil {
		a.tex = ebiten.NewImage(160, 144)
	}
	a.tex.WritePixels(a.m.Framebuffer())

	offX, offY := 0, 0
	if a.cfg.ShellOverlay && a.shellImg != nil {
		sw, sh := a.shellImg.Bounds().Dx(), a.shellImg.Bounds().Dy()
		op := &ebiten.DrawImageOptions{}
		op.GeoM.Scale(float64(a.curW)/float64(sw), float64(a.curH)/float64(sh))
		screen.DrawImage(a.shellImg, op)
		offX, offY = shellInsetX, shellInsetY
	}
	gop := &ebiten.DrawImageOptions{}
	gop.GeoM.Translate(float64(offX), float64(offY))
	screen.DrawImage(a.tex, gop)

	if a.showStats {
		bf := a.m.APUBufferedStereo()
		ms := (bf * 1000) / 48000 // ~ms of audio buffered at 48kHz
		und, lp, lw := 0, 0, 0
		if a.audioSrc != nil {
			und = a.audioSrc.underruns
			lp = a.audioSrc.lastPulled
			lw = a.audioSrc.lastWant
		}
		ebitenutil.DebugPrintAt(screen, fmt.Sprintf("Buf: %d (~%dms)", bf, ms), 4, 4)
		ebitenutil.DebugPrintAt(screen, fmt.Sprintf("Under: %d  Read: %d/%d", und, lp, lw), 4, 18)
		ebitenutil.DebugPrintAt(screen, fmt.Sprintf("Turbo: x%d  Skip: %v", a.turbo, a.skipOn), 4, 32)
	}

	if a.toastMsg != "" && time.Now().Before(a.toastUntil) {
		msg := a.truncateText(a.toastMsg, a.maxCharsForText(6))
		ebitenutil.DebugPrintAt(screen, msg, 6, 4)
	}

	if a.showMenu {
		overlay := ebiten.NewImage(a.curW, a.curH)
		overlay.Fill(color.RGBA{0, 0, 0, 140})
		screen.DrawImage(overlay, nil)
		switch a.menuMode {
		case "main":
			a.drawMainMenu(screen)
		case "slot":
			a.drawSlotMenu(screen)
		case "rom":
			a.drawRomMenu(screen)
		case "keys":
			a.drawKeysMenu(screen)
		case "settings":
			a.drawSettingsMenu(screen)
		}
	}
}

func (a *App) Layout(outW, outH int) (int, int) { return a.curW, a.curH }

// toast displays a short message at the top-left.
func (a *App) toast(msg string) {
	a.toastMsg = msg
	a.toastUntil = time.Now().Add(2 * time.Second)
}

// maxCharsForText estimates how many characters fit on a line starting at left margin x,
// using a conservative ~6px per character for the debug font.
func (a *App) maxCharsForText(left int) int {
	w := a.curW - left - 4
	if w < 6 {
		return 1
	}
	return w / 6
}

// truncateText trims s to fit within max characters, appending "..." when truncated.
func (a *App) truncateText(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

// wrapText wraps a string into lines no longer than max characters, breaking at spaces when possible.
func (a *App) wrapText(s string, max int) []string {
	if max <= 0 {
		return []string{""}
	}
	var lines []string
	for len(s) > 0 {
		if len(s) <= max {
			lines = append(lines, s)
			break
		}
		cut := -1
		for i := max; i >= 0 && i < len(s); i-- {
			if s[i] == ' ' {
				cut = i
				break
			}
			if i == 0 {
				break
			}
		}
		if cut == -1 || cut == 0 {
			lines = append(lines, s[:max])
			s = s[max:]
			continue
		}
		lines = append(lines, strings.TrimRight(s[:cut], " "))
		s = strings.TrimLeft(s[cut+1:], " ")
	}
	return lines
}
