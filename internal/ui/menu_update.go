package ui

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
)

func (a *App) updateMainMenu() {
	const lastEntry = 6
	if inpututil.IsKeyJustPressed(ebiten.KeyArrowUp) && a.menuIdx > 0 {
		a.menuIdx--
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyArrowDown) && a.menuIdx < lastEntry {
		a.menuIdx++
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyEnter) {
		switch a.menuIdx {
		case 0:
			if err := a.saveSlot(a.currentSlot); err == nil {
				a.toast(fmt.Sprintf("Saved slot %d", a.currentSlot+1))
			} else {
				a.toast("Save failed: " + err.Error())
			}
		case 1:
			if _, err := os.Stat(a.statePath(a.currentSlot)); err != nil {
				a.toast("Slot is empty")
			} else if err := a.loadSlot(a.currentSlot); err == nil {
				a.toast(fmt.Sprintf("Loaded slot %d", a.currentSlot+1))
			} else {
				a.toast("Load failed: " + err.Error())
			}
		case 2:
			a.menuMode = "slot"
			a.menuIdx = a.currentSlot
		case 3:
			a.romList = a.findROMs()
			a.romSel = 0
			a.romOff = 0
			a.menuMode = "rom"
		case 4:
			a.menuMode = "settings"
			a.menuIdx = 0
			a.editingROMDir = false
		case 5:
			a.menuMode = "keys"
			a.keysOff = 0
		case 6:
			a.showMenu = false
		}
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyBackspace) {
		a.showMenu = false
	}
}

func (a *App) updateSlotMenu() {
	if inpututil.IsKeyJustPressed(ebiten.KeyArrowUp) && a.menuIdx > 0 {
		a.menuIdx--
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyArrowDown) && a.menuIdx < 3 {
		a.menuIdx++
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyEnter) {
		a.currentSlot = a.menuIdx
		a.toast(fmt.Sprintf("Slot set to %d", a.currentSlot+1))
		a.menuMode = "main"
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyEscape) || inpututil.IsKeyJustPressed(ebiten.KeyBackspace) {
		a.menuMode = "main"
	}
}

func (a *App) updateRomMenu() {
	n := len(a.romList)
	if n == 0 {
		if inpututil.IsKeyJustPressed(ebiten.KeyEnter) || inpututil.IsKeyJustPressed(ebiten.KeyEscape) || inpututil.IsKeyJustPressed(ebiten.KeyBackspace) {
			a.menuMode = "main"
		}
		return
	}
	baseY := 28
	maxRows := (a.curH - baseY) / 14
	if maxRows < 1 {
		maxRows = 1
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyArrowUp) && a.romSel > 0 {
		a.romSel--
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyArrowDown) && a.romSel < n-1 {
		a.romSel++
	}
	if a.romSel < a.romOff {
		a.romOff = a.romSel
	}
	if a.romSel >= a.romOff+maxRows {
		a.romOff = a.romSel - maxRows + 1
	}
	if a.romOff < 0 {
		a.romOff = 0
	}
	if a.romOff > n-1 {
		a.romOff = n - 1
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyEnter) {
		a.loadSelectedROM(a.romList[a.romSel])
		a.menuMode = "main"
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyEscape) || inpututil.IsKeyJustPressed(ebiten.KeyBackspace) {
		a.menuMode = "main"
	}
}

// loadSelectedROM loads path into the running machine, restoring its battery
// save and any remembered per-ROM compatibility palette.
func (a *App) loadSelectedROM(path string) {
	if err := a.m.LoadROMFromFile(path); err != nil {
		a.toast("ROM load failed: " + err.Error())
		return
	}
	a.toast("Loaded ROM: " + filepath.Base(path))
	if strings.HasSuffix(strings.ToLower(path), ".gb") {
		sav := strings.TrimSuffix(path, ".gb") + ".sav"
		if data, err := os.ReadFile(sav); err == nil {
			_ = a.m.LoadBattery(data)
		}
	}
	if a.m.WantCGBColors() && !a.m.UseCGBBG() {
		a.m.ResetCGBPostBoot(true)
	}
	a.setWindowTitleForROM()
	if a.m.IsCGBCompat() && a.cfg.PerROMCompatPalette != nil {
		if pid, ok := a.cfg.PerROMCompatPalette[path]; ok {
			a.m.SetCompatPalette(pid)
		}
	}
}

func (a *App) updateKeysMenu() {
	if inpututil.IsKeyJustPressed(ebiten.KeyArrowUp) && a.keysOff > 0 {
		a.keysOff--
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyArrowDown) {
		a.keysOff++
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyEnter) || inpututil.IsKeyJustPressed(ebiten.KeyEscape) || inpututil.IsKeyJustPressed(ebiten.KeyBackspace) {
		a.menuMode = "main"
	}
}

// settingsLayout computes the index each settings row occupies, since the
// Compat Palette row only exists in CGB compatibility mode.
type settingsLayout struct {
	compat       int // -1 if not present
	shellOverlay int
	shellSkin    int
	count        int
}

func (a *App) layoutSettings() settingsLayout {
	l := settingsLayout{compat: -1}
	next := 7 // Scale, Audio, Audio Adaptive, Low-Latency, BG Renderer, ROMs Dir, CGB Colors
	if a.m != nil && a.m.IsCGBCompat() {
		l.compat = next
		next++
	}
	l.shellOverlay = next
	next++
	l.shellSkin = next
	next++
	l.count = next
	return l
}

func (a *App) updateSettingsMenu() {
	lay := a.layoutSettings()
	if !a.editingROMDir {
		if inpututil.IsKeyJustPressed(ebiten.KeyArrowUp) && a.menuIdx > 0 {
			a.menuIdx--
		}
		if inpututil.IsKeyJustPressed(ebiten.KeyArrowDown) && a.menuIdx < lay.count-1 {
			a.menuIdx++
		}
		title := "Settings (Up/Down select; Left/Right change; Enter: edit/apply; Backspace/Esc: back)"
		baseY := 10 + 14*len(a.wrapText(title, a.maxCharsForText(10))) + 14
		maxRows := (a.curH - baseY) / 14
		if maxRows < 1 {
			maxRows = 1
		}
		if a.menuIdx < a.settingsOff {
			a.settingsOff = a.menuIdx
		}
		if a.menuIdx >= a.settingsOff+maxRows {
			a.settingsOff = a.menuIdx - maxRows + 1
		}
	}
	leftRight := inpututil.IsKeyJustPressed(ebiten.KeyArrowLeft) || inpututil.IsKeyJustPressed(ebiten.KeyArrowRight)
	switch {
	case a.menuIdx == 0 && !a.editingROMDir: // Scale
		if inpututil.IsKeyJustPressed(ebiten.KeyArrowLeft) && a.cfg.Scale > 1 {
			a.cfg.Scale--
			a.applyWindowSize()
		}
		if inpututil.IsKeyJustPressed(ebiten.KeyArrowRight) && a.cfg.Scale < 10 {
			a.cfg.Scale++
			a.applyWindowSize()
		}
	case a.menuIdx == 1 && !a.editingROMDir && leftRight: // Audio Output
		a.cfg.AudioStereo = !a.cfg.AudioStereo
		a.restartAudioStream()
	case a.menuIdx == 2 && !a.editingROMDir && leftRight: // Audio Adaptive
		a.cfg.AudioAdaptive = !a.cfg.AudioAdaptive
	case a.menuIdx == 3 && !a.editingROMDir && (leftRight || inpututil.IsKeyJustPressed(ebiten.KeyEnter)): // Low-Latency
		a.cfg.AudioLowLatency = !a.cfg.AudioLowLatency
		a.saveSettings()
		if a.m != nil && a.cfg.AudioLowLatency {
			a.m.APUCapBufferedStereo(1440) // ~30ms
		}
		if a.audioSrc != nil {
			a.audioSrc.lowLatency = a.cfg.AudioLowLatency
		}
		a.applyPlayerBufferSize()
	case a.menuIdx == 4 && !a.editingROMDir && (leftRight || inpututil.IsKeyJustPressed(ebiten.KeyEnter)): // BG Renderer
		a.cfg.UseFetcherBG = !a.cfg.UseFetcherBG
		if a.m != nil {
			a.m.SetUseFetcherBG(a.cfg.UseFetcherBG)
		}
		a.saveSettings()
	case a.menuIdx == 5: // ROMs Dir edit mode
		a.updateROMsDirEdit()
	case a.menuIdx == 6 && !a.editingROMDir && (leftRight || inpututil.IsKeyJustPressed(ebiten.KeyEnter)): // CGB Colors
		a.toggleCGBColors()
	case lay.compat >= 0 && a.menuIdx == lay.compat && !a.editingROMDir:
		if inpututil.IsKeyJustPressed(ebiten.KeyArrowLeft) {
			a.cyclePalette(-1)
		}
		if inpututil.IsKeyJustPressed(ebiten.KeyArrowRight) || inpututil.IsKeyJustPressed(ebiten.KeyEnter) {
			a.cyclePalette(+1)
		}
	case a.menuIdx == lay.shellOverlay && !a.editingROMDir && (leftRight || inpututil.IsKeyJustPressed(ebiten.KeyEnter)):
		a.cfg.ShellOverlay = !a.cfg.ShellOverlay
		a.loadShell()
		a.applyWindowSize()
		a.saveSettings()
	case a.menuIdx == lay.shellSkin && !a.editingROMDir:
		a.updateShellSkinSelect()
	}
	if !a.editingROMDir && (inpututil.IsKeyJustPressed(ebiten.KeyEnter) || inpututil.IsKeyJustPressed(ebiten.KeyEscape) || inpututil.IsKeyJustPressed(ebiten.KeyBackspace)) {
		a.menuMode = "main"
	}
}

func (a *App) restartAudioStream() {
	if a.audioPlayer != nil {
		a.audioPlayer.Close()
		a.audioPlayer = nil
	}
	for i := 0; i < 12; i++ {
		a.m.StepFrame()
	}
	a.audioSrc = &apuStream{m: a.m, mono: !a.cfg.AudioStereo, muted: &a.audioMuted, lowLatency: a.cfg.AudioLowLatency}
	if p, err := a.audioCtx.NewPlayer(a.audioSrc); err == nil {
		a.audioPlayer = p
		a.applyPlayerBufferSize()
		a.audioPlayer.Play()
	}
}

func (a *App) toggleCGBColors() {
	if a.m == nil {
		return
	}
	if !a.m.WantCGBColors() {
		a.m.SetUseCGBBG(true)
		if a.m.IsCGBCompat() {
			a.m.ResetCGBPostBoot(true)
		}
	} else {
		a.m.SetUseCGBBG(false)
		a.m.ResetPostBoot()
	}
}

func (a *App) updateROMsDirEdit() {
	if !a.editingROMDir {
		if inpututil.IsKeyJustPressed(ebiten.KeyEnter) {
			a.editingROMDir = true
			a.romDirInput = a.cfg.ROMsDir
		}
		if inpututil.IsKeyJustPressed(ebiten.KeyEscape) || inpututil.IsKeyJustPressed(ebiten.KeyBackspace) {
			a.menuMode = "main"
		}
		return
	}
	for _, r := range ebiten.InputChars() {
		if r != '\n' && r != '\r' {
			a.romDirInput += string(r)
		}
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyBackspace) && len(a.romDirInput) > 0 {
		a.romDirInput = a.romDirInput[:len(a.romDirInput)-1]
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyEnter) {
		if val := strings.TrimSpace(a.romDirInput); val != "" {
			a.cfg.ROMsDir = val
			a.saveSettings()
			a.romList = a.findROMs()
			a.toast("ROMs dir set")
		}
		a.editingROMDir = false
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyEscape) {
		a.editingROMDir = false
		a.romDirInput = a.cfg.ROMsDir
	}
}

func (a *App) updateShellSkinSelect() {
	if len(a.shellList) == 0 {
		return
	}
	dir := 0
	if inpututil.IsKeyJustPressed(ebiten.KeyArrowLeft) {
		dir = -1
	} else if inpututil.IsKeyJustPressed(ebiten.KeyArrowRight) || inpututil.IsKeyJustPressed(ebiten.KeyEnter) {
		dir = 1
	}
	if dir == 0 {
		return
	}
	a.shellIdx = (a.shellIdx + dir + len(a.shellList)) % len(a.shellList)
	a.cfg.ShellImage = a.shellList[a.shellIdx]
	a.loadShell()
	a.applyWindowSize()
	a.saveSettings()
	a.toast("Skin: " + filepath.Base(a.cfg.ShellImage))
}
