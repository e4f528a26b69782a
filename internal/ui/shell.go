package ui

import (
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hajimehoshi/ebiten/v2"
)

// Bezel margins reserved around the 160x144 game view when a shell skin overlay
// is active, so decorative artwork (buttons, case edges) has room to render.
const (
	shellInsetX = 24
	shellInsetY = 24
	shellExtraH = 40
)

// findShellSkins lists candidate PNG skins next to the configured shell image.
func (a *App) findShellSkins() []string {
	dir := filepath.Dir(a.cfg.ShellImage)
	if dir == "" || dir == "." {
		dir = "assets/skins"
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var skins []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".png") {
			continue
		}
		skins = append(skins, filepath.Join(dir, e.Name()))
	}
	sort.Strings(skins)
	return skins
}

// loadShell (re)loads the configured skin image, filling the skin list on first use.
// A missing or malformed skin just disables the overlay rather than failing startup.
func (a *App) loadShell() {
	if a.shellList == nil {
		a.shellList = a.findShellSkins()
	}
	for i, p := range a.shellList {
		if p == a.cfg.ShellImage {
			a.shellIdx = i
		}
	}
	a.shellImg = nil
	if !a.cfg.ShellOverlay {
		return
	}
	f, err := os.Open(a.cfg.ShellImage)
	if err != nil {
		slog.Debug("shell skin not found, disabling overlay", "path", a.cfg.ShellImage, "error", err)
		a.cfg.ShellOverlay = false
		return
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		slog.Debug("shell skin decode failed, disabling overlay", "path", a.cfg.ShellImage, "error", err)
		a.cfg.ShellOverlay = false
		return
	}
	a.shellImg = ebiten.NewImageFromImage(img)
}

// applyWindowSize resizes the window to the 160x144 game view, plus bezel
// space when a shell skin overlay is active, and updates the logical canvas
// size used by Layout and the menu's text-wrapping math.
func (a *App) applyWindowSize() {
	a.curW, a.curH = 160, 144
	if a.cfg.ShellOverlay && a.shellImg != nil {
		a.curW = 160 + 2*shellInsetX
		a.curH = 144 + 2*shellInsetY + shellExtraH
	}
	ebiten.SetWindowSize(a.curW*a.cfg.Scale, a.curH*a.cfg.Scale)
}
