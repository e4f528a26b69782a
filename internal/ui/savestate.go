package ui

import (
	"fmt"
	"path/filepath"
)

// statePath returns the save-state file for a given slot: <ROMName>.slot<slot>.savestate
// next to the ROM itself, keeping states portable alongside the game they belong to.
func (a *App) statePath(slot int) string {
	base := "unknown"
	if a.m != nil && a.m.ROMPath() != "" {
		base = a.m.ROMPath()
	}
	dir := filepath.Dir(base)
	name := filepath.Base(base)
	return filepath.Join(dir, fmt.Sprintf("%s.slot%d.savestate", name, slot))
}

func (a *App) saveSlot(slot int) error {
	return a.m.SaveStateToFile(a.statePath(slot))
}

func (a *App) loadSlot(slot int) error {
	return a.m.LoadStateFromFile(a.statePath(slot))
}
