// Package gbcore is the root of a Game Boy / Game Boy Color emulator core.
//
// The CPU, Bus, PPU, APU, and the smaller peripherals (timer, joypad,
// serial, interrupt controller) each live in their own internal/ package;
// internal/emu wires them together into a Machine that internal/ui and
// cmd/gbemu drive.
package gbcore
