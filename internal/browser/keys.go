package browser

import (
	"fmt"

	"github.com/go-rod/rod/lib/input"
)

// namedKeys maps DOM key names, plus a few common aliases, onto rod's US layout.
var namedKeys = map[string]input.Key{
	"Enter":       input.Enter,
	"Tab":         input.Tab,
	"Backspace":   input.Backspace,
	"Escape":      input.Escape,
	"Delete":      input.Delete,
	"Insert":      input.Insert,
	"Home":        input.Home,
	"End":         input.End,
	"PageUp":      input.PageUp,
	"PageDown":    input.PageDown,
	"ArrowLeft":   input.ArrowLeft,
	"ArrowUp":     input.ArrowUp,
	"ArrowRight":  input.ArrowRight,
	"ArrowDown":   input.ArrowDown,
	"Shift":       input.ShiftLeft,
	"Control":     input.ControlLeft,
	"Alt":         input.AltLeft,
	"Meta":        input.MetaLeft,
	"AltGraph":    input.AltGraph,
	"CapsLock":    input.CapsLock,
	"NumLock":     input.NumLock,
	"ScrollLock":  input.ScrollLock,
	"ContextMenu": input.ContextMenu,
	"PrintScreen": input.PrintScreen,
	"Pause":       input.Pause,
	"F1":          input.F1,
	"F2":          input.F2,
	"F3":          input.F3,
	"F4":          input.F4,
	"F5":          input.F5,
	"F6":          input.F6,
	"F7":          input.F7,
	"F8":          input.F8,
	"F9":          input.F9,
	"F10":         input.F10,
	"F11":         input.F11,
	"F12":         input.F12,

	"Space":  input.Space,
	"Esc":    input.Escape,
	"Return": input.Enter,
	"Ctrl":   input.ControlLeft,
	"Cmd":    input.MetaLeft,
	"Left":   input.ArrowLeft,
	"Right":  input.ArrowRight,
	"Up":     input.ArrowUp,
	"Down":   input.ArrowDown,
	"\r":     input.Enter,
	"\n":     input.Enter,
	"\t":     input.Tab,
}

// ResolveKey maps a DOM key name or a single printable ASCII character to a
// rod key. Every printable ASCII character, shifted or not, is on the US layout.
func ResolveKey(name string) (input.Key, error) {
	if k, ok := namedKeys[name]; ok {
		return k, nil
	}
	if len(name) == 1 && name[0] >= ' ' && name[0] <= '~' {
		return input.Key(name[0]), nil
	}
	return 0, fmt.Errorf("unknown key %q", name)
}
