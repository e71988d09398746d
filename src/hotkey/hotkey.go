// Package hotkey registers global key combinations and forwards presses to
// callbacks. Callbacks run on the hook goroutine; they should only post into
// the event loop, never do work.
package hotkey

import (
	"fmt"
	"log"
	"strings"

	hook "github.com/robotn/gohook"
)

// Bind registers combo (e.g. "Ctrl+Alt+H") for callback cb. All binds must
// happen before Start.
func Bind(combo string, cb func()) error {
	keys, err := ParseCombo(combo)
	if err != nil {
		return err
	}
	hook.Register(hook.KeyDown, keys, func(e hook.Event) {
		log.Printf("Hotkey: %s pressed", combo)
		cb()
	})
	log.Printf("Hotkey: bound %s as %v", combo, keys)
	return nil
}

// Start begins delivering hook events in the background.
func Start() {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("PANIC in hotkey goroutine: %v", r)
			}
		}()
		s := hook.Start()
		<-hook.Process(s)
	}()
}

// Stop tears the hook down.
func Stop() {
	hook.End()
}

// ParseCombo normalizes "Ctrl+Alt+H" into the lowercase key names gohook
// expects, in modifier-first order as written.
func ParseCombo(combo string) ([]string, error) {
	parts := strings.Split(combo, "+")
	keys := make([]string, 0, len(parts))
	for _, part := range parts {
		name := normalizeKey(part)
		if name == "" {
			return nil, fmt.Errorf("empty key in hotkey %q", combo)
		}
		keys = append(keys, name)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("empty hotkey")
	}
	return keys, nil
}

func normalizeKey(part string) string {
	name := strings.ToLower(strings.TrimSpace(part))
	switch name {
	case "control":
		return "ctrl"
	case "command", "super", "win", "windows":
		return "cmd"
	case "option":
		return "alt"
	case "return":
		return "enter"
	case "escape":
		return "esc"
	default:
		return name
	}
}
