package delivery

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"unicode"
)

// Backend is one keystroke-injection mechanism.
type Backend interface {
	Name() string
	Available() bool
	// Type injects the text as individual keystrokes.
	Type(text string) error
	// PasteKey presses a shortcut like "ctrl+v".
	PasteKey(combo string) error
}

// commandRunner executes one external command. Swapped out in tests.
type commandRunner func(path string, args ...string) error

func runCommand(path string, args ...string) error {
	out, err := exec.Command(path, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w (%s)", path, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// typeDelayMS spreads the whole text over roughly 600ms, keeping each
// keystroke between 20 and 80ms so short texts do not hammer the
// focused application.
func typeDelayMS(text string) int {
	chars := 0
	for _, r := range text {
		if !unicode.IsSpace(r) {
			chars++
		}
	}
	if chars <= 0 {
		return 60
	}
	delay := 600 / chars
	if delay < 20 {
		delay = 20
	}
	if delay > 80 {
		delay = 80
	}
	return delay
}

// parseCombo splits "ctrl+shift+v" into modifiers and the final key.
func parseCombo(combo string) (mods []string, key string) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(combo)), "+")
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if i == len(parts)-1 {
			key = part
		} else {
			mods = append(mods, part)
		}
	}
	return mods, key
}

// xdotoolBackend drives the X11 xdotool utility.
type xdotoolBackend struct {
	path string
	run  commandRunner
}

func (b *xdotoolBackend) Name() string    { return "xdotool" }
func (b *xdotoolBackend) Available() bool { return b.path != "" }

func (b *xdotoolBackend) Type(text string) error {
	if b.path == "" {
		return fmt.Errorf("xdotool not found")
	}
	return b.run(b.path, "type", "--clearmodifiers",
		"--delay", strconv.Itoa(typeDelayMS(text)), text)
}

func (b *xdotoolBackend) PasteKey(combo string) error {
	if b.path == "" {
		return fmt.Errorf("xdotool not found")
	}
	return b.run(b.path, "key", "--clearmodifiers", combo)
}

// wtypeBackend drives the Wayland wtype utility.
type wtypeBackend struct {
	path string
	run  commandRunner
}

func (b *wtypeBackend) Name() string    { return "wtype" }
func (b *wtypeBackend) Available() bool { return b.path != "" }

func (b *wtypeBackend) Type(text string) error {
	if b.path == "" {
		return fmt.Errorf("wtype not found")
	}
	args := []string{}
	if strings.HasPrefix(text, "-") {
		args = append(args, "--")
	}
	args = append(args, text)
	return b.run(b.path, args...)
}

// wtype modifier names differ from the X11 ones.
var wtypeModifiers = map[string]string{
	"ctrl":  "ctrl",
	"shift": "shift",
	"alt":   "alt",
	"super": "logo",
}

var wtypeKeys = map[string]string{
	"enter":  "Return",
	"return": "Return",
	"tab":    "Tab",
	"space":  "space",
}

func (b *wtypeBackend) PasteKey(combo string) error {
	if b.path == "" {
		return fmt.Errorf("wtype not found")
	}
	mods, key := parseCombo(combo)
	if key == "" {
		return fmt.Errorf("empty key combo %q", combo)
	}
	var args []string
	for _, mod := range mods {
		if mapped, ok := wtypeModifiers[mod]; ok {
			args = append(args, "-M", mapped)
		}
	}
	if mapped, ok := wtypeKeys[key]; ok {
		key = mapped
	}
	args = append(args, key)
	for i := len(mods) - 1; i >= 0; i-- {
		if mapped, ok := wtypeModifiers[mods[i]]; ok {
			args = append(args, "-m", mapped)
		}
	}
	return b.run(b.path, args...)
}

// isWayland reports whether the current session runs under Wayland.
func isWayland() bool {
	if os.Getenv("WAYLAND_DISPLAY") != "" {
		return true
	}
	return strings.EqualFold(os.Getenv("XDG_SESSION_TYPE"), "wayland")
}

// RankedBackends probes PATH and returns the injection backends in
// preference order. Wayland sessions prefer wtype; X11 prefers
// xdotool. Unavailable backends are excluded.
func RankedBackends() []Backend {
	xdoPath, _ := exec.LookPath("xdotool")
	wtypePath, _ := exec.LookPath("wtype")

	xdo := &xdotoolBackend{path: xdoPath, run: runCommand}
	wty := &wtypeBackend{path: wtypePath, run: runCommand}

	var ranked []Backend
	if isWayland() {
		ranked = []Backend{wty, xdo}
	} else {
		ranked = []Backend{xdo, wty}
	}

	out := ranked[:0]
	for _, b := range ranked {
		if b.Available() {
			out = append(out, b)
		}
	}
	return out
}
