// Package window tracks the overlay window's desired geometry. Actual
// rendering is done by an external collaborator; this package owns the
// bounds arithmetic (nudging, resizing, clamping to the virtual screen) and
// hands the resulting rectangle to whoever draws.
package window

import (
	"image"
	"sync"
)

const (
	DefaultWidth  = 600
	DefaultHeight = 420
	DefaultStep   = 50
)

// Manager holds the overlay's tracked bounds and visibility.
type Manager struct {
	mu      sync.Mutex
	display image.Rectangle
	bounds  image.Rectangle
	visible bool
	step    int
}

// Direction is a nudge direction for the move commands.
type Direction int

const (
	Left Direction = iota
	Right
	Up
	Down
)

// New creates a manager for a display of the given bounds, with the overlay
// centered and visible.
func New(display image.Rectangle) *Manager {
	m := &Manager{
		display: display,
		visible: true,
		step:    DefaultStep,
	}
	m.bounds = m.centered(DefaultWidth, DefaultHeight)
	return m
}

// Bounds returns the current tracked rectangle.
func (m *Manager) Bounds() image.Rectangle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bounds
}

// Visible reports whether the overlay should currently be shown.
func (m *Manager) Visible() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.visible
}

// ToggleVisible flips visibility and returns the new value.
func (m *Manager) ToggleVisible() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.visible = !m.visible
	return m.visible
}

// Move nudges the overlay one step in dir, clamped to the display.
func (m *Manager) Move(dir Direction) image.Rectangle {
	m.mu.Lock()
	defer m.mu.Unlock()

	dx, dy := 0, 0
	switch dir {
	case Left:
		dx = -m.step
	case Right:
		dx = m.step
	case Up:
		dy = -m.step
	case Down:
		dy = m.step
	}
	m.bounds = clamp(m.bounds.Add(image.Pt(dx, dy)), m.display)
	return m.bounds
}

// Resize changes the overlay size keeping its top-left corner, clamped to
// the display. Non-positive dimensions are ignored.
func (m *Manager) Resize(width, height int) image.Rectangle {
	m.mu.Lock()
	defer m.mu.Unlock()
	if width <= 0 || height <= 0 {
		return m.bounds
	}
	if width > m.display.Dx() {
		width = m.display.Dx()
	}
	if height > m.display.Dy() {
		height = m.display.Dy()
	}
	r := image.Rect(m.bounds.Min.X, m.bounds.Min.Y,
		m.bounds.Min.X+width, m.bounds.Min.Y+height)
	m.bounds = clamp(r, m.display)
	return m.bounds
}

// Center recenters the overlay at its current size.
func (m *Manager) Center() image.Rectangle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bounds = m.centered(m.bounds.Dx(), m.bounds.Dy())
	return m.bounds
}

func (m *Manager) centered(width, height int) image.Rectangle {
	if width > m.display.Dx() {
		width = m.display.Dx()
	}
	if height > m.display.Dy() {
		height = m.display.Dy()
	}
	x := m.display.Min.X + (m.display.Dx()-width)/2
	y := m.display.Min.Y + (m.display.Dy()-height)/2
	return image.Rect(x, y, x+width, y+height)
}

// clamp slides r back inside display without shrinking it.
func clamp(r, display image.Rectangle) image.Rectangle {
	if r.Min.X < display.Min.X {
		r = r.Add(image.Pt(display.Min.X-r.Min.X, 0))
	}
	if r.Min.Y < display.Min.Y {
		r = r.Add(image.Pt(0, display.Min.Y-r.Min.Y))
	}
	if r.Max.X > display.Max.X {
		r = r.Add(image.Pt(display.Max.X-r.Max.X, 0))
	}
	if r.Max.Y > display.Max.Y {
		r = r.Add(image.Pt(0, display.Max.Y-r.Max.Y))
	}
	return r
}
