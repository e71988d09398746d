// Package tray owns the system tray icon: a status tooltip and a Quit item.
package tray

import (
	"log"

	"github.com/getlantern/systray"
)

const defaultTooltip = "Screen Solver"

// Run starts the tray loop. It blocks until Quit is chosen or systray.Quit
// is called; onQuit fires exactly once when the user picks Quit.
func Run(onQuit func()) {
	systray.Run(func() {
		systray.SetTitle("Screen Solver")
		systray.SetTooltip(defaultTooltip)

		quit := systray.AddMenuItem("Quit", "Stop the resident assistant")
		go func() {
			<-quit.ClickedCh
			log.Printf("Tray: quit requested")
			if onQuit != nil {
				onQuit()
			}
			systray.Quit()
		}()
	}, func() {})
}

// SetBusy switches the tooltip between the idle and processing states.
func SetBusy(busy bool) {
	if busy {
		systray.SetTooltip("Screen Solver: processing...")
	} else {
		systray.SetTooltip(defaultTooltip)
	}
}

// Quit stops the tray loop.
func Quit() {
	systray.Quit()
}
