// Package toast maps pipeline lifecycle events to the short user-facing
// messages the presentation layer shows.
package toast

import (
	"log"

	"screen-solver-llm/src/events"
)

type Level int

const (
	Info Level = iota
	Success
	Error
)

// Toast is one user-facing notification.
type Toast struct {
	Level   Level
	Title   string
	Message string
}

// FromEvent converts a lifecycle event into its toast. The second return is
// false for events that carry no user-facing message of their own
// (extraction progress, the view-reset signal).
func FromEvent(ev events.Event) (Toast, bool) {
	switch ev.Kind {
	case events.KindInitialStart:
		return Toast{Info, "Processing", "Analyzing screenshots..."}, true
	case events.KindDebugStart:
		return Toast{Info, "Debugging", "Analyzing your attempt..."}, true
	case events.KindNoScreenshots:
		return Toast{Info, "Nothing to process", "Capture a screenshot first."}, true
	case events.KindSolutionSuccess:
		return Toast{Success, "Solution ready", "A solution has been generated."}, true
	case events.KindDebugSuccess:
		return Toast{Success, "Debug complete", "An improved solution is ready."}, true
	case events.KindOutOfCredits:
		return Toast{Error, "Out of credits", "Your API key is out of credits. Add credits to continue."}, true
	case events.KindInvalidKey:
		return Toast{Error, "Invalid API key", "The API key was rejected. Re-enter your key."}, true
	case events.KindInitialSolutionError:
		return Toast{Error, "Processing failed", ev.Message}, true
	case events.KindDebugError:
		return Toast{Error, "Debug failed", ev.Message}, true
	case events.KindReset:
		return Toast{Info, "Reset", "Queues cleared."}, true
	default:
		return Toast{}, false
	}
}

// Notify is the default presentation sink; platforms with real toast
// surfaces replace it at wiring time.
func Notify(t Toast) {
	log.Printf("Toast [%s]: %s: %s", t.Level, t.Title, t.Message)
}

func (l Level) String() string {
	switch l {
	case Success:
		return "success"
	case Error:
		return "error"
	default:
		return "info"
	}
}
