package events

import "screen-solver-llm/src/llm"

// Kind identifies a lifecycle event emitted by the processing pipeline.
// The string values are the wire names the UI layer keys its handlers on.
type Kind string

const (
	KindInitialStart         Kind = "INITIAL_START"
	KindNoScreenshots        Kind = "NO_SCREENSHOTS"
	KindProblemExtracted     Kind = "PROBLEM_EXTRACTED"
	KindSolutionSuccess      Kind = "SOLUTION_SUCCESS"
	KindInitialSolutionError Kind = "INITIAL_SOLUTION_ERROR"
	KindOutOfCredits         Kind = "API_KEY_OUT_OF_CREDITS"
	KindInvalidKey           Kind = "API_KEY_INVALID"
	KindDebugStart           Kind = "DEBUG_START"
	KindDebugSuccess         Kind = "DEBUG_SUCCESS"
	KindDebugError           Kind = "DEBUG_ERROR"
	KindResetView            Kind = "reset-view"
	KindReset                Kind = "reset"
)

// Event is one lifecycle notification. Exactly one payload field is set,
// matching the Kind; Message carries human-readable detail for error kinds.
type Event struct {
	Kind      Kind
	Problem   *llm.ProblemInfo
	Solutions *llm.Solutions
	Debug     *llm.DebugSolutions
	Message   string
}
