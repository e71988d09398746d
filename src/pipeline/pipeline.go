// Package pipeline orchestrates the screenshot-to-solution flow: it reads
// the active queue, drives the Analysis Client through extraction and
// generation, publishes lifecycle events in a fixed order, and owns the
// small amount of shared state (View, ProblemInfo, hasDebugged) everything
// else only observes.
package pipeline

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/google/uuid"

	"screen-solver-llm/src/events"
	"screen-solver-llm/src/llm"
	"screen-solver-llm/src/store"
)

// View is the UI mode the pipeline has decided on.
type View string

const (
	ViewQueue     View = "queue"
	ViewSolutions View = "solutions"
)

// Store is the slice of the screenshot store the pipeline needs.
type Store interface {
	Paths(q store.Queue) []string
	Load(paths []string) ([][]byte, error)
	Clear() error
}

// Client is the Analysis Client boundary.
type Client interface {
	ExtractProblem(ctx context.Context, images [][]byte) (*llm.ProblemInfo, error)
	GenerateSolutions(ctx context.Context, info *llm.ProblemInfo) (*llm.Solutions, error)
	GenerateDebugSolutions(ctx context.Context, images [][]byte, info *llm.ProblemInfo) (*llm.DebugSolutions, error)
}

// ErrRunInFlight is returned when a run of the same queue kind is already
// active. Callers gate on Busy before submitting, so hitting this is a bug
// upstream, not a user-visible condition.
var ErrRunInFlight = errors.New("a run of this kind is already in flight")

// ErrNoProblemInfo is returned by a debug run started before any main run
// has extracted a problem.
var ErrNoProblemInfo = errors.New("no problem info available; process the main queue first")

// handle is one in-flight run. The id is what makes late responses
// detectable: a run only touches shared state while its id is still the
// registered handle for its queue kind.
type handle struct {
	id     uuid.UUID
	cancel context.CancelFunc
}

// Pipeline is the processing state machine. At most one handle exists per
// queue kind; ProblemInfo, View and hasDebugged are mutated only from
// within a run or from Cancel/Reset.
type Pipeline struct {
	st  Store
	cl  Client
	bus *events.Bus

	mu          sync.Mutex
	view        View
	problem     *llm.ProblemInfo
	hasDebugged bool
	handles     map[store.Queue]*handle
}

// New creates an idle pipeline showing the queue view.
func New(st Store, cl Client, bus *events.Bus) *Pipeline {
	return &Pipeline{
		st:      st,
		cl:      cl,
		bus:     bus,
		view:    ViewQueue,
		handles: make(map[store.Queue]*handle),
	}
}

// View returns the current UI mode.
func (p *Pipeline) View() View {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.view
}

// Problem returns the last extracted problem, or nil.
func (p *Pipeline) Problem() *llm.ProblemInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.problem
}

// HasDebugged reports whether a debug run has completed since the last
// cancel/reset.
func (p *Pipeline) HasDebugged() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasDebugged
}

// Busy reports whether a run of queue kind q is in flight.
func (p *Pipeline) Busy(q store.Queue) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handles[q] != nil
}

// Run executes one pipeline pass over queue kind q. It blocks until the run
// reaches a terminal state and always emits exactly one terminal event; a
// refused duplicate never starts and emits nothing at all. Errors are
// returned for logging only, never left unhandled.
func (p *Pipeline) Run(ctx context.Context, q store.Queue) error {
	if q == store.QueueExtra {
		return p.runDebug(ctx)
	}
	return p.runInitial(ctx)
}

func (p *Pipeline) runInitial(ctx context.Context) error {
	// Register the handle before anything is emitted: a refused duplicate is
	// not a run and must not leave a dangling start event behind.
	runCtx, id, err := p.begin(ctx, store.QueueMain)
	if err != nil {
		return err
	}
	defer p.end(store.QueueMain, id)

	p.bus.Publish(events.Event{Kind: events.KindInitialStart})

	paths := p.st.Paths(store.QueueMain)
	if len(paths) == 0 {
		p.bus.Publish(events.Event{Kind: events.KindNoScreenshots})
		return nil
	}

	images, err := p.st.Load(paths)
	if p.stale(store.QueueMain, id, runCtx) {
		return nil
	}
	if err != nil {
		p.failInitial(id, runCtx, err)
		return err
	}

	info, err := p.cl.ExtractProblem(runCtx, images)
	if p.stale(store.QueueMain, id, runCtx) {
		return nil
	}
	if err != nil {
		p.failInitial(id, runCtx, err)
		return err
	}

	if !p.commit(store.QueueMain, id, runCtx, func() { p.problem = info }) {
		return nil
	}
	p.bus.Publish(events.Event{Kind: events.KindProblemExtracted, Problem: info})

	sol, err := p.cl.GenerateSolutions(runCtx, info)
	if p.stale(store.QueueMain, id, runCtx) {
		return nil
	}
	if err != nil {
		p.failInitial(id, runCtx, err)
		return err
	}

	if !p.commit(store.QueueMain, id, runCtx, func() { p.view = ViewSolutions }) {
		return nil
	}
	p.bus.Publish(events.Event{Kind: events.KindSolutionSuccess, Solutions: sol})
	return nil
}

// runDebug processes the extra queue. The Analysis Client sees the main
// queue's screenshots first, then the extra queue's, each in insertion
// order, together with the problem extracted by the last main run.
func (p *Pipeline) runDebug(ctx context.Context) error {
	runCtx, id, err := p.begin(ctx, store.QueueExtra)
	if err != nil {
		return err
	}
	defer p.end(store.QueueExtra, id)

	p.bus.Publish(events.Event{Kind: events.KindDebugStart})

	extra := p.st.Paths(store.QueueExtra)
	if len(extra) == 0 {
		p.bus.Publish(events.Event{Kind: events.KindNoScreenshots})
		return nil
	}
	paths := append(p.st.Paths(store.QueueMain), extra...)

	images, err := p.st.Load(paths)
	if p.stale(store.QueueExtra, id, runCtx) {
		return nil
	}
	if err != nil {
		p.failDebug(id, runCtx, err)
		return err
	}

	// A cleared or never-extracted problem is a local failure; the Analysis
	// Client is not contacted.
	var info *llm.ProblemInfo
	if !p.commit(store.QueueExtra, id, runCtx, func() { info = p.problem }) {
		return nil
	}
	if info == nil {
		p.failDebug(id, runCtx, ErrNoProblemInfo)
		return ErrNoProblemInfo
	}

	dbg, err := p.cl.GenerateDebugSolutions(runCtx, images, info)
	if p.stale(store.QueueExtra, id, runCtx) {
		return nil
	}
	if err != nil {
		p.failDebug(id, runCtx, err)
		return err
	}

	if !p.commit(store.QueueExtra, id, runCtx, func() { p.hasDebugged = true }) {
		return nil
	}
	p.bus.Publish(events.Event{Kind: events.KindDebugSuccess, Debug: dbg})
	return nil
}

// Cancel signals both in-flight runs (if any) to stop, clears the extracted
// problem and the debugged flag, and reports the stop to observers. It is
// idempotent and returns without waiting for the underlying calls to
// unwind; their late results are discarded by the stale-run check.
func (p *Pipeline) Cancel() {
	p.mu.Lock()
	active := false
	for q, h := range p.handles {
		if h != nil {
			h.cancel()
			delete(p.handles, q)
			active = true
		}
	}
	// Discarding the problem forces the queue view; the solutions view is
	// only ever shown with a problem behind it.
	p.view = ViewQueue
	p.problem = nil
	p.hasDebugged = false
	p.mu.Unlock()

	if active {
		log.Printf("Pipeline: cancelled in-flight processing")
		p.bus.Publish(events.Event{Kind: events.KindNoScreenshots})
	}
}

// Reset clears both screenshot queues, forces the queue view, and emits
// reset-view followed by reset. Observers rely on that order: the view
// signal always precedes the general one.
func (p *Pipeline) Reset() error {
	err := p.st.Clear()

	p.mu.Lock()
	p.view = ViewQueue
	p.problem = nil
	p.hasDebugged = false
	p.mu.Unlock()

	p.bus.Publish(events.Event{Kind: events.KindResetView})
	p.bus.Publish(events.Event{Kind: events.KindReset})
	return err
}

// begin registers a new handle for q, derived from ctx. Fails if a run of
// the same kind is already registered.
func (p *Pipeline) begin(ctx context.Context, q store.Queue) (context.Context, uuid.UUID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handles[q] != nil {
		return nil, uuid.Nil, ErrRunInFlight
	}
	runCtx, cancel := context.WithCancel(ctx)
	id := uuid.New()
	p.handles[q] = &handle{id: id, cancel: cancel}
	return runCtx, id, nil
}

// end releases the handle, but only if it still belongs to this run: a
// cancel that already removed it (or a later run's handle) is left alone.
func (p *Pipeline) end(q store.Queue, id uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if h := p.handles[q]; h != nil && h.id == id {
		h.cancel()
		delete(p.handles, q)
	}
}

// commit runs fn under the state lock, but only while this run still owns
// the registered handle for q and its context is live. The ownership check
// and the mutation happen in one critical section, so a concurrent Cancel
// can never land between them. Returns whether fn ran; callers publish only
// after a successful commit. A stale run emits nothing further; Cancel
// already informed observers.
func (p *Pipeline) commit(q store.Queue, id uuid.UUID, runCtx context.Context, fn func()) bool {
	if runCtx.Err() != nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if h := p.handles[q]; h == nil || h.id != id {
		return false
	}
	fn()
	return true
}

// stale is the no-mutation form of commit.
func (p *Pipeline) stale(q store.Queue, id uuid.UUID, runCtx context.Context) bool {
	return !p.commit(q, id, runCtx, func() {})
}

// failInitial converts a main-run failure into its terminal event and
// restores the queue view. Both are skipped when the run has gone stale.
func (p *Pipeline) failInitial(id uuid.UUID, runCtx context.Context, err error) {
	if !p.commit(store.QueueMain, id, runCtx, func() { p.view = ViewQueue }) {
		return
	}
	p.bus.Publish(classify(err, events.KindInitialSolutionError))
}

// failDebug does the same for debug runs. Credit/auth failures keep their
// dedicated events in both variants.
func (p *Pipeline) failDebug(id uuid.UUID, runCtx context.Context, err error) {
	if !p.commit(store.QueueExtra, id, runCtx, func() { p.view = ViewQueue }) {
		return
	}
	p.bus.Publish(classify(err, events.KindDebugError))
}

// classify maps an error to its terminal event, using the Analysis Client's
// typed kinds for the two credential conditions and the run-specific
// generic event for everything else.
func classify(err error, generic events.Kind) events.Event {
	var ce *llm.ClientError
	if errors.As(err, &ce) {
		switch ce.Kind {
		case llm.ErrorOutOfCredits:
			return events.Event{Kind: events.KindOutOfCredits, Message: ce.Message}
		case llm.ErrorInvalidKey:
			return events.Event{Kind: events.KindInvalidKey, Message: ce.Message}
		}
	}
	return events.Event{Kind: generic, Message: err.Error()}
}
