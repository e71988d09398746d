// Package eventloop is the command boundary: a single-threaded coordinator
// that turns inbound commands (hotkeys, tray, CLI) into pipeline, store and
// window calls, and turns pipeline events into presentation updates. No
// business logic lives here.
package eventloop

import (
	"context"
	"log"
	"sync"
	"time"

	"screen-solver-llm/src/events"
	"screen-solver-llm/src/pipeline"
	"screen-solver-llm/src/screenshot"
	"screen-solver-llm/src/store"
	"screen-solver-llm/src/toast"
	"screen-solver-llm/src/window"
	"screen-solver-llm/src/worker"
)

// Command is an inbound request to the loop.
type Command interface{ command() }

// Capture grabs a screenshot into the queue matching the current view.
type Capture struct{}

// Process runs the pipeline for the queue matching the current view.
type Process struct{}

// ResetAll cancels in-flight work, then clears queues and state.
type ResetAll struct{}

// DeleteScreenshot removes one stored screenshot by path.
type DeleteScreenshot struct{ Path string }

// MoveWindow nudges the overlay window.
type MoveWindow struct{ Dir window.Direction }

// ToggleWindow flips overlay visibility.
type ToggleWindow struct{}

// Quit stops the loop.
type Quit struct{}

func (Capture) command()          {}
func (Process) command()          {}
func (ResetAll) command()         {}
func (DeleteScreenshot) command() {}
func (MoveWindow) command()       {}
func (ToggleWindow) command()     {}
func (Quit) command()             {}

// Options wires the loop's collaborators. Capture, Notify, SetBusy and
// CopyText are optional; nil CopyText disables solution auto-copy.
type Options struct {
	Pipeline *pipeline.Pipeline
	Store    *store.Store
	Window   *window.Manager
	Bus      *events.Bus
	Deadline time.Duration

	Capture  func() ([]byte, error)
	Notify   func(toast.Toast)
	SetBusy  func(bool)
	CopyText func(string) error
}

// Loop is the resident coordinator.
type Loop struct {
	pipe     *pipeline.Pipeline
	st       *store.Store
	win      *window.Manager
	bus      *events.Bus
	pool     *worker.Pool
	deadline time.Duration

	capture  func() ([]byte, error)
	notify   func(toast.Toast)
	setBusy  func(bool)
	copyText func(string) error

	cmds      chan Command
	ready     chan struct{}
	readyOnce sync.Once

	// inflight marks queue kinds with a submitted run. It is set on the loop
	// goroutine before the job reaches the pool and cleared by the job, so
	// two quick Process commands can never both pass the gate.
	inflightMu sync.Mutex
	inflight   map[store.Queue]bool
}

// New creates a loop. A deadline <= 0 defaults to 60s per run.
func New(opts Options) *Loop {
	deadline := opts.Deadline
	if deadline <= 0 {
		deadline = 60 * time.Second
	}
	capture := opts.Capture
	if capture == nil {
		capture = screenshot.Capture
	}
	notify := opts.Notify
	if notify == nil {
		notify = toast.Notify
	}
	setBusy := opts.SetBusy
	if setBusy == nil {
		setBusy = func(bool) {}
	}
	return &Loop{
		pipe:     opts.Pipeline,
		st:       opts.Store,
		win:      opts.Window,
		bus:      opts.Bus,
		pool:     worker.New(2),
		deadline: deadline,
		capture:  capture,
		notify:   notify,
		setBusy:  setBusy,
		copyText: opts.CopyText,
		cmds:     make(chan Command, 8),
		ready:    make(chan struct{}),
		inflight: make(map[store.Queue]bool),
	}
}

// Post submits a command without blocking. Returns false when the loop's
// inbox is full and the command was dropped.
func (l *Loop) Post(cmd Command) bool {
	select {
	case l.cmds <- cmd:
		return true
	default:
		log.Printf("Loop: inbox full, dropped %T", cmd)
		return false
	}
}

// Ready returns a channel closed once the loop is serving commands. Callers
// that need first-use ordering wait on it once; there is no polling.
func (l *Loop) Ready() <-chan struct{} { return l.ready }

// Run serves commands and events until ctx is cancelled or Quit arrives.
func (l *Loop) Run(ctx context.Context) error {
	evCh, unsub := l.bus.Subscribe(16)
	defer unsub()
	defer l.pool.Close()

	l.readyOnce.Do(func() { close(l.ready) })

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-l.cmds:
			if stop := l.handleCommand(ctx, cmd); stop {
				return nil
			}
		case ev := <-evCh:
			l.handleEvent(ev)
		}
	}
}

// activeQueue maps the current view to the queue a command addresses: the
// queue view feeds the main queue, the solutions view feeds the extra one.
func (l *Loop) activeQueue() store.Queue {
	if l.pipe.View() == pipeline.ViewSolutions {
		return store.QueueExtra
	}
	return store.QueueMain
}

func (l *Loop) handleCommand(ctx context.Context, cmd Command) bool {
	switch c := cmd.(type) {
	case Capture:
		l.handleCapture()
	case Process:
		l.handleProcess(ctx)
	case ResetAll:
		l.pipe.Cancel()
		if err := l.pipe.Reset(); err != nil {
			log.Printf("Loop: reset left files behind: %v", err)
		}
	case DeleteScreenshot:
		if !l.st.Remove(c.Path) {
			log.Printf("Loop: delete for unknown screenshot %s", c.Path)
		}
	case MoveWindow:
		l.win.Move(c.Dir)
	case ToggleWindow:
		l.win.ToggleVisible()
	case Quit:
		return true
	}
	return false
}

func (l *Loop) handleCapture() {
	data, err := l.capture()
	if err != nil {
		log.Printf("Loop: capture failed: %v", err)
		l.notify(toast.Toast{Level: toast.Error, Title: "Capture failed", Message: err.Error()})
		return
	}
	q := l.activeQueue()
	path, err := l.st.Add(q, data)
	if err != nil {
		log.Printf("Loop: store failed: %v", err)
		l.notify(toast.Toast{Level: toast.Error, Title: "Capture failed", Message: err.Error()})
		return
	}
	log.Printf("Loop: captured %s into %s queue", path, q)
}

func (l *Loop) handleProcess(ctx context.Context) {
	q := l.activeQueue()
	if !l.acquire(q) {
		l.notify(toast.Toast{Level: toast.Info, Title: "Busy", Message: "Already processing, please wait."})
		return
	}

	submitted := l.pool.Submit(ctx, func(jctx context.Context) {
		defer l.release(q)
		runCtx, cancel := context.WithTimeout(jctx, l.deadline)
		defer cancel()
		if err := l.pipe.Run(runCtx, q); err != nil {
			log.Printf("Loop: run(%s) ended with: %v", q, err)
		}
	})
	if !submitted {
		l.release(q)
		l.notify(toast.Toast{Level: toast.Info, Title: "Busy", Message: "Already processing, please wait."})
	}
}

// acquire claims the in-flight slot for queue kind q.
func (l *Loop) acquire(q store.Queue) bool {
	l.inflightMu.Lock()
	defer l.inflightMu.Unlock()
	if l.inflight[q] {
		return false
	}
	l.inflight[q] = true
	return true
}

func (l *Loop) release(q store.Queue) {
	l.inflightMu.Lock()
	defer l.inflightMu.Unlock()
	delete(l.inflight, q)
}

func (l *Loop) handleEvent(ev events.Event) {
	switch ev.Kind {
	case events.KindInitialStart, events.KindDebugStart:
		l.setBusy(true)
	case events.KindNoScreenshots, events.KindSolutionSuccess, events.KindDebugSuccess,
		events.KindInitialSolutionError, events.KindDebugError,
		events.KindOutOfCredits, events.KindInvalidKey:
		l.setBusy(false)
	}

	if l.copyText != nil {
		switch {
		case ev.Kind == events.KindSolutionSuccess && ev.Solutions != nil:
			if err := l.copyText(ev.Solutions.Code); err != nil {
				log.Printf("Loop: clipboard write failed: %v", err)
			}
		case ev.Kind == events.KindDebugSuccess && ev.Debug != nil:
			if err := l.copyText(ev.Debug.NewCode); err != nil {
				log.Printf("Loop: clipboard write failed: %v", err)
			}
		}
	}

	if t, ok := toast.FromEvent(ev); ok {
		l.notify(t)
	}
}
