package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"screen-solver-llm/src/events"
	"screen-solver-llm/src/llm"
	"screen-solver-llm/src/store"
)

type fakeStore struct {
	mu      sync.Mutex
	main    []string
	extra   []string
	loadErr error
	cleared bool
}

func (f *fakeStore) Paths(q store.Queue) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if q == store.QueueExtra {
		return append([]string(nil), f.extra...)
	}
	return append([]string(nil), f.main...)
}

func (f *fakeStore) Load(paths []string) ([][]byte, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	out := make([][]byte, len(paths))
	for i, p := range paths {
		out[i] = []byte(p)
	}
	return out, nil
}

func (f *fakeStore) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.main = nil
	f.extra = nil
	f.cleared = true
	return nil
}

type fakeClient struct {
	extract func(ctx context.Context, images [][]byte) (*llm.ProblemInfo, error)
	solve   func(ctx context.Context, info *llm.ProblemInfo) (*llm.Solutions, error)
	debug   func(ctx context.Context, images [][]byte, info *llm.ProblemInfo) (*llm.DebugSolutions, error)
}

func (f *fakeClient) ExtractProblem(ctx context.Context, images [][]byte) (*llm.ProblemInfo, error) {
	if f.extract == nil {
		return &llm.ProblemInfo{ProblemStatement: "stub"}, nil
	}
	return f.extract(ctx, images)
}

func (f *fakeClient) GenerateSolutions(ctx context.Context, info *llm.ProblemInfo) (*llm.Solutions, error) {
	if f.solve == nil {
		return &llm.Solutions{Code: "stub"}, nil
	}
	return f.solve(ctx, info)
}

func (f *fakeClient) GenerateDebugSolutions(ctx context.Context, images [][]byte, info *llm.ProblemInfo) (*llm.DebugSolutions, error) {
	if f.debug == nil {
		return &llm.DebugSolutions{NewCode: "stub"}, nil
	}
	return f.debug(ctx, images, info)
}

// newTestPipeline wires a pipeline against fakes and returns a drain func
// that collects every event published so far.
func newTestPipeline(t *testing.T, st *fakeStore, cl *fakeClient) (*Pipeline, func() []events.Event) {
	t.Helper()
	bus := events.NewBus()
	ch, unsub := bus.Subscribe(32)
	t.Cleanup(unsub)

	drain := func() []events.Event {
		var out []events.Event
		for {
			select {
			case ev := <-ch:
				out = append(out, ev)
			default:
				return out
			}
		}
	}
	return New(st, cl, bus), drain
}

func kinds(evs []events.Event) []events.Kind {
	out := make([]events.Kind, len(evs))
	for i, ev := range evs {
		out[i] = ev.Kind
	}
	return out
}

func TestMainRunSuccess(t *testing.T) {
	st := &fakeStore{main: []string{"imgA"}}
	cl := &fakeClient{
		extract: func(ctx context.Context, images [][]byte) (*llm.ProblemInfo, error) {
			require.Len(t, images, 1)
			return &llm.ProblemInfo{ProblemStatement: "sum two numbers"}, nil
		},
		solve: func(ctx context.Context, info *llm.ProblemInfo) (*llm.Solutions, error) {
			require.Equal(t, "sum two numbers", info.ProblemStatement)
			return &llm.Solutions{Code: "print(a+b)"}, nil
		},
	}
	p, drain := newTestPipeline(t, st, cl)

	require.NoError(t, p.Run(context.Background(), store.QueueMain))

	evs := drain()
	require.Equal(t, []events.Kind{
		events.KindInitialStart,
		events.KindProblemExtracted,
		events.KindSolutionSuccess,
	}, kinds(evs))
	assert.Equal(t, "sum two numbers", evs[1].Problem.ProblemStatement)
	assert.Equal(t, "print(a+b)", evs[2].Solutions.Code)
	assert.Equal(t, ViewSolutions, p.View())
	require.NotNil(t, p.Problem())
	assert.False(t, p.Busy(store.QueueMain))
}

func TestMainRunEmptyQueue(t *testing.T) {
	st := &fakeStore{}
	p, drain := newTestPipeline(t, st, &fakeClient{})

	require.NoError(t, p.Run(context.Background(), store.QueueMain))

	require.Equal(t, []events.Kind{
		events.KindInitialStart,
		events.KindNoScreenshots,
	}, kinds(drain()))
	assert.Equal(t, ViewQueue, p.View())
	assert.Nil(t, p.Problem())
}

func TestExtraRunEmptyQueue(t *testing.T) {
	st := &fakeStore{main: []string{"imgA"}}
	p, drain := newTestPipeline(t, st, &fakeClient{})

	require.NoError(t, p.Run(context.Background(), store.QueueExtra))

	require.Equal(t, []events.Kind{
		events.KindDebugStart,
		events.KindNoScreenshots,
	}, kinds(drain()))
}

func TestExtractOutOfCredits(t *testing.T) {
	st := &fakeStore{main: []string{"imgA"}}
	cl := &fakeClient{
		extract: func(ctx context.Context, images [][]byte) (*llm.ProblemInfo, error) {
			return nil, &llm.ClientError{Kind: llm.ErrorOutOfCredits, Message: "API Key out of credits for user X"}
		},
	}
	p, drain := newTestPipeline(t, st, cl)

	require.Error(t, p.Run(context.Background(), store.QueueMain))

	require.Equal(t, []events.Kind{
		events.KindInitialStart,
		events.KindOutOfCredits,
	}, kinds(drain()))
	assert.Equal(t, ViewQueue, p.View())
}

func TestExtractInvalidKey(t *testing.T) {
	st := &fakeStore{main: []string{"imgA"}}
	cl := &fakeClient{
		extract: func(ctx context.Context, images [][]byte) (*llm.ProblemInfo, error) {
			return nil, &llm.ClientError{Kind: llm.ErrorInvalidKey, Message: "invalid key provided"}
		},
	}
	p, drain := newTestPipeline(t, st, cl)

	require.Error(t, p.Run(context.Background(), store.QueueMain))
	require.Equal(t, []events.Kind{
		events.KindInitialStart,
		events.KindInvalidKey,
	}, kinds(drain()))
}

func TestGenericErrorKeepsMessage(t *testing.T) {
	st := &fakeStore{main: []string{"imgA"}}
	cl := &fakeClient{
		extract: func(ctx context.Context, images [][]byte) (*llm.ProblemInfo, error) {
			return nil, errors.New("connection refused")
		},
	}
	p, drain := newTestPipeline(t, st, cl)

	require.Error(t, p.Run(context.Background(), store.QueueMain))

	evs := drain()
	require.Equal(t, []events.Kind{
		events.KindInitialStart,
		events.KindInitialSolutionError,
	}, kinds(evs))
	assert.Equal(t, "connection refused", evs[1].Message)
	assert.Equal(t, ViewQueue, p.View())
}

func TestGenerationFailureAfterExtraction(t *testing.T) {
	st := &fakeStore{main: []string{"imgA"}}
	cl := &fakeClient{
		solve: func(ctx context.Context, info *llm.ProblemInfo) (*llm.Solutions, error) {
			return nil, errors.New("model overloaded")
		},
	}
	p, drain := newTestPipeline(t, st, cl)

	require.Error(t, p.Run(context.Background(), store.QueueMain))

	require.Equal(t, []events.Kind{
		events.KindInitialStart,
		events.KindProblemExtracted,
		events.KindInitialSolutionError,
	}, kinds(drain()))
	assert.Equal(t, ViewQueue, p.View())
	// The extracted problem survives a generation failure; a later debug run
	// may still use it.
	assert.NotNil(t, p.Problem())
}

func TestLoadFailureAbortsRun(t *testing.T) {
	st := &fakeStore{main: []string{"imgA"}, loadErr: errors.New("file vanished")}
	p, drain := newTestPipeline(t, st, &fakeClient{})

	require.Error(t, p.Run(context.Background(), store.QueueMain))

	evs := drain()
	require.Equal(t, []events.Kind{
		events.KindInitialStart,
		events.KindInitialSolutionError,
	}, kinds(evs))
	assert.Contains(t, evs[1].Message, "file vanished")
}

func TestDebugRequiresProblemInfo(t *testing.T) {
	st := &fakeStore{main: []string{"imgA"}, extra: []string{"imgB"}}
	called := false
	cl := &fakeClient{
		debug: func(ctx context.Context, images [][]byte, info *llm.ProblemInfo) (*llm.DebugSolutions, error) {
			called = true
			return nil, nil
		},
	}
	p, drain := newTestPipeline(t, st, cl)

	err := p.Run(context.Background(), store.QueueExtra)
	require.ErrorIs(t, err, ErrNoProblemInfo)

	evs := drain()
	require.Equal(t, []events.Kind{
		events.KindDebugStart,
		events.KindDebugError,
	}, kinds(evs))
	assert.False(t, called, "analysis client must not be contacted")
	assert.False(t, p.HasDebugged())
}

func TestDebugRunCombinesQueues(t *testing.T) {
	st := &fakeStore{main: []string{"m1", "m2"}, extra: []string{"e1"}}
	var got [][]byte
	cl := &fakeClient{
		debug: func(ctx context.Context, images [][]byte, info *llm.ProblemInfo) (*llm.DebugSolutions, error) {
			got = images
			return &llm.DebugSolutions{NewCode: "fixed"}, nil
		},
	}
	p, drain := newTestPipeline(t, st, cl)

	// A main run first, so ProblemInfo exists.
	require.NoError(t, p.Run(context.Background(), store.QueueMain))
	drain()

	require.NoError(t, p.Run(context.Background(), store.QueueExtra))

	evs := drain()
	require.Equal(t, []events.Kind{
		events.KindDebugStart,
		events.KindDebugSuccess,
	}, kinds(evs))
	assert.Equal(t, "fixed", evs[1].Debug.NewCode)
	assert.True(t, p.HasDebugged())

	// Main queue first, then extra, each in insertion order.
	require.Len(t, got, 3)
	assert.Equal(t, "m1", string(got[0]))
	assert.Equal(t, "m2", string(got[1]))
	assert.Equal(t, "e1", string(got[2]))
}

func TestDebugFailureClassified(t *testing.T) {
	st := &fakeStore{main: []string{"m1"}, extra: []string{"e1"}}
	cl := &fakeClient{
		debug: func(ctx context.Context, images [][]byte, info *llm.ProblemInfo) (*llm.DebugSolutions, error) {
			return nil, &llm.ClientError{Kind: llm.ErrorOutOfCredits, Message: "out of credits"}
		},
	}
	p, drain := newTestPipeline(t, st, cl)

	require.NoError(t, p.Run(context.Background(), store.QueueMain))
	drain()

	require.Error(t, p.Run(context.Background(), store.QueueExtra))
	require.Equal(t, []events.Kind{
		events.KindDebugStart,
		events.KindOutOfCredits,
	}, kinds(drain()))
	assert.False(t, p.HasDebugged())
	assert.Equal(t, ViewQueue, p.View())
}

func TestCancelMidRunClearsState(t *testing.T) {
	st := &fakeStore{main: []string{"imgA"}}
	inExtract := make(chan struct{})
	cl := &fakeClient{
		extract: func(ctx context.Context, images [][]byte) (*llm.ProblemInfo, error) {
			close(inExtract)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	p, drain := newTestPipeline(t, st, cl)

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background(), store.QueueMain) }()

	select {
	case <-inExtract:
	case <-time.After(2 * time.Second):
		t.Fatal("run never reached the analysis client")
	}

	p.Cancel()
	require.NoError(t, <-done)

	require.Equal(t, []events.Kind{
		events.KindInitialStart,
		events.KindNoScreenshots,
	}, kinds(drain()))
	assert.Nil(t, p.Problem())
	assert.False(t, p.HasDebugged())
	assert.Equal(t, ViewQueue, p.View())
	assert.False(t, p.Busy(store.QueueMain))
}

func TestCancelAfterSuccessRestoresQueueView(t *testing.T) {
	st := &fakeStore{main: []string{"imgA"}}
	p, drain := newTestPipeline(t, st, &fakeClient{})

	require.NoError(t, p.Run(context.Background(), store.QueueMain))
	drain()
	require.Equal(t, ViewSolutions, p.View())

	p.Cancel()

	// Nothing was in flight, so cancel stays silent, but the discarded
	// problem must take the solutions view down with it.
	assert.Empty(t, drain())
	assert.Equal(t, ViewQueue, p.View())
	assert.Nil(t, p.Problem())
}

func TestCancelWithoutActiveRunIsSilent(t *testing.T) {
	p, drain := newTestPipeline(t, &fakeStore{}, &fakeClient{})

	p.Cancel()
	p.Cancel()

	assert.Empty(t, drain())
	assert.Nil(t, p.Problem())
}

func TestLateSuccessAfterCancelIsDiscarded(t *testing.T) {
	st := &fakeStore{main: []string{"imgA"}}
	inExtract := make(chan struct{})
	release := make(chan struct{})
	cl := &fakeClient{
		extract: func(ctx context.Context, images [][]byte) (*llm.ProblemInfo, error) {
			close(inExtract)
			<-release
			// Late but successful response: the network call finished after
			// cancellation without observing ctx.
			return &llm.ProblemInfo{ProblemStatement: "stale"}, nil
		},
	}
	p, drain := newTestPipeline(t, st, cl)

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background(), store.QueueMain) }()
	<-inExtract

	p.Cancel()
	close(release)
	require.NoError(t, <-done)

	require.Equal(t, []events.Kind{
		events.KindInitialStart,
		events.KindNoScreenshots,
	}, kinds(drain()))
	assert.Nil(t, p.Problem(), "stale extraction must not repopulate state")
}

func TestSecondRunOfSameKindRefused(t *testing.T) {
	st := &fakeStore{main: []string{"imgA"}}
	inExtract := make(chan struct{})
	release := make(chan struct{})
	cl := &fakeClient{
		extract: func(ctx context.Context, images [][]byte) (*llm.ProblemInfo, error) {
			close(inExtract)
			<-release
			return &llm.ProblemInfo{}, nil
		},
	}
	p, drain := newTestPipeline(t, st, cl)

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background(), store.QueueMain) }()
	<-inExtract
	drain()

	assert.True(t, p.Busy(store.QueueMain))
	err := p.Run(context.Background(), store.QueueMain)
	require.ErrorIs(t, err, ErrRunInFlight)
	// A refused duplicate never started: no start event, no terminal event.
	assert.Empty(t, drain())

	close(release)
	require.NoError(t, <-done)
}

func TestCancelBlocksLateStateWrites(t *testing.T) {
	p, drain := newTestPipeline(t, &fakeStore{}, &fakeClient{})

	runCtx, id, err := p.begin(context.Background(), store.QueueMain)
	require.NoError(t, err)

	require.True(t, p.commit(store.QueueMain, id, runCtx, func() {
		p.problem = &llm.ProblemInfo{ProblemStatement: "live"}
	}))

	p.Cancel()

	// The ownership check and the write share one critical section, so a
	// result racing with Cancel can never repopulate state after it ran.
	ok := p.commit(store.QueueMain, id, runCtx, func() {
		p.problem = &llm.ProblemInfo{ProblemStatement: "stale"}
	})
	assert.False(t, ok)
	assert.Nil(t, p.Problem())
	require.Equal(t, []events.Kind{events.KindNoScreenshots}, kinds(drain()))
}

func TestCancelOfOneKindLeavesOtherHandleAlone(t *testing.T) {
	// Cancel clears both handles by contract; but ending one run must never
	// release the other kind's handle.
	st := &fakeStore{main: []string{"m1"}, extra: []string{"e1"}}
	inDebug := make(chan struct{})
	release := make(chan struct{})
	cl := &fakeClient{
		debug: func(ctx context.Context, images [][]byte, info *llm.ProblemInfo) (*llm.DebugSolutions, error) {
			close(inDebug)
			<-release
			return &llm.DebugSolutions{NewCode: "ok"}, nil
		},
	}
	p, drain := newTestPipeline(t, st, cl)

	require.NoError(t, p.Run(context.Background(), store.QueueMain))

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background(), store.QueueExtra) }()
	<-inDebug

	assert.True(t, p.Busy(store.QueueExtra))
	assert.False(t, p.Busy(store.QueueMain))

	close(release)
	require.NoError(t, <-done)
	assert.False(t, p.Busy(store.QueueExtra))
	drain()
}

func TestResetOrderAndState(t *testing.T) {
	st := &fakeStore{main: []string{"imgA"}}
	p, drain := newTestPipeline(t, st, &fakeClient{})

	require.NoError(t, p.Run(context.Background(), store.QueueMain))
	drain()
	require.Equal(t, ViewSolutions, p.View())

	require.NoError(t, p.Reset())

	require.Equal(t, []events.Kind{
		events.KindResetView,
		events.KindReset,
	}, kinds(drain()))
	assert.Equal(t, ViewQueue, p.View())
	assert.Nil(t, p.Problem())
	assert.False(t, p.HasDebugged())
	assert.True(t, st.cleared)
}
