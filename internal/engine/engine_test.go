package engine

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"flowai/internal/config"
	"flowai/internal/domain"
	"flowai/internal/events"
	"flowai/internal/ledger"
	"flowai/internal/logging"
)

const worker = "0x9f2C4e6B1a3D5f7E8c0B2a4D6f8E0c1A3b5D7f9E"

var fixedNow = time.Unix(1_700_000_000, 0)

type producerFunc func(ctx context.Context, t domain.Task) (string, error)

func (f producerFunc) Produce(ctx context.Context, t domain.Task) (string, error) { return f(ctx, t) }

func answer(text string) producerFunc {
	return func(ctx context.Context, t domain.Task) (string, error) { return text, nil }
}

type recordedEvent struct {
	Type     string
	EntityID string
	Payload  events.EventPayload
}

type memRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *memRecorder) Record(ctx context.Context, evtType, entityKind, entityID, actorID string, payload events.EventPayload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{Type: evtType, EntityID: entityID, Payload: payload})
	return nil
}

// flakyLedger injects failures in front of a Memory ledger.
type flakyLedger struct {
	*ledger.Memory
	listErr     error
	refuseClaim bool
	claimErr    error
	completeErr error
	// taskErrs fail Task for an id once per queued error.
	taskErrs map[uint64][]error
}

func (f *flakyLedger) Task(ctx context.Context, id uint64) (domain.Task, error) {
	if errs := f.taskErrs[id]; len(errs) > 0 {
		f.taskErrs[id] = errs[1:]
		return domain.Task{}, errs[0]
	}
	return f.Memory.Task(ctx, id)
}

func (f *flakyLedger) ListAvailable(ctx context.Context) ([]uint64, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.Memory.ListAvailable(ctx)
}

func (f *flakyLedger) Claim(ctx context.Context, id uint64) (bool, error) {
	if f.claimErr != nil {
		return false, f.claimErr
	}
	if f.refuseClaim {
		return false, nil
	}
	return f.Memory.Claim(ctx, id)
}

func (f *flakyLedger) Complete(ctx context.Context, id uint64, result string) (bool, error) {
	if f.completeErr != nil {
		return false, f.completeErr
	}
	return f.Memory.Complete(ctx, id, result)
}

func demoLedger(t *testing.T) *flakyLedger {
	t.Helper()
	m, err := ledger.NewMemory(worker, ledger.DemoTasks(fixedNow)...)
	require.NoError(t, err)
	return &flakyLedger{Memory: m}
}

func newEngine(gw ledger.Gateway, p Producer) *Engine {
	e := New(gw, p, config.WorkerConfig{SkipExpired: true, Locale: "en", FallbackLocale: "zh"}, logging.Discard())
	e.Now = func() time.Time { return fixedNow }
	return e
}

func TestRunCycleCompletesBestTask(t *testing.T) {
	ctx := context.Background()
	gw := demoLedger(t)
	rec := &memRecorder{}
	e := newEngine(gw, answer("final report"))
	e.Recorder = rec

	out := e.RunCycle(ctx, CycleRequest{})
	require.Equal(t, domain.StatusSuccess, out.Status, out.Message)
	require.Equal(t, domain.StageDone, out.Stage)
	// research task with the largest reward wins.
	require.EqualValues(t, 5, out.TaskID)
	require.Equal(t, "final report", out.Result)
	require.NotEmpty(t, out.CycleID)

	result, err := gw.Result(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, "final report", result)

	stats, err := e.WorkerStats(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.CompletedTasks)
	require.Equal(t, domain.BaselineReputation+domain.ReputationPerTask, stats.Reputation)

	require.Len(t, rec.events, 1)
	require.Equal(t, events.CycleFinished, rec.events[0].Type)
	require.Equal(t, out.CycleID, rec.events[0].EntityID)
	require.Equal(t, "success", rec.events[0].Payload["status"])
}

func TestRunCycleNoTasks(t *testing.T) {
	m, err := ledger.NewMemory(worker)
	require.NoError(t, err)
	out := newEngine(m, answer("x")).RunCycle(context.Background(), CycleRequest{})
	require.Equal(t, domain.StatusNoTasks, out.Status)
	require.Zero(t, out.TaskID)
}

func TestRunCycleListErrorIsTreatedAsEmpty(t *testing.T) {
	gw := demoLedger(t)
	gw.listErr = errors.New("rpc unavailable")
	out := newEngine(gw, answer("x")).RunCycle(context.Background(), CycleRequest{})
	require.Equal(t, domain.StatusNoTasks, out.Status)
}

func TestRunCycleNoSuitableTask(t *testing.T) {
	ctx := context.Background()
	gw := demoLedger(t)
	e := newEngine(gw, answer("x"))
	e.Now = func() time.Time { return fixedNow.Add(30 * 24 * time.Hour) }

	out := e.RunCycle(ctx, CycleRequest{})
	require.Equal(t, domain.StatusNoSuitableTask, out.Status)
	require.Zero(t, out.TaskID)
}

func TestRunCycleResumesClaimedTask(t *testing.T) {
	ctx := context.Background()
	gw := demoLedger(t)
	ok, err := gw.Claim(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)

	var produced []uint64
	e := newEngine(gw, producerFunc(func(ctx context.Context, t domain.Task) (string, error) {
		produced = append(produced, t.ID)
		return "article", nil
	}))

	out := e.RunCycle(ctx, CycleRequest{AlreadyClaimed: []uint64{1}})
	require.Equal(t, domain.StatusSuccess, out.Status, out.Message)
	require.EqualValues(t, 1, out.TaskID)
	require.Equal(t, []uint64{1}, produced)

	// A hint that is not ours falls back to the available list.
	out = e.RunCycle(ctx, CycleRequest{AlreadyClaimed: []uint64{3, 42}})
	require.Equal(t, domain.StatusSuccess, out.Status, out.Message)
	require.EqualValues(t, 5, out.TaskID)
}

func TestRunCycleClaimFailures(t *testing.T) {
	ctx := context.Background()
	gw := demoLedger(t)
	gw.refuseClaim = true
	e := newEngine(gw, answer("x"))

	out := e.RunCycle(ctx, CycleRequest{})
	require.Equal(t, domain.StatusClaimFailed, out.Status)
	require.Equal(t, domain.StageClaiming, out.Stage)
	require.EqualValues(t, 5, out.TaskID)

	gw.refuseClaim = false
	gw.claimErr = errors.New("nonce too low")
	out = e.RunCycle(ctx, CycleRequest{})
	require.Equal(t, domain.StatusError, out.Status)
	require.Equal(t, domain.StageClaiming, out.Stage)
	require.Contains(t, out.Message, "nonce too low")

	gw.claimErr = ledger.ErrTaskNotFound
	out = e.RunCycle(ctx, CycleRequest{})
	require.Equal(t, domain.StatusClaimFailed, out.Status)
}

func TestRunCycleExecuteFailedKeepsClaim(t *testing.T) {
	ctx := context.Background()
	gw := demoLedger(t)
	e := newEngine(gw, producerFunc(func(ctx context.Context, t domain.Task) (string, error) {
		return "", errors.New("model overloaded")
	}))

	out := e.RunCycle(ctx, CycleRequest{})
	require.Equal(t, domain.StatusExecuteFailed, out.Status)
	require.EqualValues(t, 5, out.TaskID)
	require.Contains(t, out.Message, "model overloaded")

	task, err := gw.Task(ctx, 5)
	require.NoError(t, err)
	require.True(t, task.IsClaimed)
	require.False(t, task.IsCompleted)
	require.Equal(t, worker, task.Worker)
}

func TestRunCycleSubmitFailedThenRetriesWithCachedResult(t *testing.T) {
	ctx := context.Background()
	gw := demoLedger(t)
	calls := 0
	e := newEngine(gw, producerFunc(func(ctx context.Context, t domain.Task) (string, error) {
		calls++
		return "draft", nil
	}))

	gw.completeErr = errors.New("connection reset")
	out := e.RunCycle(ctx, CycleRequest{})
	require.Equal(t, domain.StatusSubmitFailed, out.Status)
	require.Equal(t, "draft", out.Result)
	task, err := gw.Task(ctx, out.TaskID)
	require.NoError(t, err)
	require.True(t, task.IsClaimed)
	require.False(t, task.IsCompleted)

	gw.completeErr = nil
	retry := e.RunCycle(ctx, CycleRequest{
		AlreadyClaimed: []uint64{out.TaskID},
		Cached:         map[uint64]string{out.TaskID: out.Result},
	})
	require.Equal(t, domain.StatusSuccess, retry.Status, retry.Message)
	require.Equal(t, out.TaskID, retry.TaskID)
	require.Equal(t, 1, calls)
}

func TestRunCycleBusy(t *testing.T) {
	ctx := context.Background()
	gw := demoLedger(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	e := newEngine(gw, producerFunc(func(ctx context.Context, t domain.Task) (string, error) {
		close(entered)
		<-release
		return "slow answer", nil
	}))

	done := make(chan domain.Outcome, 1)
	go func() { done <- e.RunCycle(ctx, CycleRequest{}) }()
	<-entered
	require.True(t, e.Busy())

	out := e.RunCycle(ctx, CycleRequest{})
	require.Equal(t, domain.StatusBusy, out.Status)
	require.Equal(t, ErrCycleInProgress.Error(), out.Message)

	close(release)
	first := <-done
	require.Equal(t, domain.StatusSuccess, first.Status)
	require.False(t, e.Busy())
}

func TestRunCycleSurvivesCancellationAfterClaim(t *testing.T) {
	gw := demoLedger(t)
	ctx, cancel := context.WithCancel(context.Background())
	e := newEngine(gw, producerFunc(func(workCtx context.Context, t domain.Task) (string, error) {
		cancel()
		if err := workCtx.Err(); err != nil {
			return "", err
		}
		return "delivered", nil
	}))

	out := e.RunCycle(ctx, CycleRequest{})
	require.Equal(t, domain.StatusSuccess, out.Status, out.Message)
}

func TestRunCycleRecoversPanics(t *testing.T) {
	gw := demoLedger(t)
	e := newEngine(gw, producerFunc(func(ctx context.Context, t domain.Task) (string, error) {
		panic("template exploded")
	}))

	out := e.RunCycle(context.Background(), CycleRequest{})
	require.Equal(t, domain.StatusError, out.Status)
	require.Equal(t, domain.StageExecuting, out.Stage)
	require.Contains(t, out.Message, "template exploded")
	require.False(t, e.Busy())
}

func TestResumeSetObserve(t *testing.T) {
	p := resumeSet{}
	p.observe(domain.Outcome{Status: domain.StatusSubmitFailed, TaskID: 2, Result: "r2"})
	p.observe(domain.Outcome{Status: domain.StatusBusy})
	require.Equal(t, resumeSet{2: "r2"}, p)

	p.observe(domain.Outcome{Status: domain.StatusExecuteFailed, TaskID: 2})
	require.Equal(t, resumeSet{2: "r2"}, p)

	req := p.request()
	require.Equal(t, []uint64{2}, req.AlreadyClaimed)
	require.Equal(t, "r2", req.Cached[2])

	p.observe(domain.Outcome{Status: domain.StatusSuccess, TaskID: 2})
	require.Empty(t, p)

	p[7] = ""
	p.observe(domain.Outcome{Status: domain.StatusExecuteFailed, TaskID: 9})
	require.Equal(t, resumeSet{7: "", 9: ""}, p)

	p.observe(domain.Outcome{Status: domain.StatusSuccess, TaskID: 3, Unresumable: []uint64{7}})
	require.Equal(t, resumeSet{9: ""}, p)

	p.observe(domain.Outcome{Status: domain.StatusNoSuitableTask})
	require.Equal(t, resumeSet{9: ""}, p)

	p.observe(domain.Outcome{Status: domain.StatusNoTasks, Unresumable: []uint64{9}})
	require.Empty(t, p)
	require.Equal(t, CycleRequest{}, p.request())
}

func TestRunKeepsClaimWhoseLookupFailedOnce(t *testing.T) {
	ctx := context.Background()
	m, err := ledger.NewMemory(worker, ledger.DemoTasks(fixedNow)[:2]...)
	require.NoError(t, err)
	ok, err := m.Claim(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	gw := &flakyLedger{Memory: m, taskErrs: map[uint64][]error{1: {errors.New("rpc timeout")}}}
	e := newEngine(gw, answer("done"))

	pending := resumeSet{1: ""}
	out := e.RunCycle(ctx, pending.request())
	pending.observe(out)
	require.Equal(t, domain.StatusSuccess, out.Status, out.Message)
	require.EqualValues(t, 2, out.TaskID)
	require.Empty(t, out.Unresumable)
	require.Equal(t, resumeSet{1: ""}, pending)

	out = e.RunCycle(ctx, pending.request())
	pending.observe(out)
	require.Equal(t, domain.StatusSuccess, out.Status, out.Message)
	require.EqualValues(t, 1, out.TaskID)
	require.Empty(t, pending)

	task, err := m.Task(ctx, 1)
	require.NoError(t, err)
	require.True(t, task.IsCompleted)
}

func TestRunCycleUnusableHintsWithEmptyListIsNoTasks(t *testing.T) {
	m, err := ledger.NewMemory(worker)
	require.NoError(t, err)
	out := newEngine(m, answer("x")).RunCycle(context.Background(), CycleRequest{AlreadyClaimed: []uint64{4, 8}})
	require.Equal(t, domain.StatusNoTasks, out.Status)
	require.Equal(t, []uint64{4, 8}, out.Unresumable)
}

func TestRunCycleSkipsUnprofitableTasks(t *testing.T) {
	ctx := context.Background()
	cheap := ledger.DemoTasks(fixedNow)[0]
	cheap.ID = 11
	cheap.Reward = big.NewInt(1_000_000_000_000_000) // 0.001 ether
	m, err := ledger.NewMemory(worker, cheap)
	require.NoError(t, err)

	e := newEngine(m, answer("x"))
	e.CompleteGas = 300_000
	out := e.RunCycle(ctx, CycleRequest{})
	require.Equal(t, domain.StatusNoSuitableTask, out.Status)

	e.CompleteGas = 0
	out = e.RunCycle(ctx, CycleRequest{})
	require.Equal(t, domain.StatusSuccess, out.Status, out.Message)
	require.EqualValues(t, 11, out.TaskID)
}

func TestDelayAfter(t *testing.T) {
	e := &Engine{IdleDelay: time.Minute}
	require.Zero(t, e.delayAfter(domain.StatusSuccess))
	require.Equal(t, time.Minute, e.delayAfter(domain.StatusNoTasks))
	require.Equal(t, DefaultErrorBackoff, e.delayAfter(domain.StatusError))
	require.Equal(t, DefaultErrorBackoff, e.delayAfter(domain.StatusSubmitFailed))
}

func TestRunResumesUnfinishedClaimsAndStops(t *testing.T) {
	gw := demoLedger(t)
	ok, err := gw.Claim(context.Background(), 4)
	require.NoError(t, err)
	require.True(t, ok)

	var (
		mu    sync.Mutex
		order []uint64
	)
	e := newEngine(gw, producerFunc(func(ctx context.Context, t domain.Task) (string, error) {
		mu.Lock()
		order = append(order, t.ID)
		mu.Unlock()
		return "done", nil
	}))
	e.IdleDelay = 5 * time.Millisecond
	e.ErrorBackoff = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error, 1)
	go func() { stopped <- e.Run(ctx) }()

	require.Eventually(t, func() bool {
		ids, err := gw.ListAvailable(context.Background())
		return err == nil && len(ids) == 0 && !e.Busy()
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 5)
	require.EqualValues(t, 4, order[0])
}
