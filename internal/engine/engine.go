// Package engine runs the worker's work cycle: list, select, claim, execute,
// submit. One Engine serves one worker identity and never runs two cycles at
// once.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"flowai/internal/config"
	"flowai/internal/domain"
	"flowai/internal/events"
	"flowai/internal/ledger"
	"flowai/internal/logging"
	"flowai/internal/metrics"
	"flowai/internal/scoring"
)

// ErrCycleInProgress is reported (as a busy outcome) when a cycle is already
// running for this engine.
var ErrCycleInProgress = errors.New("work cycle already in progress")

const (
	DefaultIdleDelay    = 30 * time.Second
	DefaultErrorBackoff = 10 * time.Second
)

// Producer turns a claimed task into its deliverable; oracle.Adapter satisfies it.
type Producer interface {
	Produce(ctx context.Context, t domain.Task) (string, error)
}

// Recorder receives one event per finished cycle; events.Writer satisfies it.
type Recorder interface {
	Record(ctx context.Context, evtType, entityKind, entityID, actorID string, payload events.EventPayload) error
}

// CycleRequest carries hints from earlier cycles.
type CycleRequest struct {
	// AlreadyClaimed lists tasks this worker holds a claim on. They are
	// considered before the available list and are not claimed again.
	AlreadyClaimed []uint64
	// Cached maps task id to a result produced earlier whose submission
	// failed; it is submitted again instead of regenerating.
	Cached map[uint64]string
}

type Engine struct {
	Ledger   ledger.Gateway
	Oracle   Producer
	Selector scoring.Selector
	Recorder Recorder
	Log      logging.Logger

	IdleDelay    time.Duration
	ErrorBackoff time.Duration
	Locale       string
	Fallback     string
	Now          func() time.Time

	// CompleteGas, when set, makes selection skip tasks whose reward does not
	// cover twice the completion fee at the ledger's current fee estimate.
	CompleteGas uint64

	running atomic.Bool
}

func New(gw ledger.Gateway, producer Producer, cfg config.WorkerConfig, log logging.Logger) *Engine {
	log = logging.OrDefault(log)
	return &Engine{
		Ledger: gw,
		Oracle: producer,
		Selector: scoring.Selector{
			Fetcher:     gw,
			Log:         log,
			SkipExpired: cfg.SkipExpired,
		},
		Log:          log,
		IdleDelay:    cfg.IdleDelay,
		ErrorBackoff: cfg.ErrorBackoff,
		Locale:       cfg.Locale,
		Fallback:     cfg.FallbackLocale,
		Now:          time.Now,
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) log() logging.Logger { return logging.OrDefault(e.Log) }

// Busy reports whether a cycle is currently running.
func (e *Engine) Busy() bool { return e.running.Load() }

// RunCycle performs one attempt at winning and completing a task. It never
// panics and never returns an error: every failure is an Outcome.
func (e *Engine) RunCycle(ctx context.Context, req CycleRequest) (out domain.Outcome) {
	if !e.running.CompareAndSwap(false, true) {
		metrics.CyclesTotal.WithLabelValues(string(domain.StatusBusy)).Inc()
		ts := e.now().UTC().Format(time.RFC3339)
		return domain.Outcome{
			CycleID:    uuid.NewString(),
			Status:     domain.StatusBusy,
			Stage:      domain.StageListing,
			Message:    ErrCycleInProgress.Error(),
			StartedAt:  ts,
			FinishedAt: ts,
		}
	}
	defer e.running.Store(false)
	metrics.CycleInFlight.Set(1)
	defer metrics.CycleInFlight.Set(0)

	began := time.Now()
	out = domain.Outcome{
		CycleID:   uuid.NewString(),
		Stage:     domain.StageListing,
		StartedAt: e.now().UTC().Format(time.RFC3339),
	}
	defer func() {
		if r := recover(); r != nil {
			e.log().Errorf("engine: cycle %s panicked while %s: %v", out.CycleID, out.Stage, r)
			out.Status = domain.StatusError
			out.Message = fmt.Sprintf("unexpected failure while %s: %v", out.Stage, r)
		}
		e.finish(ctx, &out, began)
	}()
	e.cycle(ctx, req, &out)
	return out
}

func (e *Engine) cycle(ctx context.Context, req CycleRequest, out *domain.Outcome) {
	log := e.log()
	account := e.Ledger.Account()

	stageStart := time.Now()
	ids, err := e.Ledger.ListAvailable(ctx)
	if err != nil {
		log.Warnf("engine: list available tasks: %v", err)
		ids = nil
	}
	observeStage(domain.StageListing, stageStart)
	resume := uniqueIDs(req.AlreadyClaimed)
	if len(ids) == 0 && len(resume) == 0 {
		out.Status = domain.StatusNoTasks
		out.Message = "no available tasks"
		return
	}

	out.Stage = domain.StageSelecting
	stageStart = time.Now()
	sel := e.selector(ctx)
	var (
		cand    scoring.Candidate
		resumed bool
	)
	if len(resume) > 0 {
		res := sel.SelectResumable(ctx, resume, account)
		cand, resumed = res.Candidate, res.Found
		out.Unresumable = res.Rejected
	}
	if !resumed {
		if len(ids) == 0 {
			observeStage(domain.StageSelecting, stageStart)
			out.Status = domain.StatusNoTasks
			out.Message = "no available tasks"
			return
		}
		var ok bool
		if cand, ok = sel.Select(ctx, ids); !ok {
			observeStage(domain.StageSelecting, stageStart)
			out.Status = domain.StatusNoSuitableTask
			out.Message = fmt.Sprintf("none of %d available tasks is suitable", len(ids))
			return
		}
	}
	observeStage(domain.StageSelecting, stageStart)

	task := cand.Task
	out.TaskID = task.ID
	out.TaskTitle = task.Title.Resolve(e.Locale, e.Fallback)
	out.Reward = task.RewardOrZero().String()

	if resumed {
		log.Infof("engine: resuming claimed task %d (%s)", task.ID, out.TaskTitle)
	} else {
		out.Stage = domain.StageClaiming
		stageStart = time.Now()
		log.Infof("engine: claiming task %d (%s) score=%.1f reward=%s", task.ID, out.TaskTitle, cand.Score, domain.FormatEther(task.Reward))
		won, err := e.Ledger.Claim(ctx, task.ID)
		observeStage(domain.StageClaiming, stageStart)
		switch {
		case errors.Is(err, ledger.ErrTaskNotFound):
			metrics.ClaimsTotal.WithLabelValues("refused").Inc()
			out.Status = domain.StatusClaimFailed
			out.Message = fmt.Sprintf("task %d disappeared before it could be claimed", task.ID)
			return
		case err != nil:
			metrics.ClaimsTotal.WithLabelValues("error").Inc()
			out.Status = domain.StatusError
			out.Message = fmt.Sprintf("claim task %d: %v", task.ID, err)
			return
		case !won:
			metrics.ClaimsTotal.WithLabelValues("refused").Inc()
			out.Status = domain.StatusClaimFailed
			out.Message = fmt.Sprintf("task %d was claimed by another worker", task.ID)
			return
		}
		metrics.ClaimsTotal.WithLabelValues("won").Inc()
	}

	// The claim is held from here on; cancelling ctx must not orphan it.
	work := context.WithoutCancel(ctx)

	out.Stage = domain.StageExecuting
	result, ok := req.Cached[task.ID]
	if ok && strings.TrimSpace(result) != "" {
		log.Infof("engine: reusing cached result for task %d", task.ID)
	} else {
		if e.Oracle == nil {
			out.Status = domain.StatusExecuteFailed
			out.Message = "no result producer configured"
			return
		}
		stageStart = time.Now()
		result, err = e.Oracle.Produce(work, task)
		elapsed := time.Since(stageStart).Seconds()
		metrics.GenerationLatency.WithLabelValues(domain.Classify(task.Category).String()).Observe(elapsed)
		metrics.StageDuration.WithLabelValues(domain.StageExecuting).Observe(elapsed)
		if err != nil {
			out.Status = domain.StatusExecuteFailed
			out.Message = err.Error()
			return
		}
	}
	out.Result = result

	out.Stage = domain.StageSubmitting
	stageStart = time.Now()
	done, err := e.Ledger.Complete(work, task.ID, result)
	observeStage(domain.StageSubmitting, stageStart)
	switch {
	case err != nil:
		out.Status = domain.StatusSubmitFailed
		out.Message = fmt.Sprintf("submit task %d: %v", task.ID, err)
		return
	case !done:
		out.Status = domain.StatusSubmitFailed
		out.Message = fmt.Sprintf("ledger refused completion of task %d", task.ID)
		return
	}
	metrics.RewardEther.Add(domain.ToEther(task.Reward).InexactFloat64())
	out.Stage = domain.StageDone
	out.Status = domain.StatusSuccess
	out.Message = fmt.Sprintf("completed task %d, earned %s", task.ID, domain.FormatEther(task.Reward))
}

func (e *Engine) selector(ctx context.Context) scoring.Selector {
	sel := e.Selector
	if sel.Fetcher == nil {
		sel.Fetcher = e.Ledger
	}
	if sel.Log == nil {
		sel.Log = e.Log
	}
	if sel.Now == nil {
		sel.Now = e.now
	}
	if e.CompleteGas > 0 && sel.GasPrice == nil {
		sel.GasLimit = e.CompleteGas
		if status, err := e.Ledger.NetworkStatus(ctx); err != nil {
			e.log().Warnf("engine: fee estimate unavailable, skipping profitability check: %v", err)
		} else {
			sel.GasPrice = status.FeeEstimate
		}
	}
	return sel
}

func (e *Engine) finish(ctx context.Context, out *domain.Outcome, began time.Time) {
	out.FinishedAt = e.now().UTC().Format(time.RFC3339)
	metrics.CyclesTotal.WithLabelValues(string(out.Status)).Inc()
	metrics.CycleDuration.WithLabelValues(string(out.Status)).Observe(time.Since(began).Seconds())

	log := e.log()
	switch {
	case out.Status == domain.StatusSuccess:
		log.Infof("engine: cycle %s %s: %s", out.CycleID, out.Status, out.Message)
	case out.Status.Informational():
		log.Infof("engine: cycle %s %s: %s", out.CycleID, out.Status, out.Message)
	case out.Status == domain.StatusError:
		log.Errorf("engine: cycle %s %s while %s: %s", out.CycleID, out.Status, out.Stage, out.Message)
	default:
		log.Warnf("engine: cycle %s %s: %s", out.CycleID, out.Status, out.Message)
	}

	if e.Recorder == nil {
		return
	}
	payload := events.EventPayload{
		"status": string(out.Status),
		"stage":  out.Stage,
	}
	if out.HasTask() {
		payload["task_id"] = out.TaskID
		payload["reward"] = out.Reward
	}
	if out.Message != "" {
		payload["message"] = out.Message
	}
	if err := e.Recorder.Record(context.WithoutCancel(ctx), events.CycleFinished, "cycle", out.CycleID, e.Ledger.Account(), payload); err != nil {
		log.Warnf("engine: record cycle %s: %v", out.CycleID, err)
	}
}

func observeStage(stage string, since time.Time) {
	metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(since).Seconds())
}

func uniqueIDs(ids []uint64) []uint64 {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[uint64]bool, len(ids))
	out := make([]uint64, 0, len(ids))
	for _, id := range ids {
		if id == 0 || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// WorkerStats always reads through to the ledger.
func (e *Engine) WorkerStats(ctx context.Context) (domain.WorkerStats, error) {
	return e.Ledger.WorkerStats(ctx, e.Ledger.Account())
}

func (e *Engine) Balance(ctx context.Context) (*big.Int, error) {
	return e.Ledger.Balance(ctx, e.Ledger.Account())
}
