package engine

import (
	"context"
	"sort"
	"strings"
	"time"

	"flowai/internal/domain"
	"flowai/internal/ledger"
	"flowai/internal/metrics"
)

// Run polls the ledger until ctx is cancelled. Claimed tasks whose execution
// or submission failed are carried into the next cycle, together with any
// result already produced for them. Cancellation is observed between cycles.
func (e *Engine) Run(ctx context.Context) error {
	log := e.log()
	pending := resumeSet{}
	e.seedResumes(ctx, pending)
	log.Infof("engine: worker %s started", domain.FormatAddress(e.Ledger.Account(), 8))

	for {
		if ctx.Err() != nil {
			log.Infof("engine: worker stopped")
			return nil
		}
		out := e.RunCycle(ctx, pending.request())
		pending.observe(out)
		metrics.PendingResumes.Set(float64(len(pending)))

		delay := e.delayAfter(out.Status)
		if delay <= 0 {
			continue
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Infof("engine: worker stopped")
			return nil
		case <-timer.C:
		}
	}
}

func (e *Engine) delayAfter(status domain.OutcomeStatus) time.Duration {
	switch status {
	case domain.StatusSuccess:
		return 0
	case domain.StatusError, domain.StatusExecuteFailed, domain.StatusSubmitFailed:
		if e.ErrorBackoff > 0 {
			return e.ErrorBackoff
		}
		return DefaultErrorBackoff
	default:
		if e.IdleDelay > 0 {
			return e.IdleDelay
		}
		return DefaultIdleDelay
	}
}

// seedResumes picks up tasks left claimed by an earlier run of this worker.
func (e *Engine) seedResumes(ctx context.Context, pending resumeSet) {
	lister, ok := e.Ledger.(ledger.WorkerTaskLister)
	if !ok {
		return
	}
	account := e.Ledger.Account()
	ids, err := lister.WorkerTasks(ctx, account)
	if err != nil {
		e.log().Warnf("engine: list tasks of %s: %v", domain.FormatAddress(account, 8), err)
		return
	}
	for _, id := range ids {
		t, err := e.Ledger.Task(ctx, id)
		if err != nil {
			continue
		}
		if t.IsClaimed && !t.IsCompleted && strings.EqualFold(t.Worker, account) {
			pending[id] = ""
		}
	}
	if len(pending) > 0 {
		e.log().Infof("engine: %d claimed task(s) left unfinished, resuming", len(pending))
	}
}

// resumeSet maps claimed task ids to a cached result ("" when none).
type resumeSet map[uint64]string

func (p resumeSet) request() CycleRequest {
	if len(p) == 0 {
		return CycleRequest{}
	}
	req := CycleRequest{AlreadyClaimed: make([]uint64, 0, len(p))}
	for id, result := range p {
		req.AlreadyClaimed = append(req.AlreadyClaimed, id)
		if result != "" {
			if req.Cached == nil {
				req.Cached = map[uint64]string{}
			}
			req.Cached[id] = result
		}
	}
	sort.Slice(req.AlreadyClaimed, func(i, j int) bool { return req.AlreadyClaimed[i] < req.AlreadyClaimed[j] })
	return req
}

// observe updates the set from a finished cycle. Only hints the ledger
// reported as unresumable are dropped; a hint whose lookup failed stays until
// a later cycle can tell.
func (p resumeSet) observe(out domain.Outcome) {
	for _, id := range out.Unresumable {
		delete(p, id)
	}
	switch out.Status {
	case domain.StatusSuccess:
		delete(p, out.TaskID)
	case domain.StatusExecuteFailed:
		if _, ok := p[out.TaskID]; !ok {
			p[out.TaskID] = ""
		}
	case domain.StatusSubmitFailed:
		p[out.TaskID] = out.Result
	case domain.StatusError:
		if out.TaskID != 0 && out.Stage != domain.StageSelecting {
			if out.Result != "" || p[out.TaskID] == "" {
				p[out.TaskID] = out.Result
			}
		}
	}
}
