package scoring

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"time"

	"flowai/internal/domain"
	"flowai/internal/ledger"
	"flowai/internal/logging"
)

// Fetcher resolves a task id; ledger.Gateway satisfies it.
type Fetcher interface {
	Task(ctx context.Context, id uint64) (domain.Task, error)
}

// Candidate is a selected task together with its score.
type Candidate struct {
	Task  domain.Task
	Score float64
}

type Selector struct {
	Fetcher     Fetcher
	Log         logging.Logger
	SkipExpired bool
	Now         func() time.Time

	// GasLimit and GasPrice price the completion transaction. A nil GasPrice
	// disables the profitability check.
	GasLimit uint64
	GasPrice *big.Int
}

func (s Selector) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Select fetches every id in order and returns the highest scoring open task.
// Ids that fail to resolve are skipped. Equal scores keep the first one seen.
// With GasPrice set, tasks whose reward does not cover twice the completion
// fee at GasLimit are skipped too.
func (s Selector) Select(ctx context.Context, ids []uint64) (Candidate, bool) {
	log := logging.OrDefault(s.Log)
	now := s.now()
	var (
		best  Candidate
		found bool
	)
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		t, err := s.fetch(ctx, log, id)
		if err != nil {
			continue
		}
		if t.IsCompleted || t.IsClaimed {
			log.Debugf("selector: task %d no longer open", id)
			continue
		}
		if s.SkipExpired && t.Expired(now) {
			log.Debugf("selector: task %d expired at %s", id, domain.FormatTimestamp(t.Deadline))
			continue
		}
		if !Profitable(t.Reward, s.GasLimit, s.GasPrice) {
			log.Infof("selector: task %d reward %s does not cover the completion fee", id, domain.FormatEther(t.Reward))
			continue
		}
		score := Score(t, now)
		if !found || score > best.Score {
			best, found = Candidate{Task: t, Score: score}, true
		}
	}
	return best, found
}

// Resumption is the result of SelectResumable.
type Resumption struct {
	Candidate
	Found bool
	// Rejected lists hints the ledger answered for that can never be resumed:
	// unknown, malformed, completed or held by another account. Hints whose
	// fetch failed for any other reason are not listed.
	Rejected []uint64
}

// SelectResumable picks among tasks the caller believes it already claimed.
// Only tasks still claimed by account and not yet completed qualify; deadlines
// are ignored since the claim is already held.
func (s Selector) SelectResumable(ctx context.Context, ids []uint64, account string) Resumption {
	log := logging.OrDefault(s.Log)
	now := s.now()
	var res Resumption
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		t, err := s.fetch(ctx, log, id)
		if err != nil {
			if errors.Is(err, ledger.ErrTaskNotFound) || errors.Is(err, ledger.ErrInvalidTask) {
				res.Rejected = append(res.Rejected, id)
			}
			continue
		}
		if t.IsCompleted || !t.IsClaimed || !strings.EqualFold(t.Worker, account) {
			log.Infof("selector: task %d is not resumable by %s", id, domain.FormatAddress(account, 8))
			res.Rejected = append(res.Rejected, id)
			continue
		}
		score := Score(t, now)
		if !res.Found || score > res.Score {
			res.Candidate, res.Found = Candidate{Task: t, Score: score}, true
		}
	}
	return res
}

func (s Selector) fetch(ctx context.Context, log logging.Logger, id uint64) (domain.Task, error) {
	t, err := s.Fetcher.Task(ctx, id)
	if err != nil {
		if errors.Is(err, ledger.ErrTaskNotFound) {
			log.Debugf("selector: task %d not found", id)
		} else {
			log.Warnf("selector: fetch task %d: %v", id, err)
		}
		return domain.Task{}, err
	}
	if err := ledger.Validate(t); err != nil {
		log.Errorf("selector: rejecting task %d: %v", id, err)
		return domain.Task{}, err
	}
	return t, nil
}
