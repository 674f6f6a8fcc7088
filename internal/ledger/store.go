package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"flowai/internal/domain"
	"flowai/internal/events"
	"flowai/internal/repo"
)

// Store is the durable simulation ledger on sqlite. Every mutation commits
// together with its ledger event.
type Store struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Now     func() time.Time
	account string
}

var _ Gateway = (*Store)(nil)

// NewStore expects a migrated database.
func NewStore(conn *sql.DB, account string) *Store {
	return &Store{
		DB:      conn,
		Repo:    repo.Repo{DB: conn},
		Events:  events.Writer{DB: conn},
		Now:     time.Now,
		account: account,
	}
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Store) Account() string { return s.account }

// Seed publishes tasks whose ids are not on the board yet and returns how many were added.
func (s *Store) Seed(ctx context.Context, tasks ...domain.Task) (int, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	added := 0
	for _, t := range tasks {
		if t.Worker == "" {
			t.Worker = domain.ZeroAddress
		}
		if err := Validate(t); err != nil {
			return 0, err
		}
		ok, err := s.Repo.InsertTask(ctx, tx, t)
		if err != nil {
			return 0, fmt.Errorf("insert task %d: %w", t.ID, err)
		}
		if !ok {
			continue
		}
		added++
		if err := s.Events.Append(ctx, tx, events.TaskPublished, "task", taskKey(t.ID), t.Publisher, events.EventPayload{
			"reward": t.RewardOrZero().String(), "category": t.Category, "deadline": t.Deadline,
		}); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return added, nil
}

func (s *Store) ListAvailable(ctx context.Context) ([]uint64, error) {
	return s.Repo.OpenTaskIDs(ctx)
}

func (s *Store) WorkerTasks(ctx context.Context, account string) ([]uint64, error) {
	tasks, err := s.Repo.ListTasks(ctx, repo.TaskFilters{Worker: account})
	if err != nil {
		return nil, err
	}
	ids := make([]uint64, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.ID)
	}
	return ids, nil
}

func (s *Store) Task(ctx context.Context, id uint64) (domain.Task, error) {
	t, err := s.Repo.GetTask(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Task{}, ErrTaskNotFound
	}
	return t, err
}

// Claim is a single conditional update, so two claimants can never both win.
func (s *Store) Claim(ctx context.Context, id uint64) (bool, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	if _, err := s.Repo.GetTaskTx(ctx, tx, id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return false, ErrTaskNotFound
		}
		return false, err
	}
	ok, err := s.Repo.ClaimTask(ctx, tx, id, s.account)
	if err != nil || !ok {
		return false, err
	}
	if err := s.Events.Append(ctx, tx, events.TaskClaimed, "task", taskKey(id), s.account, nil); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

func (s *Store) Complete(ctx context.Context, id uint64, result string) (bool, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	t, err := s.Repo.GetTaskTx(ctx, tx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return false, ErrTaskNotFound
		}
		return false, err
	}
	now := s.now().UTC().Format(time.RFC3339)
	ok, err := s.Repo.CompleteTask(ctx, tx, id, s.account, result, now)
	if err != nil || !ok {
		return false, err
	}
	stats, err := s.Repo.GetWorkerTx(ctx, tx, s.account)
	if errors.Is(err, repo.ErrNotFound) {
		stats, err = domain.NewWorkerStats(s.account), nil
	}
	if err != nil {
		return false, err
	}
	stats.Credit(t.Reward)
	if err := s.Repo.UpsertWorker(ctx, tx, stats, now); err != nil {
		return false, err
	}
	if err := s.Repo.AddBalance(ctx, tx, s.account, t.RewardOrZero()); err != nil {
		return false, err
	}
	if err := s.Events.Append(ctx, tx, events.TaskCompleted, "task", taskKey(id), s.account, events.EventPayload{
		"reward": t.RewardOrZero().String(), "result_chars": len([]rune(result)),
	}); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// Result returns the submitted result of a completed task.
func (s *Store) Result(ctx context.Context, id uint64) (string, error) {
	r, err := s.Repo.TaskResult(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return "", ErrTaskNotFound
	}
	return r, err
}

func (s *Store) WorkerStats(ctx context.Context, account string) (domain.WorkerStats, error) {
	stats, err := s.Repo.GetWorker(ctx, account)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.NewWorkerStats(account), nil
	}
	return stats, err
}

func (s *Store) Balance(ctx context.Context, account string) (*big.Int, error) {
	return s.Repo.GetBalance(ctx, account)
}

// NetworkStatus reports the event log head as the block height.
func (s *Store) NetworkStatus(ctx context.Context) (domain.NetworkStatus, error) {
	head, err := s.Repo.LatestEventID(ctx)
	if err != nil {
		return domain.NetworkStatus{ChainID: simulatedChainID}, nil
	}
	return domain.NetworkStatus{
		ChainID:     simulatedChainID,
		LatestBlock: uint64(head),
		FeeEstimate: simulatedFee(),
		Connected:   s.DB.PingContext(ctx) == nil,
	}, nil
}

func taskKey(id uint64) string {
	return strconv.FormatUint(id, 10)
}
