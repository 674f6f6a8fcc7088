// Package ledger is the worker's only channel to the task board. Backends
// (in-memory simulation, sqlite simulation, on-chain contract) share one
// Gateway contract.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"flowai/internal/domain"
)

var (
	// ErrTaskNotFound is a normal outcome: the task may have been removed or
	// never existed.
	ErrTaskNotFound = errors.New("task not found")
	// ErrInvalidTask marks a payload that breaks the task invariants.
	ErrInvalidTask = errors.New("invalid task")
)

// Gateway is the capability the worker core consumes.
//
// Claim and Complete report contention (already claimed, not ours, already
// completed) as false with a nil error. Errors are reserved for transport or
// storage failures and ErrTaskNotFound.
type Gateway interface {
	// Account is the worker identity every write is made as.
	Account() string
	ListAvailable(ctx context.Context) ([]uint64, error)
	Task(ctx context.Context, id uint64) (domain.Task, error)
	Claim(ctx context.Context, id uint64) (bool, error)
	// Complete records result and credits the worker in one step. On false or
	// error the task stays claimed so a later retry is possible.
	Complete(ctx context.Context, id uint64, result string) (bool, error)
	WorkerStats(ctx context.Context, account string) (domain.WorkerStats, error)
	Balance(ctx context.Context, account string) (*big.Int, error)
	NetworkStatus(ctx context.Context) (domain.NetworkStatus, error)
}

// ResultReader is implemented by the simulation backends, which keep
// submitted results locally.
type ResultReader interface {
	Result(ctx context.Context, id uint64) (string, error)
}

// WorkerTaskLister lists every task id ever assigned to account. The engine
// uses it to find claimed tasks left unfinished by an earlier run.
type WorkerTaskLister interface {
	WorkerTasks(ctx context.Context, account string) ([]uint64, error)
}

// Validate checks the task invariants at the gateway boundary.
func Validate(t domain.Task) error {
	switch {
	case t.ID == 0:
		return fmt.Errorf("%w: id must be positive", ErrInvalidTask)
	case t.Reward == nil:
		return fmt.Errorf("%w: task %d has no reward", ErrInvalidTask, t.ID)
	case t.Reward.Sign() < 0:
		return fmt.Errorf("%w: task %d has negative reward %s", ErrInvalidTask, t.ID, t.Reward)
	case t.IsCompleted && !t.IsClaimed:
		return fmt.Errorf("%w: task %d is completed but not claimed", ErrInvalidTask, t.ID)
	case t.IsClaimed && t.Unassigned():
		return fmt.Errorf("%w: task %d is claimed without a worker", ErrInvalidTask, t.ID)
	}
	return nil
}

func cloneTask(t domain.Task) domain.Task {
	if t.Reward != nil {
		t.Reward = new(big.Int).Set(t.Reward)
	}
	return t
}

func cloneStats(s domain.WorkerStats) domain.WorkerStats {
	if s.TotalEarnings != nil {
		s.TotalEarnings = new(big.Int).Set(s.TotalEarnings)
	}
	return s
}
