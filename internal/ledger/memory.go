package ledger

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"flowai/internal/domain"
)

const (
	simulatedChainID = 1337
	simulatedGwei    = 20
)

// Memory is a self-contained ledger stand-in. One instance owns the task board,
// the claim and completion state and every worker's stats and balance.
type Memory struct {
	account string

	mu       sync.Mutex
	order    []uint64
	tasks    map[uint64]domain.Task
	results  map[uint64]string
	stats    map[string]domain.WorkerStats
	balances map[string]*big.Int
	block    uint64
}

var _ Gateway = (*Memory)(nil)

// NewMemory returns a board acting as account, seeded with tasks.
func NewMemory(account string, tasks ...domain.Task) (*Memory, error) {
	m := &Memory{
		account:  account,
		tasks:    make(map[uint64]domain.Task),
		results:  make(map[uint64]string),
		stats:    make(map[string]domain.WorkerStats),
		balances: make(map[string]*big.Int),
		block:    1,
	}
	for _, t := range tasks {
		if err := m.Publish(t); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func simulatedFee() *big.Int {
	return new(big.Int).Mul(big.NewInt(simulatedGwei), big.NewInt(1_000_000_000))
}

func addrKey(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// Publish adds a task to the board.
func (m *Memory) Publish(t domain.Task) error {
	if t.Worker == "" {
		t.Worker = domain.ZeroAddress
	}
	if err := Validate(t); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[t.ID]; ok {
		return fmt.Errorf("task %d already published", t.ID)
	}
	m.tasks[t.ID] = cloneTask(t)
	m.order = append(m.order, t.ID)
	return nil
}

func (m *Memory) Account() string { return m.account }

// ListAvailable returns unclaimed, uncompleted ids in publication order.
func (m *Memory) ListAvailable(ctx context.Context) ([]uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]uint64, 0, len(m.order))
	for _, id := range m.order {
		t := m.tasks[id]
		if t.IsClaimed || t.IsCompleted {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *Memory) WorkerTasks(ctx context.Context, account string) ([]uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []uint64
	for _, id := range m.order {
		if addrKey(m.tasks[id].Worker) == addrKey(account) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *Memory) Task(ctx context.Context, id uint64) (domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return domain.Task{}, ErrTaskNotFound
	}
	return cloneTask(t), nil
}

func (m *Memory) Claim(ctx context.Context, id uint64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return false, ErrTaskNotFound
	}
	if t.IsClaimed || t.IsCompleted {
		return false, nil
	}
	t.IsClaimed = true
	t.Worker = m.account
	m.tasks[id] = t
	m.block++
	return true, nil
}

func (m *Memory) Complete(ctx context.Context, id uint64, result string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return false, ErrTaskNotFound
	}
	if !t.IsClaimed || t.IsCompleted || addrKey(t.Worker) != addrKey(m.account) {
		return false, nil
	}
	t.IsCompleted = true
	m.tasks[id] = t
	m.results[id] = result

	key := addrKey(m.account)
	stats, ok := m.stats[key]
	if !ok {
		stats = domain.NewWorkerStats(m.account)
	}
	stats.Credit(t.Reward)
	m.stats[key] = stats

	bal := m.balances[key]
	if bal == nil {
		bal = new(big.Int)
	}
	m.balances[key] = new(big.Int).Add(bal, t.RewardOrZero())
	m.block++
	return true, nil
}

// Result returns the submitted result of a completed task.
func (m *Memory) Result(ctx context.Context, id uint64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.results[id]
	if !ok {
		return "", ErrTaskNotFound
	}
	return r, nil
}

func (m *Memory) WorkerStats(ctx context.Context, account string) (domain.WorkerStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.stats[addrKey(account)]; ok {
		return cloneStats(s), nil
	}
	return domain.NewWorkerStats(account), nil
}

func (m *Memory) Balance(ctx context.Context, account string) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.balances[addrKey(account)]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (m *Memory) NetworkStatus(ctx context.Context) (domain.NetworkStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return domain.NetworkStatus{
		ChainID:     simulatedChainID,
		LatestBlock: m.block,
		FeeEstimate: simulatedFee(),
		Connected:   true,
	}, nil
}
