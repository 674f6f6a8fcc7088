package ledger

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"flowai/internal/domain"
)

const worker = "0x9f2C4e6B1a3D5f7E8c0B2a4D6f8E0c1A3b5D7f9E"

func newDemoMemory(t *testing.T) *Memory {
	t.Helper()
	m, err := NewMemory(worker, DemoTasks(time.Unix(1_700_000_000, 0))...)
	require.NoError(t, err)
	return m
}

func TestMemoryLifecycle(t *testing.T) {
	ctx := context.Background()
	m := newDemoMemory(t)

	ids, err := m.ListAvailable(ctx)
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 2, 3, 4, 5}, ids)

	ok, err := m.Claim(ctx, 2)
	require.NoError(t, err)
	require.True(t, ok)

	task, err := m.Task(ctx, 2)
	require.NoError(t, err)
	require.True(t, task.IsClaimed)
	require.False(t, task.IsCompleted)
	require.Equal(t, worker, task.Worker)

	ids, _ = m.ListAvailable(ctx)
	require.Equal(t, []uint64{1, 3, 4, 5}, ids)

	ok, err = m.Complete(ctx, 2, "contract source")
	require.NoError(t, err)
	require.True(t, ok)

	ids, _ = m.ListAvailable(ctx)
	require.NotContains(t, ids, uint64(2))

	res, err := m.Result(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, "contract source", res)

	mine, err := m.WorkerTasks(ctx, worker)
	require.NoError(t, err)
	require.Equal(t, []uint64{2}, mine)
}

func TestMemoryClaimIsExclusive(t *testing.T) {
	ctx := context.Background()
	m := newDemoMemory(t)

	ok, err := m.Claim(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.Claim(ctx, 1)
	require.NoError(t, err)
	require.False(t, ok, "second claim must be refused")

	_, err = m.Claim(ctx, 99)
	require.ErrorIs(t, err, ErrTaskNotFound)

	stats, err := m.WorkerStats(ctx, worker)
	require.NoError(t, err)
	require.Zero(t, stats.CompletedTasks)
	require.Equal(t, domain.BaselineReputation, stats.Reputation)
}

func TestMemoryCompleteCreditsExactlyOnce(t *testing.T) {
	ctx := context.Background()
	m := newDemoMemory(t)
	task, err := m.Task(ctx, 5)
	require.NoError(t, err)

	ok, err := m.Complete(ctx, 5, "early")
	require.NoError(t, err)
	require.False(t, ok, "unclaimed task cannot be completed")

	_, err = m.Claim(ctx, 5)
	require.NoError(t, err)
	ok, err = m.Complete(ctx, 5, "report")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.Complete(ctx, 5, "again")
	require.NoError(t, err)
	require.False(t, ok)

	stats, err := m.WorkerStats(ctx, worker)
	require.NoError(t, err)
	require.Equal(t, uint64(1), stats.CompletedTasks)
	require.Equal(t, domain.BaselineReputation+domain.ReputationPerTask, stats.Reputation)
	require.Zero(t, stats.TotalEarnings.Cmp(task.Reward))

	bal, err := m.Balance(ctx, worker)
	require.NoError(t, err)
	require.Zero(t, bal.Cmp(task.Reward))
}

func TestMemoryRejectsInvalidTasks(t *testing.T) {
	_, err := NewMemory(worker, domain.Task{ID: 1, Reward: big.NewInt(-1)})
	require.ErrorIs(t, err, ErrInvalidTask)

	_, err = NewMemory(worker, domain.Task{ID: 1, Reward: big.NewInt(1), IsCompleted: true})
	require.ErrorIs(t, err, ErrInvalidTask)

	m, err := NewMemory(worker)
	require.NoError(t, err)
	require.NoError(t, m.Publish(domain.Task{ID: 7, Reward: big.NewInt(1)}))
	require.Error(t, m.Publish(domain.Task{ID: 7, Reward: big.NewInt(1)}))
}

func TestMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := newDemoMemory(t)
	task, err := m.Task(ctx, 1)
	require.NoError(t, err)
	task.Reward.SetInt64(0)

	again, err := m.Task(ctx, 1)
	require.NoError(t, err)
	require.NotZero(t, again.Reward.Sign())
}

func TestValidate(t *testing.T) {
	ok := domain.Task{ID: 1, Reward: big.NewInt(0), Worker: domain.ZeroAddress}
	require.NoError(t, Validate(ok))

	claimedNobody := ok
	claimedNobody.IsClaimed = true
	require.ErrorIs(t, Validate(claimedNobody), ErrInvalidTask)

	zeroID := ok
	zeroID.ID = 0
	require.ErrorIs(t, Validate(zeroID), ErrInvalidTask)

	noReward := ok
	noReward.Reward = nil
	require.ErrorIs(t, Validate(noReward), ErrInvalidTask)
}
