package domain

import (
	"math/big"
	"strings"
	"time"
)

// ZeroAddress is the ledger's "no account" sentinel.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// Task is a unit of work published on the ledger.
//
// Lifecycle: available -> claimed (one worker) -> completed (claiming worker, once).
type Task struct {
	ID           uint64   `json:"id"`
	Title        Text     `json:"title"`
	Description  Text     `json:"description"`
	Requirements Text     `json:"requirements"`
	Reward       *big.Int `json:"reward"`
	Category     string   `json:"category"`
	Deadline     int64    `json:"deadline"`
	Publisher    string   `json:"publisher"`
	Worker       string   `json:"worker"`
	CreatedAt    int64    `json:"created_at"`
	IsClaimed    bool     `json:"is_claimed"`
	IsCompleted  bool     `json:"is_completed"`
}

// RewardOrZero never returns nil.
func (t Task) RewardOrZero() *big.Int {
	if t.Reward == nil {
		return new(big.Int)
	}
	return t.Reward
}

// TimeLeft is the signed duration until the deadline; negative once expired.
func (t Task) TimeLeft(now time.Time) time.Duration {
	return time.Duration(t.Deadline-now.Unix()) * time.Second
}

// Expired reports whether the deadline has passed at now.
func (t Task) Expired(now time.Time) bool {
	return t.Deadline <= now.Unix()
}

// Unassigned reports whether worker holds the zero sentinel.
func (t Task) Unassigned() bool {
	return IsZeroAddress(t.Worker)
}

// IsZeroAddress treats the empty string and the all-zero address alike.
func IsZeroAddress(addr string) bool {
	addr = strings.TrimSpace(addr)
	return addr == "" || strings.EqualFold(addr, ZeroAddress)
}

// WorkerStats is the ledger's reputation/earnings record for one account.
type WorkerStats struct {
	Address        string   `json:"address"`
	Reputation     int64    `json:"reputation"`
	CompletedTasks uint64   `json:"completed_tasks"`
	TotalEarnings  *big.Int `json:"total_earnings"`
	IsActive       bool     `json:"is_active"`
}

const (
	// BaselineReputation is the reputation of a worker with no completions.
	BaselineReputation int64 = 50
	// ReputationPerTask is credited for every completed task.
	ReputationPerTask int64 = 5
)

// NewWorkerStats returns the baseline record for addr.
func NewWorkerStats(addr string) WorkerStats {
	return WorkerStats{
		Address:       addr,
		Reputation:    BaselineReputation,
		TotalEarnings: new(big.Int),
		IsActive:      true,
	}
}

// Credit applies one completion worth reward.
func (s *WorkerStats) Credit(reward *big.Int) {
	if s.TotalEarnings == nil {
		s.TotalEarnings = new(big.Int)
	}
	if reward != nil {
		s.TotalEarnings = new(big.Int).Add(s.TotalEarnings, reward)
	}
	s.CompletedTasks++
	s.Reputation += ReputationPerTask
	s.IsActive = true
}

// NetworkStatus describes the ledger connection.
type NetworkStatus struct {
	ChainID     uint64   `json:"chain_id"`
	LatestBlock uint64   `json:"block_number"`
	FeeEstimate *big.Int `json:"gas_price"`
	Connected   bool     `json:"is_connected"`
}

// Event is one activity log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
