package server

import (
	"math/big"
	"time"

	"flowai/internal/domain"
)

// Request payloads

type CompleteTaskRequest struct {
	Result string `json:"result" minLength:"1" doc:"Deliverable submitted to the ledger"`
}

type WorkRequest struct {
	AlreadyClaimed []uint64 `json:"already_claimed,omitempty" doc:"Task ids this worker already holds a claim on"`
}

// Response payloads

type HealthResponse struct {
	Status              string `json:"status"`
	BlockchainConnected bool   `json:"blockchain_connected"`
	AgentReady          bool   `json:"agent_ready"`
	CycleInFlight       bool   `json:"cycle_in_flight"`
}

type TaskResponse struct {
	ID           uint64 `json:"id"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	Requirements string `json:"requirements"`
	Reward       string `json:"reward" doc:"Reward in wei"`
	RewardEther  string `json:"reward_eth"`
	Category     string `json:"task_type"`
	Deadline     int64  `json:"deadline"`
	DeadlineAt   string `json:"deadline_at" format:"date-time"`
	Publisher    string `json:"publisher"`
	Worker       string `json:"worker,omitempty"`
	CreatedAt    int64  `json:"created_at"`
	IsClaimed    bool   `json:"is_claimed"`
	IsCompleted  bool   `json:"is_completed"`
}

// RawTaskResponse keeps multi-locale fields as locale maps.
type RawTaskResponse struct {
	ID           uint64 `json:"id"`
	Title        any    `json:"title"`
	Description  any    `json:"description"`
	Requirements any    `json:"requirements"`
	Reward       string `json:"reward"`
	Category     string `json:"task_type"`
	Deadline     int64  `json:"deadline"`
	Publisher    string `json:"publisher"`
	Worker       string `json:"worker,omitempty"`
	CreatedAt    int64  `json:"created_at"`
	IsClaimed    bool   `json:"is_claimed"`
	IsCompleted  bool   `json:"is_completed"`
}

type TaskResultResponse struct {
	TaskID uint64 `json:"task_id"`
	Result string `json:"result"`
}

type TaskActionResponse struct {
	TaskID  uint64 `json:"task_id"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type WorkerStatsResponse struct {
	Address        string `json:"address"`
	Reputation     int64  `json:"reputation"`
	CompletedTasks uint64 `json:"completed_tasks"`
	TotalEarnings  string `json:"total_earnings"`
	EarningsEther  string `json:"total_earnings_eth"`
	IsActive       bool   `json:"is_active"`
}

type BalanceResponse struct {
	Address string `json:"address"`
	Balance string `json:"balance" doc:"Balance in wei"`
	Ether   string `json:"balance_eth"`
}

type NetworkResponse struct {
	ChainID     uint64 `json:"chain_id"`
	BlockNumber uint64 `json:"block_number"`
	GasPrice    string `json:"gas_price"`
	IsConnected bool   `json:"is_connected"`
}

type AccountResponse struct {
	Address string `json:"address"`
	Short   string `json:"short"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    any    `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func taskResponse(t domain.Task, locale, fallback string) TaskResponse {
	resp := TaskResponse{
		ID:           t.ID,
		Title:        t.Title.Resolve(locale, fallback),
		Description:  t.Description.Resolve(locale, fallback),
		Requirements: t.Requirements.Resolve(locale, fallback),
		Reward:       t.RewardOrZero().String(),
		RewardEther:  domain.FormatEther(t.Reward),
		Category:     t.Category,
		Deadline:     t.Deadline,
		DeadlineAt:   time.Unix(t.Deadline, 0).UTC().Format(time.RFC3339),
		Publisher:    t.Publisher,
		CreatedAt:    t.CreatedAt,
		IsClaimed:    t.IsClaimed,
		IsCompleted:  t.IsCompleted,
	}
	if !t.Unassigned() {
		resp.Worker = t.Worker
	}
	return resp
}

func rawTaskResponse(t domain.Task) RawTaskResponse {
	resp := RawTaskResponse{
		ID:           t.ID,
		Title:        t.Title.Raw(),
		Description:  t.Description.Raw(),
		Requirements: t.Requirements.Raw(),
		Reward:       t.RewardOrZero().String(),
		Category:     t.Category,
		Deadline:     t.Deadline,
		Publisher:    t.Publisher,
		CreatedAt:    t.CreatedAt,
		IsClaimed:    t.IsClaimed,
		IsCompleted:  t.IsCompleted,
	}
	if !t.Unassigned() {
		resp.Worker = t.Worker
	}
	return resp
}

func statsResponse(s domain.WorkerStats) WorkerStatsResponse {
	return WorkerStatsResponse{
		Address:        s.Address,
		Reputation:     s.Reputation,
		CompletedTasks: s.CompletedTasks,
		TotalEarnings:  weiString(s.TotalEarnings),
		EarningsEther:  domain.FormatEther(s.TotalEarnings),
		IsActive:       s.IsActive,
	}
}

func networkResponse(n domain.NetworkStatus) NetworkResponse {
	return NetworkResponse{
		ChainID:     n.ChainID,
		BlockNumber: n.LatestBlock,
		GasPrice:    weiString(n.FeeEstimate),
		IsConnected: n.Connected,
	}
}

func eventResponse(evt domain.Event) EventResponse {
	return EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		Payload:    decodePayload(evt.Payload),
	}
}

func weiString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
