// Package mcpserver exposes the worker to MCP clients: task browsing, a
// synchronous work cycle and worker stats.
package mcpserver

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"flowai/internal/domain"
	"flowai/internal/engine"
	"flowai/internal/scoring"
)

// Version is reported to clients in the initialize handshake.
const Version = "0.3.0"

type Options struct {
	Locale   string
	Fallback string
	Now      func() time.Time
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o Options) lang(requested string) string {
	if requested != "" {
		return requested
	}
	return o.Locale
}

// ListTasksArgs is the input for the list_available_tasks tool.
type ListTasksArgs struct {
	Lang string `json:"lang,omitempty" jsonschema:"Locale for task text, e.g. en or zh"`
}

// ListTasksOutput holds one summary per open task, best score first.
type ListTasksOutput struct {
	Tasks []scoring.Summary `json:"tasks"`
	Total int               `json:"total"`
}

// GetTaskArgs is the input for the get_task tool.
type GetTaskArgs struct {
	ID   uint64 `json:"id" jsonschema:"Task id"`
	Lang string `json:"lang,omitempty" jsonschema:"Locale for task text"`
}

type TaskOutput struct {
	ID           uint64  `json:"id"`
	Title        string  `json:"title"`
	Description  string  `json:"description"`
	Requirements string  `json:"requirements"`
	Reward       string  `json:"reward"`
	RewardEther  string  `json:"reward_eth"`
	Category     string  `json:"task_type"`
	Deadline     string  `json:"deadline"`
	Publisher    string  `json:"publisher"`
	Worker       string  `json:"worker,omitempty"`
	IsClaimed    bool    `json:"is_claimed"`
	IsCompleted  bool    `json:"is_completed"`
	Score        float64 `json:"score"`
}

// RunCycleArgs is the input for the run_work_cycle tool.
type RunCycleArgs struct {
	AlreadyClaimed []uint64 `json:"already_claimed,omitempty" jsonschema:"Task ids this worker already holds a claim on"`
}

type StatsArgs struct{}

type StatsOutput struct {
	Address        string `json:"address"`
	Reputation     int64  `json:"reputation"`
	CompletedTasks uint64 `json:"completed_tasks"`
	TotalEarnings  string `json:"total_earnings_eth"`
	Balance        string `json:"balance_eth"`
	IsActive       bool   `json:"is_active"`
	CycleInFlight  bool   `json:"cycle_in_flight"`
}

// New builds an MCP server whose tools drive e.
func New(e *engine.Engine, opts Options) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "flowai", Version: Version}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_available_tasks",
		Description: "List tasks open for claiming with score, difficulty and time left.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args ListTasksArgs) (*mcp.CallToolResult, ListTasksOutput, error) {
		ids, err := e.Ledger.ListAvailable(ctx)
		if err != nil {
			return nil, ListTasksOutput{}, fmt.Errorf("list available tasks: %w", err)
		}
		now := opts.now()
		lang := opts.lang(args.Lang)
		out := ListTasksOutput{Tasks: []scoring.Summary{}}
		for _, id := range ids {
			t, err := e.Ledger.Task(ctx, id)
			if err != nil {
				continue
			}
			out.Tasks = append(out.Tasks, scoring.Summarize(t, now, lang, opts.Fallback))
		}
		sort.SliceStable(out.Tasks, func(i, j int) bool { return out.Tasks[i].Score > out.Tasks[j].Score })
		out.Total = len(out.Tasks)
		return nil, out, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_task",
		Description: "Get one task by id with its text resolved to a locale.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args GetTaskArgs) (*mcp.CallToolResult, TaskOutput, error) {
		t, err := e.Ledger.Task(ctx, args.ID)
		if err != nil {
			return nil, TaskOutput{}, fmt.Errorf("task %d: %w", args.ID, err)
		}
		return nil, taskOutput(t, opts.lang(args.Lang), opts.Fallback, opts.now()), nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "run_work_cycle",
		Description: "Run one work cycle: pick the best task, claim it, produce a result and submit it.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args RunCycleArgs) (*mcp.CallToolResult, domain.Outcome, error) {
		out := e.RunCycle(ctx, engine.CycleRequest{AlreadyClaimed: args.AlreadyClaimed})
		var res *mcp.CallToolResult
		switch out.Status {
		case domain.StatusError, domain.StatusExecuteFailed, domain.StatusSubmitFailed:
			res = &mcp.CallToolResult{
				IsError: true,
				Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("%s while %s: %s", out.Status, out.Stage, out.Message)}},
			}
		}
		return res, out, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "worker_stats",
		Description: "Reputation, completed tasks, earnings and balance of this worker.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, _ StatsArgs) (*mcp.CallToolResult, StatsOutput, error) {
		stats, err := e.WorkerStats(ctx)
		if err != nil {
			return nil, StatsOutput{}, fmt.Errorf("worker stats: %w", err)
		}
		bal, err := e.Balance(ctx)
		if err != nil {
			return nil, StatsOutput{}, fmt.Errorf("balance: %w", err)
		}
		return nil, StatsOutput{
			Address:        stats.Address,
			Reputation:     stats.Reputation,
			CompletedTasks: stats.CompletedTasks,
			TotalEarnings:  domain.FormatEther(stats.TotalEarnings),
			Balance:        domain.FormatEther(bal),
			IsActive:       stats.IsActive,
			CycleInFlight:  e.Busy(),
		}, nil
	})

	return server
}

// Serve runs the server over stdio until the client disconnects or ctx ends.
func Serve(ctx context.Context, e *engine.Engine, opts Options) error {
	return New(e, opts).Run(ctx, &mcp.StdioTransport{})
}

func taskOutput(t domain.Task, lang, fallback string, now time.Time) TaskOutput {
	out := TaskOutput{
		ID:           t.ID,
		Title:        t.Title.Resolve(lang, fallback),
		Description:  t.Description.Resolve(lang, fallback),
		Requirements: t.Requirements.Resolve(lang, fallback),
		Reward:       t.RewardOrZero().String(),
		RewardEther:  domain.FormatEther(t.Reward),
		Category:     t.Category,
		Deadline:     domain.FormatTimestamp(t.Deadline),
		Publisher:    t.Publisher,
		IsClaimed:    t.IsClaimed,
		IsCompleted:  t.IsCompleted,
		Score:        scoring.Score(t, now),
	}
	if !t.Unassigned() {
		out.Worker = t.Worker
	}
	return out
}
