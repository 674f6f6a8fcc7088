package oracle

import (
	"context"
	"fmt"
	"strings"
)

// Canned answers offline with a deterministic deliverable built from the
// prompt. Used for demos and the simulation ledgers.
type Canned struct{}

func (Canned) Name() string { return "canned" }

func (Canned) Generate(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var task, desc string
	for _, line := range strings.Split(req.Prompt, "\n") {
		switch {
		case strings.HasPrefix(line, "Task: "):
			task = strings.TrimPrefix(line, "Task: ")
		case strings.HasPrefix(line, "Description: "):
			desc = strings.TrimPrefix(line, "Description: ")
		}
	}
	if task == "" {
		task = "task"
	}
	return fmt.Sprintf("Deliverable for %q.\n\n%s\n\nPrepared by the FlowAI worker in offline mode.", task, desc), nil
}
