package scoring

import (
	"time"

	"flowai/internal/domain"
)

// Summary is a compact, display-ready view of a task.
type Summary struct {
	ID                uint64  `json:"id"`
	Title             string  `json:"title"`
	RewardEther       string  `json:"reward_eth"`
	Category          string  `json:"task_type"`
	Difficulty        string  `json:"difficulty"`
	EstimatedDuration string  `json:"estimated_duration"`
	Deadline          string  `json:"deadline"`
	TimeLeft          string  `json:"time_left"`
	Expired           bool    `json:"expired"`
	Publisher         string  `json:"publisher"`
	Score             float64 `json:"score"`
}

// Summarize resolves localized text and attaches score and effort estimates.
func Summarize(t domain.Task, now time.Time, locale, fallback string) Summary {
	desc := t.Description.Resolve(locale, fallback)
	category := t.Category
	if category == "" {
		category = domain.CategoryGeneral.String()
	}
	left := t.TimeLeft(now)
	timeLeft := "expired"
	if left > 0 {
		timeLeft = domain.FormatDuration(left)
	}
	return Summary{
		ID:                t.ID,
		Title:             t.Title.Resolve(locale, fallback),
		RewardEther:       domain.FormatEther(t.Reward),
		Category:          category,
		Difficulty:        string(domain.EstimateDifficulty(desc)),
		EstimatedDuration: domain.FormatDuration(domain.EstimateDuration(category, desc)),
		Deadline:          domain.FormatTimestamp(t.Deadline),
		TimeLeft:          timeLeft,
		Expired:           t.Expired(now),
		Publisher:         domain.FormatAddress(t.Publisher, 8),
		Score:             Score(t, now),
	}
}
