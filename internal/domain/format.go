package domain

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// EtherDecimals is the fixed-point scale of on-chain amounts.
const EtherDecimals = 18

var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// ToEther converts an amount in wei to ether.
func ToEther(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -EtherDecimals)
}

// FormatEther renders wei as "1.0000 ETH".
func FormatEther(wei *big.Int) string {
	return ToEther(wei).StringFixed(4) + " ETH"
}

// ParseWei parses a base-10 integer amount.
func ParseWei(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return nil, fmt.Errorf("invalid wei amount %q", s)
	}
	return v, nil
}

// ValidAddress checks the 0x-prefixed 20-byte hex form.
func ValidAddress(addr string) bool {
	return addressPattern.MatchString(addr)
}

// FormatAddress shortens an address to its first and last n characters.
func FormatAddress(addr string, n int) string {
	if IsZeroAddress(addr) {
		return "not set"
	}
	if n <= 0 {
		n = 8
	}
	if len(addr) <= 2*n {
		return addr
	}
	return addr[:n] + "..." + addr[len(addr)-n:]
}

// FormatTimestamp renders unix seconds in UTC.
func FormatTimestamp(ts int64) string {
	return time.Unix(ts, 0).UTC().Format("2006-01-02 15:04:05")
}

// FormatDuration renders a coarse human duration.
func FormatDuration(d time.Duration) string {
	s := int64(d / time.Second)
	switch {
	case s < 60:
		return fmt.Sprintf("%ds", s)
	case s < 3600:
		return fmt.Sprintf("%dm", s/60)
	case s < 86400:
		return fmt.Sprintf("%dh", s/3600)
	default:
		return fmt.Sprintf("%dd", s/86400)
	}
}

// Difficulty is a keyword estimate of how hard a task is.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

var (
	easyWords = []string{"简单", "基础", "入门", "easy", "basic", "simple"}
	hardWords = []string{"复杂", "高级", "专家", "difficult", "advanced", "expert", "complex"}
)

// EstimateDifficulty scans the description for easy/hard keywords.
func EstimateDifficulty(description string) Difficulty {
	d := strings.ToLower(description)
	for _, w := range easyWords {
		if strings.Contains(d, w) {
			return DifficultyEasy
		}
	}
	for _, w := range hardWords {
		if strings.Contains(d, w) {
			return DifficultyHard
		}
	}
	return DifficultyMedium
}

// minutes per difficulty, by category
var durationTable = map[Category]map[Difficulty]int{
	CategoryContentWriting: {DifficultyEasy: 30, DifficultyMedium: 60, DifficultyHard: 120},
	CategoryProgramming:    {DifficultyEasy: 60, DifficultyMedium: 120, DifficultyHard: 240},
	CategoryDesign:         {DifficultyEasy: 45, DifficultyMedium: 90, DifficultyHard: 180},
	CategoryTranslation:    {DifficultyEasy: 20, DifficultyMedium: 40, DifficultyHard: 80},
	CategoryResearch:       {DifficultyEasy: 60, DifficultyMedium: 120, DifficultyHard: 240},
	CategoryGeneral:        {DifficultyEasy: 30, DifficultyMedium: 60, DifficultyHard: 120},
}

// EstimateDuration guesses how long a task takes from its category and description.
func EstimateDuration(category, description string) time.Duration {
	minutes := durationTable[Classify(category)][EstimateDifficulty(description)]
	if minutes == 0 {
		minutes = 60
	}
	return time.Duration(minutes) * time.Minute
}
