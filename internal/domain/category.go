package domain

import "strings"

// Category is the closed set of task kinds the worker knows how to execute.
type Category int

const (
	CategoryGeneral Category = iota
	CategoryContentWriting
	CategoryProgramming
	CategoryDesign
	CategoryTranslation
	CategoryResearch
)

var categoryNames = map[Category]string{
	CategoryGeneral:        "general",
	CategoryContentWriting: "content_writing",
	CategoryProgramming:    "programming",
	CategoryDesign:         "design",
	CategoryTranslation:    "translation",
	CategoryResearch:       "research",
}

func (c Category) String() string {
	if n, ok := categoryNames[c]; ok {
		return n
	}
	return "general"
}

// Categories lists every category, General last.
func Categories() []Category {
	return []Category{
		CategoryContentWriting,
		CategoryProgramming,
		CategoryDesign,
		CategoryTranslation,
		CategoryResearch,
		CategoryGeneral,
	}
}

var categoryKeywords = map[Category][]string{
	CategoryContentWriting: {"content", "writing", "write", "article", "blog", "copywriting"},
	CategoryProgramming:    {"programming", "program", "code", "coding", "develop", "software", "contract"},
	CategoryDesign:         {"design", "graphic", "visual"},
	CategoryTranslation:    {"translation", "translate", "localization", "localisation"},
	CategoryResearch:       {"research", "analysis", "survey", "report"},
}

// Classify maps a free-text category label to a Category. The keyword that
// occurs earliest in the label wins and ties go to the longer keyword, so the
// result never depends on map iteration order. No match yields General.
func Classify(label string) Category {
	label = strings.ToLower(strings.TrimSpace(label))
	if label == "" {
		return CategoryGeneral
	}
	best := CategoryGeneral
	bestPos, bestLen := -1, 0
	for cat, words := range categoryKeywords {
		for _, w := range words {
			pos := strings.Index(label, w)
			if pos < 0 {
				continue
			}
			switch {
			case bestPos < 0, pos < bestPos:
			case pos == bestPos && len(w) > bestLen:
			case pos == bestPos && len(w) == bestLen && cat < best:
			default:
				continue
			}
			best, bestPos, bestLen = cat, pos, len(w)
		}
	}
	return best
}
