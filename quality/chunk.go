package quality

import (
	"math"
	"strings"
	"unicode/utf8"
)

const (
	FlagEmpty     = "EMPTY"
	FlagTooShort  = "TOO_SHORT"
	FlagTooLong   = "TOO_LONG"
	FlagNoContext = "NO_CONTEXT"
	FlagFragment  = "FRAGMENT"
)

const (
	CompletenessComplete = "complete"
	CompletenessPartial  = "partial"
	CompletenessEmpty    = "empty"
)

// ChunkAnalyzer scores a single chunk. Unlike Gate it never rejects anything,
// it only describes what a reader of the chunk will get.
type ChunkAnalyzer struct {
	MinChars       int     `yaml:"min_chars"`
	MaxChars       int     `yaml:"max_chars"`
	IdealLength    int     `yaml:"ideal_length"`
	PenaltyPerFlag float64 `yaml:"penalty_per_flag"`
}

func DefaultChunkAnalyzer() ChunkAnalyzer {
	return ChunkAnalyzer{
		MinChars:       50,
		MaxChars:       2000,
		IdealLength:    1000,
		PenaltyPerFlag: 0.15,
	}
}

type ChunkReport struct {
	Score        float64
	Flags        []string
	HasTitle     bool
	Completeness string
}

// Analyze flags content and scores it in [0, 1]. The score weighs the flag
// penalty at 0.4, length against IdealLength at 0.3, context at 0.2 and a
// proper ending at 0.1. A chunk has context when it opens with a heading or
// quote, or when heading is set.
func (a ChunkAnalyzer) Analyze(content, heading string) ChunkReport {
	text := strings.TrimSpace(content)
	if text == "" {
		return ChunkReport{Flags: []string{FlagEmpty}, Completeness: CompletenessEmpty}
	}

	var (
		flags    []string
		chars    = utf8.RuneCountInString(text)
		hasTitle = strings.HasPrefix(text, "#") || strings.HasPrefix(text, ">")
		context  = hasTitle || heading != ""
		ended    = strings.ContainsAny(text[len(text)-1:], ".!?:>") || strings.HasSuffix(text, "```")
	)
	if chars < a.MinChars {
		flags = append(flags, FlagTooShort)
	}
	if a.MaxChars > 0 && chars > a.MaxChars {
		flags = append(flags, FlagTooLong)
	}
	if !context {
		flags = append(flags, FlagNoContext)
	}
	if !ended {
		flags = append(flags, FlagFragment)
	}

	base := max(0, 1-a.PenaltyPerFlag*float64(len(flags)))
	length := 1.0
	if a.IdealLength > 0 {
		length = min(1, float64(chars)/float64(a.IdealLength))
	}
	contextScore, endScore := 0.5, 0.7
	if context {
		contextScore = 1
	}
	if ended {
		endScore = 1
	}
	score := 0.4*base + 0.3*length + 0.2*contextScore + 0.1*endScore

	r := ChunkReport{
		Score:        math.Round(score*100) / 100,
		Flags:        flags,
		HasTitle:     hasTitle,
		Completeness: CompletenessComplete,
	}
	if !ended {
		r.Completeness = CompletenessPartial
	}
	return r
}
