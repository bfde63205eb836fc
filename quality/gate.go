package quality

import (
	"fmt"
	"unicode"

	"ragbase/types"
)

const (
	DefaultMinLength       = 50
	DefaultWarnThreshold   = 0.5
	DefaultRejectThreshold = 0.8
)

// Gate decides whether extracted text is worth chunking and embedding.
type Gate struct {
	MinLength       int     `yaml:"min_length"`
	WarnThreshold   float64 `yaml:"warn_threshold"`
	RejectThreshold float64 `yaml:"reject_threshold"`
}

func DefaultGate() Gate {
	return Gate{
		MinLength:       DefaultMinLength,
		WarnThreshold:   DefaultWarnThreshold,
		RejectThreshold: DefaultRejectThreshold,
	}
}

type Verdict struct {
	Passed        bool
	Reason        string
	Detail        string
	Warnings      []string
	ContentLength int
	NoiseRatio    float64
}

// Check applies the gate policy in order: too short, too noisy, noisy enough to warn.
func (g Gate) Check(text string) Verdict {
	length, noise := Measure(text)
	v := Verdict{ContentLength: length, NoiseRatio: noise}

	switch {
	case length < g.MinLength:
		v.Reason = types.ReasonTextTooShort
		v.Detail = fmt.Sprintf("%d non-whitespace characters, need %d", length, g.MinLength)
	case noise > g.RejectThreshold:
		v.Reason = types.ReasonExcessiveNoise
		v.Detail = fmt.Sprintf("noise ratio %.3f above %.3f", noise, g.RejectThreshold)
	case noise > g.WarnThreshold:
		v.Passed = true
		v.Warnings = []string{types.WarningHighNoise}
	default:
		v.Passed = true
	}
	return v
}

// Measure returns the number of non-whitespace characters in text and the
// share of characters that are neither ASCII alphanumerics nor whitespace.
func Measure(text string) (contentLength int, noiseRatio float64) {
	var total, noise int
	for _, r := range text {
		total++
		if unicode.IsSpace(r) {
			continue
		}
		contentLength++
		if !isASCIIAlnum(r) {
			noise++
		}
	}
	if total == 0 {
		return 0, 0
	}
	return contentLength, float64(noise) / float64(total)
}

func isASCIIAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}
