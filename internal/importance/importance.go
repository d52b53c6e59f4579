// Package importance scores memory candidates against five weighted signals.
package importance

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"
)

// Signal weights. They sum to 1.0.
const (
	WeightNovelty         = 0.30
	WeightErrorCorrection = 0.25
	WeightUserEmphasis    = 0.20
	WeightPatternBreak    = 0.15
	WeightValidation      = 0.10
)

// Context flags read by the evaluator.
const (
	FlagCorrectsError     = "corrects_previous_error"
	FlagExplicitDirective = "explicit_directive"
	FlagUnexpectedResult  = "unexpected_result"
	FlagValidationResult  = "validation_result"
)

const (
	historyWindow       = 10
	similarityThreshold = 0.7
)

var (
	contradictionMarkers = regexp.MustCompile(`\b(actually|correction|my mistake|wrong about|turns out|instead|not|opposite)\b`)

	emphasisMarkers = []string{
		"remember this", "important", "always", "never forget",
		"critical", "lesson learned", "never fade to black",
	}
)

// HistoryProvider supplies the agent's most recent memory contents, newest
// first.
type HistoryProvider interface {
	RecentContents(ctx context.Context, agentID string, limit int) ([]string, error)
}

// Score is the evaluator's output. Each signal is either zero or its weight.
type Score struct {
	Total           float64  `json:"total" yaml:"total"`
	Novelty         float64  `json:"novelty" yaml:"novelty"`
	ErrorCorrection float64  `json:"error_correction" yaml:"error_correction"`
	UserEmphasis    float64  `json:"user_emphasis" yaml:"user_emphasis"`
	PatternBreak    float64  `json:"pattern_break" yaml:"pattern_break"`
	Validation      float64  `json:"validation_result" yaml:"validation_result"`
	Similarity      float64  `json:"max_similarity" yaml:"max_similarity"`
	Reasons         []string `json:"reasons,omitempty" yaml:"reasons,omitempty"`
}

// Reasoning renders the contributing signals as one line.
func (s Score) Reasoning() string {
	if len(s.Reasons) == 0 {
		return "no criteria met"
	}
	return fmt.Sprintf("score %.2f: %s", s.Total, strings.Join(s.Reasons, "; "))
}

// Evaluate scores text. history holds recent memory contents, newest first;
// only the first ten are compared. Novelty needs at least one prior memory to
// compare against. Unknown or malformed flag values count as absent.
func Evaluate(text string, history []string, flags map[string]any) Score {
	var s Score
	if strings.TrimSpace(text) == "" {
		return s
	}
	lower := strings.ToLower(text)

	if len(history) > 0 {
		if len(history) > historyWindow {
			history = history[:historyWindow]
		}
		s.Similarity = maxSimilarity(lower, history)
		if s.Similarity < similarityThreshold {
			s.Novelty = WeightNovelty
			s.Reasons = append(s.Reasons, fmt.Sprintf("novel (similarity %.2f)", s.Similarity))
		}
	}

	if contradictionMarkers.MatchString(lower) || truthy(flags[FlagCorrectsError]) {
		s.ErrorCorrection = WeightErrorCorrection
		s.Reasons = append(s.Reasons, "corrects earlier knowledge")
	}

	if truthy(flags[FlagExplicitDirective]) || containsAny(lower, emphasisMarkers) {
		s.UserEmphasis = WeightUserEmphasis
		s.Reasons = append(s.Reasons, "user emphasis")
	}

	if truthy(flags[FlagUnexpectedResult]) {
		s.PatternBreak = WeightPatternBreak
		s.Reasons = append(s.Reasons, "unexpected result")
	}

	switch v, _ := flags[FlagValidationResult].(string); v {
	case "failed":
		s.Validation = WeightValidation
		s.Reasons = append(s.Reasons, "failed validation")
	case "success_after_failure":
		s.Validation = WeightValidation
		s.Reasons = append(s.Reasons, "success after failure")
	}

	total := s.Novelty + s.ErrorCorrection + s.UserEmphasis + s.PatternBreak + s.Validation
	s.Total = math.Max(0, math.Min(1, math.Round(total*100)/100))
	return s
}

// Jaccard returns the token-set similarity of a and b. Tokens are
// whitespace-separated and case-folded.
func Jaccard(a, b string) float64 {
	ta, tb := tokenSet(a), tokenSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	inter := 0
	for tok := range ta {
		if _, ok := tb[tok]; ok {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	return float64(inter) / float64(union)
}

func maxSimilarity(text string, history []string) float64 {
	best := 0.0
	for _, h := range history {
		if sim := Jaccard(text, h); sim > best {
			best = sim
		}
	}
	return best
}

func tokenSet(s string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(s))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func truthy(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case int:
		return b != 0
	case float64:
		return b != 0 && b == math.Trunc(b)
	case string:
		s := strings.ToLower(strings.TrimSpace(b))
		return s == "true" || s == "yes" || s == "1"
	}
	return false
}
