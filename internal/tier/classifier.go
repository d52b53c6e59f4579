package tier

import (
	"fmt"
	"math"
	"strings"
)

// Context flags that bias classification at the matching precedence step.
const (
	FlagIdentityAnchor     = "is_identity_anchor"
	FlagFrameworkPrinciple = "is_framework_principle"
	FlagProvenSolution     = "is_proven_solution"
	FlagTemporary          = "is_temporary"
	FlagTier               = "tier"
)

var (
	wipIndicators = []string{"working on", "wip", "todo", "in progress", "current status"}

	identityKeywords = []string{
		"never fade to black", "partnership", "identity", "who i am", "who you are",
		"core values", "values", "mission", "vision", "purpose",
	}

	principleKeywords = []string{
		"framework", "methodology", "principle", "commandment", "validation",
		"evidence", "protocol", "orchestrator", "agent", "supervisor", "pattern",
		"convention", "guideline", "rule",
	}

	solutionKeywords = []string{
		"bug fix", "solution", "implementation", "victory", "success", "proven",
		"validated", "tested", "deployed", "fixed", "resolved",
	}

	contextKeywords = []string{
		"next step", "session", "temporary", "draft", "working",
	}
)

// Result is the outcome of a classification.
type Result struct {
	Tier   Tier        `json:"tier" yaml:"tier"`
	Policy DecayPolicy `json:"decay_policy" yaml:"decay_policy"`
	Reason string      `json:"reason" yaml:"reason"`
}

// rule is one step of the precedence table. match returns a non-empty reason
// when the rule applies.
type rule struct {
	tier  Tier
	match func(text string, flags map[string]any) string
}

// Classifier maps text and context flags to a tier using an ordered rule
// table. The zero value is not usable; call NewClassifier.
type Classifier struct {
	rules    []rule
	fallback Tier
}

// NewClassifier returns a classifier with the standard precedence:
// work-in-progress first, then identity, principle, solution, and finally
// weaker context cues. Anything unmatched lands in Context.
func NewClassifier() *Classifier {
	return &Classifier{
		rules: []rule{
			{Context, func(text string, _ map[string]any) string {
				if kw := firstHit(text, wipIndicators); kw != "" {
					return "work in progress: " + kw
				}
				return ""
			}},
			{Anchor, keywordRule(identityKeywords, 2, FlagIdentityAnchor)},
			{Principle, keywordRule(principleKeywords, 2, FlagFrameworkPrinciple)},
			{Solution, keywordRule(solutionKeywords, 1, FlagProvenSolution)},
			{Context, keywordRule(contextKeywords, 1, FlagTemporary)},
		},
		fallback: Context,
	}
}

// Classify returns the tier for text. A non-nil override wins outright, as
// does a valid "tier" entry in flags.
func (c *Classifier) Classify(text string, flags map[string]any, override *Tier) Result {
	if override != nil && override.Valid() {
		return bind(*override, "override")
	}
	if t, ok := FromFlags(flags); ok {
		return bind(t, "context tier")
	}

	lower := strings.ToLower(text)
	for _, r := range c.rules {
		if reason := r.match(lower, flags); reason != "" {
			return bind(r.tier, reason)
		}
	}
	return bind(c.fallback, "default")
}

func bind(t Tier, reason string) Result {
	return Result{Tier: t, Policy: t.Policy(), Reason: reason}
}

func keywordRule(keywords []string, threshold int, flag string) func(string, map[string]any) string {
	return func(text string, flags map[string]any) string {
		if truthy(flags[flag]) {
			return "flag " + flag
		}
		hits := 0
		for _, kw := range keywords {
			if strings.Contains(text, kw) {
				hits++
			}
		}
		if hits >= threshold {
			return fmt.Sprintf("%d keyword hits", hits)
		}
		return ""
	}
}

func firstHit(text string, keywords []string) string {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return kw
		}
	}
	return ""
}

// FromFlags returns the tier named by the "tier" flag, if it holds a valid
// name, number or Tier.
func FromFlags(flags map[string]any) (Tier, bool) {
	switch v := flags[FlagTier].(type) {
	case Tier:
		return v, v.Valid()
	case int:
		t := Tier(v)
		return t, t.Valid()
	case float64:
		// JSON numbers decode as float64.
		if v != math.Trunc(v) || v < float64(Anchor) || v > float64(Context) {
			return 0, false
		}
		return Tier(v), true
	case string:
		t, err := Parse(v)
		return t, err == nil
	}
	return 0, false
}

// truthy treats malformed flag values as false.
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
