package engine

import (
	"github.com/lazypower/tiermem/internal/command"
	"github.com/lazypower/tiermem/internal/importance"
	"github.com/lazypower/tiermem/internal/model"
	"github.com/lazypower/tiermem/internal/tier"
)

// Routing thresholds on the importance total.
const (
	principleImmediate = 0.5 // inclusive
	solutionBatch      = 0.7 // exclusive
	contextBatch       = 0.8 // exclusive
)

// Plan is the side-effect free routing decision for one candidate.
type Plan struct {
	Directive *command.Directive `json:"directive,omitempty" yaml:"directive,omitempty"`
	Hint      *command.Directive `json:"hint,omitempty" yaml:"hint,omitempty"`
	Score     importance.Score   `json:"importance" yaml:"importance"`
	Class     tier.Result        `json:"classification" yaml:"classification"`
	Route     model.Route        `json:"route" yaml:"route"`
	Priority  model.Priority     `json:"priority" yaml:"priority"`
}

// Commanded reports whether a user directive drove the plan.
func (p Plan) Commanded() bool { return p.Directive != nil }

// Planner runs detection, scoring and classification. It is pure and safe
// for concurrent use.
type Planner struct {
	detector   *command.Detector
	classifier *tier.Classifier
}

func NewPlanner() *Planner {
	return &Planner{
		detector:   command.NewDetector(),
		classifier: tier.NewClassifier(),
	}
}

// Plan decides the route for text. history is the agent's recent memory
// contents, newest first. A caller override beats a directive's implied tier.
func (pl *Planner) Plan(text string, flags map[string]any, override *tier.Tier, history []string) Plan {
	var plan Plan
	if d, ok := pl.detector.Detect(text); ok {
		plan.Directive = &d
	} else if h, ok := pl.detector.HasTeachingCue(text); ok {
		plan.Hint = &h
	}

	if plan.Commanded() && actsOnState(plan.Directive.Action) {
		plan.Route = model.RouteNone
		plan.Priority = model.PriorityLow
		return plan
	}

	scoreFlags := flags
	if plan.Commanded() {
		scoreFlags = make(map[string]any, len(flags)+1)
		for k, v := range flags {
			scoreFlags[k] = v
		}
		scoreFlags[importance.FlagExplicitDirective] = true
		// An explicit caller tier still wins over the directive's.
		if _, flagged := tier.FromFlags(flags); override == nil && !flagged {
			override = directiveTier(plan.Directive.Action)
		}
	}

	plan.Score = importance.Evaluate(text, history, scoreFlags)
	plan.Class = pl.classifier.Classify(text, flags, override)
	plan.Route = Route(plan.Class.Tier, plan.Score.Total, plan.Commanded())
	plan.Priority = model.PriorityFor(plan.Route, plan.Class.Tier)
	if plan.Commanded() {
		plan.Priority = model.PriorityCritical
	}
	return plan
}

// Route applies the tier/importance decision matrix. Directives always go
// straight to storage.
func Route(t tier.Tier, score float64, commanded bool) model.Route {
	if commanded {
		return model.RouteImmediate
	}
	switch t {
	case tier.Anchor:
		return model.RouteImmediate
	case tier.Principle:
		if score >= principleImmediate {
			return model.RouteImmediate
		}
		return model.RouteBatch
	case tier.Solution:
		if score > solutionBatch {
			return model.RouteBatch
		}
		return model.RouteWorking
	default:
		if score > contextBatch {
			return model.RouteBatch
		}
		return model.RouteWorking
	}
}

// actsOnState reports directives that operate on existing memories instead
// of forming a new one.
func actsOnState(a command.Action) bool {
	switch a {
	case command.RetractLast, command.StatusQuery, command.IdentityRecall:
		return true
	}
	return false
}

// directiveTier is the tier a directive implies, or nil to let the
// classifier decide.
func directiveTier(a command.Action) *tier.Tier {
	var t tier.Tier
	switch a {
	case command.DefineRule, command.DefineConstr:
		t = tier.Principle
	case command.Lesson:
		t = tier.Solution
	case command.Snapshot:
		t = tier.Context
	default:
		return nil
	}
	return &t
}
