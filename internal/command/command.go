// Package command detects explicit memory directives in free text.
//
// Detection is pure pattern matching. Rules are evaluated in a fixed order
// and the first match wins: sentence-anchored rule and constraint
// definitions come first, followed by literal phrases from most to least
// specific. The agent's own tagline is never treated as a directive.
package command

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Action identifies a directive class.
type Action string

const (
	Save           Action = "save"
	Remember       Action = "remember"
	RememberFull   Action = "remember_full_context"
	RetractLast    Action = "retract_last"
	Boost          Action = "boost_priority"
	Lesson         Action = "record_validated_lesson"
	DefineRule     Action = "define_rule"
	DefineConstr   Action = "define_constraint"
	Snapshot       Action = "snapshot_before_reset"
	StatusQuery    Action = "status_query"
	IdentityRecall Action = "identity_restore"

	// PotentialLesson is an implicit teaching cue. It is reported as a hint
	// and never counts as a directive.
	PotentialLesson Action = "potential_lesson"
)

// Scope describes how much of the conversation a directive covers.
type Scope string

const (
	ScopeFullConversation Scope = "full_conversation"
	ScopeCurrentMessage   Scope = "current_message"
	ScopeRecentContext    Scope = "recent_context"
	ScopeRecentInteract   Scope = "recent_interaction"
)

const (
	literalConfidence  = 0.9
	anchoredConfidence = 0.85
	teachingConfidence = 0.6
)

// Tagline is the agent's identity phrase, excluded from retraction and
// constraint matching.
const Tagline = "never fade to black"

// Directive is a detected command.
type Directive struct {
	Action     Action  `json:"action" yaml:"action"`
	Payload    string  `json:"payload,omitempty" yaml:"payload,omitempty"`
	Trigger    string  `json:"trigger" yaml:"trigger"`
	Confidence float64 `json:"confidence" yaml:"confidence"`
	Scope      Scope   `json:"scope" yaml:"scope"`
	// Commanded is false only for teaching hints.
	Commanded bool `json:"user_commanded" yaml:"user_commanded"`
}

type literal struct {
	action   Action
	phrases  []string
	pattern  *regexp.Regexp // checked before phrases
	untagged bool           // match against text with the tagline removed
	notAfter string         // reject a phrase hit directly preceded by this
}

var (
	// "Always ..." at the start of a sentence.
	anchoredRule = regexp.MustCompile(`(?:^\s*|[.!?\n]\s*)(always\s+\w+[^.!?\n]*)`)
	// "Never ..." at the start of a sentence, excluding "never forget" and
	// the tagline.
	anchoredConstraint = regexp.MustCompile(`(?:^\s*|[.!?\n]\s*)(never\s+(\w+)[^.!?\n]*)`)

	criticalWord = regexp.MustCompile(`\bcritical\b`)

	teachingCues = []string{
		"you should always", "make sure to", "don't forget to",
		"remember to", "next time", "in the future",
	}
)

// literals are checked in order after the anchored rules.
var literals = []literal{
	{action: Snapshot, phrases: []string{"snapshot before reset", "snapshot before you reset", "before you reset", "save a snapshot"}},
	{action: IdentityRecall, phrases: []string{"restore identity", "remember who you are", "who are you again", "restore your identity"}},
	{action: StatusQuery, phrases: []string{"memory status", "what do you remember", "show memory stats", "memory stats"}},
	{action: RetractLast, phrases: []string{"forget that", "scratch that", "disregard that", "delete that memory"}, untagged: true, notAfter: "never "},
	{action: RememberFull, phrases: []string{"remember this conversation", "remember the whole conversation", "save this conversation"}},
	{action: DefineRule, phrases: []string{"always do this", "from now on"}},
	{action: DefineConstr, phrases: []string{"never do that", "never do this"}, untagged: true},
	{action: Lesson, phrases: []string{"lesson learned", "lessons learned"}},
	{action: Boost, phrases: []string{"this is important", "high priority"}, pattern: criticalWord},
	{action: Save, phrases: []string{"save this", "never forget", "store this"}},
	{action: Remember, phrases: []string{"remember this", "remember that"}},
}

// Detector finds directives. It holds no state and is safe for concurrent use.
type Detector struct{}

// NewDetector returns a Detector.
func NewDetector() *Detector { return &Detector{} }

// Detect returns the first directive found in text. ok is false when there is
// none; that is not an error.
func (d *Detector) Detect(text string) (Directive, bool) {
	f := fold(text)
	if strings.TrimSpace(f.lower) == "" {
		return Directive{}, false
	}
	untagged := f.without(Tagline)

	if m := anchoredRule.FindStringSubmatchIndex(f.lower); m != nil {
		return anchored(DefineRule, f, m[2], m[3]), true
	}
	for _, m := range anchoredConstraint.FindAllStringSubmatchIndex(untagged.lower, -1) {
		word := untagged.lower[m[4]:m[5]]
		if word == "forget" || word == "fade" {
			continue
		}
		return anchored(DefineConstr, untagged, m[2], m[3]), true
	}

	for _, l := range literals {
		v := f
		if l.untagged {
			v = untagged
		}
		if l.pattern != nil {
			if loc := l.pattern.FindStringIndex(v.lower); loc != nil {
				return literalDirective(l.action, v, loc[0], loc[1]), true
			}
		}
		for _, p := range l.phrases {
			if i := indexNotAfter(v.lower, p, l.notAfter); i >= 0 {
				return literalDirective(l.action, v, i, i+len(p)), true
			}
		}
	}
	return Directive{}, false
}

// HasTeachingCue reports an implicit lesson cue such as "next time".
// Callers check it only when Detect found nothing.
func (d *Detector) HasTeachingCue(text string) (Directive, bool) {
	lower := strings.ToLower(text)
	for _, cue := range teachingCues {
		if strings.Contains(lower, cue) {
			return Directive{
				Action:     PotentialLesson,
				Payload:    strings.TrimSpace(text),
				Trigger:    cue,
				Confidence: teachingConfidence,
				Scope:      ScopeRecentInteract,
			}, true
		}
	}
	return Directive{}, false
}

func indexNotAfter(hay, phrase, prefix string) int {
	from := 0
	for {
		i := strings.Index(hay[from:], phrase)
		if i < 0 {
			return -1
		}
		i += from
		if prefix == "" || !strings.HasSuffix(hay[:i], prefix) {
			return i
		}
		from = i + len(phrase)
	}
}

func anchored(a Action, f folded, start, end int) Directive {
	sentence := strings.TrimSpace(f.slice(start, end))
	trigger := strings.ToLower(strings.Fields(sentence)[0])
	return Directive{
		Action:     a,
		Payload:    sentence,
		Trigger:    trigger,
		Confidence: anchoredConfidence,
		Scope:      ScopeCurrentMessage,
		Commanded:  true,
	}
}

func literalDirective(a Action, f folded, start, end int) Directive {
	payload := strings.TrimLeft(f.slice(end, len(f.lower)), " \t:,-.")
	payload = strings.TrimSpace(payload)
	if payload == "" {
		payload = strings.TrimSpace(f.slice(0, start))
	}
	return Directive{
		Action:     a,
		Payload:    payload,
		Trigger:    f.lower[start:end],
		Confidence: literalConfidence,
		Scope:      scopeOf(f.lower),
		Commanded:  true,
	}
}

// folded pairs text with its lower-case form. Matching runs on lower and
// payloads are cut from orig, so offs maps every byte offset in lower to
// the start of the rune in orig it was folded from.
type folded struct {
	orig  string
	lower string
	offs  []int // len(lower)+1 entries
}

func fold(text string) folded {
	lower := strings.ToLower(text)
	offs := make([]int, 0, len(lower)+1)
	for i, r := range text {
		for range utf8.RuneLen(unicode.ToLower(r)) {
			offs = append(offs, i)
		}
	}
	offs = append(offs, len(text))
	if len(offs) != len(lower)+1 {
		return folded{orig: lower, lower: lower, offs: identity(len(lower))}
	}
	return folded{orig: text, lower: lower, offs: offs}
}

func identity(n int) []int {
	offs := make([]int, n+1)
	for i := range offs {
		offs[i] = i
	}
	return offs
}

// slice returns the original text behind lower[start:end].
func (f folded) slice(start, end int) string {
	return f.orig[f.offs[start]:f.offs[end]]
}

// without removes every occurrence of phrase from lower along with the
// original text it came from.
func (f folded) without(phrase string) folded {
	if !strings.Contains(f.lower, phrase) {
		return f
	}
	var lower, orig strings.Builder
	offs := make([]int, 0, len(f.lower)+1)
	keep := func(a, b int) {
		shift := orig.Len() - f.offs[a]
		for j := a; j < b; j++ {
			offs = append(offs, f.offs[j]+shift)
		}
		lower.WriteString(f.lower[a:b])
		orig.WriteString(f.slice(a, b))
	}
	pos := 0
	for {
		i := strings.Index(f.lower[pos:], phrase)
		if i < 0 {
			keep(pos, len(f.lower))
			break
		}
		keep(pos, pos+i)
		pos += i + len(phrase)
	}
	offs = append(offs, orig.Len())
	return folded{orig: orig.String(), lower: lower.String(), offs: offs}
}

func scopeOf(lower string) Scope {
	switch {
	case strings.Contains(lower, "conversation"):
		return ScopeFullConversation
	case strings.Contains(lower, "this"):
		return ScopeCurrentMessage
	default:
		return ScopeRecentContext
	}
}
