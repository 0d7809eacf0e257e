package routing

import "strings"

// Rule is one ordered routing rule. A rule fires when its condition holds
// (by default, the message carries a trigger keyword). A firing rule is
// resolved in three steps: its preferred specialists in order, then a
// capability match over the rule's capabilities combined with the caller's,
// then its fallback chain. A rule whose steps all come up empty yields to the
// next rule.
type Rule struct {
	ID string

	// Condition overrides keyword matching when set.
	Condition func(Message) bool
	Keywords  []string

	// Preferred specialists are tried first, in order; each must carry every
	// required capability.
	Preferred []string

	// Capabilities drive the rule's discovery step, combined with whatever
	// the caller asked for.
	Capabilities []string

	// LoadBalance spreads the discovery step over the least-loaded
	// candidates instead of always taking the highest-scored one.
	LoadBalance bool

	FallbackChain []string
}

// Matches reports whether the rule applies to msg.
func (r Rule) Matches(msg Message) bool {
	if r.Condition != nil {
		return r.Condition(msg)
	}
	content := strings.ToLower(msg.Content)
	for _, kw := range r.Keywords {
		if strings.Contains(content, kw) {
			return true
		}
	}
	if len(r.Keywords) == 0 && len(r.Capabilities) > 0 {
		for _, want := range msg.Capabilities {
			for _, c := range r.Capabilities {
				if want == c {
					return true
				}
			}
		}
	}
	return false
}

// CodeAnalysisRule routes code questions to the analysis specialists.
func CodeAnalysisRule() Rule {
	return Rule{
		ID:            "code-analysis",
		Keywords:      []string{"code", "bug", "refactor", "function", "stack trace"},
		Preferred:     []string{"apollo-ai"},
		Capabilities:  []string{"code-analysis"},
		LoadBalance:   true,
		FallbackChain: []string{"athena-ai"},
	}
}

// DocumentationRule routes writing and explanation requests.
func DocumentationRule() Rule {
	return Rule{
		ID:            "documentation",
		Keywords:      []string{"document", "explain", "describe", "summarize"},
		Preferred:     []string{"athena-ai"},
		Capabilities:  []string{"documentation"},
		FallbackChain: []string{"apollo-ai"},
	}
}

// MemoryRule routes recall and knowledge-lookup requests.
func MemoryRule() Rule {
	return Rule{
		ID:            "memory",
		Keywords:      []string{"remember", "recall", "memory", "what did"},
		Preferred:     []string{"engram-ai"},
		Capabilities:  []string{"knowledge"},
		FallbackChain: []string{"athena-ai"},
	}
}

// DefaultRules returns the built-in ordered rule set.
func DefaultRules() []Rule {
	return []Rule{
		CodeAnalysisRule(),
		DocumentationRule(),
		MemoryRule(),
	}
}

// DefaultChain is the registry-wide fallback chain used when no rule or
// capability match produces a specialist.
func DefaultChain() []string {
	return []string{"rhetor-ai", "athena-ai", "apollo-ai"}
}
