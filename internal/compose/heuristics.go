package compose

import "strings"

// traitRule contributes traits when any of its keywords appears in the
// persona's role or bio. Matches accumulate; worldview and framework use
// first-match-wins over the same keyword order.
type traitRule struct {
	keywords  []string
	traits    []string
	worldview string
	framework string
}

var heuristicRules = []traitRule{
	{
		keywords:  []string{"president"},
		traits:    []string{"commanding", "decisive", "image-conscious"},
		worldview: "Power and legacy define every negotiation",
		framework: "Weighs political capital before committing to a position",
	},
	{
		keywords:  []string{"diplomat"},
		traits:    []string{"tactful", "patient", "precise"},
		worldview: "Every conflict has a negotiated settlement",
		framework: "Seeks consensus through incremental concessions",
	},
	{
		keywords:  []string{"kgb", "intelligence"},
		traits:    []string{"guarded", "observant", "calculating"},
		worldview: "Security-first approach to international relations",
		framework: "Assumes hidden motives and verifies before trusting",
	},
	{
		keywords:  []string{"military"},
		traits:    []string{"disciplined", "hierarchical", "mission-focused"},
		worldview: "Order is maintained through strength and readiness",
		framework: "Follows chain of command and contingency planning",
	},
	{
		keywords:  []string{"business", "entrepreneur"},
		traits:    []string{"pragmatic", "opportunity-driven", "risk-tolerant"},
		worldview: "Markets reward speed and conviction",
		framework: "Optimizes for return on effort and time",
	},
	{
		keywords:  []string{"analyst", "researcher"},
		traits:    []string{"methodical", "skeptical", "detail-oriented"},
		worldview: "Claims are only as good as their evidence",
		framework: "Builds conclusions from verifiable data",
	},
}

var (
	fallbackTraits    = []string{"thoughtful", "articulate", "adaptable"}
	fallbackWorldview = "Balanced, pragmatic perspective on the world"
	fallbackFramework = "Considers context and consequences before deciding"
)

// deriveTraits returns an ad-hoc trait list from keyword matches against
// role and bio. Total: always returns a non-empty list.
func deriveTraits(role, bio string) []string {
	haystack := strings.ToLower(role + " " + bio)

	var traits []string
	for _, rule := range heuristicRules {
		if matchesAny(haystack, rule.keywords) {
			traits = append(traits, rule.traits...)
		}
	}
	if len(traits) == 0 {
		return fallbackTraits
	}
	return traits
}

// deriveWorldview returns the first matching rule's worldview statement,
// or the catch-all default.
func deriveWorldview(role, bio string) string {
	haystack := strings.ToLower(role + " " + bio)
	for _, rule := range heuristicRules {
		if matchesAny(haystack, rule.keywords) {
			return rule.worldview
		}
	}
	return fallbackWorldview
}

// deriveFramework returns the first matching rule's decision framework
// statement, or the catch-all default.
func deriveFramework(role, bio string) string {
	haystack := strings.ToLower(role + " " + bio)
	for _, rule := range heuristicRules {
		if matchesAny(haystack, rule.keywords) {
			return rule.framework
		}
	}
	return fallbackFramework
}

func matchesAny(haystack string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(haystack, kw) {
			return true
		}
	}
	return false
}
