package persona

// DefaultWeights is the influence split used when a persona has none stored.
var DefaultWeights = Weights{
	Personality:     0.15,
	Knowledge:       0.45,
	DocumentContext: 0.40,
}

// ClampWeights clamps each component independently to [0,1]. The sum is
// deliberately left alone: sum-to-1 is a UI-layer soft invariant.
func ClampWeights(w Weights) Weights {
	return Weights{
		Personality:     clamp01(w.Personality),
		Knowledge:       clamp01(w.Knowledge),
		DocumentContext: clamp01(w.DocumentContext),
	}
}

// EffectiveWeights returns the persona's stored weights, clamped, or
// DefaultWeights when none are stored.
func EffectiveWeights(p *Persona) Weights {
	if p == nil || p.Weights == nil {
		return DefaultWeights
	}
	return ClampWeights(*p.Weights)
}

// SetWeights returns a copy of the persona with the given weights stored
// (clamped on write). It never touches any other field and never calls
// the generation boundary.
func SetWeights(p Persona, w Weights) Persona {
	clamped := ClampWeights(w)
	p.Weights = &clamped
	return p
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
