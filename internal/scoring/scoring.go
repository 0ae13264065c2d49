// Package scoring maps weighted detection indicators to a risk score and
// derives the threat level from the score. The threshold ladder here is
// the single source of truth for level assignment; detectors never set a
// threat level directly.
package scoring

import "threatwatch/internal/schema"

// Indicator is one weighted contribution to a risk score. Reason is the
// short human-readable string recorded on the emitted event.
type Indicator struct {
	Reason string
	Weight int
}

// Thresholds defines the score bands for threat-level classification.
// Each bound is inclusive at the lower end of its band.
type Thresholds struct {
	Critical int `yaml:"critical"`
	High     int `yaml:"high"`
	Medium   int `yaml:"medium"`
}

// DefaultThresholds returns the standard classification ladder.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Critical: 90,
		High:     75,
		Medium:   50,
	}
}

// Scorer turns indicator sets into scores and threat levels.
type Scorer struct {
	thresholds Thresholds
}

// NewScorer creates a Scorer with the given thresholds.
func NewScorer(t Thresholds) *Scorer {
	return &Scorer{thresholds: t}
}

// Score sums the indicator weights and clamps the result to [0, 100].
// The returned reasons preserve indicator order.
func (s *Scorer) Score(indicators []Indicator) (int, []string) {
	total := 0
	reasons := make([]string, 0, len(indicators))
	for _, ind := range indicators {
		total += ind.Weight
		reasons = append(reasons, ind.Reason)
	}
	return Clamp(total), reasons
}

// Classify maps a risk score to its threat level. It is total and
// monotonic over the Low < Medium < High < Critical ordering.
func (s *Scorer) Classify(score int) schema.ThreatLevel {
	switch {
	case score >= s.thresholds.Critical:
		return schema.LevelCritical
	case score >= s.thresholds.High:
		return schema.LevelHigh
	case score >= s.thresholds.Medium:
		return schema.LevelMedium
	default:
		return schema.LevelLow
	}
}

// Clamp bounds a raw score to the valid [0, 100] range.
func Clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
