package model

// ScoringWeights holds the matcher's point values and thresholds. The
// defaults are empirical; a YAML file may override any subset of them.
type ScoringWeights struct {
	PriceInBudget      float64 `yaml:"priceInBudget"`
	PriceOutsideBudget float64 `yaml:"priceOutsideBudget"`
	PriceNoBudget      float64 `yaml:"priceNoBudget"`

	LocationExact     float64 `yaml:"locationExact"`
	LocationPartial   float64 `yaml:"locationPartial"`
	LocationUnmatched float64 `yaml:"locationUnmatched"`

	ActiveStatus  float64 `yaml:"activeStatus"`
	SeenRecent    float64 `yaml:"seenRecent"`
	SeenThisWeek  float64 `yaml:"seenThisWeek"`
	RecentHours   int     `yaml:"recentHours"`
	WeekHours     int     `yaml:"weekHours"`
	DetailPresent float64 `yaml:"detailPresent"` // per beds/baths/sqft field

	ThresholdBudgetLocation float64 `yaml:"thresholdBudgetLocation"`
	ThresholdBudgetOnly     float64 `yaml:"thresholdBudgetOnly"`
	ThresholdLocationOnly   float64 `yaml:"thresholdLocationOnly"`
	ThresholdNone           float64 `yaml:"thresholdNone"`

	NarrowWiden float64 `yaml:"narrowWiden"` // price window for the first two stages
	WideWiden   float64 `yaml:"wideWiden"`
}

// DefaultScoringWeights returns the production defaults.
func DefaultScoringWeights() ScoringWeights {
	return ScoringWeights{
		PriceInBudget:      40,
		PriceOutsideBudget: 15,
		PriceNoBudget:      5,

		LocationExact:     35,
		LocationPartial:   20,
		LocationUnmatched: 2,

		ActiveStatus:  5,
		SeenRecent:    10,
		SeenThisWeek:  5,
		RecentHours:   48,
		WeekHours:     168,
		DetailPresent: 1,

		ThresholdBudgetLocation: 50,
		ThresholdBudgetOnly:     35,
		ThresholdLocationOnly:   30,
		ThresholdNone:           5,

		NarrowWiden: 0.10,
		WideWiden:   0.20,
	}
}

// Threshold picks the minimum score for a client profile. More constraints
// mean a higher bar.
func (w ScoringWeights) Threshold(hasBudget, hasLocation bool) float64 {
	switch {
	case hasBudget && hasLocation:
		return w.ThresholdBudgetLocation
	case hasBudget:
		return w.ThresholdBudgetOnly
	case hasLocation:
		return w.ThresholdLocationOnly
	default:
		return w.ThresholdNone
	}
}
