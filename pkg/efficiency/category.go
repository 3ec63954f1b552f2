package efficiency

import "errors"

type Category string

const (
	CategoryExcellent Category = "Excellent"
	CategoryGood      Category = "Good"
	CategoryAverage   Category = "Average"
	CategoryPoor      Category = "Poor"
)

// Thresholds are the minimum percentages of each category.
type Thresholds struct {
	Excellent float64 `yaml:"excellent"`
	Good      float64 `yaml:"good"`
	Average   float64 `yaml:"average"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{Excellent: 99.5, Good: 98.5, Average: 97}
}

func (t Thresholds) Validate() error {
	if !(t.Excellent > t.Good && t.Good > t.Average) {
		return errors.New("category thresholds must be strictly descending")
	}
	return nil
}

func (t Thresholds) Categorize(pct float64) Category {
	switch {
	case pct >= t.Excellent:
		return CategoryExcellent
	case pct >= t.Good:
		return CategoryGood
	case pct >= t.Average:
		return CategoryAverage
	default:
		return CategoryPoor
	}
}
