package efficiency

import (
	"math"
	"sort"
)

// Concentration measures how validators are distributed across operators.
type Concentration struct {
	Operators    int     `json:"operators"`
	Validators   int     `json:"validators"`
	Gini         float64 `json:"gini_coefficient"`
	Herfindahl   float64 `json:"herfindahl_index"`
	Top1Percent  float64 `json:"top_1_percent"`
	Top5Percent  float64 `json:"top_5_percent"`
	Top10Percent float64 `json:"top_10_percent"`
	Top20Percent float64 `json:"top_20_percent"`
}

// ComputeConcentration returns concentration metrics of validator counts per
// operator. Top-N percentages are the share of validators run by the N
// largest operators.
func ComputeConcentration(validatorsByOperator map[string]int) Concentration {
	counts := make([]int, 0, len(validatorsByOperator))
	total := 0
	for _, c := range validatorsByOperator {
		if c <= 0 {
			continue
		}
		counts = append(counts, c)
		total += c
	}
	conc := Concentration{Operators: len(counts), Validators: total}
	if total == 0 {
		return conc
	}
	n := float64(len(counts))

	sort.Ints(counts)
	var weighted, hhi float64
	for i, c := range counts {
		weighted += float64(i+1) * float64(c)
		share := float64(c) / float64(total)
		hhi += share * share
	}
	gini := 2*weighted/(n*float64(total)) - (n+1)/n
	conc.Gini = math.Max(0, math.Min(1, gini))
	conc.Herfindahl = hhi

	top := func(k int) float64 {
		sum := 0
		for i := len(counts) - 1; i >= 0 && i >= len(counts)-k; i-- {
			sum += counts[i]
		}
		return float64(sum) / float64(total) * 100
	}
	conc.Top1Percent = top(1)
	conc.Top5Percent = top(5)
	conc.Top10Percent = top(10)
	conc.Top20Percent = top(20)
	return conc
}

// ValidatorsByOperator counts the validators of each operator in the fold.
func (f *Fold) ValidatorsByOperator() map[string]int {
	counts := make(map[string]int, len(f.ByOperator))
	for operator, a := range f.ByOperator {
		counts[operator] = a.ValidatorCount
	}
	return counts
}
