package efficiency

import (
	"sort"

	"github.com/nodeset-org/nodeset-analytics/pkg/window"
)

// DailyPerformance holds the operator percentages of a single day.
type DailyPerformance struct {
	Window     window.Window      `json:"window"`
	ByOperator map[string]float64 `json:"operators"`
}

type RankPoint struct {
	Window               window.Window `json:"window"`
	Rank                 int           `json:"rank"`
	Performance          float64       `json:"performance"`
	SingleDayPerformance float64       `json:"single_day_performance"`
	TotalOperators       int           `json:"total_operators"`
}

// RankHistory ranks the operator on each day by its rolling average over the
// preceding rolling days, including the day itself. Days must be in
// chronological order; days without the operator are omitted.
func RankHistory(days []DailyPerformance, operator string, rolling int) []RankPoint {
	if rolling < 1 {
		rolling = 1
	}
	var history []RankPoint
	for d, day := range days {
		single, ok := day.ByOperator[operator]
		if !ok {
			continue
		}
		from := d - rolling + 1
		if from < 0 {
			from = 0
		}
		type average struct {
			operator string
			value    float64
		}
		var averages []average
		for op := range day.ByOperator {
			var sum float64
			var n int
			for _, prev := range days[from : d+1] {
				if v, ok := prev.ByOperator[op]; ok {
					sum += v
					n++
				}
			}
			averages = append(averages, average{op, sum / float64(n)})
		}
		sort.Slice(averages, func(i, j int) bool {
			if averages[i].value != averages[j].value {
				return averages[i].value > averages[j].value
			}
			return averages[i].operator < averages[j].operator
		})
		point := RankPoint{
			Window:               day.Window,
			SingleDayPerformance: single,
			TotalOperators:       len(averages),
		}
		for i, a := range averages {
			if a.operator == operator {
				point.Rank = i + 1
				point.Performance = a.value
				break
			}
		}
		history = append(history, point)
	}
	return history
}
