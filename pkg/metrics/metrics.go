package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nodeset-org/nodeset-analytics/pkg/analytics"
	"github.com/nodeset-org/nodeset-analytics/pkg/efficiency"
)

// Metrics exposes the latest analytics results as Prometheus gauges.
type Metrics struct {
	registry *prometheus.Registry

	operatorEfficiency *prometheus.GaugeVec
	operatorRank       *prometheus.GaugeVec
	validatorsDown     *prometheus.GaugeVec
	participation      prometheus.Gauge
	skippedRecords     *prometheus.CounterVec
	latestEpoch        prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operatorEfficiency: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "nodeset_operator_efficiency_percent",
				Help: "Operator reward efficiency by method and rollup",
			},
			[]string{"operator", "method", "rollup"},
		),
		operatorRank: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "nodeset_operator_rank",
				Help: "Operator rank by reward efficiency",
			},
			[]string{"operator", "method"},
		),
		validatorsDown: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "nodeset_validators_down",
				Help: "Validators that missed every attestation in the most recent epochs",
			},
			[]string{"operator"},
		),
		participation: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "nodeset_latest_participation_percent",
				Help: "Attestation participation of the latest tracked epoch",
			},
		),
		skippedRecords: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nodeset_skipped_records_total",
				Help: "Malformed duty records skipped during aggregation",
			},
			[]string{"method"},
		),
		latestEpoch: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "nodeset_latest_epoch",
				Help: "Latest epoch of the resolved analytics window",
			},
		),
	}
	m.registry.MustRegister(
		m.operatorEfficiency,
		m.operatorRank,
		m.validatorsDown,
		m.participation,
		m.skippedRecords,
		m.latestEpoch,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RollupAggregate labels the efficiency of an operator's pooled aggregate.
const RollupAggregate = "aggregate"

// ObserveReport replaces the operator gauges of the report's method.
func (m *Metrics) ObserveReport(report *analytics.Report) {
	method := string(report.Method)
	m.operatorEfficiency.DeletePartialMatch(prometheus.Labels{"method": method})
	m.operatorRank.DeletePartialMatch(prometheus.Labels{"method": method})
	for _, op := range report.Operators {
		m.operatorEfficiency.WithLabelValues(op.Operator, method, string(efficiency.RankByTotals)).
			Set(op.OperatorRewardPercentage)
		m.operatorEfficiency.WithLabelValues(op.Operator, method, string(efficiency.RankByAverage)).
			Set(op.AvgValidatorRewardPercentage)
		if op.Aggregate != nil {
			m.operatorEfficiency.WithLabelValues(op.Operator, method, RollupAggregate).Set(op.Aggregate.Overall)
		}
		m.operatorRank.WithLabelValues(op.Operator, method).Set(float64(op.Rank))
	}
	m.skippedRecords.WithLabelValues(method).Add(float64(report.Skipped))
	m.latestEpoch.Set(float64(report.Window.EndEpoch))
}

// ObserveDown replaces the down validator gauges.
func (m *Metrics) ObserveDown(summary *efficiency.DownSummary) {
	m.validatorsDown.Reset()
	for operator, count := range summary.DownByOperator {
		m.validatorsDown.WithLabelValues(operator).Set(float64(count))
	}
	m.participation.Set(summary.LatestParticipationRate)
}
