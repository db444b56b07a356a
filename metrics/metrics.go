package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for both mtrip runtime modes. The meter exports probe and round
// accounting, the reflector exports echo accounting; both are registered
// unconditionally and simply stay at zero in the other mode.
var (
	ProbesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mtrip_probes_sent_total",
			Help: "Number of probe datagrams sent by the meter.",
		})
	ReflectionsReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mtrip_reflections_received_total",
			Help: "Number of reflected datagrams received by the meter.",
		})
	MalformedReflections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mtrip_malformed_reflections_total",
			Help: "Number of reflected datagrams the meter could not decode.",
		})
	Rounds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mtrip_rounds_total",
			Help: "Number of probing rounds run, by search phase and verdict.",
		},
		[]string{"phase", "verdict"})
	RoundLossRatio = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mtrip_round_loss_ratio",
			Help:    "A histogram of per-round loss ratios.",
			Buckets: []float64{0, .001, .005, .01, .02, .05, .1, .2, .5, 1},
		})
	TestRate = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "mtrip_test_rate_mbps",
			Help: "A histogram of per-round attempted send rates.",
			Buckets: []float64{
				.1, .15, .25, .4, .6,
				1, 1.5, 2.5, 4, 6,
				10, 15, 25, 40, 60,
				100, 150, 250, 400, 600,
				1000},
		})
	ReflectedDatagrams = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mtrip_reflected_datagrams_total",
			Help: "Number of datagrams echoed back by the reflector.",
		})
	ReflectedBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mtrip_reflected_bytes_total",
			Help: "Number of payload bytes echoed back by the reflector.",
		})
	ErrorCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mtrip_errors_total",
			Help: "Number of recoverable errors of each type in each mode.",
		},
		[]string{"mode", "error"})
)
