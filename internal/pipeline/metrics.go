package pipeline

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/choosenname/bel-20-indexer/internal/interpreter"
)

// Metrics exposes the pipeline's own counters on a private prometheus.Registry
// so a scrape never shares a bind address with the API's REST/SSE surface.
type Metrics struct {
	registry        *prometheus.Registry
	blocksProcessed prometheus.Counter
	actionsDropped  *prometheus.CounterVec
}

// NewMetrics builds a Metrics with its own registry and registers every
// counter ProcessBlock reports to.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		blocksProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bel20indexer_blocks_processed_total",
			Help: "Total number of blocks folded into the token store.",
		}),
		actionsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bel20indexer_actions_dropped_total",
			Help: "Decoded actions the interpreter rejected without emitting history, by action kind.",
		}, []string{"kind"}),
	}

	reg.MustRegister(m.blocksProcessed, m.actionsDropped)
	return m
}

// Handler serves the registry in the Prometheus text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) observeBlock(blk Block, emissions []interpreter.Emission) {
	m.blocksProcessed.Inc()

	submitted := map[string]int{}
	for _, a := range blk.Actions {
		submitted[actionKindLabel(a)]++
	}
	for _, e := range emissions {
		submitted[emissionKindLabel(e.Type)]--
	}
	for kind, dropped := range submitted {
		if dropped > 0 {
			m.actionsDropped.WithLabelValues(kind).Add(float64(dropped))
		}
	}
}

func actionKindLabel(a interpreter.RawAction) string {
	switch a.(type) {
	case interpreter.Deploy:
		return "deploy"
	case interpreter.Mint:
		return "mint"
	case interpreter.Transfer:
		return "transfer"
	case interpreter.Transferred:
		return "transferred"
	default:
		return "unknown"
	}
}

func emissionKindLabel(k interpreter.HistoryActionKind) string {
	switch k {
	case interpreter.KindDeploy:
		return "deploy"
	case interpreter.KindMint:
		return "mint"
	case interpreter.KindTransfer:
		return "transfer"
	case interpreter.KindSend:
		return "transferred"
	default:
		return "unknown"
	}
}
