// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package stf

import (
	"github.com/ava-labs/avalanchego/utils/wrappers"
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	slots       prometheus.Counter
	batches     *prometheus.CounterVec
	txs         *prometheus.CounterVec
	gas         prometheus.Counter
	stateUpdate prometheus.Histogram
}

func newMetrics(namespace string, reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		slots: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slots_applied",
			Help:      "Number of slots applied",
		}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches",
			Help:      "Number of batches by sequencer outcome",
		}, []string{"outcome"}),
		txs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "txs",
			Help:      "Number of transactions by effect",
		}, []string{"effect"}),
		gas: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gas_used",
			Help:      "Gas charged for state access",
		}),
		stateUpdate: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "state_update_seconds",
			Help:      "Time spent computing and committing the state update of a slot",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	errs := wrappers.Errs{}
	errs.Add(
		reg.Register(m.slots),
		reg.Register(m.batches),
		reg.Register(m.txs),
		reg.Register(m.gas),
		reg.Register(m.stateUpdate),
	)
	return m, errs.Err
}
