// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package storage

import (
	"github.com/ava-labs/avalanchego/utils/wrappers"
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	reads          prometheus.Counter
	nodeCacheHits  prometheus.Counter
	nodeCacheMiss  prometheus.Counter
	nodesWritten   prometheus.Counter
	latestVersion  prometheus.Gauge
	commitDuration prometheus.Histogram
}

func newMetrics(namespace string, reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		reads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reads",
			Help:      "Number of authenticated values read",
		}),
		nodeCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_cache_hits",
			Help:      "Number of tree nodes served from memory",
		}),
		nodeCacheMiss: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_cache_misses",
			Help:      "Number of tree nodes read from disk",
		}),
		nodesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nodes_written",
			Help:      "Number of tree nodes persisted",
		}),
		latestVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "latest_version",
			Help:      "Latest committed state version",
		}),
		commitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "commit_duration_seconds",
			Help:      "Time spent persisting a state update",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	errs := wrappers.Errs{}
	errs.Add(
		reg.Register(m.reads),
		reg.Register(m.nodeCacheHits),
		reg.Register(m.nodeCacheMiss),
		reg.Register(m.nodesWritten),
		reg.Register(m.latestVersion),
		reg.Register(m.commitDuration),
	)
	return m, errs.Err
}
