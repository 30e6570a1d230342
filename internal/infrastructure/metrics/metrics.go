package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransfersTotal counts transfer responses by outcome
	TransfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xfrd_transfers_total",
		Help: "Total number of transfer responses processed, by outcome",
	}, []string{"result"})

	// ProbesTotal counts outgoing transfer queries per transport
	ProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xfrd_probes_total",
		Help: "Total number of transfer queries sent to masters",
	}, []string{"transport"})

	// RetriesTotal counts retry timer arms after failed attempts
	RetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xfrd_retries_total",
		Help: "Total number of retry timers scheduled",
	})

	// TCPSlotsInUse tracks occupied slots of the TCP connection pool
	TCPSlotsInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "xfrd_tcp_slots_in_use",
		Help: "Number of TCP transfer slots currently in use",
	})

	// TCPWaitQueue tracks zones queued for a TCP slot
	TCPWaitQueue = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "xfrd_tcp_wait_queue",
		Help: "Number of zones waiting for a free TCP transfer slot",
	})

	// DBConnectionsActive tracks open database connections
	DBConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "xfrd_db_connections_active",
		Help: "Number of active database connections",
	})
)
