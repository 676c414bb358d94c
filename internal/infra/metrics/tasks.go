package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(tasksProcessedTotal, leasesReclaimedTotal, leasesLostTotal, queueDepth)
}

var tasksProcessedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pdf2md_page_tasks_processed_total",
		Help: "Page-task processing outcomes.",
	},
	[]string{"outcome"}, // 'done', 'retried', 'failed', 'discarded'
)

var leasesReclaimedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "pdf2md_leases_reclaimed_total",
		Help: "Expired leases returned to the pending queue by reconcile.",
	},
)

var leasesLostTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "pdf2md_leases_lost_total",
		Help: "Leases a worker discovered it no longer held mid-processing.",
	},
)

var queueDepth = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "pdf2md_task_queue_depth",
		Help: "Page tasks waiting on the pending queue.",
	},
)

func IncTaskOutcome(outcome string) {
	tasksProcessedTotal.WithLabelValues(norm(outcome)).Inc()
}

func AddLeasesReclaimed(n int) { leasesReclaimedTotal.Add(float64(n)) }
func IncLeaseLost()            { leasesLostTotal.Inc() }
func SetQueueDepth(n int64)    { queueDepth.Set(float64(n)) }
