package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(jobsSubmittedTotal, jobsFinishedTotal, jobsSplitPages) }

var jobsSubmittedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "pdf2md_jobs_submitted_total",
		Help: "Total number of conversion jobs accepted at intake.",
	},
)

var jobsFinishedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pdf2md_jobs_finished_total",
		Help: "Jobs that reached a terminal state, labeled by status and failure kind.",
	},
	[]string{"status", "failure"},
)

var jobsSplitPages = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "pdf2md_job_page_count",
		Help:    "Pages produced by splitting, per job.",
		Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
	},
)

func IncJobSubmitted() { jobsSubmittedTotal.Inc() }

func IncJobFinished(status, failure string) {
	jobsFinishedTotal.WithLabelValues(norm(status), norm(failure)).Inc()
}

func ObserveJobPages(n int) { jobsSplitPages.Observe(float64(n)) }
