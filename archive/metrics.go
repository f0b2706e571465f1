package archive

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// releaseArchivedCount is a Counter vector of archived releases
	releaseArchivedCount *prometheus.CounterVec
)

// EnableMetrics will enable metrics collection for release archival.
// Available metrics are...
//   - release_archived_count - (tags: repo)
//     A Counter for each release archived without error per repo.
func EnableMetrics(metricsNamespace string, registerer prometheus.Registerer) {
	releaseArchivedCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "release_archived_count",
		Help:      "Count of releases archived without error",
	},
		[]string{
			// name of the repository
			"repo",
		},
	)

	registerer.MustRegister(
		releaseArchivedCount,
	)
}

func recordReleaseArchived(repo string) {
	// if metrics not enabled return
	if releaseArchivedCount == nil {
		return
	}
	releaseArchivedCount.WithLabelValues(repo).Inc()
}
