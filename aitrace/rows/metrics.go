package rows

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rowsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aitrace_rows_created_total",
		Help: "Rows created through the api or by upload.",
	})

	rowsDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aitrace_rows_deleted_total",
		Help: "Rows deleted individually or in bulk.",
	})

	rowsImported = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aitrace_rows_imported_total",
		Help: "Csv import rows by outcome.",
	}, []string{"result"})

	imageFetchSeconds = promauto.NewSummary(prometheus.SummaryOpts{
		Name:       "aitrace_image_fetch_seconds",
		Help:       "Time taken to download row images.",
		Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
	})
)
