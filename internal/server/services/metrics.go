package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var cryptoOperations = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "securemail_crypto_operations_total",
		Help: "OpenPGP operations performed by the mail services.",
	},
	[]string{"operation", "result"},
)

var keygenDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "securemail_keygen_duration_seconds",
		Help:    "Time spent generating key pairs, including the wait for a free worker.",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
	},
)

func observeCrypto(operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	cryptoOperations.WithLabelValues(operation, result).Inc()
}
