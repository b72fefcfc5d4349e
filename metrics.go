package sweph

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	filesOpened = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweph_files_opened_total",
			Help: "Ephemeris files opened successfully, by kind.",
		},
		[]string{"kind"},
	)

	filesRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweph_files_rejected_total",
			Help: "Ephemeris files rejected while parsing, by diagnostic code.",
		},
		[]string{"code"},
	)

	segmentsDecoded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweph_segments_decoded_total",
			Help: "Coefficient segments decoded, by result.",
		},
		[]string{"result"},
	)

	decodeDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sweph_decode_duration_seconds",
			Help:    "Time spent decoding one coefficient segment.",
			Buckets: prometheus.ExponentialBuckets(1e-6, 4, 10),
		},
	)

	httpRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sweph_http_retries_total",
			Help: "Retried HTTP range requests.",
		},
	)
)

func init() {
	prometheus.MustRegister(filesOpened)
	prometheus.MustRegister(filesRejected)
	prometheus.MustRegister(segmentsDecoded)
	prometheus.MustRegister(decodeDurationSeconds)
	prometheus.MustRegister(httpRetries)
}

func codeLabel(err error) string {
	if c := DamageCode(err); c != "" {
		return c
	}
	return "other"
}
