package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	framesRead = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rammbock",
			Subsystem: "stream",
			Name:      "frames_read_total",
			Help:      "Frames read from the transport.",
		},
		[]string{"stream"},
	)
	framesCached = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rammbock",
			Subsystem: "stream",
			Name:      "frames_cached_total",
			Help:      "Frames stored because nothing was waiting for them.",
		},
		[]string{"stream"},
	)
	framesDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rammbock",
			Subsystem: "stream",
			Name:      "frames_dispatched_total",
			Help:      "Frames delivered to registered handlers.",
		},
		[]string{"stream"},
	)
	cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rammbock",
			Subsystem: "stream",
			Name:      "cache_hits_total",
			Help:      "Receives served from the frame cache.",
		},
		[]string{"stream"},
	)
	getTimeouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rammbock",
			Subsystem: "stream",
			Name:      "get_timeouts_total",
			Help:      "Receives that timed out without a matching frame.",
		},
		[]string{"stream"},
	)
	workerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rammbock",
			Subsystem: "stream",
			Name:      "worker_errors_total",
			Help:      "Background handler cycles that failed.",
		},
		[]string{"stream"},
	)
	cacheSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "rammbock",
			Subsystem: "stream",
			Name:      "cache_frames",
			Help:      "Frames currently held in the stream cache.",
		},
		[]string{"stream"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(framesRead, framesCached, framesDispatched, cacheHits, getTimeouts, workerErrors, cacheSize)
	})
}

func RecordFrameRead(stream string) {
	RegisterMetrics()
	framesRead.WithLabelValues(stream).Inc()
}

func RecordFrameCached(stream string, size int) {
	RegisterMetrics()
	framesCached.WithLabelValues(stream).Inc()
	cacheSize.WithLabelValues(stream).Set(float64(size))
}

func RecordCacheHit(stream string, size int) {
	RegisterMetrics()
	cacheHits.WithLabelValues(stream).Inc()
	cacheSize.WithLabelValues(stream).Set(float64(size))
}

func RecordDispatch(stream string) {
	RegisterMetrics()
	framesDispatched.WithLabelValues(stream).Inc()
}

func RecordGetTimeout(stream string) {
	RegisterMetrics()
	getTimeouts.WithLabelValues(stream).Inc()
}

func RecordWorkerError(stream string) {
	RegisterMetrics()
	workerErrors.WithLabelValues(stream).Inc()
}

func SetCacheSize(stream string, size int) {
	RegisterMetrics()
	cacheSize.WithLabelValues(stream).Set(float64(size))
}
