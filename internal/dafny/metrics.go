package dafny

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// requestsTotal counts finished requests by verb and outcome
	// (ok, crashed, write_error, discarded).
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dafny_requests_total",
		Help: "Total verifier requests by verb and outcome",
	}, []string{"verb", "outcome"})

	// requestDuration tracks time from send to parsed response
	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dafny_request_duration_seconds",
		Help:    "Verifier request duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
	}, []string{"verb"})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dafny_queue_depth",
		Help: "Requests waiting for the verifier",
	})

	serverSpawns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dafny_server_spawns_total",
		Help: "Verifier processes started",
	})

	serverCrashes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dafny_server_crashes_total",
		Help: "Unexpected verifier exits",
	})

	// protocolDesyncs counts responses that arrived with no active request
	protocolDesyncs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dafny_protocol_desync_total",
		Help: "Terminated messages received with no active request",
	})
)
