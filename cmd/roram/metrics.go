package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/brineoram/roram"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// startMetricsServer registers roram's gauges and serves them at
// http://addr/metrics for the duration of the benchmark run.
func startMetricsServer(addr string) {
	registry := []prometheus.Collector{roram.StashSize, roram.SeekCount}
	for i, coll := range registry {
		if err := prometheus.Register(coll); err != nil {
			log.Printf("failed to register metric %d: %v", i, err)
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/", func(rw http.ResponseWriter, req *http.Request) {
		fmt.Fprintln(rw, "roram bench metrics server")
	})

	log.Printf("serving metrics on http://%s/metrics", addr)
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()
}

func reportMetrics(coord *roram.Coordinator) {
	coord.ReportMetrics()
}
