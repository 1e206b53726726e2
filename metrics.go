package main

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	metricConnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "perch_connections_total",
		Help: "Connections accepted.",
	})

	metricMessagesIn = promauto.NewCounter(prometheus.CounterOpts{
		Name: "perch_messages_in_total",
		Help: "Protocol messages read from connections.",
	})

	metricMessagesOut = promauto.NewCounter(prometheus.CounterOpts{
		Name: "perch_messages_out_total",
		Help: "Protocol messages queued for delivery.",
	})

	metricLocalUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "perch_local_users",
		Help: "Users registered on this node.",
	})

	metricChannels = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "perch_channels",
		Help: "Channels known to this node.",
	})

	metricPeerLinks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "perch_peer_links",
		Help: "Directly connected peer servers.",
	})
)

// serveMetrics exposes the Prometheus endpoint when configured. The
// HTTP server lives for the process lifetime.
func serveMetrics(addr string) {
	if addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil &&
			err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server error")
		}
	}()
}
