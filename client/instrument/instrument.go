// SPDX-FileCopyrightText: Copyright (C) 2025  David Stainton
// SPDX-License-Identifier: AGPL-3.0-only

// Package instrument holds the client's prometheus metrics. They are only
// exported when a metrics address is configured, and never label anything
// with a journalist identity.
package instrument

import (
	"errors"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/op/go-logging.v1"
)

var (
	deadDropsVerified = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coverdrop_dead_drops_verified_total",
			Help: "Number of dead drops whose signature verified",
		},
	)
	deadDropsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coverdrop_dead_drops_dropped_total",
			Help: "Number of dead drops dropped after failing verification",
		},
	)
	deadDropsLegacy = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coverdrop_dead_drops_legacy_certificate_total",
			Help: "Number of dead drops verified through the legacy certificate",
		},
	)
	deadDropsProcessed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coverdrop_dead_drop_batches_processed_total",
			Help: "Number of dead drop batches decrypted and merged",
		},
	)
	keysRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coverdrop_keys_rejected_total",
			Help: "Number of published keys that failed verification",
		},
		[]string{"reason"},
	)
	queueOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coverdrop_queue_operations_total",
			Help: "Number of private sending queue operations",
		},
		[]string{"op"},
	)
)

func init() {
	prometheus.MustRegister(deadDropsVerified)
	prometheus.MustRegister(deadDropsDropped)
	prometheus.MustRegister(deadDropsLegacy)
	prometheus.MustRegister(deadDropsProcessed)
	prometheus.MustRegister(keysRejected)
	prometheus.MustRegister(queueOps)
}

// DeadDropVerified counts a verified dead drop.
func DeadDropVerified() {
	deadDropsVerified.Inc()
}

// DeadDropDropped counts a dead drop that failed verification.
func DeadDropDropped() {
	deadDropsDropped.Inc()
}

// DeadDropLegacyCertificate counts a dead drop accepted on its legacy
// certificate.
func DeadDropLegacyCertificate() {
	deadDropsLegacy.Inc()
}

// DeadDropBatchProcessed counts a decrypt and merge pass.
func DeadDropBatchProcessed() {
	deadDropsProcessed.Inc()
}

// KeyRejected counts a published key that failed verification.
func KeyRejected(reason string) {
	keysRejected.With(prometheus.Labels{"reason": reason}).Inc()
}

// QueueOperation counts an operation on the private sending queue.
func QueueOperation(op string) {
	queueOps.With(prometheus.Labels{"op": op}).Inc()
}

// Server exposes the registered metrics over HTTP.
type Server struct {
	srv *http.Server
	ln  net.Listener
}

// Addr returns the address the server listens on.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Close stops the server.
func (s *Server) Close() error {
	return s.srv.Close()
}

// Start serves /metrics on addr.
func Start(addr string, log *logging.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	s := &Server{
		srv: &http.Server{Handler: mux},
		ln:  ln,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("metrics listener failed: %v", err)
		}
	}()
	log.Noticef("Serving metrics on %v", ln.Addr())
	return s, nil
}
