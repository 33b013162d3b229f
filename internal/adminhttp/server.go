// Copyright (C) 2026 The MerkleKV Authors.
// All rights reserved. This file is part of merklekv.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package adminhttp exposes the operator-facing HTTP surface alongside the
// MQTT data plane: a liveness probe and a Prometheus scrape endpoint, on a
// gorilla/mux router with a gorilla/handlers logging/recovery middleware
// chain and an explicit http.Server with graceful Shutdown.
package adminhttp

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/merklekv/merklekv/pkg/log"
)

// HealthChecker reports whether the node is ready to serve traffic. The
// broker connection state is the canonical signal.
type HealthChecker interface {
	Healthy() bool
}

// Server is the admin-facing HTTP listener bound to config.AdminAddr.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
}

// New builds the admin router: /healthz and /metrics.
func New(addr string, gatherer prometheus.Gatherer, health HealthChecker) (*Server, error) {
	router := mux.NewRouter()

	router.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		if health != nil && !health.Healthy() {
			rw.WriteHeader(http.StatusServiceUnavailable)
			rw.Write([]byte("not ready\n"))
			return
		}
		rw.WriteHeader(http.StatusOK)
		rw.Write([]byte("ok\n"))
	}).Methods(http.MethodGet)

	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	logged := handlers.CustomLoggingHandler(io.Discard, router, func(_ io.Writer, params handlers.LogFormatterParams) {
		log.Debugf("adminhttp: %s %s (%d, %dms)",
			params.Request.Method, params.URL.RequestURI(),
			params.StatusCode, time.Since(params.TimeStamp).Milliseconds())
	})
	logged = handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(logged)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	return &Server{
		httpServer: &http.Server{
			Handler:      logged,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		listener: listener,
	}, nil
}

// Addr returns the actual bound address, useful when addr used port 0.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve blocks, serving admin HTTP traffic until Shutdown is called.
func (s *Server) Serve() error {
	log.Infof("adminhttp: listening on %s", s.Addr())
	if err := s.httpServer.Serve(s.listener); err != nil && !strings.Contains(err.Error(), "use of closed network connection") && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the admin server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
