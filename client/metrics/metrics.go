// Copyright (c) HAL Core Contributors
// SPDX-License-Identifier: BUSL-1.1

// Package metrics wires the core's github.com/hashicorp/go-metrics handle
// to a github.com/prometheus/client_golang-scraped sink, the combination
// the teacher's agent telemetry setup (metrics.NewGlobal plus an in-memory
// sink for local inspection) generalizes to a Prometheus exporter for.
// Every L1/L2 façade that emits metrics (client/memory, client/resource)
// takes the *metrics.Metrics this package builds rather than reaching for
// the package-global metrics.IncrCounter, so a caller can run more than
// one Coordinator/Facade in one process without their counters colliding.
package metrics

import (
	"time"

	gometrics "github.com/hashicorp/go-metrics"
	gometricsprom "github.com/hashicorp/go-metrics/prometheus"
	"github.com/prometheus/client_golang/prometheus"
)

// Config controls sink construction.
type Config struct {
	ServiceName string
	// Registerer receives the Prometheus collector; defaults to a fresh
	// prometheus.NewRegistry(), not prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
	// InmemRetain controls how long the companion in-memory sink (used by
	// client/registry.Catalog-style introspection tooling, not by
	// Prometheus scraping) retains samples.
	InmemRetain time.Duration
}

// New builds a *gometrics.Metrics that fans out to both an in-memory sink
// (cheap local introspection, grounded on the teacher's
// metrics.NewInmemSink test convention) and a Prometheus sink registered
// against cfg.Registerer (or a fresh registry when it is nil).
func New(cfg Config) (*gometrics.Metrics, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "hal_core"
	}
	if cfg.InmemRetain <= 0 {
		cfg.InmemRetain = time.Minute
	}
	registerer := cfg.Registerer
	if registerer == nil {
		// A fresh registry rather than prometheus.DefaultRegisterer: a
		// process that boots more than one Core (tests doing exactly
		// this are the common case) would otherwise panic the second
		// time through on a duplicate collector registration.
		registerer = prometheus.NewRegistry()
	}

	promSink, err := gometricsprom.NewPrometheusSinkFrom(gometricsprom.PrometheusOpts{
		Registerer: registerer,
	})
	if err != nil {
		return nil, err
	}

	inmem := gometrics.NewInmemSink(10*time.Second, cfg.InmemRetain)
	fanout := gometrics.FanoutSink{inmem, promSink}

	conf := gometrics.DefaultConfig(cfg.ServiceName)
	conf.EnableHostname = false
	conf.EnableRuntimeMetrics = false

	return gometrics.New(conf, fanout)
}
