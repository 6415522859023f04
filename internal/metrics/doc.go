/*
Package metrics exports icon cache metrics to Prometheus.

# Overview

Collector owns a private Prometheus registry. Event metrics are pushed
by the components that produce them; tier metrics are pulled from each
tier's Stats on every scrape.

	┌─────────────┐   ObserveLoad        ┌──────────────┐
	│   Loader    │ ───────────────────▶ │              │
	└─────────────┘                      │              │
	┌─────────────┐   ObservePreloadItem │  Collector   │ ──▶ /metrics
	│  Preloader  │ ───────────────────▶ │              │
	└─────────────┘                      │              │
	┌─────────────┐   Stats() on scrape  │              │
	│ Cache tiers │ ◀─────────────────── │              │
	└─────────────┘                      └──────────────┘

# Exported series

All names carry the configured namespace (default "iconcache").

	loads_total{source,status}       background loads by where the image came from
	load_duration_seconds{source}    background load latency
	preload_items_total{outcome}     preloaded icons by outcome
	errors_total{operation,type}     errors by error code
	cache_hits_total{tier}           per-tier hit counter
	cache_misses_total{tier}         per-tier miss counter
	cache_evictions_total{tier}      per-tier eviction counter
	cache_entries{tier}              entries currently held
	cache_size_bytes{tier}           bytes currently held
	cache_budget_bytes{tier}         configured budget

# Usage

	collector, err := metrics.NewCollector(metrics.DefaultConfig())
	if err != nil {
		return err
	}
	collector.RegisterTier("memory", memory.Stats)
	mux.Handle("/metrics", collector.Handler())

A disabled collector accepts every call and records nothing; its Handler
answers 404.
*/
package metrics
