// Package observability exposes Prometheus collectors for the sync
// pipeline. Labels are limited to the source name to keep cardinality
// bounded. All collectors are safe for concurrent use.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReleasesFetched counts raw releases fetched from upstream, by source.
	ReleasesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_releases_fetched_total",
			Help: "Total number of raw releases fetched from upstream APIs.",
		},
		[]string{"source"},
	)

	// MappingErrors counts per-release mapping failures, by source.
	MappingErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_mapping_errors_total",
			Help: "Total number of releases skipped due to mapping failures.",
		},
		[]string{"source"},
	)

	// Runs counts completed sync invocations by source and outcome.
	Runs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_runs_total",
			Help: "Total number of sync runs by outcome.",
		},
		[]string{"source", "result"},
	)

	// OrganizationsCreated counts newly derived organization records.
	OrganizationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_organizations_created_total",
			Help: "Total number of organizations first observed during ingestion.",
		},
		[]string{"source"},
	)
)
