package storage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crmstore_cache_hits_total",
		Help: "Number of valid cache entries served, by store.",
	}, []string{"store"})
	cacheMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crmstore_cache_misses_total",
		Help: "Number of lookups that found no valid entry, by store.",
	}, []string{"store"})
	cacheInvalidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crmstore_cache_invalidations_total",
		Help: "Number of whole-store invalidations, by store.",
	}, []string{"store"})
	remoteFetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crmstore_remote_fetches_total",
		Help: "Number of fetches issued to the remote source after a cache miss, by store.",
	}, []string{"store"})
	permissionDeniedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crmstore_permission_denied_total",
		Help: "Number of operations refused by the permission evaluator, by action.",
	}, []string{"action"})
)
