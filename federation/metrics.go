package federation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var serverInfoCacheHits = promauto.NewCounter(prometheus.CounterOpts{
	Name: "arcrest_federation_server_info_cache_hits",
	Help: "Number of server info requests served from the directory cache",
})

var serverInfoCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
	Name: "arcrest_federation_server_info_cache_misses",
	Help: "Number of server info requests requiring a lookup",
})

var serverInfoLookupsCoalesced = promauto.NewCounter(prometheus.CounterOpts{
	Name: "arcrest_federation_server_info_lookups_coalesced",
	Help: "Number of server info lookups merged into an identical in-flight lookup",
})
