// Package metrics exposes the node's operational counters and gauges over
// Prometheus, grounded on the teacher's HealthLogger
// (core/system_health_logging.go): a private registry, a handful of named
// gauges/counters registered at construction, and an HTTP server exposing
// them, adapted from blockchain health figures to RPC/storage figures.
package metrics

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Collector holds every metric this node reports, registered against its
// own private prometheus.Registry so embedding callers don't collide with
// the global default registry.
type Collector struct {
	registry *prometheus.Registry
	log      *logrus.Entry

	rpcSent      prometheus.Counter
	rpcReceived  prometheus.Counter
	rpcTimedOut  prometheus.Counter
	rpcErrored   prometheus.Counter
	rpcStallTime prometheus.Gauge

	storagePuts   *prometheus.CounterVec
	storageGets   *prometheus.CounterVec
	purgedValues  prometheus.Counter
	purgedPeers   prometheus.Counter

	reachable       prometheus.Gauge
	throttledCalls  prometheus.Counter
	blacklistEvents prometheus.Counter
}

// New builds and registers a Collector. log may be nil, in which case
// logging around the metrics server falls back to logrus's standard
// logger (teacher convention: HealthLogger always takes an explicit
// logger, but this package's callers may not have one yet at startup).
func New(log *logrus.Entry) *Collector {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	reg := prometheus.NewRegistry()

	c := &Collector{
		registry: reg,
		log:      log,
		rpcSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "godht_rpc_sent_total",
			Help: "Total number of RPC calls sent.",
		}),
		rpcReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "godht_rpc_received_total",
			Help: "Total number of RPC packets received and successfully decoded.",
		}),
		rpcTimedOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "godht_rpc_timeout_total",
			Help: "Total number of RPC calls that reached the TIMEOUT state.",
		}),
		rpcErrored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "godht_rpc_error_total",
			Help: "Total number of RPC calls that reached the ERROR state.",
		}),
		rpcStallTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "godht_rpc_stall_timeout_ms",
			Help: "Current adaptive stall timeout, in milliseconds.",
		}),
		storagePuts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "godht_storage_puts_total",
			Help: "Total number of PutValue/PutPeer calls, by kind.",
		}, []string{"kind"}),
		storageGets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "godht_storage_gets_total",
			Help: "Total number of GetValue/GetPeer calls, by kind and hit/miss.",
		}, []string{"kind", "result"}),
		purgedValues: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "godht_storage_purged_values_total",
			Help: "Total number of expired values removed by Purge.",
		}),
		purgedPeers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "godht_storage_purged_peers_total",
			Help: "Total number of expired peer announcements removed by Purge.",
		}),
		reachable: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "godht_reachable",
			Help: "1 if the node believes itself publicly reachable, 0 otherwise.",
		}),
		throttledCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "godht_throttled_total",
			Help: "Total number of inbound packets rejected by the spam throttle.",
		}),
		blacklistEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "godht_blacklist_events_total",
			Help: "Total number of packets dropped due to a blacklisted id or host.",
		}),
	}

	reg.MustRegister(
		c.rpcSent, c.rpcReceived, c.rpcTimedOut, c.rpcErrored, c.rpcStallTime,
		c.storagePuts, c.storageGets, c.purgedValues, c.purgedPeers,
		c.reachable, c.throttledCalls, c.blacklistEvents,
	)
	return c
}

func (c *Collector) RPCSent()     { c.rpcSent.Inc() }
func (c *Collector) RPCReceived() { c.rpcReceived.Inc() }
func (c *Collector) RPCTimedOut() { c.rpcTimedOut.Inc() }
func (c *Collector) RPCErrored()  { c.rpcErrored.Inc() }

// SetStallTimeoutMs records the TimeoutSampler's current StallTimeout.
func (c *Collector) SetStallTimeoutMs(ms float64) { c.rpcStallTime.Set(ms) }

func (c *Collector) StoragePut(kind string)            { c.storagePuts.WithLabelValues(kind).Inc() }
func (c *Collector) StorageGet(kind string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.storageGets.WithLabelValues(kind, result).Inc()
}

// RecordPurge adds the counts returned by a DataStorage.Purge call.
func (c *Collector) RecordPurge(values, peers int) {
	c.purgedValues.Add(float64(values))
	c.purgedPeers.Add(float64(peers))
}

// SetReachable mirrors RpcServer.Reachable() into a gauge.
func (c *Collector) SetReachable(reachable bool) {
	if reachable {
		c.reachable.Set(1)
	} else {
		c.reachable.Set(0)
	}
}

func (c *Collector) Throttled()      { c.throttledCalls.Inc() }
func (c *Collector) BlacklistHit()   { c.blacklistEvents.Inc() }

// StartServer exposes the collector's registry on addr's "/metrics" path,
// returning the underlying *http.Server so callers manage its lifecycle
// (teacher convention: HealthLogger.StartMetricsServer/ShutdownMetricsServer).
func (c *Collector) StartServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.log.WithError(err).Error("metrics server stopped")
		}
	}()
	return srv
}

// Shutdown gracefully stops a server returned by StartServer.
func (c *Collector) Shutdown(ctx context.Context, srv *http.Server) error {
	return srv.Shutdown(ctx)
}
