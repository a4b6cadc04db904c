package zone

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	zonesLive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rdns_zones_live",
		Help: "Number of zones currently registered.",
	})

	zonesCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rdns_zones_created_total",
		Help: "Total zones created.",
	})

	zonesEvictedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rdns_zones_evicted_total",
		Help: "Total zones removed, by cause.",
	}, []string{"cause"})
)
