// Package metrics exposes counters through both expvar and Prometheus.
package metrics

import (
	"expvar"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	TicksIngested  = expvar.NewInt("ticks_ingested")
	SignalsOpened  = expvar.NewInt("signals_opened")
	EarlyWarnings  = expvar.NewInt("early_warnings")
	Reconnects     = expvar.NewInt("reconnects")
	StoreErrors    = expvar.NewInt("store_errors")
	DeliveryErrors = expvar.NewInt("delivery_errors")
)

var (
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "spikebot", Name: "ticks_total", Help: "Market ticks ingested"},
		[]string{"symbol"},
	)
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "spikebot", Name: "signals_total", Help: "Signals emitted by the detector"},
		[]string{"symbol", "kind"},
	)
	TransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "spikebot", Name: "signal_transitions_total", Help: "Trade-signal terminal transitions"},
		[]string{"symbol", "status"},
	)
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "spikebot", Name: "notifications_total", Help: "Notification deliveries per sink"},
		[]string{"sink", "kind", "result"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "spikebot", Name: "orders_total", Help: "Orders submitted to the broker"},
		[]string{"symbol", "result"},
	)
	StoreErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "spikebot", Name: "store_errors_total", Help: "Failed persistence operations"},
		[]string{"op"},
	)
	ReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "spikebot", Name: "reconnects_total", Help: "Stream reconnect attempts"},
	)
	Connected = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: "spikebot", Name: "connected", Help: "1 while the stream session is authorized"},
	)
)

func init() {
	prometheus.MustRegister(
		TicksTotal, SignalsTotal, TransitionsTotal, NotificationsTotal,
		OrdersTotal, StoreErrorsTotal, ReconnectsTotal, Connected,
	)
}

func ObserveTick(symbol string) {
	TicksIngested.Add(1)
	TicksTotal.WithLabelValues(symbol).Inc()
}

func ObserveSignal(symbol, kind string) {
	if kind == "early_warning" {
		EarlyWarnings.Add(1)
	} else {
		SignalsOpened.Add(1)
	}
	SignalsTotal.WithLabelValues(symbol, kind).Inc()
}

func ObserveTransition(symbol, status string) {
	TransitionsTotal.WithLabelValues(symbol, status).Inc()
}

func ObserveNotification(sink, kind string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
		DeliveryErrors.Add(1)
	}
	NotificationsTotal.WithLabelValues(sink, kind, result).Inc()
}

func ObserveOrder(symbol string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	OrdersTotal.WithLabelValues(symbol, result).Inc()
}

func ObserveStoreError(op string) {
	StoreErrors.Add(1)
	StoreErrorsTotal.WithLabelValues(op).Inc()
}

func ObserveReconnect() {
	Reconnects.Add(1)
	ReconnectsTotal.Inc()
}

func SetConnected(up bool) {
	if up {
		Connected.Set(1)
		return
	}
	Connected.Set(0)
}
