package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Client-side counters. The embedding app decides whether to expose them;
// the core only increments.
var (
	ChannelReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "yely_client", Name: "channel_reconnects_total",
		Help: "Times the live channel was re-established after a drop"})
	PublishesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "yely_client", Name: "publishes_dropped_total",
		Help: "Outbound publishes dropped because the channel was not open"})
	LocationPublishes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "yely_client", Name: "location_publishes_total",
		Help: "Driver location publishes attempted"})
	OffersReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "yely_client", Name: "offers_received_total",
		Help: "Ride offers delivered to this driver"})
	OffersWon = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "yely_client", Name: "offers_won_total",
		Help: "Accept attempts confirmed by the backend"})
	OffersLost = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "yely_client", Name: "offers_lost_total",
		Help: "Accept attempts that lost the race to another driver"})
	SubscriptionChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "yely_client", Name: "subscription_checks_total",
		Help: "Paywall status checks by outcome"},
		[]string{"outcome"})
)

// Simulator-side metrics, served on /metrics.
var (
	RidesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "yely_sim", Name: "rides_created_total",
		Help: "Rides created through the API"})
	AcceptAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "yely_sim", Name: "accept_attempts_total",
		Help: "Driver accept attempts received"})
	AcceptConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "yely_sim", Name: "accept_conflicts_total",
		Help: "Accept attempts rejected because another driver already won"})
	DriversOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "yely_sim", Name: "drivers_online",
		Help: "Drivers currently joined to the dispatch pool"})
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "yely_sim", Name: "http_requests_total",
			Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "yely_sim",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
