package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	webhookEventsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "webhook_events_total",
			Help:      "Webhook sub-events by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	outboundSendsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "outbound_sends_total",
			Help:      "Outbound send requests by outcome.",
		},
		[]string{"outcome"},
	)

	replayedPatchesCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "buffered_patches_replayed_total",
			Help:      "Buffered status patches applied after their record appeared.",
		},
	)
)
