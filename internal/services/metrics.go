package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// accessDeniedTotal counts denials. Labels: op, outcome (forbidden, concealed)
	accessDeniedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buildlog",
			Subsystem: "core",
			Name:      "access_denied_total",
			Help:      "Permission denials by operation and how they were rendered",
		},
		[]string{"op", "outcome"},
	)

	// degradedReadsTotal counts aggregate reads that dropped a section.
	degradedReadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buildlog",
			Subsystem: "core",
			Name:      "degraded_reads_total",
			Help:      "Project reads served with a failed secondary section",
		},
		[]string{"section"},
	)

	storeErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buildlog",
			Subsystem: "core",
			Name:      "store_errors_total",
			Help:      "Transient store failures by operation and kind",
		},
		[]string{"op", "kind"},
	)

	// eventsPublishedTotal labels: type, result (ok, error)
	eventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buildlog",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Change notifications handed to the publisher",
		},
		[]string{"type", "result"},
	)

	invitesExpiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "buildlog",
			Subsystem: "core",
			Name:      "invites_expired_total",
			Help:      "Pending invites transitioned to removed by the expiry job",
		},
	)
)
