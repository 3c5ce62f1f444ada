package metrics

import "time"

// Invocation outcomes.
const (
	OutcomeSuccess      = "success"
	OutcomeHandlerError = "handler_error"
	OutcomeRejected     = "rejected"
)

// ObserveInvocation records one finished (or rejected) invocation.
func ObserveInvocation(function, typ, outcome string, d time.Duration) {
	invocationsTotal.WithLabelValues(function, typ, outcome).Inc()
	if outcome != OutcomeRejected {
		invocationDuration.WithLabelValues(function).Observe(d.Seconds())
	}
}
