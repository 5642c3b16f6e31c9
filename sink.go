package dash

// DeliverySink is a pluggable observer for delivery attempts and reporter events.
// Implementations must be non-blocking or very fast; the agent invokes the sink
// best-effort and does not wait for completion.
type DeliverySink interface {
	ObserveDelivery(DeliveryMetrics)
	ObserveEvent(name string, fields map[string]any)
}

// Outcome classifies a delivery attempt.
type Outcome string

const (
	// OutcomeDelivered is a 201 from a collector or a completed file write.
	OutcomeDelivered Outcome = "delivered"
	// OutcomeRejected is a 4xx from a collector.
	OutcomeRejected Outcome = "rejected"
	// OutcomeFailed is anything else: no response, transport error, unexpected status.
	OutcomeFailed Outcome = "failed"
)

// Event names passed to DeliverySink.ObserveEvent.
const (
	EventInfoSent          = "info_sent"
	EventIntervalDiscarded = "interval_discarded"
	EventSendDropped       = "send_dropped"
	EventSchedulingFault   = "scheduling_fault"
)

// DeliveryMetrics is a body-free snapshot of one delivery attempt.
type DeliveryMetrics struct {
	Kind       Kind
	Scheme     string
	Target     string
	StatusCode int
	SizeBytes  int64
	Outcome    Outcome
	Err        string
	Times      RequestTimes
}

// nopSink discards all observations.
type nopSink struct{}

func (nopSink) ObserveDelivery(DeliveryMetrics) {}
func (nopSink) ObserveEvent(string, map[string]any) {}
