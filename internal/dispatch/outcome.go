package dispatch

// OutcomeKind tags the result of one relay attempt
type OutcomeKind int

const (
	// Delivered means the selected endpoint accepted the payload
	Delivered OutcomeKind = iota
	// Rejected means no endpoint was selected; the alert stays local
	Rejected
	// DeliveryFailed means an endpoint was selected but the transport call failed
	DeliveryFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case Delivered:
		return "delivered"
	case Rejected:
		return "rejected"
	case DeliveryFailed:
		return "delivery_failed"
	default:
		return "unknown"
	}
}

// Reasons carried by non-delivered outcomes
const (
	ReasonNoEndpoints    = "no endpoints configured"
	ReasonNoneAvailable  = "no available endpoints"
	ReasonDeliveryFailed = "delivery failed"
	// ReasonQueueFull is set by the async front end, never by Relay
	ReasonQueueFull = "relay queue full"
)

// Outcome is the value returned by Dispatcher.Relay.
// EndpointID is empty for Rejected; Cause is set only for DeliveryFailed.
type Outcome struct {
	Kind       OutcomeKind
	EndpointID string
	Reason     string
	Cause      error
}

func delivered(id string) Outcome {
	return Outcome{Kind: Delivered, EndpointID: id}
}

func rejected(reason string) Outcome {
	return Outcome{Kind: Rejected, Reason: reason}
}

func deliveryFailed(id string, cause error) Outcome {
	return Outcome{Kind: DeliveryFailed, EndpointID: id, Reason: ReasonDeliveryFailed, Cause: cause}
}

// Forwarded reports whether the payload reached a downstream endpoint
func (o Outcome) Forwarded() bool {
	return o.Kind == Delivered
}
