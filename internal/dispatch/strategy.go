package dispatch

// Strategy names the endpoint selection algorithm of a Dispatcher
type Strategy string

const (
	RoundRobin Strategy = "round_robin"
	// WeightedRoundRobin has no weight input yet and selects exactly like RoundRobin
	WeightedRoundRobin Strategy = "weighted_round_robin"
	// LeastConnections has no connection-count input yet and selects exactly like RoundRobin
	LeastConnections Strategy = "least_connections"
)

// Strategies lists every recognized strategy identifier
var Strategies = []Strategy{RoundRobin, WeightedRoundRobin, LeastConnections}

// ParseStrategy maps a configuration value to a Strategy.
// An empty value yields RoundRobin; anything unrecognized is a *ConfigError.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "":
		return RoundRobin, nil
	case RoundRobin, WeightedRoundRobin, LeastConnections:
		return Strategy(s), nil
	default:
		return "", &ConfigError{Field: "strategy", Reason: "unknown strategy " + quote(s)}
	}
}

// selector picks the next endpoint. It runs with the dispatcher write lock held
// and returns nil when no endpoint is available.
type selector func(d *Dispatcher) *Endpoint

func selectorFor(s Strategy) selector {
	switch s {
	case RoundRobin, WeightedRoundRobin, LeastConnections:
		return selectRoundRobin
	default:
		return nil
	}
}

// selectRoundRobin scans at most N positions from the cursor. The cursor moves
// past every visited position, so after a pick it points one past the chosen
// endpoint and after a miss it stays where the scan ended.
func selectRoundRobin(d *Dispatcher) *Endpoint {
	n := len(d.endpoints)
	for visited := 0; visited < n; visited++ {
		ep := d.endpoints[d.next]
		d.next = (d.next + 1) % n
		if ep.isAvailable() {
			return ep
		}
	}
	return nil
}
