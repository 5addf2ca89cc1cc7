package dispatch

// EndpointStatus is the point-in-time view of one endpoint
type EndpointStatus struct {
	Name           string    `json:"name"`
	Enabled        bool      `json:"enabled"`
	Available      bool      `json:"available"`
	QuotaMode      QuotaMode `json:"quota_mode"`
	QuotaUsed      int64     `json:"quota_used"`
	QuotaTotal     int64     `json:"quota_total"`
	QuotaRemaining int64     `json:"quota_remaining"`
	Unlimited      bool      `json:"unlimited"`
	InFlight       int64     `json:"in_flight"`
}

// Snapshot is the dispatcher state exposed to operators
type Snapshot struct {
	Strategy  Strategy         `json:"strategy"`
	Total     int              `json:"total"`
	Available int              `json:"available"`
	Providers []EndpointStatus `json:"providers"`
}

// Status copies the current state under a read lock. It has no side effects.
func (d *Dispatcher) Status() Snapshot {
	snap := Snapshot{
		Strategy:  d.strategy,
		Total:     len(d.endpoints),
		Providers: make([]EndpointStatus, 0, len(d.endpoints)),
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, ep := range d.endpoints {
		st := EndpointStatus{
			Name:           ep.id,
			Enabled:        ep.enabled,
			Available:      ep.isAvailable(),
			QuotaMode:      ep.quotaMode,
			QuotaUsed:      ep.quotaUsed,
			QuotaTotal:     ep.quotaLimit,
			QuotaRemaining: ep.remaining(),
			Unlimited:      ep.unlimited(),
			InFlight:       ep.inFlight,
		}
		if st.Available {
			snap.Available++
		}
		snap.Providers = append(snap.Providers, st)
	}
	return snap
}
