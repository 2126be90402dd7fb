// Package linkmon defines the link-quality monitor contract consumed by
// the adaptive controller, plus a ModemManager-backed implementation.
package linkmon

// Status is one link's most recent quality reading.
type Status struct {
	// Connected reports whether the underlying bearer is up.
	Connected bool `json:"connected"`
	// SignalStrength is 0..100.
	SignalStrength int `json:"signal_strength"`
}

// Monitor reports per-link connectivity and signal quality. It must be
// safe to call on every control-loop tick; staleness beyond that interval
// is the monitor's responsibility.
type Monitor interface {
	AllLinkStatus() map[string]Status
}
