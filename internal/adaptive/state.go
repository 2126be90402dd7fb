package adaptive

import "time"

// State is a read-only snapshot of the controller. It is created at
// controller construction and mutated only by the control loop; callers
// always receive a copy.
type State struct {
	// Current network metrics.
	CurrentPacketLoss  float64 `json:"current_packet_loss"`
	CurrentRTTMs       int     `json:"current_rtt_ms"`
	CurrentRetransmits uint64  `json:"current_retransmits"`

	// Current bitrates.
	CurrentVideoBitrate int `json:"current_video_bitrate"`
	CurrentAudioBitrate int `json:"current_audio_bitrate"`

	// Link states, by link id.
	ActiveLinks   []string `json:"active_links"`
	DisabledLinks []string `json:"disabled_links"`

	// Stability tracking.
	StablePeriods  int       `json:"stable_periods"`
	LastAdjustment time.Time `json:"last_adjustment"`

	// Action history.
	TotalBitrateIncreases int `json:"total_bitrate_increases"`
	TotalBitrateDecreases int `json:"total_bitrate_decreases"`
	TotalLinkEnables      int `json:"total_link_enables"`
	TotalLinkDisables     int `json:"total_link_disables"`
}

func (s State) clone() State {
	out := s
	out.ActiveLinks = append([]string(nil), s.ActiveLinks...)
	out.DisabledLinks = append([]string(nil), s.DisabledLinks...)
	return out
}

func sameStringSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, s := range a {
		set[s] = struct{}{}
	}
	for _, s := range b {
		if _, ok := set[s]; !ok {
			return false
		}
	}
	return true
}
