package pipeline

import (
	"fmt"
	"net"
	"strconv"
)

// VideoCodec identifies the video encoder family used in the pipeline.
type VideoCodec string

const (
	VideoCodecH264 VideoCodec = "h264"
	VideoCodecH265 VideoCodec = "h265"
)

// AudioCodec identifies the audio encoder family used in the pipeline.
type AudioCodec string

const (
	AudioCodecAAC  AudioCodec = "aac"
	AudioCodecOpus AudioCodec = "opus"
)

// BondingStrategy selects how traffic is distributed across multiple links.
type BondingStrategy string

const (
	// BondingBroadcast duplicates every packet to all enabled links.
	BondingBroadcast BondingStrategy = "broadcast"
	// BondingRoundRobin alternates packets between enabled links.
	BondingRoundRobin BondingStrategy = "round-robin"
)

// Link is one transport endpoint used as a bonding path.
type Link struct {
	Address string `json:"address" yaml:"address"`
	Port    int    `json:"port" yaml:"port"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Weight  int    `json:"weight" yaml:"weight"`
}

// ID returns the stable identifier used by the adaptive layer and the link
// monitor to refer to this endpoint.
func (l Link) ID() string {
	return net.JoinHostPort(l.Address, strconv.Itoa(l.Port))
}

// Validate checks the link fields.
func (l Link) Validate() error {
	if l.Address == "" {
		return fmt.Errorf("link address is empty")
	}
	if l.Port <= 0 || l.Port > 65535 {
		return fmt.Errorf("link %s: port %d out of range", l.Address, l.Port)
	}
	if l.Weight < 0 || l.Weight > 100 {
		return fmt.Errorf("link %s: weight %d out of range (0-100)", l.ID(), l.Weight)
	}
	return nil
}

// TransportConfig describes the transport sink side of the pipeline: the
// set of bonded links plus protocol buffering, FEC and retry parameters.
type TransportConfig struct {
	Links           []Link          `json:"links" yaml:"links"`
	Bonding         BondingStrategy `json:"bonding_strategy" yaml:"bonding_strategy"`
	SenderBufferMs  int             `json:"sender_buffer_ms" yaml:"sender_buffer_ms"`
	ReceiverBufMs   int             `json:"receiver_buffer_ms" yaml:"receiver_buffer_ms"`
	ReorderBufferMs int             `json:"reorder_buffer_ms" yaml:"reorder_buffer_ms"`
	RTTMinMs        int             `json:"rtt_min_ms" yaml:"rtt_min_ms"`
	RTTMaxMs        int             `json:"rtt_max_ms" yaml:"rtt_max_ms"`
	FECRows         int             `json:"fec_rows" yaml:"fec_rows"`
	FECColumns      int             `json:"fec_columns" yaml:"fec_columns"`
	MaxRetries      int             `json:"max_retries" yaml:"max_retries"`
}

// DefaultTransportConfig returns protocol parameters suitable for a bonded
// cellular uplink; links must still be supplied by the caller.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		Bonding:         BondingBroadcast,
		SenderBufferMs:  1200,
		ReceiverBufMs:   1200,
		ReorderBufferMs: 25,
		RTTMinMs:        50,
		RTTMaxMs:        500,
		FECRows:         4,
		FECColumns:      5,
		MaxRetries:      10,
	}
}

// Validate checks the transport configuration.
func (c TransportConfig) Validate() error {
	if len(c.Links) == 0 {
		return fmt.Errorf("transport config has no links")
	}
	for _, l := range c.Links {
		if err := l.Validate(); err != nil {
			return err
		}
	}
	switch c.Bonding {
	case BondingBroadcast, BondingRoundRobin:
	default:
		return fmt.Errorf("unknown bonding strategy %q", c.Bonding)
	}
	if c.SenderBufferMs < 0 || c.ReceiverBufMs < 0 || c.ReorderBufferMs < 0 {
		return fmt.Errorf("buffer sizes must not be negative")
	}
	if c.RTTMinMs > c.RTTMaxMs {
		return fmt.Errorf("rtt_min_ms %d exceeds rtt_max_ms %d", c.RTTMinMs, c.RTTMaxMs)
	}
	return nil
}

// EnabledLinks returns the links the transport sink should currently use.
func (c TransportConfig) EnabledLinks() []Link {
	enabled := make([]Link, 0, len(c.Links))
	for _, l := range c.Links {
		if l.Enabled {
			enabled = append(enabled, l)
		}
	}
	return enabled
}

// Clone returns a deep copy; the manager never aliases caller-owned slices.
func (c TransportConfig) Clone() TransportConfig {
	out := c
	out.Links = make([]Link, len(c.Links))
	copy(out.Links, c.Links)
	return out
}

// VideoConfig describes the video capture and encode branch.
type VideoConfig struct {
	Codec            VideoCodec `json:"codec" yaml:"codec"`
	Width            int        `json:"width" yaml:"width"`
	Height           int        `json:"height" yaml:"height"`
	Framerate        int        `json:"framerate" yaml:"framerate"`
	BitrateBps       int        `json:"bitrate_bps" yaml:"bitrate_bps"`
	KeyframeInterval int        `json:"keyframe_interval_frames" yaml:"keyframe_interval_frames"`
}

// Validate checks the video configuration.
func (c VideoConfig) Validate() error {
	switch c.Codec {
	case VideoCodecH264, VideoCodecH265:
	default:
		return fmt.Errorf("unknown video codec %q", c.Codec)
	}
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("invalid resolution %dx%d", c.Width, c.Height)
	}
	if c.Framerate <= 0 {
		return fmt.Errorf("invalid framerate %d", c.Framerate)
	}
	if c.BitrateBps <= 0 {
		return fmt.Errorf("invalid video bitrate %d", c.BitrateBps)
	}
	if c.KeyframeInterval <= 0 {
		return fmt.Errorf("invalid keyframe interval %d", c.KeyframeInterval)
	}
	return nil
}

// AudioConfig describes the audio capture and encode branch.
type AudioConfig struct {
	Codec        AudioCodec `json:"codec" yaml:"codec"`
	BitrateBps   int        `json:"bitrate_bps" yaml:"bitrate_bps"`
	SampleRateHz int        `json:"sample_rate_hz" yaml:"sample_rate_hz"`
	Channels     int        `json:"channels" yaml:"channels"`
}

// Validate checks the audio configuration.
func (c AudioConfig) Validate() error {
	switch c.Codec {
	case AudioCodecAAC, AudioCodecOpus:
	default:
		return fmt.Errorf("unknown audio codec %q", c.Codec)
	}
	if c.BitrateBps <= 0 {
		return fmt.Errorf("invalid audio bitrate %d", c.BitrateBps)
	}
	if c.SampleRateHz <= 0 {
		return fmt.Errorf("invalid sample rate %d", c.SampleRateHz)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("invalid channel count %d", c.Channels)
	}
	return nil
}
