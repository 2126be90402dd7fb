// Package profiles carries the platform-tuned encoding presets. Video
// and audio profiles are independent; any video profile can be combined
// with any audio profile when building a stream configuration.
package profiles

import (
	"fmt"

	"github.com/glowf1sh/glowboxremote/internal/pipeline"
)

// Platform identifies the streaming target a profile is tuned for.
type Platform string

const (
	PlatformTwitch  Platform = "twitch"
	PlatformYouTube Platform = "youtube"
	PlatformGeneric Platform = "generic"
)

// Category groups video profiles by platform tier.
type Category string

const (
	CategoryTwitch1080p     Category = "twitch_1080p"
	CategoryTwitch1440pBeta Category = "twitch_1440p_beta"
	CategoryYouTube1080p    Category = "youtube_1080p"
	CategoryYouTube1440p    Category = "youtube_1440p"
	CategoryYouTube4K       Category = "youtube_4k"
)

// VideoProfile is one video encoding preset.
type VideoProfile struct {
	ID               string              `json:"id"`
	Name             string              `json:"name"`
	Description      string              `json:"description"`
	Platform         Platform            `json:"platform"`
	Category         Category            `json:"category"`
	Codec            pipeline.VideoCodec `json:"codec"`
	Width            int                 `json:"width"`
	Height           int                 `json:"height"`
	Framerate        int                 `json:"framerate"`
	BitrateBps       int                 `json:"bitrate"`
	KeyframeInterval int                 `json:"keyframe_interval"`
}

// AudioProfile is one audio encoding preset.
type AudioProfile struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	Description  string              `json:"description"`
	Codec        pipeline.AudioCodec `json:"codec"`
	BitrateBps   int                 `json:"bitrate"`
	SampleRateHz int                 `json:"sample_rate"`
	Channels     int                 `json:"channels"`
}

func videoProfile(id, name, desc string, platform Platform, cat Category,
	codec pipeline.VideoCodec, w, h, fps, bps, gop int) VideoProfile {
	return VideoProfile{
		ID: id, Name: name, Description: desc,
		Platform: platform, Category: cat, Codec: codec,
		Width: w, Height: h, Framerate: fps,
		BitrateBps: bps, KeyframeInterval: gop,
	}
}

// videoProfiles is ordered for listing: Twitch first, then YouTube by
// tier. Keyframe interval tracks the framerate for a 2 second GOP.
var videoProfiles = []VideoProfile{
	videoProfile("twitch_1080p30_h264", "Twitch 1080p30 (H.264)",
		"Twitch 1080p 30fps with H.264 (6 Mbps recommended)",
		PlatformTwitch, CategoryTwitch1080p, pipeline.VideoCodecH264, 1920, 1080, 30, 6_000_000, 60),
	videoProfile("twitch_1080p30_h265", "Twitch 1080p30 (H.265)",
		"Twitch 1080p 30fps with H.265 (6 Mbps)",
		PlatformTwitch, CategoryTwitch1080p, pipeline.VideoCodecH265, 1920, 1080, 30, 6_000_000, 60),
	videoProfile("twitch_1080p60_h264", "Twitch 1080p60 (H.264)",
		"Twitch 1080p 60fps with H.264 (6 Mbps recommended)",
		PlatformTwitch, CategoryTwitch1080p, pipeline.VideoCodecH264, 1920, 1080, 60, 6_000_000, 120),
	videoProfile("twitch_1080p60_h265", "Twitch 1080p60 (H.265)",
		"Twitch 1080p 60fps with H.265 (6 Mbps)",
		PlatformTwitch, CategoryTwitch1080p, pipeline.VideoCodecH265, 1920, 1080, 60, 6_000_000, 120),
	videoProfile("twitch_1440p30_h264", "Twitch 1440p30 (H.264) Beta",
		"Twitch 2K 30fps with H.264 - Beta (7.5 Mbps)",
		PlatformTwitch, CategoryTwitch1440pBeta, pipeline.VideoCodecH264, 2560, 1440, 30, 7_500_000, 60),
	videoProfile("twitch_1440p30_h265", "Twitch 1440p30 (H.265) Beta",
		"Twitch 2K 30fps with H.265 HEVC - Beta (9 Mbps)",
		PlatformTwitch, CategoryTwitch1440pBeta, pipeline.VideoCodecH265, 2560, 1440, 30, 9_000_000, 60),
	videoProfile("twitch_1440p60_h264", "Twitch 1440p60 (H.264) Beta",
		"Twitch 2K 60fps with H.264 - Beta (7.5 Mbps)",
		PlatformTwitch, CategoryTwitch1440pBeta, pipeline.VideoCodecH264, 2560, 1440, 60, 7_500_000, 120),
	videoProfile("twitch_1440p60_h265", "Twitch 1440p60 (H.265) Beta",
		"Twitch 2K 60fps with H.265 HEVC - Beta (9 Mbps)",
		PlatformTwitch, CategoryTwitch1440pBeta, pipeline.VideoCodecH265, 2560, 1440, 60, 9_000_000, 120),
	videoProfile("youtube_1080p30_h264", "YouTube 1080p30 (H.264)",
		"YouTube 1080p 30fps with H.264 (5 Mbps)",
		PlatformYouTube, CategoryYouTube1080p, pipeline.VideoCodecH264, 1920, 1080, 30, 5_000_000, 60),
	videoProfile("youtube_1080p30_h265", "YouTube 1080p30 (H.265)",
		"YouTube 1080p 30fps with H.265 (5 Mbps)",
		PlatformYouTube, CategoryYouTube1080p, pipeline.VideoCodecH265, 1920, 1080, 30, 5_000_000, 60),
	videoProfile("youtube_1080p60_h264", "YouTube 1080p60 (H.264)",
		"YouTube 1080p 60fps with H.264 (7 Mbps)",
		PlatformYouTube, CategoryYouTube1080p, pipeline.VideoCodecH264, 1920, 1080, 60, 7_000_000, 120),
	videoProfile("youtube_1080p60_h265", "YouTube 1080p60 (H.265)",
		"YouTube 1080p 60fps with H.265 (7 Mbps)",
		PlatformYouTube, CategoryYouTube1080p, pipeline.VideoCodecH265, 1920, 1080, 60, 7_000_000, 120),
	videoProfile("youtube_1440p30_h264", "YouTube 1440p30 (H.264)",
		"YouTube 2K 30fps with H.264 (10 Mbps)",
		PlatformYouTube, CategoryYouTube1440p, pipeline.VideoCodecH264, 2560, 1440, 30, 10_000_000, 60),
	videoProfile("youtube_1440p30_h265", "YouTube 1440p30 (H.265)",
		"YouTube 2K 30fps with H.265 (10 Mbps)",
		PlatformYouTube, CategoryYouTube1440p, pipeline.VideoCodecH265, 2560, 1440, 30, 10_000_000, 60),
	videoProfile("youtube_1440p60_h264", "YouTube 1440p60 (H.264)",
		"YouTube 2K 60fps with H.264 (15 Mbps)",
		PlatformYouTube, CategoryYouTube1440p, pipeline.VideoCodecH264, 2560, 1440, 60, 15_000_000, 120),
	videoProfile("youtube_1440p60_h265", "YouTube 1440p60 (H.265)",
		"YouTube 2K 60fps with H.265 (15 Mbps)",
		PlatformYouTube, CategoryYouTube1440p, pipeline.VideoCodecH265, 2560, 1440, 60, 15_000_000, 120),
	videoProfile("youtube_4k30_h264", "YouTube 4K30 (H.264)",
		"YouTube 4K 30fps with H.264 (20 Mbps)",
		PlatformYouTube, CategoryYouTube4K, pipeline.VideoCodecH264, 3840, 2160, 30, 20_000_000, 60),
	videoProfile("youtube_4k30_h265", "YouTube 4K30 (H.265)",
		"YouTube 4K 30fps with H.265 (20 Mbps)",
		PlatformYouTube, CategoryYouTube4K, pipeline.VideoCodecH265, 3840, 2160, 30, 20_000_000, 60),
	videoProfile("youtube_4k60_h264", "YouTube 4K60 (H.264)",
		"YouTube 4K 60fps with H.264 (35 Mbps)",
		PlatformYouTube, CategoryYouTube4K, pipeline.VideoCodecH264, 3840, 2160, 60, 35_000_000, 120),
	videoProfile("youtube_4k60_h265", "YouTube 4K60 (H.265)",
		"YouTube 4K 60fps with H.265 (35 Mbps)",
		PlatformYouTube, CategoryYouTube4K, pipeline.VideoCodecH265, 3840, 2160, 60, 35_000_000, 120),
}

var audioProfiles = []AudioProfile{
	{ID: "aac_128k", Name: "AAC 128 kbps", Description: "AAC audio at 128 kbps (good quality)",
		Codec: pipeline.AudioCodecAAC, BitrateBps: 128_000, SampleRateHz: 48000, Channels: 2},
	{ID: "aac_192k", Name: "AAC 192 kbps", Description: "AAC audio at 192 kbps (high quality)",
		Codec: pipeline.AudioCodecAAC, BitrateBps: 192_000, SampleRateHz: 48000, Channels: 2},
	{ID: "aac_256k", Name: "AAC 256 kbps", Description: "AAC audio at 256 kbps (broadcast quality)",
		Codec: pipeline.AudioCodecAAC, BitrateBps: 256_000, SampleRateHz: 48000, Channels: 2},
	{ID: "opus_96k", Name: "Opus 96 kbps", Description: "Opus audio at 96 kbps (good quality, low latency)",
		Codec: pipeline.AudioCodecOpus, BitrateBps: 96_000, SampleRateHz: 48000, Channels: 2},
	{ID: "opus_128k", Name: "Opus 128 kbps", Description: "Opus audio at 128 kbps (high quality, low latency)",
		Codec: pipeline.AudioCodecOpus, BitrateBps: 128_000, SampleRateHz: 48000, Channels: 2},
	{ID: "opus_192k", Name: "Opus 192 kbps", Description: "Opus audio at 192 kbps (broadcast quality, low latency)",
		Codec: pipeline.AudioCodecOpus, BitrateBps: 192_000, SampleRateHz: 48000, Channels: 2},
}

// Video returns the video profile with the given id.
func Video(id string) (VideoProfile, bool) {
	for _, p := range videoProfiles {
		if p.ID == id {
			return p, true
		}
	}
	return VideoProfile{}, false
}

// Audio returns the audio profile with the given id.
func Audio(id string) (AudioProfile, bool) {
	for _, p := range audioProfiles {
		if p.ID == id {
			return p, true
		}
	}
	return AudioProfile{}, false
}

// AllVideo returns every video profile in listing order.
func AllVideo() []VideoProfile {
	return append([]VideoProfile(nil), videoProfiles...)
}

// AllAudio returns every audio profile in listing order.
func AllAudio() []AudioProfile {
	return append([]AudioProfile(nil), audioProfiles...)
}

// VideoByPlatform filters the video catalog by platform.
func VideoByPlatform(platform Platform) []VideoProfile {
	var out []VideoProfile
	for _, p := range videoProfiles {
		if p.Platform == platform {
			out = append(out, p)
		}
	}
	return out
}

// VideoByCategory filters the video catalog by category.
func VideoByCategory(cat Category) []VideoProfile {
	var out []VideoProfile
	for _, p := range videoProfiles {
		if p.Category == cat {
			out = append(out, p)
		}
	}
	return out
}

// StreamConfig assembles pipeline configurations from a video and audio
// profile pair plus the destination links.
func StreamConfig(videoID, audioID string, links []pipeline.Link, bonding pipeline.BondingStrategy) (
	pipeline.TransportConfig, pipeline.VideoConfig, pipeline.AudioConfig, error) {

	video, ok := Video(videoID)
	if !ok {
		return pipeline.TransportConfig{}, pipeline.VideoConfig{}, pipeline.AudioConfig{},
			fmt.Errorf("unknown video profile %q", videoID)
	}
	audio, ok := Audio(audioID)
	if !ok {
		return pipeline.TransportConfig{}, pipeline.VideoConfig{}, pipeline.AudioConfig{},
			fmt.Errorf("unknown audio profile %q", audioID)
	}

	transport := pipeline.DefaultTransportConfig()
	transport.Links = links
	if bonding != "" {
		transport.Bonding = bonding
	}

	videoCfg := pipeline.VideoConfig{
		Codec:            video.Codec,
		Width:            video.Width,
		Height:           video.Height,
		Framerate:        video.Framerate,
		BitrateBps:       video.BitrateBps,
		KeyframeInterval: video.KeyframeInterval,
	}
	audioCfg := pipeline.AudioConfig{
		Codec:        audio.Codec,
		BitrateBps:   audio.BitrateBps,
		SampleRateHz: audio.SampleRateHz,
		Channels:     audio.Channels,
	}
	return transport, videoCfg, audioCfg, nil
}
