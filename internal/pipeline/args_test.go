package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTransport(links ...Link) TransportConfig {
	tc := DefaultTransportConfig()
	tc.Links = links
	return tc
}

func TestBuildPipelineArgsSingleLink(t *testing.T) {
	tc := testTransport(Link{Address: "192.168.1.100", Port: 5004, Enabled: true, Weight: 100})
	vc := &VideoConfig{
		Codec:            VideoCodecH264,
		Width:            1280,
		Height:           720,
		Framerate:        30,
		BitrateBps:       2_500_000,
		KeyframeInterval: 60,
	}

	args := BuildPipelineArgs(DefaultBuildSpec(), tc, vc, nil)
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "videotestsrc")
	assert.Contains(t, joined, "width=1280,height=720,framerate=30/1")
	assert.Contains(t, joined, "x264enc")
	// encoder bitrate is kbps
	assert.Contains(t, joined, "bitrate=2500")
	assert.Contains(t, joined, "key-int-max=60")
	assert.Contains(t, joined, "rtph264pay")
	assert.Contains(t, joined, "ristsink")
	assert.Contains(t, joined, "address=192.168.1.100")
	assert.Contains(t, joined, "port=5004")
	assert.NotContains(t, joined, "bonding-method")
}

func TestBuildPipelineArgsBondedLinks(t *testing.T) {
	tc := testTransport(
		Link{Address: "10.0.0.1", Port: 5004, Enabled: true, Weight: 100},
		Link{Address: "10.0.0.2", Port: 5004, Enabled: true, Weight: 100},
		Link{Address: "10.0.0.3", Port: 5004, Enabled: false, Weight: 100},
	)
	tc.Bonding = BondingRoundRobin

	args := BuildPipelineArgs(DefaultBuildSpec(), tc, nil, nil)
	joined := strings.Join(args, " ")

	// only enabled links are addressed
	assert.Contains(t, joined, "address=10.0.0.1:5004,10.0.0.2:5004")
	assert.NotContains(t, joined, "10.0.0.3")
	assert.Contains(t, joined, "bonding-method=round-robin")
}

func TestBuildPipelineArgsAudioBranch(t *testing.T) {
	tc := testTransport(Link{Address: "10.0.0.1", Port: 5004, Enabled: true})
	ac := &AudioConfig{Codec: AudioCodecOpus, BitrateBps: 128_000, SampleRateHz: 48000, Channels: 2}

	args := BuildPipelineArgs(DefaultBuildSpec(), tc, nil, ac)
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "audiotestsrc")
	assert.Contains(t, joined, "rate=48000,channels=2")
	assert.Contains(t, joined, "opusenc")
	assert.Contains(t, joined, "rtpopuspay")
	assert.NotContains(t, joined, "videotestsrc")
}

func TestBuildPipelineArgsEncoderFallback(t *testing.T) {
	tc := testTransport(Link{Address: "10.0.0.1", Port: 5004, Enabled: true})
	vc := &VideoConfig{
		Codec:            VideoCodecH265,
		Width:            1920,
		Height:           1080,
		Framerate:        30,
		BitrateBps:       6_000_000,
		KeyframeInterval: 60,
	}

	spec := DefaultBuildSpec()
	spec.Caps.X265Enc = false
	args := BuildPipelineArgs(spec, tc, vc, nil)
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "avenc_h265")
	assert.NotContains(t, joined, "x265enc")
	assert.Contains(t, joined, "h265parse")
}

func TestLaunchEnvEnviron(t *testing.T) {
	env := LaunchEnv{Root: "/opt/gstreamer-1.24", LibArch: "aarch64-linux-gnu"}
	base := []string{"PATH=/usr/bin", "HOME=/root", "GST_PLUGIN_PATH=/stale"}

	out := env.Environ(base)

	require.Contains(t, out, "PATH=/opt/gstreamer-1.24/bin:/usr/bin")
	require.Contains(t, out, "HOME=/root")
	require.Contains(t, out, "GST_PLUGIN_PATH=/opt/gstreamer-1.24/lib/aarch64-linux-gnu/gstreamer-1.0")
	require.Contains(t, out,
		"LD_LIBRARY_PATH=/opt/gstreamer-1.24/lib/aarch64-linux-gnu:/opt/gstreamer-1.24/lib")

	// base must not be mutated
	assert.Equal(t, []string{"PATH=/usr/bin", "HOME=/root", "GST_PLUGIN_PATH=/stale"}, base)
}

func TestTransportConfigValidate(t *testing.T) {
	tc := DefaultTransportConfig()
	if err := tc.Validate(); err == nil {
		t.Error("transport config without links should fail validation")
	}

	tc.Links = []Link{{Address: "10.0.0.1", Port: 5004, Enabled: true, Weight: 50}}
	if err := tc.Validate(); err != nil {
		t.Errorf("valid transport config rejected: %v", err)
	}

	tc.Links[0].Weight = 150
	if err := tc.Validate(); err == nil {
		t.Error("weight out of range should fail validation")
	}

	tc.Links[0].Weight = 50
	tc.Bonding = "duplicate"
	if err := tc.Validate(); err == nil {
		t.Error("unknown bonding strategy should fail validation")
	}
}
