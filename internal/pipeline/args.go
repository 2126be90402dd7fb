package pipeline

import (
	"fmt"
	"path/filepath"
	"strings"
)

// LaunchEnv locates the external pipeline toolchain. It is an immutable
// value: the child process environment is derived from it at launch time
// and the process-wide environment is never touched.
type LaunchEnv struct {
	// Root is the installation prefix, e.g. /opt/gstreamer-1.24.
	Root string
	// LibArch is the multiarch library subdirectory, e.g. aarch64-linux-gnu.
	LibArch string
}

// LaunchBinary returns the path of the pipeline launcher binary.
func (e LaunchEnv) LaunchBinary() string {
	return filepath.Join(e.Root, "bin", "gst-launch-1.0")
}

// InspectBinary returns the path of the element inspection binary.
func (e LaunchEnv) InspectBinary() string {
	return filepath.Join(e.Root, "bin", "gst-inspect-1.0")
}

// Environ derives the child process environment from base (typically
// os.Environ()) without mutating it.
func (e LaunchEnv) Environ(base []string) []string {
	libPath := filepath.Join(e.Root, "lib")
	libArchPath := filepath.Join(libPath, e.LibArch)
	pluginPath := filepath.Join(libArchPath, "gstreamer-1.0")

	env := make([]string, 0, len(base)+3)
	var oldPath, oldLibPath string
	for _, kv := range base {
		switch {
		case strings.HasPrefix(kv, "PATH="):
			oldPath = strings.TrimPrefix(kv, "PATH=")
		case strings.HasPrefix(kv, "LD_LIBRARY_PATH="):
			oldLibPath = strings.TrimPrefix(kv, "LD_LIBRARY_PATH=")
		case strings.HasPrefix(kv, "GST_PLUGIN_PATH="):
		default:
			env = append(env, kv)
		}
	}

	path := filepath.Join(e.Root, "bin")
	if oldPath != "" {
		path += ":" + oldPath
	}
	ldPath := libArchPath + ":" + libPath
	if oldLibPath != "" {
		ldPath += ":" + oldLibPath
	}

	env = append(env,
		"PATH="+path,
		"LD_LIBRARY_PATH="+ldPath,
		"GST_PLUGIN_PATH="+pluginPath,
	)
	return env
}

// Capabilities records which encoder elements are available in the plugin
// tree. The software encoders are preferred; libav fallbacks are used when
// they are missing.
type Capabilities struct {
	X264Enc bool
	X265Enc bool
}

// DefaultCapabilities assumes the preferred encoders are installed.
func DefaultCapabilities() Capabilities {
	return Capabilities{X264Enc: true, X265Enc: true}
}

// BuildSpec carries everything the argument builder needs besides the
// encode/transport configuration itself.
type BuildSpec struct {
	VideoSource string
	AudioSource string
	Caps        Capabilities
}

// DefaultBuildSpec uses test sources; real deployments point the sources at
// the capture hardware (v4l2src, alsasrc).
func DefaultBuildSpec() BuildSpec {
	return BuildSpec{
		VideoSource: "videotestsrc",
		AudioSource: "audiotestsrc",
		Caps:        DefaultCapabilities(),
	}
}

// BuildPipelineArgs assembles the launcher argument list: video branch,
// audio branch, then the transport sink(s). Pure function, no side effects.
func BuildPipelineArgs(spec BuildSpec, transport TransportConfig, video *VideoConfig, audio *AudioConfig) []string {
	var args []string

	if video != nil {
		args = append(args, buildVideoBranch(spec, *video)...)
	}
	if audio != nil {
		if video != nil {
			args = append(args, "!")
		}
		args = append(args, buildAudioBranch(spec, *audio)...)
	}
	args = append(args, "!")
	args = append(args, buildTransportSink(transport)...)
	return args
}

func buildVideoBranch(spec BuildSpec, vc VideoConfig) []string {
	args := []string{
		spec.VideoSource,
		"is-live=true",
		"!",
		fmt.Sprintf("video/x-raw,format=I420,width=%d,height=%d,framerate=%d/1", vc.Width, vc.Height, vc.Framerate),
		"!",
		"videoconvert",
		"!",
	}

	switch vc.Codec {
	case VideoCodecH265:
		enc := "x265enc"
		if !spec.Caps.X265Enc {
			enc = "avenc_h265"
		}
		args = append(args,
			enc,
			fmt.Sprintf("bitrate=%d", vc.BitrateBps/1000), // encoder wants kbps
			"tune=zerolatency",
			fmt.Sprintf("key-int-max=%d", vc.KeyframeInterval),
			"!",
			"h265parse",
			"!",
			"rtph265pay",
		)
	default:
		enc := "x264enc"
		if !spec.Caps.X264Enc {
			enc = "avenc_h264"
		}
		args = append(args,
			enc,
			fmt.Sprintf("bitrate=%d", vc.BitrateBps/1000),
			"tune=zerolatency",
			fmt.Sprintf("key-int-max=%d", vc.KeyframeInterval),
			"!",
			"h264parse",
			"!",
			"rtph264pay",
		)
	}
	return args
}

func buildAudioBranch(spec BuildSpec, ac AudioConfig) []string {
	args := []string{
		spec.AudioSource,
		"is-live=true",
		"!",
		"audioconvert",
		"!",
		fmt.Sprintf("audio/x-raw,rate=%d,channels=%d", ac.SampleRateHz, ac.Channels),
		"!",
	}

	switch ac.Codec {
	case AudioCodecOpus:
		args = append(args,
			"opusenc",
			fmt.Sprintf("bitrate=%d", ac.BitrateBps),
			"!",
			"opusparse",
			"!",
			"rtpopuspay",
		)
	default:
		args = append(args,
			"avenc_aac",
			fmt.Sprintf("bitrate=%d", ac.BitrateBps),
			"!",
			"aacparse",
			"!",
			"rtpmp4apay",
		)
	}
	return args
}

func buildTransportSink(tc TransportConfig) []string {
	enabled := tc.EnabledLinks()
	if len(tc.Links) == 1 {
		link := tc.Links[0]
		return []string{
			"ristsink",
			fmt.Sprintf("address=%s", link.Address),
			fmt.Sprintf("port=%d", link.Port),
			fmt.Sprintf("sender-buffer=%d", tc.SenderBufferMs),
			fmt.Sprintf("max-rtx-retries=%d", tc.MaxRetries),
			"stats-update-interval=1000",
		}
	}

	endpoints := make([]string, 0, len(enabled))
	for _, l := range enabled {
		endpoints = append(endpoints, fmt.Sprintf("%s:%d", l.Address, l.Port))
	}
	return []string{
		"ristsink",
		fmt.Sprintf("address=%s", strings.Join(endpoints, ",")),
		fmt.Sprintf("bonding-method=%s", tc.Bonding),
		fmt.Sprintf("sender-buffer=%d", tc.SenderBufferMs),
		fmt.Sprintf("max-rtx-retries=%d", tc.MaxRetries),
		"stats-update-interval=1000",
	}
}
