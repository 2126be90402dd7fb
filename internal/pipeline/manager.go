package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/shirou/gopsutil/v4/process"
)

// Phase is the lifecycle state of the streaming session.
type Phase string

const (
	PhaseUnconfigured Phase = "unconfigured"
	PhaseConfigured   Phase = "configured"
	PhaseRunning      Phase = "running"
	PhaseStopped      Phase = "stopped"
	PhaseCrashed      Phase = "crashed"
)

// Options configures a Manager.
type Options struct {
	Env         LaunchEnv
	VideoSource string
	AudioSource string
	Logger      hclog.Logger

	// GraceWindow is how long Start waits to detect instant process death.
	GraceWindow time.Duration
	// StopGrace is how long Stop waits for a natural exit after the
	// interrupt before escalating to a forced kill.
	StopGrace time.Duration
	// MonitorJoin bounds the error monitor join during Stop.
	MonitorJoin time.Duration
	// RestartDelay is the pause between stop and start on restart-based
	// reconfiguration.
	RestartDelay time.Duration

	// OnFault is invoked with each classified diagnostic fault.
	OnFault func(Fault)

	// launch overrides the process factory; tests point it at a stub.
	launch func(bin string, args []string) *exec.Cmd
}

func (o *Options) fillDefaults() {
	if o.Logger == nil {
		o.Logger = hclog.NewNullLogger()
	}
	if o.Env.Root == "" {
		o.Env.Root = "/opt/gstreamer-1.24"
	}
	if o.Env.LibArch == "" {
		o.Env.LibArch = "aarch64-linux-gnu"
	}
	if o.VideoSource == "" {
		o.VideoSource = "videotestsrc"
	}
	if o.AudioSource == "" {
		o.AudioSource = "audiotestsrc"
	}
	if o.GraceWindow <= 0 {
		o.GraceWindow = time.Second
	}
	if o.StopGrace <= 0 {
		o.StopGrace = 5 * time.Second
	}
	if o.MonitorJoin <= 0 {
		o.MonitorJoin = 2 * time.Second
	}
	if o.RestartDelay <= 0 {
		o.RestartDelay = 500 * time.Millisecond
	}
}

// processHandle tracks one launched pipeline process.
type processHandle struct {
	cmd       *exec.Cmd
	pid       int
	sessionID string
	monitor   *errorMonitor
	exited    chan struct{}
	exitErr   error
}

// Manager owns zero-or-one running pipeline process and its configuration.
// All public operations are internally synchronized; the external process
// handle is never exposed.
type Manager struct {
	mu     sync.Mutex
	logger hclog.Logger
	opts   Options

	phase     Phase
	transport *TransportConfig
	video     *VideoConfig
	audio     *AudioConfig

	proc     *processHandle
	stopping bool

	// faultMu guards lastFault and stats so the monitor goroutine never
	// contends on mu while Start holds it through the grace window.
	faultMu   sync.Mutex
	lastFault *Fault
	stats     TransportStats

	caps       Capabilities
	capsProbed bool
}

// NewManager creates a session manager in phase Unconfigured.
func NewManager(opts Options) *Manager {
	opts.fillDefaults()
	m := &Manager{
		logger: opts.Logger.Named("pipeline"),
		opts:   opts,
		phase:  PhaseUnconfigured,
		caps:   DefaultCapabilities(),
	}
	m.logger.Info("session manager initialized", "launcher", opts.Env.LaunchBinary())
	return m
}

// Configure stores a new encode/transport configuration. It has no process
// side effects and is rejected while a session is running.
func (m *Manager) Configure(transport TransportConfig, video *VideoConfig, audio *AudioConfig) error {
	if err := transport.Validate(); err != nil {
		return fmt.Errorf("transport config: %w", err)
	}
	if video != nil {
		if err := video.Validate(); err != nil {
			return fmt.Errorf("video config: %w", err)
		}
	}
	if audio != nil {
		if err := audio.Validate(); err != nil {
			return fmt.Errorf("audio config: %w", err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase == PhaseRunning {
		return fmt.Errorf("cannot configure while streaming, stop first: %w", ErrInvalidState)
	}

	t := transport.Clone()
	m.transport = &t
	m.video = copyVideo(video)
	m.audio = copyAudio(audio)
	m.phase = PhaseConfigured

	m.faultMu.Lock()
	m.lastFault = nil
	m.stats = TransportStats{}
	m.faultMu.Unlock()

	m.logger.Info("session configured",
		"links", len(t.Links),
		"bonding", t.Bonding,
		"video", video != nil,
		"audio", audio != nil,
	)
	return nil
}

// Start launches the pipeline process. It blocks for up to GraceWindow to
// detect instant failure; on success the session is Running and the error
// monitor is active.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startLocked()
}

func (m *Manager) startLocked() error {
	switch m.phase {
	case PhaseRunning:
		m.logger.Warn("start requested while already streaming")
		return fmt.Errorf("already streaming: %w", ErrInvalidState)
	case PhaseConfigured:
	default:
		return fmt.Errorf("call Configure first: %w", ErrNotConfigured)
	}

	if len(m.transport.EnabledLinks()) == 0 {
		return fmt.Errorf("no enabled links: %w", ErrInvalidState)
	}

	m.probeCapsLocked()

	spec := BuildSpec{
		VideoSource: m.opts.VideoSource,
		AudioSource: m.opts.AudioSource,
		Caps:        m.caps,
	}
	args := BuildPipelineArgs(spec, *m.transport, m.video, m.audio)
	bin := m.opts.Env.LaunchBinary()

	var cmd *exec.Cmd
	if m.opts.launch != nil {
		cmd = m.opts.launch(bin, args)
	} else {
		cmd = exec.Command(bin, args...)
		cmd.Env = m.opts.Env.Environ(os.Environ())
	}
	// Own process group so the whole pipeline tree can be signaled at once.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("diagnostic pipe: %w", err)
	}

	m.logger.Info("starting pipeline", "binary", bin, "args", len(args))

	if err := cmd.Start(); err != nil {
		m.setFault(Fault{Kind: FaultLaunch, Message: "Pipeline could not be started"})
		return fmt.Errorf("%w: %v", ErrLaunchFailure, err)
	}

	h := &processHandle{
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		sessionID: uuid.NewString(),
		exited:    make(chan struct{}),
	}
	h.monitor = newErrorMonitor(m.logger.Named("monitor"), stderr, m.handleFault, m.handleStats)
	h.monitor.start()
	go m.watch(h)

	// Grace window: an instant exit is a launch failure, not a crash.
	select {
	case <-h.exited:
		h.monitor.wait(m.opts.MonitorJoin)
		tail := h.monitor.tailText()
		m.setFault(Fault{Kind: FaultLaunch, Message: "Pipeline could not be started"})
		m.logger.Error("pipeline died within grace window",
			"pid", h.pid,
			"exit", h.exitErr,
			"output", tail,
		)
		return fmt.Errorf("%w: process exited during startup", ErrLaunchFailure)
	case <-time.After(m.opts.GraceWindow):
	}

	m.proc = h
	m.phase = PhaseRunning
	m.logger.Info("pipeline started", "pid", h.pid, "session_id", h.sessionID)
	return nil
}

// watch waits for process exit and classifies an unexpected one as a crash.
func (m *Manager) watch(h *processHandle) {
	h.exitErr = h.cmd.Wait()
	close(h.exited)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.proc != h || m.phase != PhaseRunning || m.stopping {
		return
	}

	m.phase = PhaseCrashed
	m.proc = nil

	m.faultMu.Lock()
	if m.lastFault == nil {
		fault := Fault{Kind: FaultCrash, Message: "Pipeline process exited unexpectedly"}
		m.lastFault = &fault
	}
	m.faultMu.Unlock()

	m.logger.Error("pipeline crashed", "pid", h.pid, "exit", h.exitErr)
}

// Stop tears the session down: graceful interrupt to the process group,
// bounded monitor join, then a forced kill if the process does not exit in
// time. Subsequent calls report not-running.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.phase != PhaseRunning || m.proc == nil || m.stopping {
		m.mu.Unlock()
		m.logger.Warn("stop requested but not streaming")
		return fmt.Errorf("cannot stop: %w", ErrNotRunning)
	}
	h := m.proc
	m.stopping = true
	m.mu.Unlock()

	m.logger.Info("stopping pipeline", "pid", h.pid)

	if err := syscall.Kill(-h.pid, syscall.SIGINT); err != nil {
		m.logger.Warn("interrupt failed", "pid", h.pid, "error", err)
	}

	if !h.monitor.requestStop(m.opts.MonitorJoin) {
		m.logger.Warn("error monitor did not stop within bound")
	}

	select {
	case <-h.exited:
	case <-time.After(m.opts.StopGrace):
		// ShutdownTimeout: escalate, never surface as a caller error.
		m.logger.Warn("graceful shutdown timeout, forcing kill", "pid", h.pid)
		if err := syscall.Kill(-h.pid, syscall.SIGKILL); err != nil {
			m.logger.Error("force kill failed", "pid", h.pid, "error", err)
		}
		<-h.exited
	}

	m.mu.Lock()
	m.phase = PhaseStopped
	m.proc = nil
	m.stopping = false
	m.mu.Unlock()

	m.logger.Info("pipeline stopped", "pid", h.pid)
	return nil
}

// UpdateBitrate changes the stored video bitrate. While running, the
// process model has no in-place parameter change, so the session is
// restarted to apply it.
func (m *Manager) UpdateBitrate(bitrateBps int) error {
	if bitrateBps <= 0 {
		return fmt.Errorf("invalid bitrate %d", bitrateBps)
	}

	m.mu.Lock()
	if m.video == nil {
		m.mu.Unlock()
		return fmt.Errorf("no video configuration: %w", ErrInvalidState)
	}
	old := m.video.BitrateBps
	m.video.BitrateBps = bitrateBps
	running := m.phase == PhaseRunning
	m.mu.Unlock()

	m.logger.Info("video bitrate updated", "old_bps", old, "new_bps", bitrateBps, "restart", running)

	if running {
		return m.restart()
	}
	return nil
}

// ReconfigureRequest carries the parts of the configuration a live
// reconfiguration replaces; nil fields keep their current value.
type ReconfigureRequest struct {
	Transport *TransportConfig
	Video     *VideoConfig
	Audio     *AudioConfig
}

// Reconfigure applies a partial configuration change. While running this
// is an explicit stop/start cycle with bounded latency (grace window plus
// teardown bounds); there is no pretend-hot path.
func (m *Manager) Reconfigure(req ReconfigureRequest) error {
	if req.Transport != nil {
		if err := req.Transport.Validate(); err != nil {
			return fmt.Errorf("transport config: %w", err)
		}
	}
	if req.Video != nil {
		if err := req.Video.Validate(); err != nil {
			return fmt.Errorf("video config: %w", err)
		}
	}
	if req.Audio != nil {
		if err := req.Audio.Validate(); err != nil {
			return fmt.Errorf("audio config: %w", err)
		}
	}

	m.mu.Lock()
	running := m.phase == PhaseRunning
	if req.Transport != nil && running && len(req.Transport.EnabledLinks()) == 0 {
		m.mu.Unlock()
		return fmt.Errorf("reconfiguration would leave no enabled links: %w", ErrInvalidState)
	}
	if req.Transport != nil {
		t := req.Transport.Clone()
		m.transport = &t
	}
	if req.Video != nil {
		m.video = copyVideo(req.Video)
	}
	if req.Audio != nil {
		m.audio = copyAudio(req.Audio)
	}
	m.mu.Unlock()

	if running {
		return m.restart()
	}
	return nil
}

// restart performs the stop/reconfigure/start cycle used by the live
// apply path. The Stopped -> Configured transition here is the sanctioned
// internal re-arm; public callers still need Configure after Stop.
func (m *Manager) restart() error {
	if err := m.Stop(); err != nil && !errors.Is(err, ErrNotRunning) {
		return fmt.Errorf("%w: stop: %v", ErrReconfiguration, err)
	}

	time.Sleep(m.opts.RestartDelay)

	m.mu.Lock()
	if m.phase == PhaseStopped && m.transport != nil {
		m.phase = PhaseConfigured
	}
	err := m.startLocked()
	m.mu.Unlock()

	if err != nil {
		return fmt.Errorf("%w: start: %v", ErrReconfiguration, err)
	}
	return nil
}

func (m *Manager) setFault(f Fault) {
	m.faultMu.Lock()
	m.lastFault = &f
	m.faultMu.Unlock()
}

func (m *Manager) handleFault(f Fault) {
	m.setFault(f)
	if m.opts.OnFault != nil {
		m.opts.OnFault(f)
	}
}

func (m *Manager) handleStats(s TransportStats) {
	m.faultMu.Lock()
	m.stats = s
	m.faultMu.Unlock()
}

// Stats returns the most recent transport counters reported by the
// pipeline's diagnostic stream.
func (m *Manager) Stats() TransportStats {
	m.faultMu.Lock()
	defer m.faultMu.Unlock()
	return m.stats
}

// Phase returns the current lifecycle phase.
func (m *Manager) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// TransportConfig returns a copy of the stored transport configuration.
func (m *Manager) TransportConfig() *TransportConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.transport == nil {
		return nil
	}
	t := m.transport.Clone()
	return &t
}

// VideoConfig returns a copy of the stored video configuration.
func (m *Manager) VideoConfig() *VideoConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyVideo(m.video)
}

// AudioConfig returns a copy of the stored audio configuration.
func (m *Manager) AudioConfig() *AudioConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyAudio(m.audio)
}

// VideoSummary is the video part of a status snapshot.
type VideoSummary struct {
	Codec      string `json:"codec"`
	Resolution string `json:"resolution"`
	Framerate  int    `json:"framerate"`
	BitrateBps int    `json:"bitrate_bps"`
}

// AudioSummary is the audio part of a status snapshot.
type AudioSummary struct {
	Codec        string `json:"codec"`
	SampleRateHz int    `json:"sample_rate_hz"`
	Channels     int    `json:"channels"`
	BitrateBps   int    `json:"bitrate_bps"`
}

// ProcessInfo describes the launched process, when one exists.
type ProcessInfo struct {
	PID        int     `json:"pid"`
	Running    bool    `json:"running"`
	CPUPercent float64 `json:"cpu_percent,omitempty"`
	MemoryRSS  uint64  `json:"memory_rss,omitempty"`
}

// Status is a read-only snapshot of the session.
type Status struct {
	Phase       Phase           `json:"phase"`
	IsStreaming bool            `json:"is_streaming"`
	Configured  bool            `json:"configured"`
	SessionID   string          `json:"session_id,omitempty"`
	LinkCount   int             `json:"links,omitempty"`
	ActiveLinks []string        `json:"active_links,omitempty"`
	Bonding     BondingStrategy `json:"bonding_strategy,omitempty"`
	Video       *VideoSummary   `json:"video,omitempty"`
	Audio       *AudioSummary   `json:"audio,omitempty"`
	Process     *ProcessInfo    `json:"process,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// Status returns the best-known state of the session. The last error is
// cleared only by a fresh Configure, never silently.
func (m *Manager) Status() Status {
	m.mu.Lock()

	st := Status{
		Phase:       m.phase,
		IsStreaming: m.phase == PhaseRunning,
		Configured:  m.transport != nil,
	}
	if m.transport != nil {
		st.LinkCount = len(m.transport.Links)
		st.Bonding = m.transport.Bonding
		for _, l := range m.transport.EnabledLinks() {
			st.ActiveLinks = append(st.ActiveLinks, l.ID())
		}
	}
	if m.video != nil {
		st.Video = &VideoSummary{
			Codec:      string(m.video.Codec),
			Resolution: fmt.Sprintf("%dx%d", m.video.Width, m.video.Height),
			Framerate:  m.video.Framerate,
			BitrateBps: m.video.BitrateBps,
		}
	}
	if m.audio != nil {
		st.Audio = &AudioSummary{
			Codec:        string(m.audio.Codec),
			SampleRateHz: m.audio.SampleRateHz,
			Channels:     m.audio.Channels,
			BitrateBps:   m.audio.BitrateBps,
		}
	}
	m.faultMu.Lock()
	if m.lastFault != nil {
		st.Error = m.lastFault.Message
	}
	m.faultMu.Unlock()

	var pid int
	var sessionID string
	if m.proc != nil {
		pid = m.proc.pid
		sessionID = m.proc.sessionID
	}
	m.mu.Unlock()

	if pid > 0 {
		st.SessionID = sessionID
		st.Process = describeProcess(pid)
	}
	return st
}

// LastFault returns the most recent classified fault, if any.
func (m *Manager) LastFault() *Fault {
	m.faultMu.Lock()
	defer m.faultMu.Unlock()
	if m.lastFault == nil {
		return nil
	}
	f := *m.lastFault
	return &f
}

func describeProcess(pid int) *ProcessInfo {
	info := &ProcessInfo{PID: pid}
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return info
	}
	running, err := proc.IsRunning()
	if err == nil {
		info.Running = running
	}
	if cpu, err := proc.CPUPercent(); err == nil {
		info.CPUPercent = cpu
	}
	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		info.MemoryRSS = mem.RSS
	}
	return info
}

// probeCapsLocked checks encoder element availability once per manager.
// Probe failures fall back to the preferred encoders.
func (m *Manager) probeCapsLocked() {
	if m.capsProbed {
		return
	}
	m.capsProbed = true

	if m.opts.launch != nil {
		return
	}

	inspect := m.opts.Env.InspectBinary()
	if _, err := os.Stat(inspect); err != nil {
		m.logger.Debug("inspect binary not found, assuming default encoders", "path", inspect)
		return
	}

	m.caps = Capabilities{
		X264Enc: hasElement(inspect, m.opts.Env, "x264enc"),
		X265Enc: hasElement(inspect, m.opts.Env, "x265enc"),
	}
	m.logger.Debug("encoder capabilities probed", "x264enc", m.caps.X264Enc, "x265enc", m.caps.X265Enc)
}

func hasElement(inspect string, env LaunchEnv, element string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, inspect, element)
	cmd.Env = env.Environ(os.Environ())
	return cmd.Run() == nil
}

func copyVideo(v *VideoConfig) *VideoConfig {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func copyAudio(a *AudioConfig) *AudioConfig {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}
