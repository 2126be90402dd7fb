package adaptive

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/glowf1sh/glowboxremote/internal/linkmon"
	"github.com/glowf1sh/glowboxremote/internal/pipeline"
)

// Session is the slice of the pipeline session manager the controller
// drives. It never owns the session's lifecycle and never reaches into its
// internals; all calls are internally synchronized by the manager.
type Session interface {
	Stats() pipeline.TransportStats
	TransportConfig() *pipeline.TransportConfig
	VideoConfig() *pipeline.VideoConfig
	AudioConfig() *pipeline.AudioConfig
	Reconfigure(pipeline.ReconfigureRequest) error
}

// ConfigSaver persists the adaptive outcome into the durable configuration
// store. It must not clobber unrelated parts of the underlying document.
type ConfigSaver interface {
	SaveStreamConfig(videoBitrateBps, audioBitrateBps int, links []pipeline.Link) error
}

// AdjustmentKind labels one adaptive action.
type AdjustmentKind string

const (
	AdjustBitrateIncrease AdjustmentKind = "bitrate_increase"
	AdjustBitrateDecrease AdjustmentKind = "bitrate_decrease"
	AdjustLinkEnable      AdjustmentKind = "link_enable"
	AdjustLinkDisable     AdjustmentKind = "link_disable"
)

// Adjustment describes one applied adaptive action.
type Adjustment struct {
	Kind    AdjustmentKind
	LinkID  string
	FromBps int
	ToBps   int
	Reason  string
	At      time.Time
}

// AdjustmentRecorder receives applied adjustments, e.g. for the history
// log. Implementations must be fast or buffer internally.
type AdjustmentRecorder interface {
	Record(Adjustment)
}

var (
	// ErrAlreadyRunning is returned by Start when the loop is active.
	ErrAlreadyRunning = errors.New("adaptive controller already running")
	// ErrDisabled is returned by Start when the configuration disables
	// the controller.
	ErrDisabled = errors.New("adaptive controller disabled in config")
)

// Options wires a Controller to its collaborators. Session is required;
// everything else is optional.
type Options struct {
	Logger      hclog.Logger
	Config      Config
	LinkMonitor linkmon.Monitor
	Saver       ConfigSaver
	Recorder    AdjustmentRecorder
	// OnState is invoked once per tick with a state snapshot.
	OnState func(State)
}

// Controller runs the closed-loop bitrate and link adaptation. It holds
// non-owning references to the session and link monitor.
type Controller struct {
	logger   hclog.Logger
	session  Session
	links    linkmon.Monitor
	saver    ConfigSaver
	recorder AdjustmentRecorder
	onState  func(State)

	mu      sync.Mutex
	cfg     Config
	state   State
	signals map[string]linkmon.Status

	running  bool
	stop     chan struct{}
	done     chan struct{}
	dirty    bool
	lastSave time.Time
}

// New creates a controller. The zero-value Config is replaced by defaults.
func New(session Session, opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = hclog.NewNullLogger()
	}
	cfg := opts.Config
	if cfg == (Config{}) {
		cfg = DefaultConfig()
	}
	return &Controller{
		logger:   opts.Logger.Named("adaptive"),
		session:  session,
		links:    opts.LinkMonitor,
		saver:    opts.Saver,
		recorder: opts.Recorder,
		onState:  opts.OnState,
		cfg:      cfg,
		signals:  make(map[string]linkmon.Status),
		lastSave: time.Now(),
	}
}

// Start spawns the control loop. It fails if the loop is already running
// or the configuration disables adaptation.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		c.logger.Warn("start requested but already running")
		return ErrAlreadyRunning
	}
	if !c.cfg.Enabled {
		c.logger.Info("adaptive control disabled in config")
		return ErrDisabled
	}

	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	c.running = true
	go c.run(c.stop, c.done)

	c.logger.Info("adaptive controller started", "interval", c.cfg.StatsCheckInterval)
	return nil
}

// Stop signals the loop to exit, joins it with a bound and flushes any
// pending persistence synchronously.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		c.logger.Warn("stop requested but not running")
		return
	}
	stop, done := c.stop, c.done
	c.running = false
	c.mu.Unlock()

	close(stop)
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		c.logger.Error("control loop did not exit within bound")
	}

	c.persist(true)
	c.logger.Info("adaptive controller stopped")
}

// GetState returns a snapshot of the controller state.
func (c *Controller) GetState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// SetOnState installs or replaces the per-tick state callback. Call
// before Start; the callback is read without synchronization by the
// control loop.
func (c *Controller) SetOnState(fn func(State)) {
	c.onState = fn
}

// UpdateConfig replaces the adaptive configuration at runtime.
func (c *Controller) UpdateConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("adaptive config: %w", err)
	}
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
	c.logger.Info("adaptive configuration updated")
	return nil
}

func (c *Controller) run(stop, done chan struct{}) {
	defer close(done)

	for {
		c.tick()

		c.mu.Lock()
		interval := c.cfg.StatsCheckInterval
		c.mu.Unlock()

		select {
		case <-stop:
			return
		case <-time.After(interval):
		}
	}
}

// tick executes one control period: sample, decide, apply, persist,
// observe. A failure inside one tick never terminates the loop.
func (c *Controller) tick() {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("control tick panicked", "panic", r)
		}
	}()

	c.sampleTransportStats()
	if c.links != nil {
		c.sampleLinkSignals()
	}

	c.mu.Lock()
	bitrateEnabled := c.cfg.AdaptiveBitrateEnabled
	linksEnabled := c.cfg.AdaptiveLinksEnabled
	c.mu.Unlock()

	if bitrateEnabled {
		c.adjustBitrate()
	}
	if linksEnabled && c.links != nil {
		c.adjustLinks()
	}

	c.persist(false)

	if c.onState != nil {
		c.onState(c.GetState())
	}
}

// sampleTransportStats derives packet loss from the transport counters.
// RTT extraction is an extension point; while unavailable it stays 0 and
// is excluded from trigger conditions.
func (c *Controller) sampleTransportStats() {
	stats := c.session.Stats()
	video := c.session.VideoConfig()
	audio := c.session.AudioConfig()

	c.mu.Lock()
	defer c.mu.Unlock()

	if stats.SentOriginalPackets > 0 {
		c.state.CurrentPacketLoss =
			float64(stats.SentRetransmittedPackets) / float64(stats.SentOriginalPackets) * 100
	} else {
		c.state.CurrentPacketLoss = 0
	}
	c.state.CurrentRetransmits = stats.SentRetransmittedPackets

	if video != nil {
		c.state.CurrentVideoBitrate = video.BitrateBps
	}
	if audio != nil {
		c.state.CurrentAudioBitrate = audio.BitrateBps
	}
}

// sampleLinkSignals refreshes the per-link readings and tracks the
// active/disabled sets. Only set changes are logged, to avoid churn.
func (c *Controller) sampleLinkSignals() {
	readings := c.links.AllLinkStatus()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.signals = readings

	var active, disabled []string
	for id, st := range readings {
		switch {
		case st.Connected && st.SignalStrength >= c.cfg.LinkEnableSignalThreshold:
			active = append(active, id)
		case st.SignalStrength < c.cfg.LinkDisableSignalThreshold:
			disabled = append(disabled, id)
		}
	}

	if !sameStringSet(active, c.state.ActiveLinks) {
		c.logger.Info("active links changed", "from", c.state.ActiveLinks, "to", active)
		c.state.ActiveLinks = active
	}
	if !sameStringSet(disabled, c.state.DisabledLinks) {
		c.logger.Info("disabled links changed", "from", c.state.DisabledLinks, "to", disabled)
		c.state.DisabledLinks = disabled
	}
}

// adjustBitrate applies the bitrate policy. Decrease and increase are
// mutually exclusive per tick; decrease takes priority.
func (c *Controller) adjustBitrate() {
	c.mu.Lock()
	cfg := c.cfg
	loss := c.state.CurrentPacketLoss
	rtt := c.state.CurrentRTTMs
	current := c.state.CurrentVideoBitrate
	c.mu.Unlock()

	if current == 0 {
		return
	}

	shouldDecrease := loss > cfg.PacketLossThresholdHigh ||
		(rtt > cfg.RTTThresholdHighMs && rtt > 0)

	if shouldDecrease && cfg.ImmediateDecrease {
		target := int(float64(current) * (1 - cfg.BitrateStepDown))
		if target < cfg.MinVideoBitrate {
			target = cfg.MinVideoBitrate
		}
		if target < current {
			c.logger.Warn("network degradation, reducing bitrate",
				"loss_pct", fmt.Sprintf("%.2f", loss),
				"rtt_ms", rtt,
				"from_kbps", current/1000,
				"to_kbps", target/1000,
			)
			if c.applyVideoBitrate(current, target, AdjustBitrateDecrease,
				fmt.Sprintf("packet loss %.2f%%", loss)) {
				c.mu.Lock()
				c.state.StablePeriods = 0
				c.state.TotalBitrateDecreases++
				c.state.LastAdjustment = time.Now()
				c.mu.Unlock()
			}
		}
		return
	}

	canIncrease := loss < cfg.PacketLossThresholdLow && current < cfg.MaxVideoBitrate
	if !canIncrease {
		if loss >= cfg.PacketLossThresholdLow {
			c.mu.Lock()
			c.state.StablePeriods = 0
			c.mu.Unlock()
		}
		return
	}

	c.mu.Lock()
	c.state.StablePeriods++
	stable := c.state.StablePeriods
	c.mu.Unlock()

	if stable < cfg.StablePeriodsBeforeIncrease {
		return
	}

	target := int(float64(current) * (1 + cfg.BitrateStepUp))
	if target > cfg.MaxVideoBitrate {
		target = cfg.MaxVideoBitrate
	}
	if target <= current {
		return
	}

	c.logger.Info("network stable, increasing bitrate",
		"stable_periods", stable,
		"from_kbps", current/1000,
		"to_kbps", target/1000,
	)
	if c.applyVideoBitrate(current, target, AdjustBitrateIncrease,
		fmt.Sprintf("stable for %d periods", stable)) {
		c.mu.Lock()
		c.state.StablePeriods = 0
		c.state.TotalBitrateIncreases++
		c.state.LastAdjustment = time.Now()
		c.mu.Unlock()
	}
}

// applyVideoBitrate pushes a bitrate change through the session's
// reconfiguration path. A rejected push is logged and leaves state
// unchanged; the next tick re-evaluates from fresh samples.
func (c *Controller) applyVideoBitrate(from, to int, kind AdjustmentKind, reason string) bool {
	video := c.session.VideoConfig()
	if video == nil {
		return false
	}
	video.BitrateBps = to

	if err := c.session.Reconfigure(pipeline.ReconfigureRequest{Video: video}); err != nil {
		c.logger.Error("bitrate reconfiguration rejected", "error", err)
		return false
	}

	c.mu.Lock()
	c.state.CurrentVideoBitrate = to
	c.dirty = true
	c.mu.Unlock()

	c.record(Adjustment{Kind: kind, FromBps: from, ToBps: to, Reason: reason, At: time.Now()})
	return true
}

// adjustLinks applies the link policy: hysteresis per link, one batched
// reconfiguration when any desired state differs.
func (c *Controller) adjustLinks() {
	transport := c.session.TransportConfig()
	if transport == nil {
		return
	}

	c.mu.Lock()
	cfg := c.cfg
	readings := make(map[string]linkmon.Status, len(c.signals))
	for id, st := range c.signals {
		readings[id] = st
	}
	c.mu.Unlock()

	var changes []Adjustment
	updated := transport.Clone()
	needsUpdate := false

	for i, link := range updated.Links {
		st, ok := readings[link.ID()]
		if !ok {
			continue
		}

		desired := link.Enabled
		switch {
		case !st.Connected || st.SignalStrength < cfg.LinkDisableSignalThreshold:
			desired = false
		case st.SignalStrength >= cfg.LinkEnableSignalThreshold:
			desired = true
		}
		// readings inside the hysteresis band keep the current state

		if desired == link.Enabled {
			continue
		}

		if desired {
			c.logger.Info("re-enabling link",
				"link", link.ID(), "signal_pct", st.SignalStrength)
			changes = append(changes, Adjustment{
				Kind:   AdjustLinkEnable,
				LinkID: link.ID(),
				Reason: fmt.Sprintf("signal recovered (%d%%)", st.SignalStrength),
				At:     time.Now(),
			})
		} else {
			c.logger.Warn("disabling link",
				"link", link.ID(), "signal_pct", st.SignalStrength, "connected", st.Connected)
			changes = append(changes, Adjustment{
				Kind:   AdjustLinkDisable,
				LinkID: link.ID(),
				Reason: fmt.Sprintf("signal too low (%d%%)", st.SignalStrength),
				At:     time.Now(),
			})
		}

		updated.Links[i].Enabled = desired
		needsUpdate = true
	}

	if !needsUpdate {
		return
	}

	if err := c.session.Reconfigure(pipeline.ReconfigureRequest{Transport: &updated}); err != nil {
		c.logger.Error("link reconfiguration rejected", "error", err)
		return
	}

	c.mu.Lock()
	for _, adj := range changes {
		if adj.Kind == AdjustLinkEnable {
			c.state.TotalLinkEnables++
		} else {
			c.state.TotalLinkDisables++
		}
	}
	c.state.LastAdjustment = time.Now()
	c.dirty = true
	c.mu.Unlock()

	for _, adj := range changes {
		c.record(adj)
	}
}

// persist writes the current bitrates and link list into the durable
// store. The persistence path is deliberately slower than the live apply
// path; staleness is bounded by ConfigSaveInterval.
func (c *Controller) persist(force bool) {
	if c.saver == nil {
		return
	}

	c.mu.Lock()
	due := c.dirty && (force || time.Since(c.lastSave) >= c.cfg.ConfigSaveInterval)
	c.mu.Unlock()
	if !due {
		return
	}

	var videoBps, audioBps int
	if video := c.session.VideoConfig(); video != nil {
		videoBps = video.BitrateBps
	}
	if audio := c.session.AudioConfig(); audio != nil {
		audioBps = audio.BitrateBps
	}
	var links []pipeline.Link
	if transport := c.session.TransportConfig(); transport != nil {
		links = transport.Links
	}

	if err := c.saver.SaveStreamConfig(videoBps, audioBps, links); err != nil {
		c.logger.Error("config persistence failed", "error", err)
		return
	}

	c.mu.Lock()
	c.dirty = false
	c.lastSave = time.Now()
	c.mu.Unlock()
	c.logger.Debug("configuration persisted")
}

func (c *Controller) record(adj Adjustment) {
	if c.recorder != nil {
		c.recorder.Record(adj)
	}
}
