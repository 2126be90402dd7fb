package adaptive

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glowf1sh/glowboxremote/internal/linkmon"
	"github.com/glowf1sh/glowboxremote/internal/pipeline"
)

type fakeSession struct {
	mu          sync.Mutex
	stats       pipeline.TransportStats
	transport   *pipeline.TransportConfig
	video       *pipeline.VideoConfig
	audio       *pipeline.AudioConfig
	reconfigErr error
	reconfigs   int
}

func (f *fakeSession) Stats() pipeline.TransportStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

func (f *fakeSession) TransportConfig() *pipeline.TransportConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.transport == nil {
		return nil
	}
	t := f.transport.Clone()
	return &t
}

func (f *fakeSession) VideoConfig() *pipeline.VideoConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.video == nil {
		return nil
	}
	v := *f.video
	return &v
}

func (f *fakeSession) AudioConfig() *pipeline.AudioConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.audio == nil {
		return nil
	}
	a := *f.audio
	return &a
}

func (f *fakeSession) Reconfigure(req pipeline.ReconfigureRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reconfigErr != nil {
		return f.reconfigErr
	}
	f.reconfigs++
	if req.Video != nil {
		v := *req.Video
		f.video = &v
	}
	if req.Transport != nil {
		t := req.Transport.Clone()
		f.transport = &t
	}
	if req.Audio != nil {
		a := *req.Audio
		f.audio = &a
	}
	return nil
}

func (f *fakeSession) setLoss(lossPct float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	const original = 100000
	f.stats = pipeline.TransportStats{
		SentOriginalPackets:      original,
		SentRetransmittedPackets: uint64(lossPct * original / 100),
		UpdatedAt:                time.Now(),
	}
}

type fakeMonitor struct {
	mu       sync.Mutex
	readings map[string]linkmon.Status
}

func (f *fakeMonitor) AllLinkStatus() map[string]linkmon.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]linkmon.Status, len(f.readings))
	for k, v := range f.readings {
		out[k] = v
	}
	return out
}

type fakeSaver struct {
	mu    sync.Mutex
	saves int
	video int
	links []pipeline.Link
	err   error
}

func (f *fakeSaver) SaveStreamConfig(videoBps, audioBps int, links []pipeline.Link) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.saves++
	f.video = videoBps
	f.links = links
	return nil
}

func newTestSession(bitrateBps int) *fakeSession {
	tc := pipeline.DefaultTransportConfig()
	tc.Links = []pipeline.Link{
		{Address: "10.0.0.1", Port: 5004, Enabled: true, Weight: 100},
		{Address: "10.0.0.2", Port: 5004, Enabled: true, Weight: 100},
	}
	return &fakeSession{
		transport: &tc,
		video: &pipeline.VideoConfig{
			Codec:            pipeline.VideoCodecH264,
			Width:            1280,
			Height:           720,
			Framerate:        30,
			BitrateBps:       bitrateBps,
			KeyframeInterval: 60,
		},
		audio: &pipeline.AudioConfig{
			Codec:        pipeline.AudioCodecOpus,
			BitrateBps:   128_000,
			SampleRateHz: 48000,
			Channels:     2,
		},
	}
}

func TestBitrateDecreaseExample(t *testing.T) {
	// spec example: 2 Mbps at 7% loss with a 0.15 step lands on 1.7 Mbps
	session := newTestSession(2_000_000)
	session.setLoss(7.0)

	c := New(session, Options{Config: DefaultConfig()})
	c.tick()

	assert.Equal(t, 1_700_000, session.VideoConfig().BitrateBps)
	st := c.GetState()
	assert.Equal(t, 1, st.TotalBitrateDecreases)
	assert.Equal(t, 0, st.StablePeriods)
	assert.False(t, st.LastAdjustment.IsZero())
}

func TestBitrateMonotonicDecreaseToFloor(t *testing.T) {
	session := newTestSession(1_000_000)
	session.setLoss(8.0)

	cfg := DefaultConfig()
	cfg.MinVideoBitrate = 500_000
	c := New(session, Options{Config: cfg})

	prev := session.VideoConfig().BitrateBps
	for i := 0; i < 10; i++ {
		c.tick()
		cur := session.VideoConfig().BitrateBps
		if prev > cfg.MinVideoBitrate {
			assert.Less(t, cur, prev, "tick %d must strictly decrease", i)
		} else {
			assert.Equal(t, cfg.MinVideoBitrate, cur, "tick %d must hold the floor", i)
		}
		assert.GreaterOrEqual(t, cur, cfg.MinVideoBitrate)
		prev = cur
	}
	assert.Equal(t, cfg.MinVideoBitrate, session.VideoConfig().BitrateBps)
}

func TestBitrateIncreaseRequiresStability(t *testing.T) {
	session := newTestSession(1_000_000)
	session.setLoss(0.2)

	cfg := DefaultConfig()
	cfg.StablePeriodsBeforeIncrease = 5
	c := New(session, Options{Config: cfg})

	for i := 0; i < 4; i++ {
		c.tick()
		assert.Equal(t, 1_000_000, session.VideoConfig().BitrateBps,
			"no increase before %d stable periods", cfg.StablePeriodsBeforeIncrease)
	}

	c.tick() // fifth qualifying tick
	assert.Equal(t, 1_100_000, session.VideoConfig().BitrateBps)

	st := c.GetState()
	assert.Equal(t, 1, st.TotalBitrateIncreases)
	assert.Equal(t, 0, st.StablePeriods, "counter resets after the increase")
}

func TestBitrateIncreaseCappedAtMax(t *testing.T) {
	session := newTestSession(1_000_000)
	session.setLoss(0.0)

	cfg := DefaultConfig()
	cfg.StablePeriodsBeforeIncrease = 1
	cfg.MaxVideoBitrate = 1_050_000
	c := New(session, Options{Config: cfg})

	c.tick()
	assert.Equal(t, 1_050_000, session.VideoConfig().BitrateBps)

	// at the ceiling nothing further happens
	c.tick()
	assert.Equal(t, 1_050_000, session.VideoConfig().BitrateBps)
	assert.Equal(t, 1, c.GetState().TotalBitrateIncreases)
}

func TestDecreaseTakesPriorityOverIncrease(t *testing.T) {
	// overlap the thresholds so both branches qualify on the same tick
	session := newTestSession(2_000_000)
	session.setLoss(3.0)

	cfg := DefaultConfig()
	cfg.PacketLossThresholdHigh = 1.0
	cfg.PacketLossThresholdLow = 5.0
	cfg.StablePeriodsBeforeIncrease = 1
	c := New(session, Options{Config: cfg})

	c.tick()

	st := c.GetState()
	assert.Equal(t, 1, st.TotalBitrateDecreases)
	assert.Equal(t, 0, st.TotalBitrateIncreases)
	assert.Equal(t, 1_700_000, session.VideoConfig().BitrateBps)
}

func TestStabilityCounterResetsOnLoss(t *testing.T) {
	session := newTestSession(1_000_000)

	cfg := DefaultConfig()
	cfg.StablePeriodsBeforeIncrease = 3
	c := New(session, Options{Config: cfg})

	session.setLoss(0.5)
	c.tick()
	c.tick()
	assert.Equal(t, 2, c.GetState().StablePeriods)

	// loss at the low threshold resets the counter without adjusting
	session.setLoss(1.0)
	c.tick()
	assert.Equal(t, 0, c.GetState().StablePeriods)
	assert.Equal(t, 1_000_000, session.VideoConfig().BitrateBps)
}

func TestLinkPolicyExample(t *testing.T) {
	// spec example: readings {A:15, B:60} with thresholds (20, 40)
	session := newTestSession(2_000_000)
	monitor := &fakeMonitor{readings: map[string]linkmon.Status{
		"10.0.0.1:5004": {Connected: true, SignalStrength: 15},
		"10.0.0.2:5004": {Connected: true, SignalStrength: 60},
	}}

	c := New(session, Options{Config: DefaultConfig(), LinkMonitor: monitor})
	c.tick()

	st := c.GetState()
	assert.ElementsMatch(t, []string{"10.0.0.2:5004"}, st.ActiveLinks)
	assert.ElementsMatch(t, []string{"10.0.0.1:5004"}, st.DisabledLinks)

	transport := session.TransportConfig()
	var enabled []string
	for _, l := range transport.Links {
		if l.Enabled {
			enabled = append(enabled, l.ID())
		}
	}
	assert.Equal(t, []string{"10.0.0.2:5004"}, enabled)
	assert.Equal(t, 1, st.TotalLinkDisables)
}

func TestLinkHysteresis(t *testing.T) {
	session := newTestSession(2_000_000)
	monitor := &fakeMonitor{readings: map[string]linkmon.Status{
		"10.0.0.1:5004": {Connected: true, SignalStrength: 15},
		"10.0.0.2:5004": {Connected: true, SignalStrength: 60},
	}}

	c := New(session, Options{Config: DefaultConfig(), LinkMonitor: monitor})
	c.tick()
	require.Equal(t, 1, c.GetState().TotalLinkDisables)

	// inside the hysteresis band: no toggle either way
	monitor.mu.Lock()
	monitor.readings["10.0.0.1:5004"] = linkmon.Status{Connected: true, SignalStrength: 30}
	monitor.mu.Unlock()
	c.tick()

	st := c.GetState()
	assert.Equal(t, 1, st.TotalLinkDisables)
	assert.Equal(t, 0, st.TotalLinkEnables)
	for _, l := range session.TransportConfig().Links {
		if l.ID() == "10.0.0.1:5004" {
			assert.False(t, l.Enabled, "link must stay disabled inside the band")
		}
	}

	// at the enable threshold the link comes back
	monitor.mu.Lock()
	monitor.readings["10.0.0.1:5004"] = linkmon.Status{Connected: true, SignalStrength: 40}
	monitor.mu.Unlock()
	c.tick()

	st = c.GetState()
	assert.Equal(t, 1, st.TotalLinkEnables)
	for _, l := range session.TransportConfig().Links {
		if l.ID() == "10.0.0.1:5004" {
			assert.True(t, l.Enabled)
		}
	}
}

func TestLinkChangesAreBatched(t *testing.T) {
	session := newTestSession(2_000_000)
	monitor := &fakeMonitor{readings: map[string]linkmon.Status{
		"10.0.0.1:5004": {Connected: true, SignalStrength: 5},
		"10.0.0.2:5004": {Connected: false, SignalStrength: 80},
	}}

	cfg := DefaultConfig()
	cfg.AdaptiveBitrateEnabled = false
	c := New(session, Options{Config: cfg, LinkMonitor: monitor})
	c.tick()

	// both links change in one reconfiguration push
	session.mu.Lock()
	defer session.mu.Unlock()
	assert.Equal(t, 1, session.reconfigs)
}

func TestRejectedPushLeavesStateUnchanged(t *testing.T) {
	session := newTestSession(2_000_000)
	session.reconfigErr = errors.New("session refused")
	session.setLoss(9.0)

	c := New(session, Options{Config: DefaultConfig()})
	c.tick()

	st := c.GetState()
	assert.Equal(t, 0, st.TotalBitrateDecreases)
	assert.Equal(t, 2_000_000, st.CurrentVideoBitrate)
}

func TestPersistenceFlushOnStop(t *testing.T) {
	session := newTestSession(2_000_000)
	session.setLoss(7.0)
	saver := &fakeSaver{}

	cfg := DefaultConfig()
	cfg.StatsCheckInterval = 20 * time.Millisecond
	cfg.ConfigSaveInterval = time.Hour // never due during the test
	c := New(session, Options{Config: cfg, Saver: saver})

	require.NoError(t, c.Start())
	time.Sleep(60 * time.Millisecond)
	c.Stop()

	saver.mu.Lock()
	defer saver.mu.Unlock()
	require.GreaterOrEqual(t, saver.saves, 1, "stop must flush pending changes")
	assert.Less(t, saver.video, 2_000_000)
	assert.Len(t, saver.links, 2)
}

func TestPersistenceIntervalGate(t *testing.T) {
	session := newTestSession(2_000_000)
	session.setLoss(7.0)
	saver := &fakeSaver{}

	cfg := DefaultConfig()
	cfg.ConfigSaveInterval = time.Hour
	c := New(session, Options{Config: cfg, Saver: saver})

	c.tick()

	saver.mu.Lock()
	defer saver.mu.Unlock()
	assert.Equal(t, 0, saver.saves, "save interval has not elapsed")
}

func TestStartStopLifecycle(t *testing.T) {
	session := newTestSession(2_000_000)

	cfg := DefaultConfig()
	cfg.StatsCheckInterval = 10 * time.Millisecond
	c := New(session, Options{Config: cfg})

	require.NoError(t, c.Start())
	assert.ErrorIs(t, c.Start(), ErrAlreadyRunning)
	c.Stop()

	// restartable after stop
	require.NoError(t, c.Start())
	c.Stop()
}

func TestStartDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	c := New(newTestSession(2_000_000), Options{Config: cfg})
	assert.ErrorIs(t, c.Start(), ErrDisabled)
}

func TestStateCallbackPerTick(t *testing.T) {
	session := newTestSession(2_000_000)
	session.setLoss(0.0)

	var mu sync.Mutex
	var snapshots []State
	c := New(session, Options{
		Config: DefaultConfig(),
		OnState: func(s State) {
			mu.Lock()
			snapshots = append(snapshots, s)
			mu.Unlock()
		},
	})

	c.tick()
	c.tick()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, snapshots, 2)
	assert.Equal(t, 2_000_000, snapshots[0].CurrentVideoBitrate)
}

func TestUpdateConfigValidates(t *testing.T) {
	c := New(newTestSession(2_000_000), Options{})

	bad := DefaultConfig()
	bad.BitrateStepDown = 1.5
	assert.Error(t, c.UpdateConfig(bad))

	good := DefaultConfig()
	good.PacketLossThresholdHigh = 8.0
	require.NoError(t, c.UpdateConfig(good))
}
