package pipeline

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitorClassifiesAndKeepsLatest(t *testing.T) {
	stream := strings.NewReader(strings.Join([]string{
		"Setting pipeline to PLAYING",
		"ERROR: Internal data flow error",
		"WARN: something odd",
		"ERROR: No space left on device",
	}, "\n"))

	var mu sync.Mutex
	var faults []Fault
	mon := newErrorMonitor(hclog.NewNullLogger(), stream,
		func(f Fault) {
			mu.Lock()
			faults = append(faults, f)
			mu.Unlock()
		},
		func(TransportStats) {},
	)
	mon.start()
	require.True(t, mon.wait(2*time.Second), "monitor should exit at stream end")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, faults, 3)
	assert.Equal(t, FaultPipeline, faults[0].Kind)
	assert.Equal(t, FaultUnclassified, faults[1].Kind)
	// the last classified fault is the sticky one
	assert.Equal(t, FaultDiskFull, faults[len(faults)-1].Kind)
}

func TestMonitorParsesStats(t *testing.T) {
	stream := strings.NewReader(
		"rist/x-sender-stats, sent-original-packets=(guint64)1500, sent-retransmitted-packets=(guint64)45\n")

	var mu sync.Mutex
	var got TransportStats
	mon := newErrorMonitor(hclog.NewNullLogger(), stream,
		func(Fault) {},
		func(s TransportStats) {
			mu.Lock()
			got = s
			mu.Unlock()
		},
	)
	mon.start()
	require.True(t, mon.wait(2*time.Second))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, uint64(1500), got.SentOriginalPackets)
	assert.Equal(t, uint64(45), got.SentRetransmittedPackets)
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestMonitorTail(t *testing.T) {
	lines := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		lines = append(lines, "line")
	}
	lines = append(lines, "final diagnostic")

	mon := newErrorMonitor(hclog.NewNullLogger(), strings.NewReader(strings.Join(lines, "\n")),
		func(Fault) {}, func(TransportStats) {})
	mon.start()
	require.True(t, mon.wait(2*time.Second))

	tail := mon.tailText()
	assert.Contains(t, tail, "final diagnostic")
	assert.LessOrEqual(t, len(strings.Split(tail, "\n")), tailSize)
}

func TestParseStatsLine(t *testing.T) {
	stats, ok := parseStatsLine("sent-original-packets=(guint64)10, sent-retransmitted-packets=(guint64)2")
	require.True(t, ok)
	assert.Equal(t, uint64(10), stats.SentOriginalPackets)
	assert.Equal(t, uint64(2), stats.SentRetransmittedPackets)

	if _, ok := parseStatsLine("no counters here"); ok {
		t.Error("line without counters must not parse")
	}
}
