package pipeline

import (
	"bufio"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

// TransportStats holds the transport counters most recently reported on
// the pipeline's diagnostic stream.
type TransportStats struct {
	SentOriginalPackets      uint64    `json:"sent_original_packets"`
	SentRetransmittedPackets uint64    `json:"sent_retransmitted_packets"`
	UpdatedAt                time.Time `json:"updated_at"`
}

// tailSize is how many recent diagnostic lines are retained for launch
// failure reporting.
const tailSize = 8

// errorMonitor tails the pipeline's diagnostic stream, classifies error
// lines and extracts transport stats. It exits when the stream closes or a
// stop is requested.
type errorMonitor struct {
	logger  hclog.Logger
	stream  io.Reader
	onFault func(Fault)
	onStats func(TransportStats)

	stop chan struct{}
	done chan struct{}

	mu   sync.Mutex
	tail []string
}

func newErrorMonitor(logger hclog.Logger, stream io.Reader, onFault func(Fault), onStats func(TransportStats)) *errorMonitor {
	return &errorMonitor{
		logger:  logger,
		stream:  stream,
		onFault: onFault,
		onStats: onStats,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (m *errorMonitor) start() {
	go m.run()
}

func (m *errorMonitor) run() {
	defer close(m.done)

	scanner := bufio.NewScanner(m.stream)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)

	for scanner.Scan() {
		select {
		case <-m.stop:
			return
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		m.remember(line)

		if stats, ok := parseStatsLine(line); ok {
			m.onStats(stats)
			continue
		}

		if strings.Contains(line, "ERROR") || strings.Contains(line, "WARN") {
			m.logger.Warn("pipeline diagnostic", "line", line)
		}

		if fault, ok := ClassifyDiagnostic(line); ok {
			m.logger.Error("pipeline fault detected", "kind", fault.Kind, "message", fault.Message)
			m.onFault(fault)
		}
	}

	if err := scanner.Err(); err != nil {
		m.logger.Debug("diagnostic stream closed", "error", err)
	}
}

// requestStop asks the monitor to exit and joins it with a bound. Returns
// false if the monitor did not exit in time.
func (m *errorMonitor) requestStop(timeout time.Duration) bool {
	select {
	case <-m.stop:
	default:
		close(m.stop)
	}
	select {
	case <-m.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// wait blocks until the monitor goroutine has exited.
func (m *errorMonitor) wait(timeout time.Duration) bool {
	select {
	case <-m.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (m *errorMonitor) remember(line string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tail = append(m.tail, line)
	if len(m.tail) > tailSize {
		m.tail = m.tail[len(m.tail)-tailSize:]
	}
}

// tailText returns the retained diagnostic tail as one string.
func (m *errorMonitor) tailText() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return strings.Join(m.tail, "\n")
}

// parseStatsLine extracts transport counters from a ristsink stats
// structure line, e.g.
//
//	rist/x-sender-stats, sent-original-packets=(guint64)1234, sent-retransmitted-packets=(guint64)7
func parseStatsLine(line string) (TransportStats, bool) {
	if !strings.Contains(line, "sent-original-packets") {
		return TransportStats{}, false
	}

	orig, ok := parseCounter(line, "sent-original-packets")
	if !ok {
		return TransportStats{}, false
	}
	retr, _ := parseCounter(line, "sent-retransmitted-packets")

	return TransportStats{
		SentOriginalPackets:      orig,
		SentRetransmittedPackets: retr,
		UpdatedAt:                time.Now(),
	}, true
}

func parseCounter(line, key string) (uint64, bool) {
	idx := strings.Index(line, key)
	if idx < 0 {
		return 0, false
	}
	rest := line[idx+len(key):]

	// Skip over "=(guint64)" or similar decoration up to the first digit.
	start := -1
	for i, r := range rest {
		if r >= '0' && r <= '9' {
			start = i
			break
		}
		// Counters follow the key closely; give up if none found soon.
		if i > 16 {
			return 0, false
		}
	}
	if start < 0 {
		return 0, false
	}

	var value uint64
	seen := false
	for _, r := range rest[start:] {
		if r < '0' || r > '9' {
			break
		}
		value = value*10 + uint64(r-'0')
		seen = true
	}
	return value, seen
}
