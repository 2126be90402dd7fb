package linkmon

import (
	"context"
	"encoding/json"
	"os/exec"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

// ModemOptions configures the ModemManager poller.
type ModemOptions struct {
	Logger hclog.Logger
	// Interval between polls of the modem list.
	Interval time.Duration
	// LinkMap maps a modem device path to the link id it carries
	// (address:port). Modems without a mapping are reported under their
	// device path.
	LinkMap map[string]string
	// MmcliPath overrides the mmcli binary location.
	MmcliPath string
}

// ModemMonitor polls ModemManager through mmcli and caches per-link
// connectivity and signal strength. It satisfies Monitor.
type ModemMonitor struct {
	logger hclog.Logger
	opts   ModemOptions

	mu     sync.Mutex
	status map[string]Status

	stop chan struct{}
	done chan struct{}
}

// NewModemMonitor creates a monitor; call Start to begin polling.
func NewModemMonitor(opts ModemOptions) *ModemMonitor {
	if opts.Logger == nil {
		opts.Logger = hclog.NewNullLogger()
	}
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.MmcliPath == "" {
		opts.MmcliPath = "mmcli"
	}
	return &ModemMonitor{
		logger: opts.Logger.Named("linkmon"),
		opts:   opts,
		status: make(map[string]Status),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start launches the background poll loop.
func (m *ModemMonitor) Start() {
	go m.run()
}

// Stop terminates the poll loop.
func (m *ModemMonitor) Stop() {
	select {
	case <-m.stop:
	default:
		close(m.stop)
	}
	<-m.done
}

// AllLinkStatus returns a copy of the latest per-link readings.
func (m *ModemMonitor) AllLinkStatus() map[string]Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Status, len(m.status))
	for id, st := range m.status {
		out[id] = st
	}
	return out
}

func (m *ModemMonitor) run() {
	defer close(m.done)

	m.poll()
	for {
		select {
		case <-m.stop:
			return
		case <-time.After(m.opts.Interval):
			m.poll()
		}
	}
}

type mmModemList struct {
	ModemList []string `json:"modem-list"`
}

type mmModem struct {
	Modem struct {
		Generic struct {
			State         string `json:"state"`
			SignalQuality struct {
				Value json.Number `json:"value"`
			} `json:"signal-quality"`
		} `json:"generic"`
	} `json:"modem"`
}

func (m *ModemMonitor) poll() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, m.opts.MmcliPath, "-L", "-J").Output()
	if err != nil {
		m.logger.Debug("modem list failed", "error", err)
		return
	}

	var list mmModemList
	if err := json.Unmarshal(out, &list); err != nil {
		m.logger.Warn("modem list parse failed", "error", err)
		return
	}

	fresh := make(map[string]Status, len(list.ModemList))
	for _, path := range list.ModemList {
		st, err := m.queryModem(ctx, path)
		if err != nil {
			m.logger.Debug("modem query failed", "modem", path, "error", err)
			continue
		}
		id := path
		if mapped, ok := m.opts.LinkMap[path]; ok {
			id = mapped
		}
		fresh[id] = st
	}

	m.mu.Lock()
	m.status = fresh
	m.mu.Unlock()
}

func (m *ModemMonitor) queryModem(ctx context.Context, path string) (Status, error) {
	out, err := exec.CommandContext(ctx, m.opts.MmcliPath, "-m", path, "-J").Output()
	if err != nil {
		return Status{}, err
	}

	var modem mmModem
	if err := json.Unmarshal(out, &modem); err != nil {
		return Status{}, err
	}

	signal, _ := modem.Modem.Generic.SignalQuality.Value.Int64()
	return Status{
		Connected:      modem.Modem.Generic.State == "connected",
		SignalStrength: int(signal),
	}, nil
}
