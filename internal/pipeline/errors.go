package pipeline

import (
	"errors"
	"strings"
)

// Sentinel errors returned by Manager operations. Callers match them with
// errors.Is; none of the operations panic across the package boundary.
var (
	// ErrInvalidState is returned when an operation is not valid in the
	// session's current phase.
	ErrInvalidState = errors.New("operation not valid in current session state")
	// ErrNotConfigured is returned by Start before a successful Configure.
	ErrNotConfigured = errors.New("session not configured")
	// ErrNotRunning is returned by Stop when no session is running.
	ErrNotRunning = errors.New("session not running")
	// ErrLaunchFailure is returned when the pipeline process dies within
	// the startup grace window.
	ErrLaunchFailure = errors.New("pipeline process failed to launch")
	// ErrReconfiguration is returned when a restart-based reconfiguration
	// could not bring the session back up.
	ErrReconfiguration = errors.New("reconfiguration failed")
)

// FaultKind categorizes diagnostic-stream errors raised by the running
// pipeline process.
type FaultKind string

const (
	FaultDiskFull       FaultKind = "disk_full"
	FaultConnection     FaultKind = "connection_failed"
	FaultPipeline       FaultKind = "pipeline_fault"
	FaultEndOfStream    FaultKind = "unexpected_eos"
	FaultNotNegotiated  FaultKind = "format_not_negotiated"
	FaultMissingElement FaultKind = "missing_element"
	FaultLaunch         FaultKind = "launch_failure"
	FaultCrash          FaultKind = "process_crashed"
	FaultUnclassified   FaultKind = "unclassified"
)

// Fault is the user-facing form of a classified pipeline error.
type Fault struct {
	Kind    FaultKind `json:"kind"`
	Message string    `json:"message"`
}

func (f Fault) String() string { return f.Message }

// maxRawFaultLen bounds how much of an unclassified diagnostic line is
// surfaced verbatim.
const maxRawFaultLen = 100

// diagnosticRule maps a predicate over a lower-cased diagnostic line to a
// fault. Rules are evaluated in order; the first match wins.
type diagnosticRule struct {
	match   func(line string) bool
	kind    FaultKind
	message string
}

func containsAny(subs ...string) func(string) bool {
	return func(line string) bool {
		for _, s := range subs {
			if strings.Contains(line, s) {
				return true
			}
		}
		return false
	}
}

// Ordered signature table. Best effort: full coverage of the pipeline
// binary's vocabulary is not guaranteed.
var diagnosticRules = []diagnosticRule{
	{containsAny("no space left on device"), FaultDiskFull,
		"Disk full - stream cannot be recorded"},
	{containsAny("could not open resource", "connection refused"), FaultConnection,
		"Transport connection failed - endpoint unreachable"},
	{containsAny("internal data flow error", "internal data stream error"), FaultPipeline,
		"Pipeline fault - check video/audio source"},
	{containsAny("streaming stopped", "eos"), FaultEndOfStream,
		"Stream ended unexpectedly"},
	{containsAny("not negotiated"), FaultNotNegotiated,
		"Video/audio format not supported"},
	{containsAny("no such element", "failed to create element"), FaultMissingElement,
		"Pipeline element missing - check installation"},
}

// ClassifyDiagnostic matches one diagnostic line, case-insensitively,
// against the signature table. Lines that carry a generic error marker but
// no known signature are surfaced verbatim, truncated.
func ClassifyDiagnostic(line string) (Fault, bool) {
	lower := strings.ToLower(line)

	for _, rule := range diagnosticRules {
		if rule.match(lower) {
			return Fault{Kind: rule.kind, Message: rule.message}, true
		}
	}

	if strings.Contains(lower, "error") {
		msg := line
		if len(msg) > maxRawFaultLen {
			msg = msg[:maxRawFaultLen]
		}
		return Fault{Kind: FaultUnclassified, Message: "Pipeline error: " + msg}, true
	}

	return Fault{}, false
}
