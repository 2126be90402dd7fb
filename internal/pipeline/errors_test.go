package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyDiagnostic(t *testing.T) {
	tests := []struct {
		name string
		line string
		kind FaultKind
	}{
		{"disk full", "ERROR: No space left on device", FaultDiskFull},
		{"connection refused", "rist: Connection refused by peer", FaultConnection},
		{"unreachable", "ERROR: Could not open resource for writing", FaultConnection},
		{"data flow", "ERROR: Internal data flow error", FaultPipeline},
		{"eos", "got EOS from element pipeline0", FaultEndOfStream},
		{"streaming stopped", "streaming stopped, reason error", FaultEndOfStream},
		{"negotiation", "reason not-negotiated (-4)", FaultNotNegotiated},
		{"missing element", "no such element or plugin 'ristsink'", FaultMissingElement},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fault, ok := ClassifyDiagnostic(tt.line)
			assert.True(t, ok, "line should classify: %s", tt.line)
			assert.Equal(t, tt.kind, fault.Kind)
			assert.NotEmpty(t, fault.Message)
		})
	}
}

func TestClassifyDiagnosticCaseInsensitive(t *testing.T) {
	fault, ok := ClassifyDiagnostic("no SPACE left ON device")
	assert.True(t, ok)
	assert.Equal(t, FaultDiskFull, fault.Kind)
}

func TestClassifyDiagnosticOrderedPriority(t *testing.T) {
	// A line matching two signatures takes the earlier rule.
	fault, ok := ClassifyDiagnostic("no space left on device, streaming stopped")
	assert.True(t, ok)
	assert.Equal(t, FaultDiskFull, fault.Kind)
}

func TestClassifyDiagnosticUnclassified(t *testing.T) {
	long := "ERROR from element weird0: " + strings.Repeat("x", 200)
	fault, ok := ClassifyDiagnostic(long)
	assert.True(t, ok)
	assert.Equal(t, FaultUnclassified, fault.Kind)
	// verbatim but bounded
	assert.LessOrEqual(t, len(fault.Message), maxRawFaultLen+len("Pipeline error: "))
}

func TestClassifyDiagnosticIgnoresNoise(t *testing.T) {
	if _, ok := ClassifyDiagnostic("Setting pipeline to PLAYING"); ok {
		t.Error("informational line must not classify as a fault")
	}
}
