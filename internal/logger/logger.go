package logger

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
)

var (
	mu   sync.Mutex
	root hclog.Logger
)

// Options controls the root logger construction.
type Options struct {
	Level  string
	JSON   bool
	Output io.Writer
}

// Init builds the process root logger. Safe to call more than once; the
// last call wins.
func Init(opts Options) hclog.Logger {
	writer := opts.Output
	if writer == nil {
		writer = os.Stdout
	}

	l := hclog.New(&hclog.LoggerOptions{
		Name:       "glowbox",
		Level:      parseLevel(opts.Level),
		JSONFormat: opts.JSON,
		Output:     writer,
	})

	mu.Lock()
	root = l
	mu.Unlock()
	return l
}

// Root returns the root logger, initializing a default one on first use.
func Root() hclog.Logger {
	mu.Lock()
	defer mu.Unlock()
	if root == nil {
		root = hclog.New(&hclog.LoggerOptions{
			Name:  "glowbox",
			Level: hclog.Info,
		})
	}
	return root
}

// Named returns a child logger for a component.
func Named(name string) hclog.Logger {
	return Root().Named(name)
}

func parseLevel(level string) hclog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return hclog.Trace
	case "debug":
		return hclog.Debug
	case "warn", "warning":
		return hclog.Warn
	case "error":
		return hclog.Error
	case "off":
		return hclog.Off
	default:
		return hclog.Info
	}
}
