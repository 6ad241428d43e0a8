package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

var (
	verbose atomic.Bool

	mu         sync.Mutex
	output     io.Writer = os.Stdout
	outputFile *os.File
	outputPath string

	structured = newStructured()
)

func newStructured() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(lockedWriter{})
	l.SetFormatter(&logrus.TextFormatter{DisableColors: true, FullTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// lockedWriter forwards to the current console output under mu so structured
// events and Infof output interleave line by line and follow SetOutputFile.
type lockedWriter struct{}

func (lockedWriter) Write(p []byte) (int, error) {
	mu.Lock()
	defer mu.Unlock()
	return output.Write(p)
}

// SetVerbose enables or disables debug logging for the current process.
func SetVerbose(enabled bool) {
	verbose.Store(enabled)
	if enabled {
		structured.SetLevel(logrus.DebugLevel)
	} else {
		structured.SetLevel(logrus.InfoLevel)
	}
}

// Verbose reports whether debug logging is enabled.
func Verbose() bool {
	return verbose.Load()
}

// SetFormat selects the structured event format: "text" or "json".
func SetFormat(format string) error {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		structured.SetFormatter(&logrus.TextFormatter{DisableColors: true, FullTimestamp: true})
	case "json":
		structured.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("unknown log format %q: must be text or json", format)
	}
	return nil
}

// L returns the structured logger used for workflow steps and HTTP requests.
// It writes to the same destination as Infof.
func L() *logrus.Logger {
	return structured
}

// SetOutputFile configures optional file logging while preserving stdout output.
// Passing an empty path disables file logging.
func SetOutputFile(path string) error {
	path = strings.TrimSpace(path)

	mu.Lock()
	defer mu.Unlock()

	if path == outputPath {
		return nil
	}

	if outputFile != nil {
		if err := outputFile.Close(); err != nil {
			outputFile = nil
			outputPath = ""
			output = os.Stdout
			return err
		}
		outputFile = nil
		outputPath = ""
	}

	output = os.Stdout
	if path == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}

	outputFile = f
	outputPath = path
	output = io.MultiWriter(os.Stdout, f)
	return nil
}

// SetOutput redirects all logging to w. Used by tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
}

// Close flushes and closes the log file if one is configured.
func Close() error {
	mu.Lock()
	defer mu.Unlock()

	if outputFile == nil {
		return nil
	}
	err := outputFile.Close()
	outputFile = nil
	outputPath = ""
	output = os.Stdout
	return err
}

// Infof prints formatted output regardless of verbosity level.
func Infof(format string, args ...any) {
	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintf(output, format, args...)
}

// Infoln prints output regardless of verbosity level.
func Infoln(args ...any) {
	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintln(output, args...)
}

// Debugf prints formatted output only when verbose mode is enabled.
func Debugf(format string, args ...any) {
	if !Verbose() {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintf(output, format, args...)
}
