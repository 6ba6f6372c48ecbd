package core

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// ProductionLogger is the default Logger implementation for the worker.
// It emits JSON when running inside Kubernetes (detected via
// KUBERNETES_SERVICE_HOST) so log aggregation can parse entries, and
// human-readable text for local development.
//
// Configuration:
//   - LOG_LEVEL: DEBUG, INFO, WARN, ERROR (default INFO)
//   - LOG_FORMAT: "json" or "text" overrides auto-detection
type ProductionLogger struct {
	level       int
	format      string
	serviceName string
	output      io.Writer
	mu          sync.Mutex
}

const (
	levelDebug = iota
	levelInfo
	levelWarn
	levelError
)

// NewProductionLogger creates a logger configured from the environment.
func NewProductionLogger(serviceName string) *ProductionLogger {
	format := "text"
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		format = "json"
	}
	if explicit := os.Getenv("LOG_FORMAT"); explicit != "" {
		format = explicit
	}

	return &ProductionLogger{
		level:       parseLevel(os.Getenv("LOG_LEVEL")),
		format:      format,
		serviceName: serviceName,
		output:      os.Stdout,
	}
}

func parseLevel(s string) int {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return levelDebug
	case "WARN", "WARNING":
		return levelWarn
	case "ERROR":
		return levelError
	default:
		return levelInfo
	}
}

// SetOutput redirects log output. Used by tests.
func (l *ProductionLogger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output = w
}

func (l *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	l.log(levelDebug, "DEBUG", msg, fields)
}

func (l *ProductionLogger) Info(msg string, fields map[string]interface{}) {
	l.log(levelInfo, "INFO", msg, fields)
}

func (l *ProductionLogger) Warn(msg string, fields map[string]interface{}) {
	l.log(levelWarn, "WARN", msg, fields)
}

func (l *ProductionLogger) Error(msg string, fields map[string]interface{}) {
	l.log(levelError, "ERROR", msg, fields)
}

func (l *ProductionLogger) log(level int, levelName, msg string, fields map[string]interface{}) {
	if level < l.level {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339Nano)

	if l.format == "json" {
		entry := make(map[string]interface{}, len(fields)+4)
		entry["timestamp"] = now
		entry["level"] = levelName
		entry["service"] = l.serviceName
		entry["message"] = msg
		for k, v := range fields {
			if err, ok := v.(error); ok {
				entry[k] = err.Error()
				continue
			}
			entry[k] = v
		}
		if data, err := json.Marshal(entry); err == nil {
			fmt.Fprintln(l.output, string(data))
		}
		return
	}

	// Text format with deterministic field ordering for readability.
	parts := []string{now, levelName, msg}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	fmt.Fprintln(l.output, strings.Join(parts, " "))
}
