package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProductionLoggerJSONFormat(t *testing.T) {
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("LOG_LEVEL", "DEBUG")

	var buf bytes.Buffer
	logger := NewProductionLogger("orderflow-test")
	logger.SetOutput(&buf)

	logger.Info("Order processed", map[string]interface{}{
		"order_id": "ORD-001",
		"error":    errors.New("boom"),
	})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "orderflow-test", entry["service"])
	assert.Equal(t, "Order processed", entry["message"])
	assert.Equal(t, "ORD-001", entry["order_id"])
	assert.Equal(t, "boom", entry["error"])
	assert.NotEmpty(t, entry["timestamp"])
}

func TestProductionLoggerTextFormat(t *testing.T) {
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("LOG_LEVEL", "DEBUG")

	var buf bytes.Buffer
	logger := NewProductionLogger("orderflow-test")
	logger.SetOutput(&buf)

	logger.Warn("Lock contended", map[string]interface{}{
		"order_id": "ORD-001",
		"attempt":  2,
	})

	line := buf.String()
	assert.Contains(t, line, "WARN")
	assert.Contains(t, line, "Lock contended")
	// Fields come out sorted by key.
	assert.Less(t, strings.Index(line, "attempt=2"), strings.Index(line, "order_id=ORD-001"))
}

func TestProductionLoggerLevelFiltering(t *testing.T) {
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("LOG_LEVEL", "WARN")

	var buf bytes.Buffer
	logger := NewProductionLogger("orderflow-test")
	logger.SetOutput(&buf)

	logger.Debug("dropped", nil)
	logger.Info("dropped", nil)
	logger.Warn("kept", nil)
	logger.Error("kept", nil)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 2)
	assert.NotContains(t, buf.String(), "dropped")
}

func TestProductionLoggerKubernetesDetection(t *testing.T) {
	t.Setenv("KUBERNETES_SERVICE_HOST", "10.0.0.1")
	t.Setenv("LOG_FORMAT", "")
	t.Setenv("LOG_LEVEL", "")

	var buf bytes.Buffer
	logger := NewProductionLogger("orderflow-test")
	logger.SetOutput(&buf)

	logger.Info("hello", nil)

	var entry map[string]interface{}
	assert.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
}

func TestNoOpLogger(t *testing.T) {
	var logger Logger = &NoOpLogger{}
	logger.Info("ignored", map[string]interface{}{"k": "v"})
	logger.Error("ignored", nil)
	logger.Warn("ignored", nil)
	logger.Debug("ignored", nil)
}
