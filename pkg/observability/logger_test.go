package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/coursehub/pkg/contextkeys"
)

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	t.Run("debug not logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Debug("debug message")
		assert.Zero(t, buf.Len())
	})

	t.Run("info logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Info("info message")
		entry := decodeEntry(t, &buf)
		assert.Equal(t, "info", entry["level"])
		assert.Equal(t, "info message", entry["message"])
	})

	t.Run("set level enables debug", func(t *testing.T) {
		buf.Reset()
		logger.SetLevel(DebugLevel)
		logger.Debugf("debug %d", 1)
		entry := decodeEntry(t, &buf)
		assert.Equal(t, "debug 1", entry["message"])
	})
}

func TestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithField("course_id", 7).
		WithFields(map[string]interface{}{"user_id": 3}).
		WithError(errors.New("boom")).
		Warn("something happened")

	entry := decodeEntry(t, &buf)
	assert.Equal(t, float64(7), entry["course_id"])
	assert.Equal(t, float64(3), entry["user_id"])
	assert.Equal(t, "boom", entry["error"])
	assert.Equal(t, "warning", entry["level"])
}

func TestLogger_WithNilError(t *testing.T) {
	logger := NewLogger(InfoLevel, &bytes.Buffer{})
	assert.Same(t, logger, logger.WithError(nil))
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, DebugLevel, ParseLogLevel("DEBUG"))
	assert.Equal(t, WarnLevel, ParseLogLevel("warning"))
	assert.Equal(t, ErrorLevel, ParseLogLevel("error"))
	assert.Equal(t, InfoLevel, ParseLogLevel("bogus"))
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf).WithField("request_id", "abc")

	ctx := WithLogger(context.Background(), logger)
	FromContext(ctx).Info("hello")

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "abc", entry["request_id"])

	fallback := FromContext(contextkeys.WithRequestID(context.Background(), "xyz"))
	assert.NotNil(t, fallback)
}

func TestRecoverPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	func() {
		defer RecoverPanic(logger, "test")
		panic("kaboom")
	}()

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "kaboom", entry["panic"])
	assert.Equal(t, "test", entry["context"])
}
