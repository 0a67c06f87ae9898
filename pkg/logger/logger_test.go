package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-dm/internal/config"
)

func TestNew_JSONFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	l := newWithWriter(&buf, config.Log{Level: "warn", Format: "json"}, false)

	l.Info("hidden")
	l.Warn("shown", "user", "alice")

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "shown", line["msg"])
	assert.Equal(t, "alice", line["user"])
}

func TestNew_VerboseOverridesLevel(t *testing.T) {
	var buf bytes.Buffer
	l := newWithWriter(&buf, config.Log{Level: "error"}, true)
	assert.Equal(t, log.DebugLevel, l.GetLevel())

	l = newWithWriter(&buf, config.Log{Level: "nonsense"}, false)
	assert.Equal(t, log.InfoLevel, l.GetLevel())
}
