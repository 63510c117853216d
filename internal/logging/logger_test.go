package logging_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"imgus-backend/internal/logging"
)

func TestNewWithWriter_ProductionWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithWriter("production", &buf)

	logger.Info().Str("job_id", "j1").Msg("hello")
	logger.Debug().Msg("dropped")

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "hello", line["message"])
	assert.Equal(t, "j1", line["job_id"])
	assert.Equal(t, "imgus-backend", line["service"])
}

func TestNewWithWriter_DevelopmentEnablesDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithWriter("development", &buf)

	logger.Debug().Msg("visible")

	assert.Contains(t, buf.String(), "visible")
}
