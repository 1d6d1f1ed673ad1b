package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriterEmitsServiceFields(t *testing.T) {
	var buf bytes.Buffer
	log := newWithWriter(Config{Level: "debug", ServiceName: "be-ledger-approvals", Version: "1.2.3"}, &buf)

	log.Info().Str("approval_id", "APP0001").Msg("Approval decided")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "be-ledger-approvals", line["service"])
	assert.Equal(t, "1.2.3", line["version"])
	assert.Equal(t, "APP0001", line["approval_id"])
	assert.Equal(t, "Approval decided", line["message"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := newWithWriter(Config{Level: "warn"}, &buf)

	log.Info().Msg("dropped")
	assert.Zero(t, buf.Len())

	log.Warn().Msg("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestInvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := newWithWriter(Config{Level: "chatty"}, &buf)

	log.Debug().Msg("dropped")
	log.Info().Msg("kept")
	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "kept")
}

func TestWith(t *testing.T) {
	var buf bytes.Buffer
	log := newWithWriter(Config{}, &buf).With("component", "sweeper")
	log.Info().Msg("swept")
	assert.Contains(t, buf.String(), `"component":"sweeper"`)
}
