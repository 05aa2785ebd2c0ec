package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_TagsNodeIDAndComponent(t *testing.T) {
	var buf bytes.Buffer
	base := New("node-a", "info", false, &buf)
	log := Component(base, "applicator")
	log.Info().Msg("hello")

	var fields map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &fields))
	assert.Equal(t, "node-a", fields["node_id"])
	assert.Equal(t, "applicator", fields["component"])
	assert.Equal(t, "hello", fields["message"])
}

func TestNew_UnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := New("node-a", "bogus-level", false, &buf)
	log.Debug().Msg("should be suppressed")
	assert.Empty(t, buf.String())

	log.Info().Msg("should appear")
	assert.NotEmpty(t, buf.String())
}
