package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewParsesLevel(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, New("debug", "text").GetLevel())
	assert.Equal(t, logrus.InfoLevel, New("loud", "text").GetLevel())
}

func TestComponentTagsEntries(t *testing.T) {
	logger := New("info", "json")
	var buf bytes.Buffer
	logger.SetOutput(&buf)

	Component(logger, "sync").Info("pushed")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "sync", line["component"])
	assert.Equal(t, "pushed", line["msg"])
}
