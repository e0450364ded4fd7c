package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("colortrack", "debug", false)
	require.NoError(t, err)
	assert.NotNil(t, logger)

	logger, err = NewLogger("colortrack", "warn", true)
	require.NoError(t, err)
	assert.NotNil(t, logger)

	_, err = NewLogger("colortrack", "loud", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestObservedTestLogger(t *testing.T) {
	logger, logs := NewObservedTestLogger(t)

	logger.Named("overlay").Infow("rendered", "class", "car")
	logger.Debug("quiet")

	require.Equal(t, 2, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "rendered", entry.Message)
	assert.Equal(t, "overlay", entry.LoggerName)
	assert.Equal(t, "car", entry.ContextMap()["class"])
}
