package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewLoggerLevels(t *testing.T) {
	tests := []struct {
		env, level string
		debug      bool
		info       bool
	}{
		{"dev", "", true, true},
		{"prod", "", false, true},
		{"prod", "debug", true, true},
		{"dev", "warn", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.env+"/"+tt.level, func(t *testing.T) {
			logger, err := NewLogger(tt.env, tt.level)
			require.NoError(t, err)
			assert.Equal(t, tt.debug, logger.Core().Enabled(zap.DebugLevel))
			assert.Equal(t, tt.info, logger.Core().Enabled(zap.InfoLevel))
		})
	}
}

func TestNewSugarInvalidLevel(t *testing.T) {
	_, err := NewSugar("dev", "loud")
	assert.Error(t, err)
}
