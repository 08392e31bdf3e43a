package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLevels(t *testing.T) {
	l, err := New("warn", false)
	require.NoError(t, err)
	require.False(t, l.Core().Enabled(zapcore.InfoLevel))
	require.True(t, l.Core().Enabled(zapcore.WarnLevel))

	l, err = New("", true)
	require.NoError(t, err)
	require.True(t, l.Core().Enabled(zapcore.DebugLevel))

	_, err = New("loud", false)
	require.Error(t, err)
}
