package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/nervous/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.Sensors)
	assert.Empty(t, cfg.MetricsAddr)
	assert.Equal(t, 10*time.Second, cfg.Connection.ScanTimeout)
	assert.Equal(t, 1, cfg.Connection.MaxParallel)
	assert.Equal(t, time.Second, cfg.Connection.RetryDelay)
	assert.Equal(t, 100*time.Millisecond, cfg.Connection.PollInterval)
	assert.Equal(t, time.Second, cfg.Connection.FanoutErrorDelay)
	assert.Equal(t, 120*time.Second, cfg.Connection.BatteryInterval)
	assert.Equal(t, 5*time.Second, cfg.ECG.Window)
	assert.Equal(t, -1.0, cfg.ECG.Polarity)
	assert.Equal(t, 20*time.Second, cfg.EDA.Window)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
		want     logrus.Level
	}{
		{name: "creates logger with debug level", logLevel: "debug", want: logrus.DebugLevel},
		{name: "creates logger with info level", logLevel: "info", want: logrus.InfoLevel},
		{name: "creates logger with warn level", logLevel: "warn", want: logrus.WarnLevel},
		{name: "creates logger with error level", logLevel: "error", want: logrus.ErrorLevel},
		{name: "falls back to info on garbage", logLevel: "chatty", want: logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.logLevel}

			logger := cfg.NewLogger()

			assert.NotNil(t, logger)
			assert.Equal(t, tt.want, logger.GetLevel())

			// Verify formatter is set correctly
			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			assert.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}

func TestParse_PartialFileKeepsDefaults(t *testing.T) {
	// GOAL: Verify keys left out of the file take their tag default
	//
	// TEST SCENARIO: YAML with sensors and one connection key → given values kept, the rest defaulted

	cfg, err := Parse([]byte(`
sensors: [ECG_1, EDA_2]
connection:
  max_parallel: 3
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"ECG_1", "EDA_2"}, cfg.Sensors)
	assert.Equal(t, 3, cfg.Connection.MaxParallel)
	assert.Equal(t, time.Second, cfg.Connection.RetryDelay, "unset keys MUST take their default")
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestParse_EmptyDocument(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestParse_Validation(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{name: "unknown log level", yaml: "log_level: chatty", field: "log_level"},
		{name: "negative parallelism", yaml: "connection: {max_parallel: -2}", field: "connection.max_parallel"},
		{name: "negative delay", yaml: "connection: {retry_delay: -1s}", field: "connection.retry_delay"},
		{name: "bad polarity", yaml: "ecg: {polarity: 2}", field: "ecg.polarity"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.ErrorIs(t, err, ErrInvalidConfig)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestParse_RejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("sensor: [ECG_1]"))
	assert.Error(t, err, "a misspelled key MUST not be silently ignored")
}

func TestLoad_ShippedExample(t *testing.T) {
	root, err := testutils.ProjectRoot()
	require.NoError(t, err)

	cfg, err := Load(filepath.Join(root, "configs", "nervous.yaml"))
	require.NoError(t, err)
	assert.Equal(t, []string{"NERVOUS_ECG_7A2F", "NERVOUS_EDA_11C0"}, cfg.Sensors)
	assert.Equal(t, ":9100", cfg.MetricsAddr)
	assert.Equal(t, 2*time.Minute, cfg.Connection.BatteryInterval)
	assert.Equal(t, 100*time.Millisecond, cfg.Connection.PollInterval)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
