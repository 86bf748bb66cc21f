package common

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	config := NewDefaultConfig()

	// Nine hourly marks across the collection window.
	require.Len(t, config.Schedule.Marks, 9)
	assert.Equal(t, "10:50", config.Schedule.Marks[0])
	assert.Equal(t, "18:50", config.Schedule.Marks[8])
	assert.Equal(t, "00:00", config.Schedule.ResetMark)
	assert.Equal(t, 10*time.Second, config.Schedule.PollInterval)

	assert.Equal(t, 3, config.Runner.MaxRetries)
	assert.Equal(t, 60*time.Second, config.Runner.RetryDelay)
	assert.Equal(t, 30*time.Minute, config.Runner.ModuleTimeout)

	assert.Equal(t, 30*time.Minute, config.Alerts.ThrottleWindow)
	assert.Equal(t, "Sunday", config.Alerts.DigestDay)
	assert.False(t, config.Alerts.Email.Enabled)
}

func TestLoadFromFiles_LaterFileOverrides(t *testing.T) {
	dir := t.TempDir()

	base := dir + "/base.toml"
	require.NoError(t, os.WriteFile(base, []byte(`
environment = "production"

[runner]
max_retries = 5

[[modules]]
name = "asx_shares"
command = "python3"
args = ["-m", "collectors.asx_shares"]
`), 0644))

	override := dir + "/override.toml"
	require.NoError(t, os.WriteFile(override, []byte(`
[runner]
max_retries = 2
`), 0644))

	config, err := LoadFromFiles(base, override)
	require.NoError(t, err)

	assert.Equal(t, "production", config.Environment)
	assert.True(t, config.IsProduction())
	assert.Equal(t, 2, config.Runner.MaxRetries)

	require.Len(t, config.Modules, 1)
	assert.Equal(t, "asx_shares", config.Modules[0].Name)
	assert.Equal(t, []string{"-m", "collectors.asx_shares"}, config.Modules[0].Args)

	// Untouched sections keep their defaults.
	assert.Equal(t, 9, len(config.Schedule.Marks))
}

func TestLoadFromFiles_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/colligo.toml"
	require.NoError(t, os.WriteFile(path, []byte(`
[runner]
max_retries = 5
`), 0644))

	t.Setenv("COLLIGO_RUNNER_MAX_RETRIES", "7")
	t.Setenv("COLLIGO_SCHEDULE_MARKS", "09:30, 17:30")

	config, err := LoadFromFiles(path)
	require.NoError(t, err)

	assert.Equal(t, 7, config.Runner.MaxRetries)
	assert.Equal(t, []string{"09:30", "17:30"}, config.Schedule.Marks)
}

func TestLoadFromFiles_MissingFile(t *testing.T) {
	_, err := LoadFromFiles("/nonexistent/colligo.toml")
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	t.Run("duplicate module names", func(t *testing.T) {
		config := NewDefaultConfig()
		config.Modules = []ModuleConfig{
			{Name: "asx_shares", Command: "python3"},
			{Name: "asx_shares", Command: "python3"},
		}
		assert.Error(t, config.Validate())
	})

	t.Run("module without command", func(t *testing.T) {
		config := NewDefaultConfig()
		config.Modules = []ModuleConfig{{Name: "asx_shares"}}
		assert.Error(t, config.Validate())
	})

	t.Run("invalid mark", func(t *testing.T) {
		config := NewDefaultConfig()
		config.Schedule.Marks = []string{"24:61"}
		assert.Error(t, config.Validate())
	})

	t.Run("zero retries", func(t *testing.T) {
		config := NewDefaultConfig()
		config.Runner.MaxRetries = 0
		assert.Error(t, config.Validate())
	})
}

func TestModuleNames(t *testing.T) {
	config := NewDefaultConfig()
	config.Modules = []ModuleConfig{
		{Name: "asx_shares", Command: "python3"},
		{Name: "asx_etfs", Command: "python3"},
		{Name: "fx_rates", Command: "python3"},
	}
	assert.Equal(t, []string{"asx_shares", "asx_etfs", "fx_rates"}, config.ModuleNames())

	config.Modules = nil
	assert.Empty(t, config.ModuleNames())
}

func TestParseMark(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"10:50", "10:50", false},
		{"9:05", "09:05", false},
		{" 18:50 ", "18:50", false},
		{"00:00", "00:00", false},
		{"24:00", "", true},
		{"10:60", "", true},
		{"1050", "", true},
		{"", "", true},
		{"aa:bb", "", true},
	}

	for _, tt := range tests {
		got, err := ParseMark(tt.input)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.input)
		} else {
			require.NoError(t, err, "input %q", tt.input)
			assert.Equal(t, tt.want, got)
		}
	}
}
