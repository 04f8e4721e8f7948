package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSettings(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultFileName)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func baseSettings(t *testing.T) string {
	return `
mqtt:
  hostname: broker.local
  user: ha
  password: secret
timezone: Europe/Amsterdam
devicename: My Device
client_id: sensors-1
log:
  path: ` + filepath.Join(t.TempDir(), "logs") + `
`
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeSettings(t, baseSettings(t)), nil)
	require.NoError(t, err)

	assert.Equal(t, 1883, cfg.MQTT.Port)
	assert.Equal(t, "broker.local:1883", cfg.MQTT.Addr())
	assert.Equal(t, 60*time.Second, cfg.Interval())
	assert.Equal(t, 120*time.Second, cfg.Retry.RefusedDelay)
	assert.Equal(t, 600*time.Second, cfg.Retry.UnreachableDelay)
	assert.Zero(t, cfg.Retry.MaxDelay)
	assert.Equal(t, 10*time.Second, cfg.Collector.Timeout)
	assert.Equal(t, "mydevice", cfg.DeviceID())
	assert.Equal(t, "Europe/Amsterdam", cfg.Location().String())
	assert.Empty(t, cfg.Metrics.Addr)
	assert.Empty(t, cfg.Warnings)

	// 未配置的传感器默认启用
	assert.True(t, cfg.Sensors.Enabled("cpu_usage"))
}

func TestLoadSensorFlagsAndDrives(t *testing.T) {
	body := baseSettings(t) + `
update_interval: 30
power_integer_state: true
sensors:
  cpu_usage: true
  temperature: false
  wifi_ssid:
  external_drives:
    Backup: /mnt/backup
retry:
  refused_delay: 5s
  max_delay: 1m
`
	cfg, err := Load(writeSettings(t, body), nil)
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Interval())
	assert.True(t, cfg.Sensors.Enabled("cpu_usage"))
	assert.False(t, cfg.Sensors.Enabled("temperature"))
	assert.False(t, cfg.Sensors.Enabled("wifi_ssid"), "explicit null disables")
	assert.True(t, cfg.Sensors.Enabled("memory_use"))
	assert.Equal(t, map[string]string{"backup": "/mnt/backup"}, cfg.Sensors.ExternalDrives)
	assert.Equal(t, 5*time.Second, cfg.Retry.RefusedDelay)
	assert.Equal(t, time.Minute, cfg.Retry.MaxDelay)
	require.Len(t, cfg.Warnings, 1)
	assert.Contains(t, cfg.Warnings[0], "power_integer_state")
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SYSTEM_SENSORS_MQTT_PASSWORD", "from-env")
	cfg, err := Load(writeSettings(t, baseSettings(t)), nil)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.MQTT.Password)
}

func TestLoadInvalid(t *testing.T) {
	logDir := filepath.Join(t.TempDir(), "logs")
	cases := map[string]string{
		"missing hostname": `
mqtt: {port: 1883}
timezone: UTC
devicename: d
client_id: c
`,
		"user without password": `
mqtt: {hostname: b, user: ha}
timezone: UTC
devicename: d
client_id: c
`,
		"bad timezone": `
mqtt: {hostname: b}
timezone: Mars/Olympus
devicename: d
client_id: c
`,
		"missing client id": `
mqtt: {hostname: b}
timezone: UTC
devicename: d
`,
		"non boolean flag": `
mqtt: {hostname: b}
timezone: UTC
devicename: d
client_id: c
sensors:
  cpu_usage: [1, 2]
`,
		"relative drive path": `
mqtt: {hostname: b}
timezone: UTC
devicename: d
client_id: c
sensors:
  external_drives:
    backup: mnt/backup
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeSettings(t, body+"log: {path: "+logDir+"}\n"), nil)
			require.Error(t, err)
			var cfgErr *ConfigError
			assert.True(t, errors.As(err, &cfgErr))
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestResolvePath(t *testing.T) {
	explicit := writeSettings(t, "a: b\n")
	got, err := resolvePath(explicit, nil)
	require.NoError(t, err)
	assert.Equal(t, explicit, got)

	_, err = resolvePath(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.Error(t, err)

	dir := filepath.Dir(explicit)
	got, err = resolvePath("", func() (string, error) { return dir, nil })
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, DefaultFileName), got)

	_, err = resolvePath("", func() (string, error) { return t.TempDir(), nil })
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
}
