package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwac/camannex/controller"
)

const sampleYAML = `
group_id: "002"
server:
  enable: true
  host: 10.0.0.5
  port: 4100
engine:
  poll_interval: 5s
  verify_checksum: true
cooler:
  - port: /dev/ttyUSB0
    devices: [11, 12]
vacuum:
  - port: /dev/ttyUSB1
    baud_rate: 19200
    parity: even
    devices: [1]
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	require := require.New(t)

	cfg, err := Load(writeFile(t, "camannex.yaml", sampleYAML))
	require.NoError(err)

	require.Equal("002", cfg.GroupID)
	require.Equal(time.Minute, cfg.ReconnectInterval)
	require.True(cfg.Server.Enable)
	require.Equal("10.0.0.5:4100", cfg.Server.Address())
	require.False(cfg.Database.Enable)

	require.Equal(5*time.Second, cfg.Engine.PollInterval)
	require.Equal(controller.DefaultHeartbeatInterval, cfg.Engine.HeartbeatInterval)
	require.Equal(controller.DefaultSettleDelay, cfg.Engine.SettleDelay)
	require.True(cfg.Engine.VerifyChecksum)
	require.Len(cfg.Engine.Options(), 7)

	require.Len(cfg.Cooler, 1)
	require.Equal(Annex{Port: "/dev/ttyUSB0", BaudRate: 9600, DataBits: 8, Parity: "none", StopBits: 1, Devices: []int{11, 12}}, cfg.Cooler[0])
	require.Equal([]byte{11, 12}, cfg.Cooler[0].DeviceIDs())
	require.Len(cfg.Vacuum, 1)
	require.Equal(19200, cfg.Vacuum[0].BaudRate)
	require.Equal("even", cfg.Vacuum[0].Parity)

	require.Equal("info", cfg.Logging.Level)
	require.Equal("slog", cfg.Logging.Backend)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("CAMANNEX_SERVER_HOST", "192.168.1.9")
	t.Setenv("CAMANNEX_ENGINE_POLL_INTERVAL", "45s")
	t.Setenv("CAMANNEX_LOGGING_LEVEL", "debug")

	cfg, err := Load(writeFile(t, "camannex.yaml", sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.9", cfg.Server.Host)
	assert.Equal(t, 45*time.Second, cfg.Engine.PollInterval)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	raw := `
server:
  enable: true
  port: 70000
database:
  enable: true
  dsn: ""
cooler:
  - port: /dev/ttyS0
    devices: [300]
vacuum:
  - port: /dev/ttyS0
`
	_, err := Load(writeFile(t, "bad.yaml", raw))
	require.ErrorIs(t, err, ErrInvalid)

	msg := err.Error()
	assert.Contains(t, msg, "server.port 70000 out of range")
	assert.Contains(t, msg, "database.dsn is required")
	assert.Contains(t, msg, "device id 300 out of range")
	assert.Contains(t, msg, "port /dev/ttyS0 used twice")
	assert.Contains(t, msg, "vacuum[0]: no devices")
}

func TestLoad_PortCaseInsensitive(t *testing.T) {
	raw := `
cooler:
  - port: /dev/ttyUSB0
    devices: [1]
vacuum:
  - port: /dev/TTYUSB0
    devices: [2]
`
	_, err := Load(writeFile(t, "case.yaml", raw))
	require.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "vacuum[0]: port /dev/TTYUSB0 used twice")
}

func TestWriteDefault(t *testing.T) {
	require := require.New(t)

	path := filepath.Join(t.TempDir(), "camannex.yaml")
	require.NoError(WriteDefault(path))

	cfg, err := Load(path)
	require.NoError(err)
	require.Equal("001", cfg.GroupID)
	require.Equal("172.28.1.11:4016", cfg.Server.Address())
	require.False(cfg.Server.Enable)

	require.Len(cfg.Cooler, 1)
	require.Equal("/dev/ttyS0", cfg.Cooler[0].Port)
	require.Equal([]byte{1, 2}, cfg.Cooler[0].DeviceIDs())
	require.Len(cfg.Vacuum, 2)
	require.Equal("/dev/ttyS2", cfg.Vacuum[1].Port)
	require.Equal(controller.DefaultPollInterval, cfg.Engine.PollInterval)
}

func TestValidate_Defaults(t *testing.T) {
	cfg := Config{
		GroupID:           "001",
		ReconnectInterval: time.Minute,
		Engine: EngineConfig{
			PollInterval:      time.Second,
			HeartbeatInterval: time.Second,
			UploadTimeout:     time.Second,
		},
	}
	assert.NoError(t, cfg.Validate())

	cfg.Engine.PollInterval = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
}
