package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	require := require.New(t)

	for name, want := range map[string]LogLevel{
		"debug": DebugLevel,
		"INFO":  InfoLevel,
		"":      InfoLevel,
		"warn":  WarnLevel,
		"error": ErrorLevel,
		"fatal": FatalLevel,
	} {
		got, err := ParseLevel(name)
		require.NoError(err, name)
		require.Equal(want, got, name)
	}

	_, err := ParseLevel("verbose")
	require.Error(err)
}

func TestSlogLogger(t *testing.T) {
	t.Setenv("ENV", "")
	require := require.New(t)

	var buf bytes.Buffer
	l := NewSlog(InfoLevel, false, &buf)
	require.Equal(InfoLevel, l.Level())

	l.Debug("hidden")
	require.Zero(buf.Len())

	l.With("port", "/dev/ttyS0").Info("cooler telemetry", "device", 1)

	var rec map[string]any
	require.NoError(json.Unmarshal(buf.Bytes(), &rec))
	require.Equal("cooler telemetry", rec["msg"])
	require.Equal("/dev/ttyS0", rec["port"])
	require.EqualValues(1, rec["device"])
	require.Contains(rec, "ts")

	l.SetLevel(DebugLevel)
	require.Equal(DebugLevel, l.Level())
	buf.Reset()
	l.Debug("visible")
	require.Contains(buf.String(), "visible")
}

func TestZapLogger(t *testing.T) {
	require := require.New(t)

	var buf bytes.Buffer
	l := NewZap(WarnLevel, "json", &buf)
	require.Equal(WarnLevel, l.Level())

	l.Info("hidden")
	require.Zero(buf.Len())

	l.With("family", "vacuum").Warn("malformed frame", "len", 3)

	var rec map[string]any
	require.NoError(json.Unmarshal(buf.Bytes(), &rec))
	require.Equal("malformed frame", rec["msg"])
	require.Equal("vacuum", rec["family"])
	require.EqualValues(3, rec["len"])

	l.SetLevel(FatalLevel)
	require.Equal(FatalLevel, l.Level())
}

func TestNew(t *testing.T) {
	t.Setenv("ENV", "")

	t.Run("file output", func(t *testing.T) {
		require := require.New(t)

		path := filepath.Join(t.TempDir(), "log", "camannex.log")
		l, closer, err := New(Config{Backend: "slog", Level: "info", Output: path, MaxSize: 1})
		require.NoError(err)

		l.Info("started")
		require.NoError(closer.Close())

		data, err := os.ReadFile(path)
		require.NoError(err)
		require.Contains(string(data), "started")
	})

	t.Run("zap backend", func(t *testing.T) {
		require := require.New(t)

		l, closer, err := New(Config{Backend: "zap", Level: "debug", Output: "stderr"})
		require.NoError(err)
		require.IsType(&ZapLogger{}, l)
		require.NoError(closer.Close())
	})

	t.Run("invalid", func(t *testing.T) {
		require := require.New(t)

		_, _, err := New(Config{Backend: "logrus"})
		require.Error(err)

		_, _, err = New(Config{Level: "loud"})
		require.Error(err)
	})
}

func TestDefaultLogger(t *testing.T) {
	require := require.New(t)

	prev := GetLogger()
	t.Cleanup(func() { SetDefault(prev) })

	m := NewMockLogger()
	m.On("Info", "hello", []any{"k", 1}).Once()
	SetDefault(m)
	SetDefault(nil)

	Info("hello", "k", 1)
	require.Same(m, GetLogger())
	m.AssertExpectations(t)
}
