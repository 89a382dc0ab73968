package tcp

import (
	"bufio"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwac/camannex/asciiproto"
	"github.com/gwac/camannex/logger"
)

func quietLogger() logger.Logger {
	return logger.NewSlog(logger.ErrorLevel, false, io.Discard)
}

// acceptOne listens on loopback and hands over the first accepted connection.
func acceptOne(t *testing.T) (string, <-chan net.Conn) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	ch := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			ch <- conn
		}
	}()

	return ln.Addr().String(), ch
}

func TestClient_WriteReachesServer(t *testing.T) {
	require := require.New(t)

	addr, accepted := acceptOne(t)
	c, err := NewClient(WithLogger(quietLogger()))
	require.NoError(err)

	require.ErrorIs(c.Write([]byte("x\n")), ErrNotConnected)
	require.NoError(c.Connect(context.Background(), addr))
	defer c.Close()
	require.True(c.IsOpen())
	require.ErrorIs(c.Connect(context.Background(), addr), ErrAlreadyConnected)

	server := <-accepted
	defer server.Close()

	line := "cooler group_id=001,unit_id=000,cam_id=001,voltage=12.0\n"
	require.NoError(c.Write([]byte(line)))

	require.NoError(server.SetReadDeadline(time.Now().Add(time.Second)))
	got, err := bufio.NewReader(server).ReadString('\n')
	require.NoError(err)
	require.Equal(line, got)
}

func TestClient_ResolvesServerLines(t *testing.T) {
	addr, accepted := acceptOne(t)
	records := make(chan asciiproto.Record, 4)
	c, err := NewClient(
		WithLogger(quietLogger()),
		WithRecordHandler(func(r asciiproto.Record) { records <- r }),
	)
	require.NoError(t, err)
	require.NoError(t, c.Connect(context.Background(), addr))
	defer c.Close()

	server := <-accepted
	defer server.Close()

	_, err = server.Write([]byte("bogus a=1\nvacuum cam_id=012,pressure=1.2E-3\n"))
	require.NoError(t, err)

	select {
	case rec := <-records:
		v, ok := rec.(*asciiproto.Vacuum)
		require.True(t, ok)
		assert.Equal(t, "012", v.CamID)
		assert.Equal(t, "1.2E-3", v.Pressure)
	case <-time.After(time.Second):
		t.Fatal("no record")
	}
	assert.Empty(t, records)
}

func TestClient_RemoteCloseRunsHandler(t *testing.T) {
	addr, accepted := acceptOne(t)
	closed := make(chan struct{}, 1)
	c, err := NewClient(
		WithLogger(quietLogger()),
		WithCloseHandler(func() { closed <- struct{}{} }),
	)
	require.NoError(t, err)
	require.NoError(t, c.Connect(context.Background(), addr))

	server := <-accepted
	require.NoError(t, server.Close())

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("close handler not run")
	}
	assert.False(t, c.IsOpen())
	assert.ErrorIs(t, c.Write([]byte("x\n")), ErrNotConnected)
	assert.NoError(t, c.Close())
}

func TestClient_LocalCloseSkipsHandler(t *testing.T) {
	addr, accepted := acceptOne(t)
	closed := make(chan struct{}, 1)
	c, err := NewClient(
		WithLogger(quietLogger()),
		WithCloseHandler(func() { closed <- struct{}{} }),
	)
	require.NoError(t, err)
	require.NoError(t, c.Connect(context.Background(), addr))
	server := <-accepted
	defer server.Close()

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.False(t, c.IsOpen())
	assert.Empty(t, closed)
}

func TestClient_ConnectFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	c, err := NewClient(WithLogger(quietLogger()), WithConnectTimeout(200*time.Millisecond))
	require.NoError(t, err)
	assert.Error(t, c.Connect(context.Background(), addr))
	assert.False(t, c.IsOpen())

	_, err = NewClient(WithWriteTimeout(0))
	assert.Error(t, err)
	_, err = NewClient(WithLogger(nil))
	assert.Error(t, err)
}
