package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmuck/urbilink/internal/callback"
	"github.com/danmuck/urbilink/internal/client"
	"github.com/danmuck/urbilink/internal/protocol"
	"github.com/danmuck/urbilink/internal/testutil/testlog"
	"github.com/danmuck/urbilink/internal/testutil/tlstest"
)

// startServer accepts one connection and hands it to handle.
func startServer(t *testing.T, tlsCfg *tls.Config, handle func(net.Conn)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	if tlsCfg != nil {
		ln = tls.NewListener(ln, tlsCfg)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn)
	}()
	return ln.Addr().String()
}

// echoCommand reads one command, answers it on the same tag and then
// drains until the client goes away.
func echoCommand(got chan<- string) func(net.Conn) {
	return func(conn net.Conn) {
		r := bufio.NewReader(conn)
		line, err := r.ReadString(';')
		if err != nil {
			return
		}
		got <- line
		tag, _, _ := cutTag(line)
		_, _ = io.WriteString(conn, "[00000010:"+tag+"] 4")
		time.Sleep(10 * time.Millisecond)
		_, _ = io.WriteString(conn, "2\n")
		_, _ = io.Copy(io.Discard, r)
	}
}

func cutTag(line string) (string, string, bool) {
	for i := 0; i < len(line); i++ {
		if line[i] == ':' {
			return line[:i], line[i+1:], true
		}
	}
	return "", line, false
}

func roundTrip(t *testing.T, conn Conn) {
	t.Helper()
	c, err := client.New(conn, client.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, c.Open())

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- conn.Run(ctx, c) }()

	replies := make(chan protocol.Message, 1)
	_, err = c.SendCommand(callback.Once(func(msg protocol.Message) {
		replies <- msg
	}), "answer;")
	require.NoError(t, err)

	select {
	case msg := <-replies:
		assert.Equal(t, "42", msg.Text)
		assert.Equal(t, int64(10), msg.Timestamp)
	case <-time.After(5 * time.Second):
		t.Fatal("no reply")
	}

	cancel()
	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop")
	}
	assert.Equal(t, client.StateClosed, c.State())
	assert.False(t, conn.CanSend(1))
}

func TestTCPRoundTrip(t *testing.T) {
	testlog.Start(t)
	got := make(chan string, 1)
	addr := startServer(t, nil, echoCommand(got))

	conn, err := Dial(context.Background(), addr, DefaultConfig())
	require.NoError(t, err)
	_, ok := conn.(*TCP)
	require.True(t, ok)

	roundTrip(t, conn)
	assert.Equal(t, "__U1: answer;", <-got)
}

func TestTCPRoundTripOverTLS(t *testing.T) {
	testlog.Start(t)
	ca := tlstest.New(t)
	got := make(chan string, 1)
	addr := startServer(t, ca.ServerConfig(t, ca.Server(t), false), echoCommand(got))

	cfg := DefaultConfig()
	cfg.TLS = TLSConfig{Enabled: true, CAFile: ca.File}
	conn, err := DialTCP(context.Background(), addr, cfg)
	require.NoError(t, err)

	roundTrip(t, conn)
	assert.Equal(t, "__U1: answer;", <-got)
}

func TestTCPMutualTLS(t *testing.T) {
	testlog.Start(t)
	ca := tlstest.New(t)
	got := make(chan string, 1)
	addr := startServer(t, ca.ServerConfig(t, ca.Server(t), true), echoCommand(got))

	pair := ca.Client(t, "operator")
	cfg := DefaultConfig()
	cfg.TLS = TLSConfig{Enabled: true, Mutual: true, CAFile: ca.File, CertFile: pair.CertFile, KeyFile: pair.KeyFile}
	conn, err := DialTCP(context.Background(), addr, cfg)
	require.NoError(t, err)

	roundTrip(t, conn)
	assert.Equal(t, "__U1: answer;", <-got)
}

func TestTCPRejectsUnknownAuthority(t *testing.T) {
	testlog.Start(t)
	serverCA := tlstest.New(t)
	otherCA := tlstest.New(t)
	addr := startServer(t, serverCA.ServerConfig(t, serverCA.Server(t), false), func(conn net.Conn) {
		_, _ = io.Copy(io.Discard, conn)
	})

	cfg := DefaultConfig()
	cfg.TLS = TLSConfig{Enabled: true, CAFile: otherCA.File}
	_, err := DialTCP(context.Background(), addr, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tls handshake")
}

func TestTCPServerHangupIsClientError(t *testing.T) {
	testlog.Start(t)
	addr := startServer(t, nil, func(conn net.Conn) {
		_, _ = io.WriteString(conn, "[1:hello] *** ready\n")
	})

	conn, err := DialTCP(context.Background(), addr, DefaultConfig())
	require.NoError(t, err)
	c, err := client.New(conn, client.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, c.Open())

	var msgs, failures []protocol.Message
	_, err = c.SetWildcardCallback(callback.HandlerFunc(func(msg protocol.Message) callback.Action {
		msgs = append(msgs, msg)
		return callback.Continue
	}))
	require.NoError(t, err)
	_, err = c.SetClientErrorCallback(callback.HandlerFunc(func(msg protocol.Message) callback.Action {
		failures = append(failures, msg)
		return callback.Continue
	}))
	require.NoError(t, err)

	err = conn.Run(context.Background(), c)
	assert.ErrorIs(t, err, io.EOF)
	require.Len(t, msgs, 1)
	assert.Equal(t, protocol.KindSystem, msgs[0].Kind)
	require.Len(t, failures, 1)
	assert.Equal(t, protocol.ClientErrorTag, failures[0].Tag)
	assert.Equal(t, client.StateErrored, c.State())
	assert.ErrorIs(t, c.Err(), client.ErrTransport)
}

func TestTCPSendLimits(t *testing.T) {
	testlog.Start(t)
	local, remote := net.Pipe()
	defer remote.Close()

	cfg := DefaultConfig()
	cfg.MaxSendBytes = 8
	tr := NewTCP(local, cfg)
	assert.True(t, tr.CanSend(8))
	assert.False(t, tr.CanSend(9))

	go func() { _, _ = io.Copy(io.Discard, remote) }()
	require.NoError(t, tr.EffectiveSend([]byte("a = 1;")))

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	assert.False(t, tr.CanSend(1))
	assert.ErrorIs(t, tr.EffectiveSend([]byte("x")), ErrClosed)
}
