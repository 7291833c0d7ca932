package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmuck/urbilink/internal/config"
	"github.com/danmuck/urbilink/internal/protocol"
	"github.com/danmuck/urbilink/internal/testutil/testlog"
)

// fakeServer answers every tagged command with "<tag>: 42" and echoes
// untagged lines back as system messages.
func fakeServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		for {
			stmt, err := r.ReadString(';')
			if err != nil {
				return
			}
			stmt = strings.TrimSpace(stmt)
			if tag, _, ok := strings.Cut(stmt, ": "); ok {
				_, _ = io.WriteString(conn, "[00000010:"+tag+"] 42\n")
				continue
			}
			_, _ = io.WriteString(conn, "[00000011:echo] *** "+stmt+"\n")
		}
	}()
	return ln.Addr().String()
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestSendPrintsTaggedReply(t *testing.T) {
	testlog.Start(t)
	addr := fakeServer(t)
	out, err := execute(t, "", "send", "--addr", addr, "motor.val")
	require.NoError(t, err)
	assert.Equal(t, "[00000010:__U1] 42\n", out)
}

func TestSendTimesOutWithoutReplies(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = io.Copy(io.Discard, conn)
	}()

	_, err = execute(t, "", "send", "--addr", ln.Addr().String(), "--wait", "50ms", "1;")
	assert.True(t, errors.Is(err, errTimeout), "got %v", err)
}

func TestShellForwardsLines(t *testing.T) {
	testlog.Start(t)
	addr := fakeServer(t)
	out, err := execute(t, "a = 1;\n\nb = 2;\n", "shell", "--addr", addr, "--linger", "300ms")
	require.NoError(t, err)
	assert.Equal(t, "[00000011:echo] *** a = 1;\n[00000011:echo] *** b = 2;\n", out)
}

func TestConfigFileAndFlagPrecedence(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "urbictl.toml")
	require.NoError(t, os.WriteFile(path, []byte("address = \"robot:1234\"\nping_interval = \"1s\"\n"), 0o600))

	cmd := &cobra.Command{Use: "probe"}
	opts := &options{}
	opts.bind(cmd)
	require.NoError(t, cmd.ParseFlags([]string{"--config", path, "--ws", "--ping", "3s"}))
	cfg, err := opts.resolve(cmd)
	require.NoError(t, err)
	assert.Equal(t, "robot:1234", cfg.Address)
	assert.Equal(t, config.TransportWebSocket, cfg.Transport)
	assert.Equal(t, 3*time.Second, cfg.PingInterval)
	assert.Equal(t, "ws://robot:1234", cfg.Target())
}

func TestFormatMessage(t *testing.T) {
	testlog.Start(t)
	msg := protocol.Message{
		Timestamp: 7,
		Tag:       "cam",
		Kind:      protocol.KindData,
		Text:      "BIN 3 jpeg;",
		Value: &protocol.Value{Binaries: []protocol.Binary{
			{Header: "jpeg", Data: []byte{1, 2, 3}},
		}},
	}
	assert.Equal(t, "[00000007:cam] BIN 3 jpeg; <BIN 3 jpeg>", formatMessage(msg))
	assert.Equal(t, "[00000001] *** up", formatMessage(protocol.Message{Timestamp: 1, Kind: protocol.KindSystem, Text: "up"}))
	assert.Equal(t, "[00000002:__CLIENTERROR__] !!! boom",
		formatMessage(protocol.NewClientError(2, "boom")))
}

func TestTerminate(t *testing.T) {
	assert.Equal(t, "a;", terminate(" a "))
	assert.Equal(t, "a;", terminate("a;"))
	assert.Equal(t, "a,", terminate("a,"))
}
