package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/urbilink/internal/client"
	"github.com/danmuck/urbilink/internal/observability"
)

var ErrClosed = errors.New("transport: connection closed")

const readChunk = 4096

// TCP carries the URBI stream over a plain or TLS socket.
type TCP struct {
	conn net.Conn
	cfg  Config
	log  zerolog.Logger

	writeMu  sync.Mutex
	inflight atomic.Int64

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// DialTCP connects to addr, adding the default port when it is missing.
func DialTCP(ctx context.Context, addr string, cfg Config) (*TCP, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	addr, err := NormalizeAddress(addr)
	if err != nil {
		return nil, err
	}

	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	if !cfg.TLS.Enabled {
		return NewTCP(rawConn, cfg), nil
	}

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	tlsCfg, err := cfg.clientTLSConfig(host)
	if err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	conn := tls.Client(rawConn, tlsCfg)
	handshakeCtx := ctx
	if cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		handshakeCtx, cancel = context.WithTimeout(ctx, cfg.HandshakeTimeout)
		defer cancel()
	}
	if err := conn.HandshakeContext(handshakeCtx); err != nil {
		_ = rawConn.Close()
		return nil, fmt.Errorf("transport: tls handshake %s: %w", addr, err)
	}
	return NewTCP(conn, cfg), nil
}

// NewTCP wraps an established connection.
func NewTCP(conn net.Conn, cfg Config) *TCP {
	return &TCP{
		conn: conn,
		cfg:  cfg,
		log:  observability.Logger("transport", conn.RemoteAddr().String()).With().Str("kind", "tcp").Logger(),
	}
}

func (t *TCP) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}

func (t *TCP) CanSend(n int) bool {
	if t.closed.Load() {
		return false
	}
	return t.cfg.MaxSendBytes <= 0 || t.inflight.Load()+int64(n) <= int64(t.cfg.MaxSendBytes)
}

func (t *TCP) EffectiveSend(p []byte) error {
	if t.closed.Load() {
		return ErrClosed
	}
	t.inflight.Add(int64(len(p)))
	defer t.inflight.Add(-int64(len(p)))

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.cfg.WriteTimeout > 0 {
		_ = t.conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	}
	_, err := t.conn.Write(p)
	return err
}

func (t *TCP) Close() error {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		t.closeErr = t.conn.Close()
		t.log.Debug().Msg("connection closed")
	})
	return t.closeErr
}

func (t *TCP) Run(ctx context.Context, c *client.Client) error {
	buf := make([]byte, readChunk)
	return serve(ctx, c, t, t.closed.Load, func() ([]byte, error) {
		n, err := t.conn.Read(buf)
		return buf[:n], err
	}, t.log)
}
