package transport

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/danmuck/urbilink/internal/client"
	"github.com/danmuck/urbilink/internal/observability"
)

// WebSocket tunnels the URBI stream through binary websocket frames.
// Each flush is one frame; received frames are concatenated.
type WebSocket struct {
	conn *websocket.Conn
	cfg  Config
	log  zerolog.Logger

	writeMu  sync.Mutex
	inflight atomic.Int64

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func DialWebSocket(ctx context.Context, target string, cfg Config) (*WebSocket, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("transport: parse %q: %w", target, err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout}
	if cfg.TLS.Enabled {
		dialer.TLSClientConfig, err = cfg.clientTLSConfig(u.Hostname())
		if err != nil {
			return nil, err
		}
	}
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", u.Redacted(), err)
	}
	return NewWebSocket(conn, cfg), nil
}

func NewWebSocket(conn *websocket.Conn, cfg Config) *WebSocket {
	return &WebSocket{
		conn: conn,
		cfg:  cfg,
		log:  observability.Logger("transport", conn.RemoteAddr().String()).With().Str("kind", "websocket").Logger(),
	}
}

func (w *WebSocket) RemoteAddr() string {
	return w.conn.RemoteAddr().String()
}

func (w *WebSocket) CanSend(n int) bool {
	if w.closed.Load() {
		return false
	}
	return w.cfg.MaxSendBytes <= 0 || w.inflight.Load()+int64(n) <= int64(w.cfg.MaxSendBytes)
}

func (w *WebSocket) EffectiveSend(p []byte) error {
	if w.closed.Load() {
		return ErrClosed
	}
	w.inflight.Add(int64(len(p)))
	defer w.inflight.Add(-int64(len(p)))

	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if w.cfg.WriteTimeout > 0 {
		_ = w.conn.SetWriteDeadline(time.Now().Add(w.cfg.WriteTimeout))
	}
	return w.conn.WriteMessage(websocket.BinaryMessage, p)
}

func (w *WebSocket) Close() error {
	w.closeOnce.Do(func() {
		w.closed.Store(true)
		w.writeMu.Lock()
		_ = w.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		w.writeMu.Unlock()
		w.closeErr = w.conn.Close()
		w.log.Debug().Msg("connection closed")
	})
	return w.closeErr
}

func (w *WebSocket) Run(ctx context.Context, c *client.Client) error {
	return serve(ctx, c, w, w.closed.Load, func() ([]byte, error) {
		_, data, err := w.conn.ReadMessage()
		return data, err
	}, w.log)
}
