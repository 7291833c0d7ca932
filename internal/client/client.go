package client

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/urbilink/internal/callback"
	"github.com/danmuck/urbilink/internal/observability"
	"github.com/danmuck/urbilink/internal/protocol"
	"github.com/danmuck/urbilink/internal/protocol/frame"
)

var (
	ErrNilTransport     = errors.New("client: transport required")
	ErrNotOpen          = errors.New("client: connection not open")
	ErrInvalidState     = errors.New("client: invalid state transition")
	ErrBackpressure     = errors.New("client: transport cannot accept more data")
	ErrNotPacking       = errors.New("client: EndPack without StartPack")
	ErrKeepaliveTimeout = errors.New("client: keepalive timeout")
	ErrTransport        = errors.New("client: transport failure")
)

// Transport is the concrete connection underneath a Client. It must
// feed every byte it reads into Client.Write.
type Transport interface {
	// EffectiveSend queues p for sending.
	EffectiveSend(p []byte) error
	// CanSend reports whether n more bytes may be queued right now.
	CanSend(n int) bool
	Close() error
}

// Config holds the protocol engine settings.
type Config struct {
	// Host labels logs and metrics; it is also returned by Client.Host.
	Host   string
	Limits frame.Limits
	// PingInterval enables keepalive when positive.
	PingInterval time.Duration
	// Now is the clock used for timestamps and keepalive.
	Now func() time.Time
}

func DefaultConfig() Config {
	return Config{
		Limits: frame.DefaultLimits(),
		Now:    time.Now,
	}
}

func (c Config) WithDefaults() Config {
	c.Limits = c.Limits.WithDefaults()
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Client is the protocol facade: it formats and sends commands, parses
// the reception buffer, and routes messages to registered callbacks.
//
// Mutating entry points are safe for concurrent use. Handlers run on the
// goroutine that calls Write or ProcessRecvBuffer and must not call
// either of those themselves.
//
// Client-error handlers are the exception. A keepalive timeout is reported
// from the ping goroutine, serialized with message dispatch. A failed send
// is reported on the goroutine that called Send or EndPack, which may run
// concurrently with message handlers.
type Client struct {
	cfg       Config
	transport Transport
	registry  *callback.Registry
	log       zerolog.Logger
	epoch     time.Time

	state atomic.Int32

	recvMu    sync.Mutex
	parser    *frame.Parser
	discarded uint64
	lastRecv  atomic.Int64

	sendMu  sync.Mutex
	packing atomic.Bool
	sendBuf bytes.Buffer

	errMu   sync.Mutex
	lastErr error

	pingMu       sync.Mutex
	pingStop     chan struct{}
	pingInterval time.Duration
	pingID       callback.ID
}

func New(t Transport, cfg Config) (*Client, error) {
	if t == nil {
		return nil, ErrNilTransport
	}
	cfg = cfg.WithDefaults()
	c := &Client{
		cfg:       cfg,
		transport: t,
		registry:  callback.NewRegistry(),
		log:       observability.Logger("client", cfg.Host),
		epoch:     cfg.Now(),
		parser:    frame.NewParser(cfg.Limits),
	}
	c.state.Store(int32(StateConnecting))
	return c, nil
}

func (c *Client) Host() string {
	return c.cfg.Host
}

func (c *Client) State() State {
	return State(c.state.Load())
}

// Err returns the error that moved the client to StateErrored, or the
// last send failure.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.lastErr
}

func (c *Client) setErr(err error) {
	c.errMu.Lock()
	c.lastErr = err
	c.errMu.Unlock()
}

// CurrentTime returns milliseconds since the client was created.
func (c *Client) CurrentTime() int64 {
	return c.cfg.Now().Sub(c.epoch).Milliseconds()
}

// Open marks the transport as connected. Keepalive starts here when
// configured.
func (c *Client) Open() error {
	if !c.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen)) {
		return fmt.Errorf("%w: open from %s", ErrInvalidState, c.State())
	}
	c.lastRecv.Store(c.cfg.Now().UnixNano())
	c.log.Debug().Msg("connection open")
	if c.cfg.PingInterval > 0 {
		return c.SetPingInterval(c.cfg.PingInterval)
	}
	return nil
}

// Close tears the connection down and releases every registration.
func (c *Client) Close() error {
	for {
		cur := c.State()
		switch cur {
		case StateClosed, StateClosing:
			return nil
		case StateErrored:
			c.stopPing()
			c.registry.Clear()
			return nil
		}
		if c.state.CompareAndSwap(int32(cur), int32(StateClosing)) {
			break
		}
	}
	c.stopPing()
	err := c.transport.Close()
	c.registry.Clear()
	observability.SetRegistrations(c.cfg.Host, 0)
	c.state.Store(int32(StateClosed))
	c.log.Debug().Msg("connection closed")
	return err
}

// ClientError reports a local failure: it dispatches a client-error
// pseudo-message, moves the client to StateErrored and closes the
// transport. Only the first failure is reported. Handlers run on the
// calling goroutine.
func (c *Client) ClientError(err error) {
	if err == nil {
		err = ErrTransport
	}
	for {
		cur := c.State()
		if cur == StateClosed || cur == StateErrored {
			return
		}
		if c.state.CompareAndSwap(int32(cur), int32(StateErrored)) {
			break
		}
	}
	c.setErr(err)
	reason := errorReason(err)
	c.log.Error().Err(err).Str("reason", reason).Msg("client error")
	observability.RecordClientError(c.cfg.Host, reason)

	msg := protocol.NewClientError(c.CurrentTime(), err.Error())
	c.registry.Dispatch(msg)
	c.stopPing()
	_ = c.transport.Close()
}

func errorReason(err error) string {
	switch {
	case errors.Is(err, protocol.ErrBufferOverflow):
		return "overflow"
	case errors.Is(err, ErrKeepaliveTimeout):
		return "keepalive"
	default:
		return "transport"
	}
}
