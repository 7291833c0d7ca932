package client

import (
	"fmt"
	"time"

	"github.com/danmuck/urbilink/internal/callback"
	"github.com/danmuck/urbilink/internal/protocol"
)

const (
	pingTag = protocol.ReservedPrefix + "ping"

	// missedPings is how many silent intervals end the connection.
	missedPings = 3
)

// SetPingInterval sends a ping every d and reports ErrKeepaliveTimeout
// when the server stays silent for three intervals. Zero disables it.
// At most one ping loop runs at a time.
func (c *Client) SetPingInterval(d time.Duration) error {
	c.pingMu.Lock()
	defer c.pingMu.Unlock()
	c.stopPingLocked()
	if d <= 0 {
		return nil
	}
	if c.State() != StateOpen {
		return ErrNotOpen
	}

	if c.pingID == callback.InvalidID {
		id, err := c.registry.RegisterInternal(pingTag, callback.HandlerFunc(func(protocol.Message) callback.Action {
			return callback.Continue
		}))
		if err != nil {
			return err
		}
		c.pingID = id
	}
	stop := make(chan struct{})
	c.pingStop = stop
	c.pingInterval = d
	go c.pingLoop(d, stop)
	return nil
}

func (c *Client) pingLoop(d time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(d)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !c.keepaliveTick(c.cfg.Now(), d) {
				return
			}
		}
	}
}

// keepaliveTick runs one keepalive step and reports whether to continue.
func (c *Client) keepaliveTick(now time.Time, d time.Duration) bool {
	if c.State() != StateOpen {
		return false
	}
	silent := now.Sub(time.Unix(0, c.lastRecv.Load()))
	if silent >= missedPings*d {
		// Report under recvMu so client-error handlers never overlap
		// message dispatch.
		c.recvMu.Lock()
		c.ClientError(fmt.Errorf("%w: no message for %s", ErrKeepaliveTimeout, silent.Round(time.Millisecond)))
		c.recvMu.Unlock()
		return false
	}
	if err := c.Send("%s: 1;\n", pingTag); err != nil {
		c.log.Warn().Err(err).Msg("ping send failed")
	}
	return true
}

func (c *Client) stopPing() {
	c.pingMu.Lock()
	defer c.pingMu.Unlock()
	c.stopPingLocked()
}

func (c *Client) stopPingLocked() {
	if c.pingStop != nil {
		close(c.pingStop)
		c.pingStop = nil
	}
	c.pingInterval = 0
}

// PingInterval returns the active keepalive interval, zero when disabled.
func (c *Client) PingInterval() time.Duration {
	c.pingMu.Lock()
	defer c.pingMu.Unlock()
	return c.pingInterval
}
