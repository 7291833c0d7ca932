package client

import (
	"fmt"

	"github.com/danmuck/urbilink/internal/observability"
	"github.com/danmuck/urbilink/internal/protocol"
)

// Write appends p to the reception buffer and processes every complete
// message in it. Transports call it from their read loop.
func (c *Client) Write(p []byte) (int, error) {
	if c.State() != StateOpen {
		return 0, ErrNotOpen
	}
	c.recvMu.Lock()
	defer c.recvMu.Unlock()

	total := 0
	for len(p) > 0 {
		n := c.parser.Append(p)
		total += n
		p = p[n:]
		observability.RecordReceived(c.cfg.Host, n)
		c.processLocked()
		if c.State() != StateOpen {
			return total, ErrNotOpen
		}
	}
	return total, nil
}

// ProcessRecvBuffer scans the reception buffer and dispatches each
// complete message. It is a no-op unless the client is open.
func (c *Client) ProcessRecvBuffer() {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()
	c.processLocked()
}

func (c *Client) processLocked() {
	for c.State() == StateOpen {
		msg, ok := c.parser.Next()
		if !ok {
			break
		}
		c.lastRecv.Store(c.cfg.Now().UnixNano())
		delivered := c.registry.Dispatch(msg)
		observability.RecordMessage(c.cfg.Host, msg.Kind.String(), delivered)
		if c.log.Trace().Enabled() {
			c.log.Trace().Str("tag", msg.Tag).Str("kind", msg.Kind.String()).
				Int("delivered", delivered).Msg("dispatch")
		}
	}

	if d := c.parser.Discarded(); d > c.discarded {
		c.log.Warn().Uint64("lines", d-c.discarded).Msg("dropped lines with malformed header")
		observability.RecordDiscarded(c.cfg.Host, d-c.discarded)
		c.discarded = d
	}

	if c.State() == StateOpen && c.parser.Full() {
		c.ClientError(fmt.Errorf("%w: %d bytes without terminator",
			protocol.ErrBufferOverflow, c.parser.Buffered()))
	}
}
