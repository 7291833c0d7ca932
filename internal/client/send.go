package client

import (
	"fmt"

	"github.com/danmuck/urbilink/internal/callback"
	"github.com/danmuck/urbilink/internal/observability"
)

// Send formats one command and writes it in a single flush.
func (c *Client) Send(format string, args ...any) error {
	if c.State() != StateOpen {
		return ErrNotOpen
	}
	c.StartPack()
	packErr := c.Pack(format, args...)
	err := c.EndPack()
	if packErr != nil {
		return packErr
	}
	return err
}

// SendBin sends an optional formatted header immediately followed by the
// raw bytes of data, e.g. SendBin(img, "cam.val = BIN %d jpeg;", len(img)).
func (c *Client) SendBin(data []byte, format string, args ...any) error {
	if c.State() != StateOpen {
		return ErrNotOpen
	}
	c.StartPack()
	if format != "" {
		if err := c.Pack(format, args...); err != nil {
			_ = c.EndPack()
			return err
		}
	}
	c.sendBuf.Write(data)
	return c.EndPack()
}

// StartPack takes the send buffer exclusively until EndPack. Pack and
// EndPack must be called from the same goroutine; the buffer has no owner
// check, so a Pack from another goroutine lands in this pack.
func (c *Client) StartPack() {
	c.sendMu.Lock()
	c.packing.Store(true)
	c.sendBuf.Reset()
}

// Pack appends a formatted fragment to the send buffer. Only the
// goroutine that called StartPack may call it.
func (c *Client) Pack(format string, args ...any) error {
	if !c.packing.Load() {
		return ErrNotPacking
	}
	if c.State() != StateOpen {
		return ErrNotOpen
	}
	if len(args) == 0 {
		c.sendBuf.WriteString(format)
		return nil
	}
	_, err := fmt.Fprintf(&c.sendBuf, format, args...)
	return err
}

// EndPack flushes the accumulated fragments as one write and releases
// the send buffer. Only the goroutine that called StartPack may call it.
func (c *Client) EndPack() error {
	if !c.packing.Load() {
		return ErrNotPacking
	}
	fatal, err := c.flushLocked()
	c.sendBuf.Reset()
	c.packing.Store(false)
	c.sendMu.Unlock()
	if fatal {
		c.ClientError(err)
	}
	return err
}

// flushLocked writes the send buffer. The bool reports a transport failure
// that must go through the client-error channel once the lock is released.
func (c *Client) flushLocked() (bool, error) {
	if c.State() != StateOpen {
		return false, ErrNotOpen
	}
	n := c.sendBuf.Len()
	if n == 0 {
		return false, nil
	}
	if !c.transport.CanSend(n) {
		c.setErr(ErrBackpressure)
		return false, fmt.Errorf("%w: %d bytes", ErrBackpressure, n)
	}
	if err := c.transport.EffectiveSend(c.sendBuf.Bytes()); err != nil {
		return true, fmt.Errorf("%w: send: %w", ErrTransport, err)
	}
	observability.RecordSent(c.cfg.Host, n)
	return false, nil
}

// SendCommand tags command with a fresh unique tag, registers h on that
// tag and sends "<tag>: <command>". The registration is dropped if the
// send fails.
func (c *Client) SendCommand(h callback.Handler, format string, args ...any) (callback.ID, error) {
	if c.State() != StateOpen {
		return callback.InvalidID, ErrNotOpen
	}
	tag := c.registry.MakeUniqueTag()
	id, err := c.SetCallback(tag, h)
	if err != nil {
		return callback.InvalidID, err
	}
	command := format
	if len(args) > 0 {
		command = fmt.Sprintf(format, args...)
	}
	if err := c.Send("%s: %s", tag, command); err != nil {
		_ = c.DeleteCallback(id)
		return callback.InvalidID, err
	}
	return id, nil
}
