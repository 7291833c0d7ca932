package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/danmuck/urbilink/internal/client"
)

// Conn is a connected transport that can drive a Client.
type Conn interface {
	client.Transport
	// Run feeds received bytes into c until the connection ends or ctx
	// is canceled. c must already be open. A read failure is reported
	// through c.ClientError; cancellation closes c.
	Run(ctx context.Context, c *client.Client) error
	RemoteAddr() string
}

// Dial connects to target. ws:// and wss:// targets use the WebSocket
// transport; anything else is a host[:port] for TCP.
func Dial(ctx context.Context, target string, cfg Config) (Conn, error) {
	if strings.HasPrefix(target, "ws://") || strings.HasPrefix(target, "wss://") {
		ws, err := DialWebSocket(ctx, target, cfg)
		if err != nil {
			return nil, err
		}
		return ws, nil
	}
	tcp, err := DialTCP(ctx, target, cfg)
	if err != nil {
		return nil, err
	}
	return tcp, nil
}

// serve runs the read loop for one connection. read returns the next
// chunk of bytes; closer releases the connection.
func serve(
	parent context.Context,
	c *client.Client,
	closer io.Closer,
	closed func() bool,
	read func() ([]byte, error),
	log zerolog.Logger,
) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		for {
			p, err := read()
			if len(p) > 0 {
				if _, werr := c.Write(p); werr != nil {
					log.Debug().Err(werr).Msg("client stopped accepting input")
					return nil
				}
			}
			if err == nil {
				continue
			}
			if closed() || gctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				log.Info().Msg("server closed the connection")
			}
			c.ClientError(fmt.Errorf("%w: read: %w", client.ErrTransport, err))
			return err
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		if parent.Err() != nil {
			return c.Close()
		}
		return closer.Close()
	})
	return g.Wait()
}
