package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/danmuck/urbilink/internal/callback"
	"github.com/danmuck/urbilink/internal/client"
	"github.com/danmuck/urbilink/internal/config"
	"github.com/danmuck/urbilink/internal/observability"
	"github.com/danmuck/urbilink/internal/protocol"
	"github.com/danmuck/urbilink/internal/transport"
)

// session owns one connected client for the lifetime of a subcommand.
type session struct {
	cfg    config.ClientConfig
	conn   transport.Conn
	client *client.Client
	out    *printer
}

func dial(ctx context.Context, cfg config.ClientConfig, out io.Writer) (*session, error) {
	conn, err := transport.Dial(ctx, cfg.Target(), cfg.TransportConfig())
	if err != nil {
		return nil, err
	}
	c, err := client.New(conn, cfg.EngineConfig())
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	log.Info().Str("addr", conn.RemoteAddr()).Str("transport", cfg.Transport).Msg("connected")
	return &session{cfg: cfg, conn: conn, client: c, out: &printer{w: out}}, nil
}

// run opens the client, starts the read loop and the optional metrics
// endpoint, and runs body. Whichever finishes first stops the others.
func (s *session) run(ctx context.Context, body func(ctx context.Context) error) error {
	if _, err := s.client.SetClientErrorCallback(s.out.clientErrors()); err != nil {
		return err
	}
	if err := s.client.Open(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		return s.conn.Run(gctx, s.client)
	})
	if s.cfg.MetricsAddr != "" {
		g.Go(func() error {
			return observability.Serve(gctx, s.cfg.MetricsAddr)
		})
	}
	g.Go(func() error {
		defer cancel()
		return body(gctx)
	})

	err := g.Wait()
	if err == nil && s.client.State() == client.StateErrored {
		err = s.client.Err()
	}
	_ = s.client.Close()
	return err
}

// printer serializes message output from the read loop and the command.
type printer struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *printer) message(msg protocol.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, formatMessage(msg))
}

func (p *printer) clientErrors() callback.Handler {
	return callback.HandlerFunc(func(msg protocol.Message) callback.Action {
		p.message(msg)
		return callback.Continue
	})
}

func formatMessage(msg protocol.Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%08d", msg.Timestamp)
	if msg.Tag != "" {
		b.WriteString(":" + msg.Tag)
	}
	b.WriteString("] ")
	switch msg.Kind {
	case protocol.KindSystem:
		b.WriteString(protocol.SystemPrefix + " ")
	case protocol.KindError, protocol.KindClientError:
		b.WriteString(protocol.ErrorPrefix + " ")
	}
	b.WriteString(msg.Text)
	for _, bin := range msg.Binaries() {
		fmt.Fprintf(&b, " <BIN %d", len(bin.Data))
		if bin.Header != "" {
			b.WriteString(" " + bin.Header)
		}
		b.WriteString(">")
	}
	return b.String()
}
