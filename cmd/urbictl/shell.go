package main

import (
	"bufio"
	"context"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/danmuck/urbilink/internal/callback"
	"github.com/danmuck/urbilink/internal/protocol"
)

func shellCmd(opts *options) *cobra.Command {
	var linger time.Duration
	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Forward stdin to the server and print every message",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.resolve(cmd)
			if err != nil {
				return err
			}
			s, err := dial(cmd.Context(), cfg, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			return s.run(cmd.Context(), func(ctx context.Context) error {
				return s.shell(ctx, cmd.InOrStdin(), linger)
			})
		},
	}
	cmd.Flags().DurationVar(&linger, "linger", 500*time.Millisecond, "keep printing this long after stdin ends")
	return cmd
}

func (s *session) shell(ctx context.Context, in io.Reader, linger time.Duration) error {
	_, err := s.client.SetWildcardCallback(callback.HandlerFunc(func(msg protocol.Message) callback.Action {
		// keepalive replies
		if protocol.IsReservedTag(msg.Tag) {
			return callback.Continue
		}
		s.out.message(msg)
		return callback.Continue
	}))
	if err != nil {
		return err
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			log.Warn().Err(err).Msg("stdin read failed")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return sleepCtx(ctx, linger)
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			if err := s.client.Send("%s\n", line); err != nil {
				return err
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
	return nil
}
