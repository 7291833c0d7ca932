package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/danmuck/urbilink/internal/callback"
	"github.com/danmuck/urbilink/internal/protocol"
)

func sendCmd(opts *options) *cobra.Command {
	var (
		wait  time.Duration
		count int
	)
	cmd := &cobra.Command{
		Use:   "send <command>",
		Short: "Send one tagged command and print its replies",
		Long: `Send tags the command with a fresh tag, sends it, and prints every
reply carrying that tag until --wait elapses or --count replies arrived.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.resolve(cmd)
			if err != nil {
				return err
			}
			s, err := dial(cmd.Context(), cfg, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			command := terminate(strings.Join(args, " "))
			return s.run(cmd.Context(), func(ctx context.Context) error {
				return s.sendAndWait(ctx, command, wait, count)
			})
		},
	}
	cmd.Flags().DurationVarP(&wait, "wait", "w", 2*time.Second, "how long to wait for replies")
	cmd.Flags().IntVarP(&count, "count", "n", 1, "stop after this many replies (0 waits the full duration)")
	return cmd
}

func (s *session) sendAndWait(ctx context.Context, command string, wait time.Duration, count int) error {
	done := make(chan struct{})
	var seen atomic.Int32
	h := callback.HandlerFunc(func(msg protocol.Message) callback.Action {
		s.out.message(msg)
		n := int(seen.Add(1))
		if count > 0 && n == count {
			close(done)
			return callback.Remove
		}
		return callback.Continue
	})
	if _, err := s.client.SendCommand(h, "%s", command); err != nil {
		return err
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		if err := s.client.Err(); err != nil {
			return err
		}
		return nil
	case <-timer.C:
		if count > 0 && int(seen.Load()) < count {
			return fmt.Errorf("%w: %d of %d replies after %s", errTimeout, seen.Load(), count, wait)
		}
		return nil
	}
}

var errTimeout = errors.New("timed out waiting for replies")

// terminate appends the statement separator URBI expects when missing.
func terminate(command string) string {
	command = strings.TrimSpace(command)
	if strings.HasSuffix(command, ";") || strings.HasSuffix(command, ",") {
		return command
	}
	return command + ";"
}
