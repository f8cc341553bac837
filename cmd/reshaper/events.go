package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/reshaper/internal/config"
	"github.com/MikeSquared-Agency/reshaper/internal/hermes"
)

func newEventsCommand() *cobra.Command {
	var subject string
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print session lifecycle events from NATS",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			if cfg.NatsURL == "" {
				return errors.New("NATS_URL is not set")
			}
			return runEvents(cmd.Context(), cfg, subject, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&subject, "subject", hermes.SubjectAll, "subject to watch")
	return cmd
}

func runEvents(ctx context.Context, cfg config.Config, subject string, out io.Writer) error {
	setupLogging(cfg.LogLevel)
	logger := slog.Default()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hc, err := hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, logger)
	if err != nil {
		return err
	}
	defer hc.Close()

	var mu sync.Mutex
	err = hermes.Watch(hc, subject, logger, func(subj string, ev hermes.SessionEvent) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintln(out, formatEvent(subj, ev))
	})
	if err != nil {
		return err
	}

	<-ctx.Done()
	return nil
}

// formatEvent renders one event as a single line, omitting empty fields.
func formatEvent(subject string, ev hermes.SessionEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s session=%s", ev.At.UTC().Format(time.RFC3339), strings.TrimPrefix(subject, "reshaper."), ev.SessionID)
	if ev.Format != "" {
		fmt.Fprintf(&b, " format=%s", ev.Format)
	}
	if ev.Mode != "" {
		fmt.Fprintf(&b, " mode=%s", ev.Mode)
	}
	if ev.InputRows > 0 {
		fmt.Fprintf(&b, " input_rows=%d", ev.InputRows)
	}
	if ev.OutputRows > 0 {
		fmt.Fprintf(&b, " output_rows=%d", ev.OutputRows)
	}
	if ev.Round > 0 {
		fmt.Fprintf(&b, " round=%d", ev.Round)
	}
	if ev.Failure != "" {
		fmt.Fprintf(&b, " failure=%q", ev.Failure)
	}
	if ev.Message != "" {
		fmt.Fprintf(&b, " message=%q", ev.Message)
	}
	return b.String()
}
