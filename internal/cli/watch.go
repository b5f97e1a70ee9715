package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/your-org/facegate/internal/models"
	"github.com/your-org/facegate/internal/queue"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow member events published by facegate terminals",
	Long: `Print member events (registrations, photo additions, removals and
recognitions) from the NATS stream as they arrive. Requires nats.url.

Example:
  facectl watch --type member.recognized
  facectl watch --replay --json`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringSlice("type", nil, "Only show these event types (e.g. member.recognized)")
	watchCmd.Flags().Bool("replay", false, "Start from the oldest retained event")
	watchCmd.Flags().Bool("json", false, "Output events as JSON lines")
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.NATS.URL == "" {
		return errors.New("event publishing is disabled: set nats.url or FACEGATE_NATS_URL")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		return err
	}
	defer consumer.Close()

	opts := queue.WatchOptions{Replay: mustGetBool(cmd, "replay")}
	for _, t := range mustGetStringSlice(cmd, "type") {
		opts.Types = append(opts.Types, models.EventType(t))
	}

	out := cmd.OutOrStdout()
	asJSON := mustGetBool(cmd, "json")
	err = consumer.ConsumeEvents(ctx, opts, func(_ context.Context, ev models.Event) error {
		if asJSON {
			return writeJSONLine(out, ev)
		}
		printEvent(out, ev)
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.ErrOrStderr(), "watching member events, press Ctrl+C to stop")
	<-ctx.Done()
	return nil
}

func printEvent(w io.Writer, ev models.Event) {
	line := fmt.Sprintf("%s  %-18s %s", ev.Timestamp.Local().Format(time.DateTime), ev.Type, ev.MemberID)
	switch ev.Type {
	case models.EventMemberRecognized:
		line += fmt.Sprintf("  %s (%.1f%%)", ev.FullName, ev.Confidence)
	case models.EventMemberRegistered, models.EventMemberUpdated:
		line += "  " + ev.FullName
		if ev.Role != "" {
			line += ", " + ev.Role
		}
	case models.EventPhotoAdded:
		line += fmt.Sprintf("  %d photos", ev.PhotoCount)
	}
	fmt.Fprintln(w, line)
}
