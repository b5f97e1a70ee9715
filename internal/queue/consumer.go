package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/facegate/internal/models"
)

type EventHandler func(ctx context.Context, ev models.Event) error

// WatchOptions select which member events a consumer receives.
type WatchOptions struct {
	// Types limits delivery to these event types; empty means all.
	Types []models.EventType
	// Replay delivers the retained history before new events.
	Replay bool
}

type Consumer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewConsumer(natsURL string) (*Consumer, error) {
	nc, js, err := connect(natsURL, "facectl-watch")
	if err != nil {
		return nil, err
	}
	return &Consumer{nc: nc, js: js}, nil
}

// ConsumeEvents starts an ephemeral consumer on the MEMBERS stream and
// calls handler for each event until ctx is done. Undecodable messages are
// terminated rather than redelivered.
func (c *Consumer) ConsumeEvents(ctx context.Context, opts WatchOptions, handler EventHandler) error {
	stream, err := c.js.Stream(ctx, MembersStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", MembersStreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, consumerConfig(opts))
	if err != nil {
		return fmt.Errorf("create consumer: %w", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			batch, err := cons.Fetch(10, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("fetch member events", "error", err)
				time.Sleep(time.Second)
				continue
			}

			for msg := range batch.Messages() {
				ev, err := decodeEvent(msg.Data())
				if err != nil {
					slog.Error("decode member event", "subject", msg.Subject(), "error", err)
					_ = msg.Term()
					continue
				}
				if err := handler(ctx, ev); err != nil {
					slog.Error("handle member event", "id", ev.ID, "error", err)
					_ = msg.Nak()
				} else {
					_ = msg.Ack()
				}
			}
		}
	}()

	slog.Info("member event consumer started", "types", opts.Types, "replay", opts.Replay)
	return nil
}

func consumerConfig(opts WatchOptions) jetstream.ConsumerConfig {
	cfg := jetstream.ConsumerConfig{
		AckPolicy:         jetstream.AckExplicitPolicy,
		AckWait:           10 * time.Second,
		MaxDeliver:        3,
		DeliverPolicy:     jetstream.DeliverNewPolicy,
		InactiveThreshold: time.Minute,
	}
	if opts.Replay {
		cfg.DeliverPolicy = jetstream.DeliverAllPolicy
	}
	switch len(opts.Types) {
	case 0:
		cfg.FilterSubject = MembersSubjectBase + ".>"
	case 1:
		cfg.FilterSubject = SubjectFor(opts.Types[0])
	default:
		for _, t := range opts.Types {
			cfg.FilterSubjects = append(cfg.FilterSubjects, SubjectFor(t))
		}
	}
	return cfg
}

func decodeEvent(data []byte) (models.Event, error) {
	var ev models.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return models.Event{}, fmt.Errorf("unmarshal event: %w", err)
	}
	if ev.Type == "" || ev.MemberID == "" {
		return models.Event{}, fmt.Errorf("event %s lacks type or member", ev.ID)
	}
	return ev, nil
}

func (c *Consumer) Close() {
	c.nc.Close()
}
