package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/facedoor/internal/models"
)

const (
	AccessStreamName  = "ACCESS"
	AccessSubjectBase = "access"

	// DoorCommandSubject is a plain NATS subject every door device subscribes to.
	DoorCommandSubject = "door.commands"
	// DoorAckSubject carries device acknowledgments.
	DoorAckSubject = "door.acks"
)

// AccessSubject returns the subject an access event is published on.
func AccessSubject(ev *models.AccessEvent) string {
	if ev.Recognized {
		return AccessSubjectBase + ".granted"
	}
	return AccessSubjectBase + ".denied"
}

type Producer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func connect(natsURL string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create jetstream context: %w", err)
	}
	return nc, js, nil
}

func NewProducer(natsURL string) (*Producer, error) {
	nc, js, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Producer{nc: nc, js: js}, nil
}

// EnsureStreams creates the ACCESS stream if it doesn't exist.
// Retries up to 30 times (1s apart) to handle NATS startup delay.
func (p *Producer) EnsureStreams(ctx context.Context) error {
	cfg := jetstream.StreamConfig{
		Name:        AccessStreamName,
		Subjects:    []string{AccessSubjectBase + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
		MaxMsgs:     1000000,
		Storage:     jetstream.FileStorage,
		Discard:     jetstream.DiscardOld,
		Duplicates:  time.Minute,
		Description: "Door access events",
	}

	const maxAttempts = 30
	for attempt := 1; ; attempt++ {
		opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_, err := p.js.CreateOrUpdateStream(opCtx, cfg)
		cancel()
		if err == nil {
			slog.Info("ensured NATS stream", "name", cfg.Name)
			return nil
		}
		if attempt == maxAttempts {
			return fmt.Errorf("create stream %s: %w (after %d attempts)", cfg.Name, err, maxAttempts)
		}
		slog.Warn("ensure NATS stream (retrying...)", "name", cfg.Name, "attempt", attempt, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

// PublishAccessEvent stores an access event in the ACCESS stream. The
// event id doubles as the JetStream dedup id.
func (p *Producer) PublishAccessEvent(ctx context.Context, ev *models.AccessEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal access event: %w", err)
	}
	if _, err := p.js.Publish(ctx, AccessSubject(ev), payload, jetstream.WithMsgID(ev.ID.String())); err != nil {
		return fmt.Errorf("publish access event: %w", err)
	}
	return nil
}

// PublishDoorCommand fans a command out to door devices via raw NATS (not
// JetStream); a stale open command must not be replayed.
func (p *Producer) PublishDoorCommand(_ context.Context, cmd *models.DoorCommand) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal door command: %w", err)
	}
	if err := p.nc.Publish(DoorCommandSubject, payload); err != nil {
		return fmt.Errorf("publish door command: %w", err)
	}
	return nil
}

// PublishDoorAck reports the outcome of a door command back to the API.
func (p *Producer) PublishDoorAck(ack *models.DoorAck) error {
	payload, err := json.Marshal(ack)
	if err != nil {
		return fmt.Errorf("marshal door ack: %w", err)
	}
	if err := p.nc.Publish(DoorAckSubject, payload); err != nil {
		return fmt.Errorf("publish door ack: %w", err)
	}
	return nil
}

func (p *Producer) Ping() error {
	if !p.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

func (p *Producer) Close() {
	p.nc.Close()
}
