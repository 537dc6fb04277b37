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

type AccessHandler func(ctx context.Context, ev models.AccessEvent) error

type Consumer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewConsumer(natsURL string) (*Consumer, error) {
	nc, js, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Consumer{nc: nc, js: js}, nil
}

// ConsumeAccessEvents delivers new access events to handler (the API uses
// this to broadcast via WebSocket). Undecodable messages are terminated.
func (c *Consumer) ConsumeAccessEvents(ctx context.Context, consumerName string, handler AccessHandler) error {
	stream, err := c.js.Stream(ctx, AccessStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", AccessStreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       10 * time.Second,
		MaxDeliver:    3,
		FilterSubject: AccessSubjectBase + ".>",
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
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
				time.Sleep(time.Second)
				continue
			}

			for msg := range batch.Messages() {
				var ev models.AccessEvent
				if err := json.Unmarshal(msg.Data(), &ev); err != nil {
					slog.Error("decode access event", "error", err, "subject", msg.Subject())
					_ = msg.Term()
					continue
				}
				if err := handler(ctx, ev); err != nil {
					slog.Error("process access event error", "error", err)
					_ = msg.Nak()
				} else {
					_ = msg.Ack()
				}
			}
		}
	}()

	slog.Info("access event consumer started", "consumer", consumerName)
	return nil
}

// SubscribeDoorCommands delivers door commands to a door agent. Commands
// published while the agent is offline are not delivered.
func (c *Consumer) SubscribeDoorCommands(ctx context.Context, handler func(context.Context, models.DoorCommand)) error {
	sub, err := c.nc.Subscribe(DoorCommandSubject, func(m *nats.Msg) {
		var cmd models.DoorCommand
		if err := json.Unmarshal(m.Data, &cmd); err != nil {
			slog.Warn("decode door command", "error", err)
			return
		}
		handler(ctx, cmd)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", DoorCommandSubject, err)
	}
	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return nil
}

// SubscribeDoorAcks logs acknowledgments published by door devices. The
// subscription ends when ctx is done.
func (c *Consumer) SubscribeDoorAcks(ctx context.Context, handler func(models.DoorAck)) error {
	sub, err := c.nc.Subscribe(DoorAckSubject, func(m *nats.Msg) {
		var ack models.DoorAck
		if err := json.Unmarshal(m.Data, &ack); err != nil {
			slog.Warn("decode door ack", "error", err)
			return
		}
		handler(ack)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", DoorAckSubject, err)
	}
	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return nil
}

func (c *Consumer) Close() {
	c.nc.Close()
}
