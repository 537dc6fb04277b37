// Package door runs on the door device: it executes open commands and
// acknowledges them.
package door

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/facedoor/internal/models"
	"github.com/your-org/facedoor/internal/observability"
)

// Actuator drives the lock.
type Actuator interface {
	Open(ctx context.Context, cmd models.DoorCommand) error
}

// AckPublisher reports command outcomes.
type AckPublisher interface {
	PublishDoorAck(ack *models.DoorAck) error
}

type Config struct {
	DeviceID string
	// MaxAge rejects commands older than this; zero accepts any age.
	MaxAge time.Duration
	// Cooldown ignores further commands while the door is open.
	Cooldown time.Duration
}

// Agent handles door commands. It is safe for concurrent use.
type Agent struct {
	cfg      Config
	actuator Actuator
	acks     AckPublisher
	now      func() time.Time
	logger   *slog.Logger

	mu        sync.Mutex
	seen      map[uuid.UUID]time.Time
	openUntil time.Time
}

func NewAgent(cfg Config, actuator Actuator, acks AckPublisher, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		cfg:      cfg,
		actuator: actuator,
		acks:     acks,
		now:      time.Now,
		logger:   logger,
		seen:     make(map[uuid.UUID]time.Time),
	}
}

// Handle executes cmd and publishes the ack. Duplicate deliveries of the
// same command are dropped without an ack.
func (a *Agent) Handle(ctx context.Context, cmd models.DoorCommand) {
	ack, ok := a.decide(ctx, cmd)
	if !ok {
		return
	}
	observability.DoorActions.WithLabelValues(ack.Status).Inc()
	a.logger.Info("door command handled",
		"command_id", cmd.ID, "name", cmd.Name, "status", ack.Status, "reason", ack.Reason)

	if a.acks == nil {
		return
	}
	if err := a.acks.PublishDoorAck(&ack); err != nil {
		a.logger.Warn("publish door ack", "command_id", cmd.ID, "error", err)
	}
}

func (a *Agent) decide(ctx context.Context, cmd models.DoorCommand) (models.DoorAck, bool) {
	now := a.now()
	ack := models.DoorAck{DeviceID: a.cfg.DeviceID, CommandID: cmd.ID, Timestamp: now.UTC()}

	a.mu.Lock()
	if _, dup := a.seen[cmd.ID]; dup {
		a.mu.Unlock()
		return ack, false
	}
	a.seen[cmd.ID] = now
	a.forget(now)

	switch {
	case cmd.Action != models.DoorActionOpen:
		ack.Status, ack.Reason = models.DoorAckRejected, fmt.Sprintf("unknown action %q", cmd.Action)
	case a.cfg.MaxAge > 0 && now.Sub(cmd.Timestamp) > a.cfg.MaxAge:
		ack.Status, ack.Reason = models.DoorAckRejected, "stale command"
	case now.Before(a.openUntil):
		ack.Status, ack.Reason = models.DoorAckOpened, "already open"
	}
	if ack.Status != "" {
		a.mu.Unlock()
		return ack, true
	}
	a.openUntil = now.Add(a.cfg.Cooldown)
	a.mu.Unlock()

	if err := a.actuator.Open(ctx, cmd); err != nil {
		a.mu.Lock()
		a.openUntil = time.Time{}
		a.mu.Unlock()
		ack.Status, ack.Reason = models.DoorAckFailed, err.Error()
		return ack, true
	}
	ack.Status = models.DoorAckOpened
	return ack, true
}

// forget drops dedup entries older than the window in which a redelivery
// could still arrive. Callers hold mu.
func (a *Agent) forget(now time.Time) {
	window := a.cfg.MaxAge
	if window <= 0 {
		window = time.Minute
	}
	for id, at := range a.seen {
		if now.Sub(at) > 2*window {
			delete(a.seen, id)
		}
	}
}

// LogActuator only logs; it stands in for hardware during development.
type LogActuator struct {
	Logger *slog.Logger
}

func (l LogActuator) Open(_ context.Context, cmd models.DoorCommand) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("door open", "command_id", cmd.ID, "name", cmd.Name)
	return nil
}

// HookActuator runs an external program to open the door. The program
// receives the command id and the visitor name as arguments.
type HookActuator struct {
	Path    string
	Timeout time.Duration
}

func (h HookActuator) Open(ctx context.Context, cmd models.DoorCommand) error {
	if h.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Timeout)
		defer cancel()
	}
	out, err := exec.CommandContext(ctx, h.Path, cmd.ID.String(), cmd.Name).CombinedOutput()
	if err != nil {
		return fmt.Errorf("door hook %s: %w: %s", h.Path, err, out)
	}
	return nil
}
