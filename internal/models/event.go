package models

import (
	"time"

	"github.com/google/uuid"
)

// AccessEvent is one recognition attempt at the door.
type AccessEvent struct {
	ID              uuid.UUID `json:"id" db:"id"`
	Name            *string   `json:"name" db:"name"`
	Label           string    `json:"label,omitempty" db:"label"`
	Recognized      bool      `json:"recognized" db:"recognized"`
	Distance        float64   `json:"distance" db:"distance"`
	Confidence      float64   `json:"confidence" db:"confidence"`
	Threshold       float64   `json:"threshold" db:"threshold"`
	Source          string    `json:"source" db:"source"` // upload or camera
	ImageURL        string    `json:"image_url,omitempty" db:"image_url"`
	Embedding       []float32 `json:"-" db:"embedding"`
	DoorCommandSent bool      `json:"door_command_sent" db:"door_command_sent"`
	Timestamp       time.Time `json:"timestamp" db:"timestamp"`
}

// DoorCommand is published to door devices on a successful recognition.
type DoorCommand struct {
	ID        uuid.UUID `json:"id"`
	Action    string    `json:"action"` // open
	Name      string    `json:"name"`
	EventID   uuid.UUID `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
}

const DoorActionOpen = "open"

// Door ack statuses.
const (
	DoorAckOpened   = "opened"
	DoorAckRejected = "rejected"
	DoorAckFailed   = "failed"
)

// DoorAck is what a door device reports after handling a command.
type DoorAck struct {
	DeviceID  string    `json:"device_id"`
	CommandID uuid.UUID `json:"command_id"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventQuery filters the access log.
type EventQuery struct {
	Name       string
	Recognized *bool
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}
