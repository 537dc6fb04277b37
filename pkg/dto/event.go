package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/your-org/facedoor/internal/models"
)

type AccessEventResponse struct {
	ID              uuid.UUID `json:"id"`
	Name            *string   `json:"name"`
	Label           string    `json:"label,omitempty"`
	Recognized      bool      `json:"recognized"`
	Distance        float64   `json:"distance"`
	Confidence      float64   `json:"confidence"`
	Threshold       float64   `json:"threshold"`
	Source          string    `json:"source"`
	ImageURL        string    `json:"image_url,omitempty"`
	DoorCommandSent bool      `json:"door_command_sent"`
	Timestamp       string    `json:"timestamp"`
}

func NewAccessEventResponse(ev models.AccessEvent) AccessEventResponse {
	return AccessEventResponse{
		ID:              ev.ID,
		Name:            ev.Name,
		Label:           ev.Label,
		Recognized:      ev.Recognized,
		Distance:        ev.Distance,
		Confidence:      ev.Confidence,
		Threshold:       ev.Threshold,
		Source:          ev.Source,
		ImageURL:        ev.ImageURL,
		DoorCommandSent: ev.DoorCommandSent,
		Timestamp:       ev.Timestamp.UTC().Format(time.RFC3339),
	}
}

type EventListResponse struct {
	Events []AccessEventResponse `json:"events"`
	Total  int                   `json:"total"`
}

// WSEvent is a WebSocket message for real-time access events.
type WSEvent struct {
	Type string              `json:"type"` // access_granted, access_denied
	Data AccessEventResponse `json:"data"`
}

func NewWSEvent(ev models.AccessEvent) *WSEvent {
	t := "access_denied"
	if ev.Recognized {
		t = "access_granted"
	}
	return &WSEvent{Type: t, Data: NewAccessEventResponse(ev)}
}
