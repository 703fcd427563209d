// Package statusevents turns automated status signals received over Pub/Sub
// into calls on the user status service and audit rows for the change log.
package statusevents

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/illmade-knight/go-userstatus/pkg/userstatus"
)

// EventType selects the service operation an Event drives.
type EventType string

const (
	// EventLive is an automatic presence report.
	EventLive EventType = "live"
	// EventOverride temporarily replaces the user's status, keeping a backup.
	EventOverride EventType = "override"
	// EventRevert restores the backup taken by a matching override.
	EventRevert EventType = "revert"
)

// ErrMalformedEvent marks payloads that cannot be decoded into an Event.
var ErrMalformedEvent = errors.New("malformed status event")

// Event is the wire form of a status signal.
type Event struct {
	Type      EventType         `json:"type"`
	UserID    string            `json:"userId"`
	Status    userstatus.Status `json:"status"`
	MessageID string            `json:"messageId,omitempty"`
	// Timestamp is in unix seconds. Zero means the time of processing.
	Timestamp int64 `json:"timestamp,omitempty"`
}

// DecodeEvent parses and structurally checks a payload. Status and message
// validation is left to the service.
func DecodeEvent(payload []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	switch ev.Type {
	case EventLive, EventOverride, EventRevert:
	default:
		return Event{}, fmt.Errorf("%w: unknown event type %q", ErrMalformedEvent, ev.Type)
	}
	if ev.UserID == "" {
		return Event{}, fmt.Errorf("%w: missing userId", ErrMalformedEvent)
	}
	return ev, nil
}
