// Package bus federates room traffic between relay instances.
//
// Every instance publishes the messages its local members send and delivers
// messages published by other instances to its own members. Events carry the
// publishing instance's origin id so an instance never re-delivers its own
// traffic.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrInvalidEvent marks payloads that are not bus events.
var ErrInvalidEvent = errors.New("bus: invalid event")

// Event is the wire form shared by all bus drivers.
type Event struct {
	Origin  string `json:"origin"`
	RoomID  string `json:"roomId"`
	Payload []byte `json:"payload"`
}

// DeliverFunc receives events published by other instances.
type DeliverFunc func(roomID string, payload []byte)

// Bus is implemented by every driver.
type Bus interface {
	Publish(ctx context.Context, roomID string, payload []byte) error
	// Subscribe delivers remote events until ctx ends.
	Subscribe(ctx context.Context, deliver DeliverFunc) error
	Close() error
}

// NewOrigin returns a fresh instance id.
func NewOrigin() string {
	return uuid.NewString()
}

// Encode renders an event for the wire.
func Encode(origin, roomID string, payload []byte) ([]byte, error) {
	return json.Marshal(Event{Origin: origin, RoomID: roomID, Payload: payload})
}

// Decode parses raw and reports whether it should be delivered locally.
// Events from self are skipped.
func Decode(self string, raw []byte) (Event, bool, error) {
	var evt Event
	if err := json.Unmarshal(raw, &evt); err != nil {
		return Event{}, false, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if evt.RoomID == "" {
		return Event{}, false, fmt.Errorf("%w: missing roomId", ErrInvalidEvent)
	}
	return evt, evt.Origin != self, nil
}
