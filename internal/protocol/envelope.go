package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Meta enumerates the operations a client can request in one frame.
type Meta string

const (
	MetaMessage Meta = "message"
	MetaJoin    Meta = "join"
	MetaLeave   Meta = "leave"
)

// Known reports whether the relay has a handler for m.
func (m Meta) Known() bool {
	switch m {
	case MetaMessage, MetaJoin, MetaLeave:
		return true
	}
	return false
}

// Notices sent back to the originating connection only.
const (
	NoticeMissingOperation = "Missing operation"
	NoticeJoinDenied       = "Join denied"
	noticeMalformedPrefix  = "Malformed frame: "
)

// ErrMalformed marks frames that cannot be turned into an Envelope.
var ErrMalformed = errors.New("malformed frame")

// Envelope is the parsed form of one inbound frame.
type Envelope struct {
	RoomID  string  `json:"roomId"`
	Meta    Meta    `json:"meta"`
	Message *string `json:"message,omitempty"`
}

// Body returns the message payload or an empty string when absent.
func (e Envelope) Body() string {
	if e.Message == nil {
		return ""
	}
	return *e.Message
}

// Parse decodes raw into an Envelope and validates the fields every
// operation needs. Unknown meta values parse successfully; the caller
// decides how to answer them.
func Parse(raw []byte) (Envelope, error) {
	var env Envelope
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return env, fmt.Errorf("%w: empty frame", ErrMalformed)
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: invalid json", ErrMalformed)
	}
	env.RoomID = strings.TrimSpace(env.RoomID)
	if env.RoomID == "" {
		return Envelope{}, fmt.Errorf("%w: missing roomId", ErrMalformed)
	}
	if env.Meta == MetaMessage && env.Message == nil {
		return Envelope{}, fmt.Errorf("%w: missing message", ErrMalformed)
	}
	return env, nil
}

// MalformedNotice renders the reply sent when Parse fails.
func MalformedNotice(err error) string {
	reason := "invalid envelope"
	if err != nil {
		reason = strings.TrimPrefix(err.Error(), ErrMalformed.Error()+": ")
	}
	return noticeMalformedPrefix + reason
}

// Encode renders env as a wire frame. Clients use it to build requests.
func Encode(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// NewMessage builds a message envelope for roomID.
func NewMessage(roomID, body string) Envelope {
	return Envelope{RoomID: roomID, Meta: MetaMessage, Message: &body}
}
