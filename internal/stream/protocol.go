// Package stream translates Twilio media-stream framing into
// controller calls and back. The four transport event kinds are
// decoded once, at this boundary, into a closed tagged variant.
package stream

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// EventType enumerates the transport event kinds.
type EventType string

const (
	EventStart EventType = "start"
	EventMedia EventType = "media"
	EventMark  EventType = "mark"
	EventStop  EventType = "stop"
)

// Event is the decoded transport frame. Exactly the fields for its
// Type are populated.
type Event struct {
	Type      EventType
	StreamSID string // start: the stream correlation identifier
	Audio     []byte // media: decoded mu-law payload
	Mark      string // mark: name for diagnostic correlation
}

// Wire envelope shared by inbound and outbound frames.
type envelope struct {
	Event     string        `json:"event"`
	StreamSID string        `json:"streamSid,omitempty"`
	Start     *startPayload `json:"start,omitempty"`
	Media     *mediaPayload `json:"media,omitempty"`
	Mark      *markPayload  `json:"mark,omitempty"`
}

type startPayload struct {
	StreamSID string `json:"streamSid"`
	CallSID   string `json:"callSid,omitempty"`
}

type mediaPayload struct {
	Payload string `json:"payload"`
}

type markPayload struct {
	Name string `json:"name"`
}

// DecodeEvent parses one transport frame. A malformed media payload is
// an error on that frame only; the caller drops it and keeps reading.
func DecodeEvent(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, fmt.Errorf("stream: malformed event: %w", err)
	}
	switch EventType(env.Event) {
	case EventStart:
		ev := Event{Type: EventStart}
		if env.Start != nil {
			ev.StreamSID = env.Start.StreamSID
		}
		return ev, nil
	case EventMedia:
		ev := Event{Type: EventMedia, StreamSID: env.StreamSID}
		if env.Media == nil || env.Media.Payload == "" {
			return ev, nil
		}
		audio, err := base64.StdEncoding.DecodeString(env.Media.Payload)
		if err != nil {
			return Event{}, fmt.Errorf("stream: malformed media payload: %w", err)
		}
		ev.Audio = audio
		return ev, nil
	case EventMark:
		ev := Event{Type: EventMark}
		if env.Mark != nil {
			ev.Mark = env.Mark.Name
		}
		return ev, nil
	case EventStop:
		return Event{Type: EventStop}, nil
	default:
		return Event{}, fmt.Errorf("stream: unknown event %q", env.Event)
	}
}

// EncodeMedia frames outbound mu-law audio with the captured stream
// identifier. Outbound frames always carry the session's identifier,
// never one echoed from an inbound frame.
func EncodeMedia(streamSID string, mulaw []byte) ([]byte, error) {
	return json.Marshal(envelope{
		Event:     string(EventMedia),
		StreamSID: streamSID,
		Media:     &mediaPayload{Payload: base64.StdEncoding.EncodeToString(mulaw)},
	})
}

// EncodeMark frames an outbound mark used to correlate playback
// completion on the transport side.
func EncodeMark(streamSID, name string) ([]byte, error) {
	return json.Marshal(envelope{
		Event:     string(EventMark),
		StreamSID: streamSID,
		Mark:      &markPayload{Name: name},
	})
}
