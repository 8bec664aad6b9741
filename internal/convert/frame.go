// Package convert translates between wire frames and domain types.
package convert

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/tacohub/collab-relay/internal/errs"
)

// Frame is one event on the client connection: {"event": "...", "data": {...}}.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// EncodeFrame renders event and payload as a single wire message.
func EncodeFrame(event string, payload any) ([]byte, error) {
	var data json.RawMessage
	switch p := payload.(type) {
	case nil:
	case json.RawMessage:
		data = p
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", event, err)
		}
		data = b
	}
	return json.Marshal(Frame{Event: event, Data: data})
}

// DecodeFrame parses one wire message.
func DecodeFrame(b []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %w", errs.ErrInvalidPayload, err)
	}
	if f.Event == "" {
		return Frame{}, fmt.Errorf("missing event: %w", errs.ErrInvalidPayload)
	}
	return f, nil
}

// DecodeData unmarshals the frame payload into T. Unknown fields are tolerated.
func DecodeData[T any](f Frame) (T, error) {
	var v T
	if len(bytes.TrimSpace(f.Data)) == 0 || bytes.Equal(bytes.TrimSpace(f.Data), []byte("null")) {
		return v, fmt.Errorf("%s: empty payload: %w", f.Event, errs.ErrInvalidPayload)
	}
	if err := json.Unmarshal(f.Data, &v); err != nil {
		return v, fmt.Errorf("%s: %w: %w", f.Event, errs.ErrInvalidPayload, err)
	}
	return v, nil
}
