package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	// FrameTypeSignal is the outer frame type for ephemeral signals.
	FrameTypeSignal = "signal"
	// BodyTypeTypingIndicator is the signal body type for typing indicators.
	BodyTypeTypingIndicator = "typing_indicator"
)

// ErrNotTypingSignal is returned when a frame is well formed but is not a
// typing-indicator signal.
var ErrNotTypingSignal = errors.New("not a typing indicator signal")

// Signal is a typing-indicator notification for one user in one conversation.
type Signal struct {
	ConversationID string
	UserID         string
	Action         TypingState
}

type frame struct {
	Type string          `json:"type"`
	Body json.RawMessage `json:"body,omitempty"`
}

type signalBody struct {
	Type   string       `json:"type"`
	Object signalObject `json:"object"`
	Data   signalData   `json:"data"`
}

type signalObject struct {
	ID string `json:"id"`
}

type signalData struct {
	UserID string `json:"user_id,omitempty"`
	Action string `json:"action"`
}

// Encode encodes the signal into its JSON envelope.
func (s Signal) Encode() ([]byte, error) {
	if s.ConversationID == "" {
		return nil, errors.New("failed to encode signal: conversation id is required")
	}
	if !s.Action.Valid() {
		return nil, fmt.Errorf("failed to encode signal: invalid action %d", int(s.Action))
	}
	body, err := json.Marshal(signalBody{
		Type:   BodyTypeTypingIndicator,
		Object: signalObject{ID: s.ConversationID},
		Data:   signalData{UserID: s.UserID, Action: s.Action.String()},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode signal: %w", err)
	}
	data, err := json.Marshal(frame{Type: FrameTypeSignal, Body: body})
	if err != nil {
		return nil, fmt.Errorf("failed to encode signal: %w", err)
	}
	return data, nil
}

// Decode decodes a JSON envelope into the signal. Frames that are valid JSON
// but carry something other than a typing indicator yield ErrNotTypingSignal.
func (s *Signal) Decode(data []byte) error {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to decode signal: %w", err)
	}
	if f.Type != FrameTypeSignal || len(f.Body) == 0 {
		return ErrNotTypingSignal
	}

	var body signalBody
	if err := json.Unmarshal(f.Body, &body); err != nil {
		return fmt.Errorf("failed to decode signal body: %w", err)
	}
	if body.Type != BodyTypeTypingIndicator {
		return ErrNotTypingSignal
	}
	if body.Object.ID == "" {
		return errors.New("failed to decode signal: missing conversation id")
	}
	action, err := ParseTypingState(body.Data.Action)
	if err != nil {
		return fmt.Errorf("failed to decode signal: %w", err)
	}

	s.ConversationID = body.Object.ID
	s.UserID = body.Data.UserID
	s.Action = action
	return nil
}

// DecodeSignal is a convenience wrapper around Signal.Decode.
func DecodeSignal(data []byte) (Signal, error) {
	var s Signal
	if err := s.Decode(data); err != nil {
		return Signal{}, err
	}
	return s, nil
}
