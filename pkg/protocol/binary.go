package protocol

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// MaxFrameSize bounds a single length-prefixed frame on stream transports.
const MaxFrameSize = 64 * 1024

// Field numbers of the binary signal message.
const (
	fieldConversationID protowire.Number = 1
	fieldUserID         protowire.Number = 2
	fieldAction         protowire.Number = 3
)

// Binary action values. Zero is reserved for "unspecified".
const (
	actionUnspecified uint64 = iota
	actionStarted
	actionPaused
	actionFinished
)

// MarshalBinary encodes the signal in protobuf wire format.
func (s Signal) MarshalBinary() ([]byte, error) {
	if s.ConversationID == "" {
		return nil, errors.New("failed to encode signal: conversation id is required")
	}
	action := actionToWire(s.Action)
	if action == actionUnspecified {
		return nil, fmt.Errorf("failed to encode signal: invalid action %d", int(s.Action))
	}

	var b []byte
	b = protowire.AppendTag(b, fieldConversationID, protowire.BytesType)
	b = protowire.AppendString(b, s.ConversationID)
	if s.UserID != "" {
		b = protowire.AppendTag(b, fieldUserID, protowire.BytesType)
		b = protowire.AppendString(b, s.UserID)
	}
	b = protowire.AppendTag(b, fieldAction, protowire.VarintType)
	b = protowire.AppendVarint(b, action)
	return b, nil
}

// UnmarshalBinary decodes protobuf wire format into the signal. Unknown
// fields are skipped.
func (s *Signal) UnmarshalBinary(data []byte) error {
	var decoded Signal
	var action uint64

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("failed to decode signal: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldConversationID && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return fmt.Errorf("failed to decode conversation id: %w", protowire.ParseError(n))
			}
			decoded.ConversationID = v
			data = data[n:]
		case num == fieldUserID && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return fmt.Errorf("failed to decode user id: %w", protowire.ParseError(n))
			}
			decoded.UserID = v
			data = data[n:]
		case num == fieldAction && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("failed to decode action: %w", protowire.ParseError(n))
			}
			action = v
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fmt.Errorf("failed to skip field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}

	if decoded.ConversationID == "" {
		return errors.New("failed to decode signal: missing conversation id")
	}
	state, ok := actionFromWire(action)
	if !ok {
		return fmt.Errorf("failed to decode signal: unknown action %d", action)
	}
	decoded.Action = state
	*s = decoded
	return nil
}

func actionToWire(s TypingState) uint64 {
	switch s {
	case StateStarted:
		return actionStarted
	case StatePaused:
		return actionPaused
	case StateFinished:
		return actionFinished
	default:
		return actionUnspecified
	}
}

func actionFromWire(v uint64) (TypingState, bool) {
	switch v {
	case actionStarted:
		return StateStarted, true
	case actionPaused:
		return StatePaused, true
	case actionFinished:
		return StateFinished, true
	default:
		return 0, false
	}
}

// WriteFrame writes payload prefixed with its varint length.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds limit %d", len(payload), MaxFrameSize)
	}
	buf := protowire.AppendVarint(make([]byte, 0, len(payload)+binary.MaxVarintLen32), uint64(len(payload)))
	buf = append(buf, payload...)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// ReadFrame reads one varint length-prefixed frame.
func ReadFrame(r *bufio.Reader) ([]byte, error) {
	size, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	if size > MaxFrameSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds limit %d", size, MaxFrameSize)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("failed to read frame payload: %w", err)
	}
	return payload, nil
}
