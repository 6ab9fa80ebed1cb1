package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

// Raw TCP connections open with a handshake: the client's first frame holds
// its session token and the relay answers with one frame, HandshakeAccepted
// or a short rejection reason.
const HandshakeAccepted = "ok"

// ErrHandshakeRejected is returned when the relay refuses a session token.
var ErrHandshakeRejected = errors.New("handshake rejected")

// WriteHandshake sends the session token frame.
func WriteHandshake(w io.Writer, token string) error {
	if token == "" {
		return errors.New("session token is required")
	}
	return WriteFrame(w, []byte(token))
}

// ReadHandshake reads the session token frame.
func ReadHandshake(r *bufio.Reader) (string, error) {
	frame, err := ReadFrame(r)
	if err != nil {
		return "", fmt.Errorf("failed to read handshake: %w", err)
	}
	return string(frame), nil
}

// WriteHandshakeReply answers a handshake. A nil err accepts it.
func WriteHandshakeReply(w io.Writer, err error) error {
	if err == nil {
		return WriteFrame(w, []byte(HandshakeAccepted))
	}
	return WriteFrame(w, []byte(err.Error()))
}

// ReadHandshakeReply reads the relay's answer and returns
// ErrHandshakeRejected with the reason when it is not an acceptance.
func ReadHandshakeReply(r *bufio.Reader) error {
	frame, err := ReadFrame(r)
	if err != nil {
		return fmt.Errorf("failed to read handshake reply: %w", err)
	}
	if string(frame) != HandshakeAccepted {
		return fmt.Errorf("%w: %s", ErrHandshakeRejected, frame)
	}
	return nil
}
