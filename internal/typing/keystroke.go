package typing

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/omochice/typing-indicator/internal/clock"
	"github.com/omochice/typing-indicator/pkg/protocol"
)

// InputSurface exposes the current text of the message being composed.
type InputSurface interface {
	Text() string
}

// TextFunc adapts a function to InputSurface.
type TextFunc func() string

// Text calls f.
func (f TextFunc) Text() string { return f() }

// StateSetter receives the intents produced by the keystroke adapter.
// *Publisher implements it.
type StateSetter interface {
	SetState(state protocol.TypingState)
}

// KeyKind classifies a raw key event.
type KeyKind int

const (
	// KeyMeta covers keys that do not edit text: arrows, modifiers, focus
	// changes.
	KeyMeta KeyKind = iota
	// KeyCharacter is a key that produced a character.
	KeyCharacter
	// KeyDeletion is a backspace or delete.
	KeyDeletion
)

// KeystrokeAdapter turns bursts of editing key events into a single intent
// once input has been quiet for QuietWindow: finished if the input is empty,
// started otherwise.
type KeystrokeAdapter struct {
	// emitMu is held from the timer check until the publisher has the
	// intent, so Reset and Close never interleave with an emit.
	emitMu    sync.Mutex
	mu        sync.Mutex
	clock     clock.Clock
	log       logrus.FieldLogger
	quiet     time.Duration
	input     InputSurface
	publisher StateSetter

	timer  clock.Timer
	seq    uint64
	closed bool
}

// NewKeystrokeAdapter creates an adapter reading input and driving publisher.
func NewKeystrokeAdapter(input InputSurface, publisher StateSetter, opts ...Option) *KeystrokeAdapter {
	o := buildOptions(opts)
	return &KeystrokeAdapter{
		clock:     o.clock,
		log:       o.log,
		quiet:     o.timing.QuietWindow,
		input:     input,
		publisher: publisher,
	}
}

// OnCharacterEvent records a character-producing key press.
func (k *KeystrokeAdapter) OnCharacterEvent() {
	k.restart()
}

// OnControlDeletionEvent records a backspace or delete key press.
func (k *KeystrokeAdapter) OnControlDeletionEvent() {
	k.restart()
}

// HandleKey dispatches a classified key event. Meta keys are ignored.
func (k *KeystrokeAdapter) HandleKey(kind KeyKind) {
	switch kind {
	case KeyCharacter:
		k.OnCharacterEvent()
	case KeyDeletion:
		k.OnControlDeletionEvent()
	}
}

// Reset cancels a pending quiet timer without producing an intent. An intent
// already being emitted reaches the publisher before Reset returns.
func (k *KeystrokeAdapter) Reset() {
	k.emitMu.Lock()
	defer k.emitMu.Unlock()
	k.mu.Lock()
	defer k.mu.Unlock()
	k.stopLocked()
}

// Close cancels the quiet timer; later events are ignored.
func (k *KeystrokeAdapter) Close() {
	k.emitMu.Lock()
	defer k.emitMu.Unlock()
	k.mu.Lock()
	defer k.mu.Unlock()
	k.stopLocked()
	k.closed = true
}

func (k *KeystrokeAdapter) restart() {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return
	}
	k.stopLocked()
	seq := k.seq
	k.timer = k.clock.AfterFunc(k.quiet, func() {
		k.fire(seq)
	})
}

func (k *KeystrokeAdapter) fire(seq uint64) {
	k.emitMu.Lock()
	defer k.emitMu.Unlock()

	k.mu.Lock()
	if k.closed || seq != k.seq {
		k.mu.Unlock()
		return
	}
	k.timer = nil
	k.seq++
	k.mu.Unlock()

	state := protocol.StateStarted
	if k.input.Text() == "" {
		state = protocol.StateFinished
	}
	k.log.WithField("action", state.String()).Debug("keystroke burst settled")
	k.publisher.SetState(state)
}

func (k *KeystrokeAdapter) stopLocked() {
	if k.timer != nil {
		k.timer.Stop()
		k.timer = nil
	}
	k.seq++
}
