// Package typing implements the typing-indicator engine: a keystroke adapter
// that turns raw input events into intents, a publisher that debounces the
// local user's state onto a signaling channel, and an aggregator that tracks
// remote users' states with staleness expiry.
//
// One instance of each component exists per local conversation context. All
// state lives in the component; timer callbacks re-check ownership before
// acting, so a timer that fires after a cancel or Close is a no-op.
package typing

// Channel is the authenticated signaling connection supplied by the
// surrounding system. Send is fire-and-forget and must not block on network
// I/O. Subscribe registers a handler for inbound messages and returns a
// function that removes it.
type Channel interface {
	Send(data []byte) error
	Subscribe(handler func(data []byte)) (cancel func())
}
