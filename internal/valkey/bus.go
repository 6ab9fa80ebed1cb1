package valkey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	valkeylib "github.com/valkey-io/valkey-go"

	"github.com/omochice/typing-indicator/pkg/protocol"
)

// envelope is what travels on the pub/sub channel.
type envelope struct {
	SenderID string          `json:"sender_id"`
	Signal   json.RawMessage `json:"signal"`
}

// Bus forwards relay signals to every other instance subscribed to the same
// channel. Messages published by this instance are ignored on receipt.
type Bus struct {
	client  *Client
	channel string
	localID string
	log     logrus.FieldLogger
}

// NewBus creates a Bus on the prefixed channel.
func NewBus(client *Client, channel string, log logrus.FieldLogger) *Bus {
	if log == nil {
		log = logrus.StandardLogger()
	}
	b := &Bus{
		client:  client,
		channel: client.Key(channel),
		localID: uuid.NewString(),
	}
	b.log = log.WithFields(logrus.Fields{"instance_id": b.localID, "channel": b.channel})
	return b
}

// InstanceID returns the id stamped on published messages.
func (b *Bus) InstanceID() string { return b.localID }

// Publish sends sig to the other instances.
func (b *Bus) Publish(ctx context.Context, sig protocol.Signal) error {
	data, err := encodeEnvelope(b.localID, sig)
	if err != nil {
		return err
	}
	inner := b.client.inner
	cmd := inner.B().Publish().Channel(b.channel).Message(string(data)).Build()
	if err := inner.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to publish to valkey: %w", err)
	}
	return nil
}

// Subscribe calls handler for every signal from another instance until ctx is
// done.
func (b *Bus) Subscribe(ctx context.Context, handler func(protocol.Signal)) error {
	b.log.Info("subscribed to relay bus")
	inner := b.client.inner
	err := inner.Receive(ctx, inner.B().Subscribe().Channel(b.channel).Build(), func(msg valkeylib.PubSubMessage) {
		sig, ok, err := decodeEnvelope(b.localID, []byte(msg.Message))
		if err != nil {
			b.log.WithError(err).Warn("discarding bus message")
			return
		}
		if ok {
			handler(sig)
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("valkey subscriber failed: %w", err)
	}
	return nil
}

func encodeEnvelope(senderID string, sig protocol.Signal) ([]byte, error) {
	raw, err := sig.Encode()
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{SenderID: senderID, Signal: raw})
}

// decodeEnvelope reports ok=false for messages sent by localID.
func decodeEnvelope(localID string, data []byte) (protocol.Signal, bool, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return protocol.Signal{}, false, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	if env.SenderID == localID {
		return protocol.Signal{}, false, nil
	}
	sig, err := protocol.DecodeSignal(env.Signal)
	if err != nil {
		return protocol.Signal{}, false, err
	}
	return sig, true, nil
}
