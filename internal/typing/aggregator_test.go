package typing_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/typing-indicator/internal/clock"
	"github.com/omochice/typing-indicator/internal/typing"
	"github.com/omochice/typing-indicator/pkg/protocol"
)

type change struct {
	summary typing.Summary
	raw     []byte
}

type changeLog struct {
	mu      sync.Mutex
	changes []change
}

func (l *changeLog) record(s typing.Summary, raw []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.changes = append(l.changes, change{summary: s, raw: raw})
}

func (l *changeLog) all() []change {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]change(nil), l.changes...)
}

func (l *changeLog) last(t *testing.T) change {
	t.Helper()
	all := l.all()
	require.NotEmpty(t, all)
	return all[len(all)-1]
}

func newAggregator(t *testing.T, conversationID string) (*typing.Aggregator, *changeLog, *clock.Fake) {
	t.Helper()
	fc := clock.NewFake(epoch)
	log, _ := nullLogger()
	changes := &changeLog{}
	a := typing.NewAggregator(conversationID, changes.record,
		typing.WithClock(fc), typing.WithLogger(log), typing.WithUserID("me"))
	t.Cleanup(a.Close)
	return a, changes, fc
}

func summary(typingUsers, pausedUsers []string) typing.Summary {
	if typingUsers == nil {
		typingUsers = []string{}
	}
	if pausedUsers == nil {
		pausedUsers = []string{}
	}
	return typing.Summary{Typing: typingUsers, Paused: pausedUsers}
}

func TestAggregator_StateTransitions(t *testing.T) {
	tests := []struct {
		name   string
		action protocol.TypingState
		want   typing.Summary
	}{
		{name: "started", action: protocol.StateStarted, want: summary([]string{"bob"}, nil)},
		{name: "paused", action: protocol.StatePaused, want: summary(nil, []string{"bob"})},
		{name: "finished", action: protocol.StateFinished, want: summary(nil, nil)},
	}

	a, changes, _ := newAggregator(t, "conv1")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := encode(t, "conv1", "bob", tt.action)
			a.HandleInboundSignal(raw)

			got := changes.last(t)
			assert.Equal(t, tt.want, got.summary)
			assert.Equal(t, raw, got.raw)
			assert.Equal(t, tt.want, a.Snapshot())
		})
	}
	assert.Len(t, changes.all(), 3)
}

func TestAggregator_SummaryIsSorted(t *testing.T) {
	a, _, _ := newAggregator(t, "conv1")

	a.HandleInboundSignal(encode(t, "conv1", "dave", protocol.StateStarted))
	a.HandleInboundSignal(encode(t, "conv1", "bob", protocol.StateStarted))
	a.HandleInboundSignal(encode(t, "conv1", "carol", protocol.StatePaused))
	a.HandleInboundSignal(encode(t, "conv1", "alice", protocol.StatePaused))

	assert.Equal(t, summary([]string{"bob", "dave"}, []string{"alice", "carol"}), a.Snapshot())
}

func TestAggregator_IgnoresUnattributableSignals(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
	}{
		{name: "own user", raw: encode(t, "conv1", "me", protocol.StateStarted)},
		{name: "no user id", raw: encode(t, "conv1", "", protocol.StateStarted)},
		{name: "malformed json", raw: []byte(`{"type":`)},
		{name: "other frame type", raw: []byte(`{"type":"change","body":{}}`)},
		{name: "other body type", raw: []byte(`{"type":"signal","body":{"type":"presence","object":{"id":"conv1"},"data":{}}}`)},
		{name: "unknown action", raw: []byte(`{"type":"signal","body":{"type":"typing_indicator","object":{"id":"conv1"},"data":{"user_id":"bob","action":"dancing"}}}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, changes, fc := newAggregator(t, "conv1")

			a.HandleInboundSignal(tt.raw)

			assert.Empty(t, changes.all())
			assert.True(t, a.Snapshot().Empty())
			assert.Equal(t, 0, fc.Pending())
		})
	}
}

func TestAggregator_OtherConversationIsTrackedSilently(t *testing.T) {
	a, changes, _ := newAggregator(t, "conv1")

	raw := encode(t, "conv2", "bob", protocol.StateStarted)
	a.HandleInboundSignal(raw)
	assert.Empty(t, changes.all())
	assert.True(t, a.Snapshot().Empty())

	a.SetObservedConversation("conv2")
	got := changes.last(t)
	assert.Equal(t, summary([]string{"bob"}, nil), got.summary)
	assert.Nil(t, got.raw)

	a.SetObservedConversation("conv2")
	assert.Len(t, changes.all(), 1)
}

func TestAggregator_SameUserInTwoConversations(t *testing.T) {
	a, _, _ := newAggregator(t, "conv1")

	a.HandleInboundSignal(encode(t, "conv1", "bob", protocol.StateStarted))
	a.HandleInboundSignal(encode(t, "conv2", "bob", protocol.StatePaused))
	a.HandleInboundSignal(encode(t, "conv2", "bob", protocol.StateFinished))

	assert.Equal(t, summary([]string{"bob"}, nil), a.Snapshot())
}

func TestAggregator_StaleEntriesExpire(t *testing.T) {
	a, changes, fc := newAggregator(t, "conv1")

	a.HandleInboundSignal(encode(t, "conv1", "bob", protocol.StateStarted))
	require.Len(t, changes.all(), 1)

	fc.Advance(5 * time.Second)
	assert.Len(t, changes.all(), 1, "5s old entry is still fresh")

	fc.Advance(5 * time.Second)
	all := changes.all()
	require.Len(t, all, 2)
	assert.Equal(t, summary(nil, nil), all[1].summary)
	assert.Nil(t, all[1].raw)
	assert.Equal(t, 0, fc.Pending())
}

func TestAggregator_RefreshKeepsEntryAlive(t *testing.T) {
	a, changes, fc := newAggregator(t, "conv1")

	a.HandleInboundSignal(encode(t, "conv1", "bob", protocol.StateStarted))
	fc.Advance(4 * time.Second)
	a.HandleInboundSignal(encode(t, "conv1", "bob", protocol.StateStarted))

	// sweep at 10s sees an entry exactly 6s old
	fc.Advance(6 * time.Second)
	assert.Equal(t, summary([]string{"bob"}, nil), a.Snapshot())
	assert.Len(t, changes.all(), 2)

	fc.Advance(5 * time.Second)
	assert.True(t, a.Snapshot().Empty())
	assert.Len(t, changes.all(), 3)
}

func TestAggregator_SweepCoalescesChanges(t *testing.T) {
	a, changes, fc := newAggregator(t, "conv1")

	a.HandleInboundSignal(encode(t, "conv1", "bob", protocol.StateStarted))
	a.HandleInboundSignal(encode(t, "conv1", "carol", protocol.StatePaused))
	a.HandleInboundSignal(encode(t, "conv2", "dave", protocol.StatePaused))
	require.Len(t, changes.all(), 2)

	fc.Advance(10 * time.Second)
	all := changes.all()
	require.Len(t, all, 3)
	assert.True(t, all[2].summary.Empty())
}

func TestAggregator_StaleInOtherConversationIsSilent(t *testing.T) {
	a, changes, fc := newAggregator(t, "conv1")

	a.HandleInboundSignal(encode(t, "conv2", "bob", protocol.StateStarted))
	fc.Advance(10 * time.Second)

	assert.Empty(t, changes.all())
	assert.Equal(t, 0, fc.Pending())
}

func TestAggregator_SweepStopsWhenEmpty(t *testing.T) {
	a, _, fc := newAggregator(t, "conv1")

	a.HandleInboundSignal(encode(t, "conv1", "bob", protocol.StateStarted))
	assert.Equal(t, 1, fc.Pending())

	a.HandleInboundSignal(encode(t, "conv1", "carol", protocol.StateStarted))
	assert.Equal(t, 1, fc.Pending())

	a.HandleInboundSignal(encode(t, "conv1", "bob", protocol.StateFinished))
	a.HandleInboundSignal(encode(t, "conv1", "carol", protocol.StateFinished))
	assert.Equal(t, 0, fc.Pending())
}

func TestAggregator_AttachAndClose(t *testing.T) {
	fc := clock.NewFake(epoch)
	rec := newRecorder(t, fc)
	log, _ := nullLogger()
	changes := &changeLog{}
	a := typing.NewAggregator("conv1", changes.record, typing.WithClock(fc), typing.WithLogger(log))

	a.Attach(rec)
	a.Attach(rec)
	assert.Equal(t, 1, rec.subscribers())

	rec.deliver(encode(t, "conv1", "bob", protocol.StateStarted))
	assert.Len(t, changes.all(), 1)

	a.Close()
	assert.Equal(t, 0, rec.subscribers())
	assert.Equal(t, 0, fc.Pending())

	a.HandleInboundSignal(encode(t, "conv1", "carol", protocol.StateStarted))
	assert.Len(t, changes.all(), 1)
	assert.True(t, a.Snapshot().Empty())
}

func TestAggregator_OnChangeReplacesCallback(t *testing.T) {
	a, first, _ := newAggregator(t, "conv1")
	second := &changeLog{}

	a.OnChange(second.record)
	a.HandleInboundSignal(encode(t, "conv1", "bob", protocol.StatePaused))

	assert.Empty(t, first.all())
	assert.Len(t, second.all(), 1)
}

func TestAggregator_CallbackMayReenter(t *testing.T) {
	a, _, _ := newAggregator(t, "conv1")

	var seen typing.Summary
	a.OnChange(func(typing.Summary, []byte) {
		seen = a.Snapshot()
	})
	a.HandleInboundSignal(encode(t, "conv1", "bob", protocol.StateStarted))

	assert.Equal(t, summary([]string{"bob"}, nil), seen)
}
