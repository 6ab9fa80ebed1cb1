package typing_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/typing-indicator/internal/clock"
	"github.com/omochice/typing-indicator/internal/typing"
	"github.com/omochice/typing-indicator/pkg/protocol"
)

const ms = time.Millisecond

func newPublisher(t *testing.T, conversationID string, opts ...typing.Option) (*typing.Publisher, *recorder, *clock.Fake) {
	t.Helper()
	fc := clock.NewFake(epoch)
	rec := newRecorder(t, fc)
	log, _ := nullLogger()
	opts = append([]typing.Option{typing.WithClock(fc), typing.WithLogger(log)}, opts...)
	p := typing.NewPublisher(rec, conversationID, opts...)
	t.Cleanup(p.Close)
	return p, rec, fc
}

func TestPublisher_DebounceAndDecay(t *testing.T) {
	p, rec, fc := newPublisher(t, "conv1")

	p.SetState(protocol.StateStarted)
	fc.Advance(500 * ms)
	p.SetState(protocol.StateStarted)
	fc.Advance(10 * time.Second)

	got := rec.sends()
	require.Len(t, got, 4)
	assert.Equal(t, []time.Duration{0, 2500 * ms, 5000 * ms, 7500 * ms},
		[]time.Duration{got[0].at, got[1].at, got[2].at, got[3].at})
	assert.Equal(t, []protocol.TypingState{
		protocol.StateStarted,
		protocol.StateStarted,
		protocol.StatePaused,
		protocol.StateFinished,
	}, rec.actions())
	for _, s := range got {
		assert.Equal(t, "conv1", s.sig.ConversationID)
	}
	assert.Equal(t, protocol.StateFinished, p.State())
	assert.Equal(t, 0, fc.Pending())
}

func TestPublisher_TransitionsSendImmediately(t *testing.T) {
	p, rec, fc := newPublisher(t, "conv1")

	p.SetState(protocol.StateStarted)
	fc.Advance(100 * ms)
	p.SetState(protocol.StatePaused)
	fc.Advance(100 * ms)
	p.SetState(protocol.StateStarted)
	fc.Advance(100 * ms)
	p.SetState(protocol.StateFinished)

	assert.Equal(t, []protocol.TypingState{
		protocol.StateStarted,
		protocol.StatePaused,
		protocol.StateStarted,
		protocol.StateFinished,
	}, rec.actions())
	assert.Equal(t, 0, fc.Pending())
}

func TestPublisher_RepeatsBeyondIntervalSendImmediately(t *testing.T) {
	p, rec, fc := newPublisher(t, "conv1")

	for i := 0; i < 4; i++ {
		p.SetState(protocol.StateStarted)
		got := rec.sends()
		require.NotEmpty(t, got)
		last := got[len(got)-1]
		assert.Equal(t, protocol.StateStarted, last.sig.Action)
		assert.Equal(t, time.Duration(i)*2600*ms, last.at, "call %d", i)
		fc.Advance(2600 * ms)
	}

	// each repeat lands after the heartbeat already decayed to paused
	assert.Equal(t, []protocol.TypingState{
		protocol.StateStarted, protocol.StatePaused,
		protocol.StateStarted, protocol.StatePaused,
		protocol.StateStarted, protocol.StatePaused,
		protocol.StateStarted, protocol.StatePaused,
	}, rec.actions())
}

func TestPublisher_RepeatsCoalesceIntoOneResend(t *testing.T) {
	p, rec, fc := newPublisher(t, "conv1")

	p.SetState(protocol.StateStarted)
	for range 4 {
		fc.Advance(500 * ms)
		p.SetState(protocol.StateStarted)
	}
	fc.Advance(499 * ms)
	assert.Len(t, rec.sends(), 1)

	fc.Advance(1 * ms)
	got := rec.sends()
	require.Len(t, got, 2)
	assert.Equal(t, 2500*ms, got[1].at)
	assert.Equal(t, protocol.StateStarted, got[1].sig.Action)
}

func TestPublisher_TransitionCancelsPendingResend(t *testing.T) {
	p, rec, fc := newPublisher(t, "conv1")

	p.SetState(protocol.StateStarted)
	fc.Advance(500 * ms)
	p.SetState(protocol.StateStarted)
	fc.Advance(500 * ms)
	p.SetState(protocol.StatePaused)
	fc.Advance(2 * time.Second)

	assert.Equal(t, []protocol.TypingState{protocol.StateStarted, protocol.StatePaused}, rec.actions())

	fc.Advance(500 * ms)
	got := rec.sends()
	require.Len(t, got, 3)
	assert.Equal(t, protocol.StateFinished, got[2].sig.Action)
	assert.Equal(t, 3500*ms, got[2].at)
}

func TestPublisher_RedundantFinishedIsDropped(t *testing.T) {
	p, rec, fc := newPublisher(t, "conv1")

	p.SetState(protocol.StateFinished)
	fc.Advance(5 * time.Second)
	p.SetState(protocol.StateFinished)

	assert.Empty(t, rec.sends())
	assert.Equal(t, 0, fc.Pending())
}

func TestPublisher_ActivityPostponesDecay(t *testing.T) {
	p, rec, fc := newPublisher(t, "conv1")

	p.SetState(protocol.StatePaused)
	fc.Advance(2000 * ms)
	p.SetState(protocol.StatePaused)
	fc.Advance(2000 * ms)

	// the resend at 2500 restarted the inactivity timer
	assert.Equal(t, []protocol.TypingState{protocol.StatePaused, protocol.StatePaused}, rec.actions())

	fc.Advance(1000 * ms)
	got := rec.sends()
	require.Len(t, got, 3)
	assert.Equal(t, protocol.StateFinished, got[2].sig.Action)
	assert.Equal(t, 5000*ms, got[2].at)
}

func TestPublisher_NoConversationSendsNothing(t *testing.T) {
	p, rec, fc := newPublisher(t, "")

	p.SetState(protocol.StateStarted)
	fc.Advance(10 * time.Second)

	assert.Empty(t, rec.sends())
	assert.Equal(t, protocol.StateFinished, p.State())
	assert.Equal(t, 0, fc.Pending())
}

func TestPublisher_SetConversationFlushesFinished(t *testing.T) {
	p, rec, fc := newPublisher(t, "conv1")

	p.SetState(protocol.StateStarted)
	fc.Advance(100 * ms)
	p.SetState(protocol.StateStarted)
	p.SetConversation("conv2")

	assert.Equal(t, "conv2", p.Conversation())
	assert.Equal(t, protocol.StateFinished, p.State())
	assert.Equal(t, 0, fc.Pending())

	got := rec.sends()
	require.Len(t, got, 2)
	assert.Equal(t, protocol.Signal{ConversationID: "conv1", Action: protocol.StateFinished}, got[1].sig)

	p.SetState(protocol.StateStarted)
	got = rec.sends()
	require.Len(t, got, 3)
	assert.Equal(t, protocol.Signal{ConversationID: "conv2", Action: protocol.StateStarted}, got[2].sig)
}

func TestPublisher_SetConversationWhileFinishedSendsNothing(t *testing.T) {
	p, rec, _ := newPublisher(t, "conv1")

	p.SetConversation("conv2")
	p.SetConversation("conv2")

	assert.Empty(t, rec.sends())
	assert.Equal(t, "conv2", p.Conversation())
}

func TestPublisher_IncludesUserID(t *testing.T) {
	p, rec, _ := newPublisher(t, "conv1", typing.WithUserID("alice"))

	p.SetState(protocol.StateStarted)

	got := rec.sends()
	require.Len(t, got, 1)
	assert.Equal(t, "alice", got[0].sig.UserID)
}

func TestPublisher_SendErrorIsLoggedNotRetried(t *testing.T) {
	fc := clock.NewFake(epoch)
	rec := newRecorder(t, fc)
	rec.err = errOffline
	log, hook := nullLogger()
	p := typing.NewPublisher(rec, "conv1", typing.WithClock(fc), typing.WithLogger(log))
	defer p.Close()

	p.SetState(protocol.StateStarted)

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "typing signal dropped", hook.LastEntry().Message)
	assert.Equal(t, errOffline, hook.LastEntry().Data["error"])
	assert.Equal(t, protocol.StateStarted, p.State())

	rec.err = nil
	fc.Advance(100 * ms)
	assert.Empty(t, rec.sends())
}

func TestPublisher_CloseCancelsTimers(t *testing.T) {
	p, rec, fc := newPublisher(t, "conv1")

	p.SetState(protocol.StateStarted)
	fc.Advance(100 * ms)
	p.SetState(protocol.StateStarted)
	p.Close()
	fc.Advance(10 * time.Second)

	assert.Len(t, rec.sends(), 1)
	assert.Equal(t, 0, fc.Pending())

	p.SetState(protocol.StatePaused)
	assert.Len(t, rec.sends(), 1)
}

func TestPublisher_CustomInterval(t *testing.T) {
	p, rec, fc := newPublisher(t, "conv1", typing.WithTiming(typing.Timing{Interval: time.Second}))

	p.SetState(protocol.StateStarted)
	fc.Advance(time.Second)
	fc.Advance(time.Second)

	assert.Equal(t, []protocol.TypingState{
		protocol.StateStarted,
		protocol.StatePaused,
		protocol.StateFinished,
	}, rec.actions())
}
