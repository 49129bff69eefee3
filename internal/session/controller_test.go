// ABOUTME: Tests for the session controller using fake senders and streams:
// ABOUTME: turn lifecycle, adoption, failure recording, and cancellation.

package session

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-sh/parley/internal/conversation"
	"github.com/parley-sh/parley/internal/directory"
	"github.com/parley-sh/parley/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var (
	syncAgent   = directory.Descriptor{ID: "echo", Name: "Echo", Streaming: false}
	streamAgent = directory.Descriptor{ID: "echo", Name: "Echo", Streaming: true}
)

// fakeStream feeds a scripted event sequence to the controller.
type fakeStream struct {
	events chan protocol.Event

	mu        sync.Mutex
	cancelled bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{events: make(chan protocol.Event, 16)}
}

func (f *fakeStream) Events() <-chan protocol.Event { return f.events }

func (f *fakeStream) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.cancelled {
		f.cancelled = true
		close(f.events)
	}
}

func (f *fakeStream) wasCancelled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}

// fakeSender scripts the protocol layer for one turn.
type fakeSender struct {
	result    *protocol.SendResult
	sendErr   error
	stream    *fakeStream
	streamErr error

	mu        sync.Mutex
	lastText  string
	lastCtxID string
}

func (f *fakeSender) SendOnce(ctx context.Context, agentID, text, contextID string) (*protocol.SendResult, error) {
	f.mu.Lock()
	f.lastText = text
	f.lastCtxID = contextID
	f.mu.Unlock()
	return f.result, f.sendErr
}

func (f *fakeSender) OpenStream(ctx context.Context, agentID, text, contextID string) (EventStream, error) {
	f.mu.Lock()
	f.lastText = text
	f.lastCtxID = contextID
	f.mu.Unlock()
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	return f.stream, nil
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("turn did not complete")
	}
}

// agentMessage returns the single conversation and its trailing agent message.
func agentMessage(t *testing.T, store *conversation.Store) (conversation.Conversation, conversation.Message) {
	t.Helper()
	convs := store.List()
	require.Len(t, convs, 1)
	msgs := convs[0].Messages
	require.NotEmpty(t, msgs)
	last := msgs[len(msgs)-1]
	require.Equal(t, conversation.RoleAgent, last.Role)
	return convs[0], last
}

func TestSendValidation(t *testing.T) {
	store := conversation.NewStore()
	ctrl := New(store, &fakeSender{}, testLogger())

	_, err := ctrl.Send(context.Background(), "   ", syncAgent)
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = ctrl.Send(context.Background(), "hello", directory.Descriptor{})
	assert.ErrorIs(t, err, ErrNoAgent)

	assert.Empty(t, store.List())
}

func TestSendSyncFreshConversation(t *testing.T) {
	store := conversation.NewStore()
	sender := &fakeSender{result: &protocol.SendResult{
		Parts:     []conversation.Part{conversation.TextPart{Text: "hi there"}},
		ContextID: "",
	}}
	ctrl := New(store, sender, testLogger())

	done, err := ctrl.Send(context.Background(), "hello world", syncAgent)
	require.NoError(t, err)
	waitDone(t, done)

	conv, agentMsg := agentMessage(t, store)
	assert.Equal(t, "hello world", conv.Title)
	assert.Equal(t, "echo", conv.AgentID)
	assert.Equal(t, conv.ID, store.ActiveID())
	require.Len(t, conv.Messages, 2)

	userMsg := conv.Messages[0]
	assert.Equal(t, conversation.RoleUser, userMsg.Role)
	assert.Equal(t, "hello world", userMsg.DisplayText)
	assert.Equal(t, conversation.StatusDone, userMsg.Status)

	assert.Equal(t, "hi there", agentMsg.DisplayText)
	assert.Equal(t, "Echo", agentMsg.AgentName)
	assert.Equal(t, conversation.StatusStreaming, agentMsg.Status)

	ctrl.FinalizeMessage(conv.ID, agentMsg.ID)
	_, agentMsg = agentMessage(t, store)
	assert.Equal(t, conversation.StatusDone, agentMsg.Status)
}

func TestSendSyncReusesActiveConversation(t *testing.T) {
	store := conversation.NewStore()
	sender := &fakeSender{result: &protocol.SendResult{
		Parts: []conversation.Part{conversation.TextPart{Text: "again"}},
	}}
	ctrl := New(store, sender, testLogger())

	done, err := ctrl.Send(context.Background(), "first", syncAgent)
	require.NoError(t, err)
	waitDone(t, done)

	done, err = ctrl.Send(context.Background(), "second", syncAgent)
	require.NoError(t, err)
	waitDone(t, done)

	convs := store.List()
	require.Len(t, convs, 1)
	assert.Len(t, convs[0].Messages, 4)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	assert.Equal(t, convs[0].ID, sender.lastCtxID)
}

func TestSendStreamingConcatenatesFragments(t *testing.T) {
	store := conversation.NewStore()
	stream := newFakeStream()
	stream.events <- protocol.WorkingEvent{}
	stream.events <- protocol.PartsEvent{Parts: []conversation.Part{conversation.TextPart{Text: "Hel"}}}
	stream.events <- protocol.PartsEvent{Parts: []conversation.Part{conversation.TextPart{Text: "lo"}}}
	stream.events <- protocol.DoneEvent{}
	close(stream.events)

	ctrl := New(store, &fakeSender{stream: stream}, testLogger())
	done, err := ctrl.Send(context.Background(), "hello", streamAgent)
	require.NoError(t, err)
	waitDone(t, done)

	conv, agentMsg := agentMessage(t, store)
	assert.Equal(t, "Hello", agentMsg.DisplayText)
	assert.Equal(t, conversation.Parts{conversation.TextPart{Text: "Hello"}}, agentMsg.Parts)
	assert.Equal(t, conversation.StatusStreaming, agentMsg.Status)

	ctrl.FinalizeMessage(conv.ID, agentMsg.ID)
	_, agentMsg = agentMessage(t, store)
	assert.Equal(t, conversation.StatusDone, agentMsg.Status)
}

func TestSendStreamingAdoptsCanonicalID(t *testing.T) {
	store := conversation.NewStore()
	stream := newFakeStream()
	stream.events <- protocol.PartsEvent{Parts: []conversation.Part{conversation.TextPart{Text: "ok"}}}
	stream.events <- protocol.DoneEvent{ContextID: "srv-9"}
	close(stream.events)

	ctrl := New(store, &fakeSender{stream: stream}, testLogger())
	done, err := ctrl.Send(context.Background(), "hello", streamAgent)
	require.NoError(t, err)
	waitDone(t, done)

	// The locally proposed id is renamed away; only the canonical id remains.
	convs := store.List()
	require.Len(t, convs, 1)
	assert.Equal(t, "srv-9", convs[0].ID)
	assert.Len(t, convs[0].Messages, 2)
	assert.Equal(t, "srv-9", store.ActiveID())
}

func TestSendStreamingEmptyResponseCompletes(t *testing.T) {
	store := conversation.NewStore()
	stream := newFakeStream()
	stream.events <- protocol.WorkingEvent{}
	stream.events <- protocol.DoneEvent{}
	close(stream.events)

	ctrl := New(store, &fakeSender{stream: stream}, testLogger())
	done, err := ctrl.Send(context.Background(), "hello", streamAgent)
	require.NoError(t, err)
	waitDone(t, done)

	// No content arrived, so the message needs no reveal and settles itself.
	_, agentMsg := agentMessage(t, store)
	assert.Equal(t, conversation.StatusDone, agentMsg.Status)
	assert.Empty(t, agentMsg.DisplayText)
}

func TestSendSyncHTTPErrorRecordedOnMessage(t *testing.T) {
	store := conversation.NewStore()
	sender := &fakeSender{sendErr: &protocol.HTTPError{Status: 500}}
	ctrl := New(store, sender, testLogger())

	done, err := ctrl.Send(context.Background(), "hello", syncAgent)
	require.NoError(t, err, "transport failures belong on the message, not the call")
	waitDone(t, done)

	_, agentMsg := agentMessage(t, store)
	assert.Equal(t, conversation.StatusError, agentMsg.Status)
	assert.Equal(t, "Error: HTTP 500", agentMsg.DisplayText)
}

func TestSendStreamingErrorPreservesContent(t *testing.T) {
	store := conversation.NewStore()
	stream := newFakeStream()
	stream.events <- protocol.PartsEvent{Parts: []conversation.Part{conversation.TextPart{Text: "partial"}}}
	stream.events <- protocol.ErrorEvent{Err: &protocol.NetworkError{Op: "read", Err: io.ErrUnexpectedEOF}}
	close(stream.events)

	ctrl := New(store, &fakeSender{stream: stream}, testLogger())
	done, err := ctrl.Send(context.Background(), "hello", streamAgent)
	require.NoError(t, err)
	waitDone(t, done)

	_, agentMsg := agentMessage(t, store)
	assert.Equal(t, conversation.StatusError, agentMsg.Status)
	assert.Equal(t, "partial", agentMsg.DisplayText, "arrived content survives the failure")
}

func TestSendStreamingOpenFailure(t *testing.T) {
	store := conversation.NewStore()
	sender := &fakeSender{streamErr: &protocol.HTTPError{Status: 502}}
	ctrl := New(store, sender, testLogger())

	done, err := ctrl.Send(context.Background(), "hello", streamAgent)
	require.NoError(t, err)
	waitDone(t, done)

	_, agentMsg := agentMessage(t, store)
	assert.Equal(t, conversation.StatusError, agentMsg.Status)
	assert.Equal(t, "Error: HTTP 502", agentMsg.DisplayText)
}

// waitForDisplayText blocks until the trailing agent message shows the given
// text, proving the stream goroutine is wired up and consuming.
func waitForDisplayText(t *testing.T, store *conversation.Store, want string) {
	t.Helper()
	require.Eventually(t, func() bool {
		convs := store.List()
		if len(convs) != 1 || len(convs[0].Messages) < 2 {
			return false
		}
		msgs := convs[0].Messages
		return msgs[len(msgs)-1].DisplayText == want
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSendRejectsConcurrentTurn(t *testing.T) {
	store := conversation.NewStore()
	stream := newFakeStream() // not closed after this event: turn stays in flight
	stream.events <- protocol.PartsEvent{Parts: []conversation.Part{conversation.TextPart{Text: "x"}}}
	ctrl := New(store, &fakeSender{stream: stream}, testLogger())

	done, err := ctrl.Send(context.Background(), "first", streamAgent)
	require.NoError(t, err)
	waitForDisplayText(t, store, "x")
	assert.True(t, ctrl.Busy())

	_, err = ctrl.Send(context.Background(), "second", streamAgent)
	assert.ErrorIs(t, err, ErrTurnInFlight)

	ctrl.CancelActive()
	waitDone(t, done)
	assert.False(t, ctrl.Busy())
}

func TestCancelActiveSettlesMessage(t *testing.T) {
	store := conversation.NewStore()
	stream := newFakeStream()
	stream.events <- protocol.PartsEvent{Parts: []conversation.Part{conversation.TextPart{Text: "partial"}}}
	ctrl := New(store, &fakeSender{stream: stream}, testLogger())

	done, err := ctrl.Send(context.Background(), "hello", streamAgent)
	require.NoError(t, err)

	// Wait for the fragment to land before cancelling.
	waitForDisplayText(t, store, "partial")

	ctrl.CancelActive()
	waitDone(t, done)

	assert.True(t, stream.wasCancelled())
	_, agentMsg := agentMessage(t, store)
	assert.Equal(t, conversation.StatusDone, agentMsg.Status, "cancellation is not a failure")
	assert.Equal(t, "partial", agentMsg.DisplayText)
}

// stalledSender parks OpenStream until its context is cancelled, modeling a
// connection still being established when the user cancels.
type stalledSender struct {
	opening chan struct{}
}

func (s *stalledSender) SendOnce(ctx context.Context, agentID, text, contextID string) (*protocol.SendResult, error) {
	return nil, nil
}

func (s *stalledSender) OpenStream(ctx context.Context, agentID, text, contextID string) (EventStream, error) {
	close(s.opening)
	<-ctx.Done()
	return nil, &protocol.NetworkError{Op: "message/stream", Err: ctx.Err()}
}

func TestCancelDuringStreamStartup(t *testing.T) {
	store := conversation.NewStore()
	sender := &stalledSender{opening: make(chan struct{})}
	ctrl := New(store, sender, testLogger())

	done, err := ctrl.Send(context.Background(), "hello", streamAgent)
	require.NoError(t, err)

	select {
	case <-sender.opening:
	case <-time.After(5 * time.Second):
		t.Fatal("stream never started opening")
	}
	ctrl.CancelActive()
	waitDone(t, done)

	_, agentMsg := agentMessage(t, store)
	assert.Equal(t, conversation.StatusDone, agentMsg.Status, "cancellation is not a failure")
	assert.Empty(t, agentMsg.DisplayText, "the aborted request must not surface as error text")
	assert.Empty(t, agentMsg.Parts)
	assert.False(t, ctrl.Busy())
}

func TestCancelActiveIdleNoOp(t *testing.T) {
	store := conversation.NewStore()
	ctrl := New(store, &fakeSender{}, testLogger())
	ctrl.CancelActive()
	assert.Empty(t, store.List())
}

func TestFinalizeMessageOnlyStreaming(t *testing.T) {
	store := conversation.NewStore()
	require.NoError(t, store.Insert(conversation.Conversation{ID: "c1"}))
	store.AppendMessages("c1",
		conversation.Message{ID: "m1", Role: conversation.RoleAgent, Status: conversation.StatusStreaming},
		conversation.Message{ID: "m2", Role: conversation.RoleAgent, Status: conversation.StatusError},
	)

	ctrl := New(store, &fakeSender{}, testLogger())
	ctrl.FinalizeMessage("c1", "m1")
	ctrl.FinalizeMessage("c1", "m2")

	conv, _ := store.Get("c1")
	assert.Equal(t, conversation.StatusDone, conv.Messages[0].Status)
	assert.Equal(t, conversation.StatusError, conv.Messages[1].Status, "terminal states stay put")
}

func TestNewConversationDeselects(t *testing.T) {
	store := conversation.NewStore()
	sender := &fakeSender{result: &protocol.SendResult{
		Parts: []conversation.Part{conversation.TextPart{Text: "hi"}},
	}}
	ctrl := New(store, sender, testLogger())

	done, err := ctrl.Send(context.Background(), "hello", syncAgent)
	require.NoError(t, err)
	waitDone(t, done)
	firstID := store.ActiveID()
	require.NotEmpty(t, firstID)

	ctrl.NewConversation()
	assert.Equal(t, "", store.ActiveID())

	done, err = ctrl.Send(context.Background(), "fresh start", syncAgent)
	require.NoError(t, err)
	waitDone(t, done)

	convs := store.List()
	assert.Len(t, convs, 2)
	assert.NotEqual(t, firstID, store.ActiveID())
}

func TestOpenConversation(t *testing.T) {
	store := conversation.NewStore()
	require.NoError(t, store.Insert(conversation.Conversation{ID: "c1"}))
	ctrl := New(store, &fakeSender{}, testLogger())

	assert.True(t, ctrl.OpenConversation("c1"))
	assert.Equal(t, "c1", store.ActiveID())

	assert.False(t, ctrl.OpenConversation("missing"))
	assert.Equal(t, "c1", store.ActiveID())
}

func TestDeleteConversation(t *testing.T) {
	store := conversation.NewStore()
	require.NoError(t, store.Insert(conversation.Conversation{ID: "c1"}))
	store.SetActive("c1")
	ctrl := New(store, &fakeSender{}, testLogger())

	ctrl.DeleteConversation("c1")
	_, ok := store.Get("c1")
	assert.False(t, ok)
	assert.Equal(t, "", store.ActiveID())
}
