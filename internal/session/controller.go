// ABOUTME: SessionController: one in-flight turn, optimistic inserts, path
// ABOUTME: selection, event wiring, and canonical identifier adoption.

package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parley-sh/parley/internal/conversation"
	"github.com/parley-sh/parley/internal/directory"
	"github.com/parley-sh/parley/internal/protocol"
)

// Validation errors returned by Send. Each leaves the store untouched.
var (
	ErrEmptyMessage = errors.New("message text is empty")
	ErrNoAgent      = errors.New("no agent selected")
	ErrTurnInFlight = errors.New("a turn is already in flight")
)

// EventStream is the consumed surface of an open protocol stream.
type EventStream interface {
	Events() <-chan protocol.Event
	Cancel()
}

// Sender is what the controller needs from the protocol layer.
type Sender interface {
	SendOnce(ctx context.Context, agentID, text, contextID string) (*protocol.SendResult, error)
	OpenStream(ctx context.Context, agentID, text, contextID string) (EventStream, error)
}

// WrapClient adapts a protocol.Client to the Sender interface.
func WrapClient(c *protocol.Client) Sender {
	return clientSender{c}
}

type clientSender struct {
	c *protocol.Client
}

func (s clientSender) SendOnce(ctx context.Context, agentID, text, contextID string) (*protocol.SendResult, error) {
	return s.c.SendOnce(ctx, agentID, text, contextID)
}

func (s clientSender) OpenStream(ctx context.Context, agentID, text, contextID string) (EventStream, error) {
	stream, err := s.c.OpenStream(ctx, agentID, text, contextID)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

// Controller serializes turns: idle -> sending -> idle. At most one turn is
// in flight per controller.
type Controller struct {
	store  *conversation.Store
	sender Sender
	logger *slog.Logger

	mu      sync.Mutex
	current *turn
}

// turn tracks one in-flight exchange. convID is the per-turn mutable
// reference: adoption updates it so late events address the renamed
// conversation.
type turn struct {
	mu         sync.Mutex
	convID     string
	agentMsgID string
	cancelled  bool

	stream    EventStream
	cancelCtx context.CancelFunc
	done      chan struct{}
}

func (t *turn) conv() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.convID
}

func (t *turn) setConv(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.convID = id
}

func (t *turn) markCancelled() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelled = true
}

func (t *turn) isCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// New creates a Controller over the given store and sender.
func New(store *conversation.Store, sender Sender, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		store:  store,
		sender: sender,
		logger: logger.With("component", "session"),
	}
}

// Busy reports whether a turn is in flight.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

// Send starts one turn: it validates, inserts the optimistic message pair,
// and launches the synchronous or streaming path per the agent's declared
// capability. The returned channel closes when the turn ends, whether it
// completed, failed, or was cancelled. Turn failures are recorded on the
// agent message, not returned.
func (c *Controller) Send(ctx context.Context, text string, agent directory.Descriptor) (<-chan struct{}, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if agent.ID == "" {
		return nil, ErrNoAgent
	}

	t := &turn{done: make(chan struct{})}
	c.mu.Lock()
	if c.current != nil {
		c.mu.Unlock()
		return nil, ErrTurnInFlight
	}
	c.current = t
	c.mu.Unlock()

	// Resolve or create the conversation. A fresh session proposes a local
	// context identifier the server may later supersede.
	convID := c.store.ActiveID()
	if convID == "" {
		convID = uuid.New().String()
		now := time.Now()
		if err := c.store.Insert(conversation.Conversation{
			ID:        convID,
			AgentID:   agent.ID,
			Title:     conversation.TitleFromText(text),
			CreatedAt: now,
			UpdatedAt: now,
		}); err != nil {
			c.endTurn(t)
			return nil, err
		}
		c.store.SetActive(convID)
	}
	t.setConv(convID)
	t.agentMsgID = uuid.New().String()

	userMsg := conversation.Message{
		ID:          uuid.New().String(),
		Role:        conversation.RoleUser,
		Parts:       conversation.Parts{conversation.TextPart{Text: text}},
		DisplayText: text,
		Status:      conversation.StatusDone,
		CreatedAt:   time.Now(),
	}
	agentMsg := conversation.Message{
		ID:        t.agentMsgID,
		Role:      conversation.RoleAgent,
		Status:    conversation.StatusSending,
		AgentName: agent.Name,
		CreatedAt: time.Now(),
	}
	c.store.AppendMessages(convID, userMsg, agentMsg)

	tctx, cancel := context.WithCancel(ctx)
	t.cancelCtx = cancel

	c.logger.Debug("turn started",
		"agent_id", agent.ID,
		"conversation_id", convID,
		"streaming", agent.Streaming)

	if agent.Streaming {
		go c.runStreaming(tctx, t, agent.ID, text)
	} else {
		go c.runSync(tctx, t, agent.ID, text)
	}
	return t.done, nil
}

// runStreaming opens the stream and consumes its events until the channel
// closes. Exactly one terminal event arrives unless the turn is cancelled.
func (c *Controller) runStreaming(ctx context.Context, t *turn, agentID, text string) {
	defer c.endTurn(t)

	stream, err := c.sender.OpenStream(ctx, agentID, text, t.conv())
	if err != nil {
		// Cancelling while the stream is still opening aborts the request;
		// that is not a turn failure.
		if t.isCancelled() {
			return
		}
		c.failTurn(t, err)
		return
	}
	t.mu.Lock()
	t.stream = stream
	t.mu.Unlock()

	for ev := range stream.Events() {
		if t.isCancelled() {
			continue
		}
		switch ev := ev.(type) {
		case protocol.WorkingEvent:
			c.store.UpdateStatus(t.conv(), t.agentMsgID, conversation.StatusSending)
		case protocol.PartsEvent:
			c.store.AppendParts(t.conv(), t.agentMsgID, ev.Parts)
		case protocol.DoneEvent:
			c.adopt(t, ev.ContextID)
			c.finishStreamed(t)
		case protocol.ErrorEvent:
			c.failTurn(t, ev.Err)
		}
	}
}

// runSync performs the single request/response call.
func (c *Controller) runSync(ctx context.Context, t *turn, agentID, text string) {
	defer c.endTurn(t)

	res, err := c.sender.SendOnce(ctx, agentID, text, t.conv())
	if t.isCancelled() {
		return
	}
	if err != nil {
		c.failTurn(t, err)
		return
	}

	c.adopt(t, res.ContextID)
	c.store.AppendParts(t.conv(), t.agentMsgID, res.Parts)
}

// adopt replaces the turn's local context identifier with the canonical one
// the server assigned. Idempotent; at most one rename applies per turn.
func (c *Controller) adopt(t *turn, contextID string) {
	if contextID == "" || contextID == t.conv() {
		return
	}
	old := t.conv()
	c.store.Rename(old, contextID)
	t.setConv(contextID)
	c.store.SetActive(contextID)
	c.logger.Debug("adopted canonical context id", "local_id", old, "context_id", contextID)
}

// finishStreamed ends the agent message's protocol lifecycle. A message that
// never received content is done; one with content stays streaming until the
// presentation collaborator calls FinalizeMessage.
func (c *Controller) finishStreamed(t *turn) {
	c.store.UpdateMessage(t.conv(), t.agentMsgID, func(m *conversation.Message) {
		if m.DisplayText == "" {
			m.Status = conversation.StatusDone
		}
	})
}

// failTurn records a turn failure on the agent message. Content that already
// arrived is preserved; only an empty message gets the error text as its
// content.
func (c *Controller) failTurn(t *turn, err error) {
	c.logger.Warn("turn failed", "conversation_id", t.conv(), "error", err)
	c.store.UpdateMessage(t.conv(), t.agentMsgID, func(m *conversation.Message) {
		if len(m.Parts) == 0 {
			text := "Error: " + err.Error()
			m.Parts = conversation.Parts{conversation.TextPart{Text: text}}
			m.DisplayText = text
		}
		m.Status = conversation.StatusError
	})
}

// endTurn returns the controller to idle and signals waiters.
func (c *Controller) endTurn(t *turn) {
	c.mu.Lock()
	if c.current == t {
		c.current = nil
	}
	c.mu.Unlock()
	close(t.done)
}

// FinalizeMessage marks a streamed message done once the presentation layer
// has finished revealing its content. Only streaming messages transition;
// terminal states are left alone.
func (c *Controller) FinalizeMessage(convID, msgID string) {
	c.store.UpdateMessage(convID, msgID, func(m *conversation.Message) {
		if m.Status == conversation.StatusStreaming {
			m.Status = conversation.StatusDone
		}
	})
}

// CancelActive cancels any in-flight turn. Cancellation is not a failure:
// content that arrived is preserved and the agent message is settled to done
// so it does not linger mid-stream.
func (c *Controller) CancelActive() {
	c.mu.Lock()
	t := c.current
	c.mu.Unlock()
	if t == nil {
		return
	}

	t.markCancelled()
	t.mu.Lock()
	stream := t.stream
	cancel := t.cancelCtx
	t.mu.Unlock()

	if stream != nil {
		stream.Cancel()
	}
	if cancel != nil {
		cancel()
	}

	c.store.UpdateMessage(t.conv(), t.agentMsgID, func(m *conversation.Message) {
		if !m.Status.Terminal() {
			m.Status = conversation.StatusDone
		}
	})
	c.logger.Debug("turn cancelled", "conversation_id", t.conv())
}

// NewConversation deselects the active conversation so the next Send starts
// a fresh session. Any in-flight turn is cancelled first.
func (c *Controller) NewConversation() {
	c.CancelActive()
	c.store.SetActive("")
}

// OpenConversation makes a prior conversation active for input. Any
// in-flight turn is cancelled first.
func (c *Controller) OpenConversation(convID string) bool {
	c.CancelActive()
	if _, ok := c.store.Get(convID); !ok {
		return false
	}
	c.store.SetActive(convID)
	return true
}

// DeleteConversation removes a conversation, cancelling any in-flight turn
// first. The store deselects it if it was active.
func (c *Controller) DeleteConversation(convID string) {
	c.CancelActive()
	c.store.Remove(convID)
}
