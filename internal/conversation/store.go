// ABOUTME: In-memory conversation collection with atomic whole-store operations.
// ABOUTME: Mutations notify a snapshot listener without blocking or failing.

package conversation

import (
	"errors"
	"sync"
	"time"
)

// ErrDuplicateConversation is returned when inserting a conversation whose
// identity already exists in the store.
var ErrDuplicateConversation = errors.New("conversation already exists")

// Store holds the conversation collection. Every public operation is atomic;
// operations addressing a missing conversation or message are no-ops.
type Store struct {
	mu       sync.Mutex
	convs    []Conversation
	activeID string
	onChange func([]Conversation)
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{}
}

// SetOnChange registers a listener invoked with a deep-copied snapshot after
// every mutation. The listener runs on its own goroutine and can neither
// block nor fail the mutation that triggered it.
func (s *Store) SetOnChange(fn func([]Conversation)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// Insert prepends a new conversation. It fails if the identity already exists.
func (s *Store) Insert(conv Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexLocked(conv.ID) >= 0 {
		return ErrDuplicateConversation
	}
	s.convs = append([]Conversation{cloneConversation(conv)}, s.convs...)
	s.notifyLocked()
	return nil
}

// AppendMessages appends messages to the end of a conversation's sequence.
// No-op if the conversation no longer exists.
func (s *Store) AppendMessages(convID string, msgs ...Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(convID)
	if i < 0 {
		return
	}
	for _, m := range msgs {
		m.Parts = append(Parts(nil), m.Parts...)
		s.convs[i].Messages = append(s.convs[i].Messages, m)
	}
	s.convs[i].UpdatedAt = time.Now()
	s.notifyLocked()
}

// AppendParts concatenates newParts onto the named message, recomputes its
// cached display text, and marks it streaming. Adjacent text parts coalesce
// so streamed fragments accumulate into a single part. No-op if the
// conversation or message is absent.
func (s *Store) AppendParts(convID, msgID string, newParts []Part) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := s.messageLocked(convID, msgID)
	if msg == nil {
		return
	}
	msg.Parts = appendCoalesced(msg.Parts, newParts)
	msg.DisplayText = FlattenText(msg.Parts)
	msg.Status = StatusStreaming
	s.touchLocked(convID)
	s.notifyLocked()
}

// UpdateStatus sets the named message's status. No-op if absent.
func (s *Store) UpdateStatus(convID, msgID string, status Status) {
	s.UpdateMessage(convID, msgID, func(m *Message) {
		m.Status = status
	})
}

// UpdateMessage applies fn to the named message. No-op if absent.
func (s *Store) UpdateMessage(convID, msgID string, fn func(*Message)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := s.messageLocked(convID, msgID)
	if msg == nil {
		return
	}
	fn(msg)
	s.touchLocked(convID)
	s.notifyLocked()
}

// Rename atomically changes the identity of the conversation matching oldID
// to newID, leaving message content untouched. No-op if oldID is not found,
// if the ids are equal, or if newID already names another conversation
// (treated as already adopted).
func (s *Store) Rename(oldID, newID string) {
	if oldID == newID || newID == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexLocked(newID) >= 0 {
		return
	}
	i := s.indexLocked(oldID)
	if i < 0 {
		return
	}
	s.convs[i].ID = newID
	s.convs[i].UpdatedAt = time.Now()
	if s.activeID == oldID {
		s.activeID = newID
	}
	s.notifyLocked()
}

// Remove deletes a conversation, deselecting it if it was active.
func (s *Store) Remove(convID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(convID)
	if i < 0 {
		return
	}
	s.convs = append(s.convs[:i], s.convs[i+1:]...)
	if s.activeID == convID {
		s.activeID = ""
	}
	s.notifyLocked()
}

// Get returns a deep copy of the named conversation.
func (s *Store) Get(convID string) (Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(convID)
	if i < 0 {
		return Conversation{}, false
	}
	return cloneConversation(s.convs[i]), true
}

// List returns a deep copy of the whole collection, newest first.
func (s *Store) List() []Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Snapshot is an alias for List, named for the persistence collaborator.
func (s *Store) Snapshot() []Conversation {
	return s.List()
}

// Replace swaps in a restored collection wholesale, clearing the active
// pointer. It does not notify the change listener: the restore path would
// otherwise immediately re-persist what it just loaded.
func (s *Store) Replace(convs []Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.convs = make([]Conversation, len(convs))
	for i, c := range convs {
		s.convs[i] = cloneConversation(c)
	}
	s.activeID = ""
}

// ActiveID returns the identity of the conversation currently active for
// input, or empty if none.
func (s *Store) ActiveID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// SetActive marks a conversation active for input. Passing an empty id
// clears the selection; an unknown id is ignored.
func (s *Store) SetActive(convID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if convID != "" && s.indexLocked(convID) < 0 {
		return
	}
	s.activeID = convID
}

// indexLocked returns the position of convID or -1. Callers hold s.mu.
func (s *Store) indexLocked(convID string) int {
	for i := range s.convs {
		if s.convs[i].ID == convID {
			return i
		}
	}
	return -1
}

// messageLocked returns a pointer into the stored message, or nil.
// Callers hold s.mu.
func (s *Store) messageLocked(convID, msgID string) *Message {
	i := s.indexLocked(convID)
	if i < 0 {
		return nil
	}
	msgs := s.convs[i].Messages
	for j := range msgs {
		if msgs[j].ID == msgID {
			return &msgs[j]
		}
	}
	return nil
}

func (s *Store) touchLocked(convID string) {
	if i := s.indexLocked(convID); i >= 0 {
		s.convs[i].UpdatedAt = time.Now()
	}
}

// notifyLocked dispatches a snapshot to the change listener on its own
// goroutine. Callers hold s.mu.
func (s *Store) notifyLocked() {
	if s.onChange == nil {
		return
	}
	fn := s.onChange
	snap := s.snapshotLocked()
	go fn(snap)
}

func (s *Store) snapshotLocked() []Conversation {
	out := make([]Conversation, len(s.convs))
	for i, c := range s.convs {
		out[i] = cloneConversation(c)
	}
	return out
}

// appendCoalesced appends incoming parts, merging a text part into a trailing
// text part so streamed fragments accumulate instead of piling up.
func appendCoalesced(existing Parts, incoming []Part) Parts {
	out := existing
	for _, p := range incoming {
		if t, ok := p.(TextPart); ok && len(out) > 0 {
			if last, ok := out[len(out)-1].(TextPart); ok {
				out[len(out)-1] = TextPart{Text: last.Text + t.Text}
				continue
			}
		}
		out = append(out, p)
	}
	return out
}

func cloneConversation(c Conversation) Conversation {
	out := c
	out.Messages = make([]Message, len(c.Messages))
	for i, m := range c.Messages {
		m.Parts = append(Parts(nil), m.Parts...)
		out.Messages[i] = m
	}
	return out
}
