// Package conversation holds the in-memory conversation collection and its
// data model.
//
// # Overview
//
// A Conversation owns an ordered, append-only sequence of Messages. A Message
// carries an ordered sequence of Parts (text or structured data) plus a
// lifecycle status. The Store is a pure state container: it performs no I/O
// and every public operation is atomic with respect to every other.
//
// # Store
//
//	store := conversation.NewStore()
//	store.Insert(conv)
//	store.AppendParts(convID, msgID, parts)
//	store.Rename(localID, canonicalID)
//
// Key operations:
//
//   - Insert(conv): prepend a new conversation (identity must be unique)
//   - AppendMessages(convID, msgs...): append to a conversation's sequence
//   - AppendParts(convID, msgID, parts): grow one message incrementally
//   - UpdateStatus / UpdateMessage: replace one message by identity
//   - Rename(oldID, newID): atomic identity adoption, idempotent
//   - Remove(convID): delete the conversation, deselecting it if active
//
// Operations addressing a missing conversation or message are no-ops: the
// turn that issued them may have been superseded.
//
// # Change notification
//
// A listener registered with SetOnChange receives a deep-copied snapshot of
// the whole collection after every mutation. Delivery is fire-and-forget on
// its own goroutine, so persistence can never block or fail a mutation.
//
// # Message lifecycle
//
// Agent messages move sending -> streaming -> done, or end in the terminal
// error state. User messages are created done.
package conversation
