// Package session orchestrates user turns against the protocol client and
// the conversation store.
//
// # Overview
//
// A Controller runs at most one turn at a time: it validates the input,
// inserts the optimistic user and agent-placeholder messages, picks the
// synchronous or streaming path from the agent's declared capability, and
// feeds the resulting events back into the store. Starting a new
// conversation, opening another one, or deleting the active one cancels any
// in-flight stream first.
//
// # Identifier adoption
//
// A fresh session proposes a locally generated context identifier. The
// server may assign a canonical one; the first such identifier observed
// adopts it by renaming the conversation, at most once per turn. The turn
// keeps its own mutable reference to the current identifier so callbacks
// arriving after the rename still address the right conversation.
//
// # Finalization
//
// A streamed agent message that received content is left streaming when the
// stream ends; the presentation collaborator calls FinalizeMessage once its
// content reveal finishes. A message that ends with no content is marked
// done immediately.
package session
