// Package protocol implements the JSON-RPC agent-to-agent protocol client.
//
// # Overview
//
// The client translates a user turn into wire calls and decodes wire
// responses into a small, closed set of domain events. It knows nothing
// about conversation bookkeeping.
//
// Three operations are exposed:
//
//   - Discover(ctx): fetch the gateway's agent cards from
//     /.well-known/agents.json
//   - SendOnce(ctx, ...): one synchronous message/send call
//   - OpenStream(ctx, ...): an incremental message/stream call delivered as
//     Server-Sent Events
//
// # Streams
//
// OpenStream returns a Stream whose Events channel yields a closed tagged
// union: WorkingEvent, PartsEvent, DoneEvent, ErrorEvent. Events arrive in
// decode order. Exactly one terminal event (Done xor Error) is delivered per
// stream, always last, after which the channel closes. Cancel aborts the
// transport and suppresses every further event, terminal ones included; the
// channel then closes without a terminal event.
//
// # Framing
//
// The stream body is a sequence of blocks separated by a blank line. Each
// block's data: lines are newline-joined and parsed as one JSON payload.
// Decoding is insensitive to chunk boundaries: a partial block is buffered
// until completed by a later chunk or by end of stream. The [DONE] sentinel
// and empty blocks are ignored; a block of malformed JSON is logged and
// skipped without terminating the stream.
//
// # Errors
//
// NetworkError wraps transport failures, HTTPError reports non-success
// status codes, and ProtocolError carries a JSON-RPC error envelope or a
// missing result. All three satisfy errors.As.
package protocol
