// Package directory fetches and normalizes the list of available agents.
//
// # Overview
//
// The gateway publishes agent cards at /.well-known/agents.json. This
// package turns each card into a Descriptor: a flat, immutable record with
// the agent's identity, display metadata and capability flags. Descriptors
// are replaced wholesale on every re-fetch.
//
// Agent identity is extracted from the /agents/<id>/ segment of the card's
// URL, falling back to a slug of the agent's name.
//
// Fetched lists are cached per gateway base URL with a refresh TTL so
// switching between gateway profiles does not re-fetch on every prompt.
package directory
