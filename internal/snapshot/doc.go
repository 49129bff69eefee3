// Package snapshot persists conversation snapshots to SQLite.
//
// # Overview
//
// The conversation store hands the persistence collaborator a deep-copied
// snapshot after every mutation. Save replaces the stored snapshot wholesale
// in one transaction; Load restores it at startup, preserving conversation
// and message order.
//
// An in-flight turn cannot be resumed across restarts, so Load normalizes
// any message still marked sending or streaming to done.
//
// Saves are fire-and-forget from the store's point of view: failures are
// logged and never propagate to the in-memory mutation they mirror.
package snapshot
