// Package store implements the world-state backends committed
// transactions are applied to: an in-memory store and a durable SQLite
// store with identical apply semantics.
//
// Apply is atomic. The memory store stages the whole transaction on a
// copy of the world and swaps it in only if every patch succeeds; the
// SQLite store additionally persists the staged result inside a single
// database transaction. A failed apply leaves zero effects behind.
package store
