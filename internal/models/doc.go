// Package models defines the domain entities and persistence interfaces for embysync.
//
// The package contains two categories of types:
//
// 1. Run-scoped entities, rebuilt on every sync run:
//   - [MediaRecord] : one movie or episode as known to zero, one or both servers
//   - [ServerState] : a server's local media ID plus the user's watch state for the item
//   - [UserRecord] : one person, paired across servers by name or connect name
//
// 2. Persistent entities, stored in SQLite:
//   - [SyncRun] : a single reconciliation run and its outcome counts
//   - [WriteRecord] : one write issued to a server during a run
//
// Both implement [Record]; internal/repositories provides the [Repository] for each.
package models
