// Package tasks reconciles watch state between two Emby servers with real-time progress reporting.
//
// # Pipeline
//
// An [Engine] works on one user at a time:
//
//  1. [Engine.LoadUsers] : list users on both servers
//     - Pairs users by connect name, then exact display name
//     - Only users present on both sides can be synced
//
//  2. [Engine.LoadUserMedia] : build the [Catalog] for one user
//     - Lists played items on each side and stores a stub record per item
//     - Requests full details for every item on both sides
//     - Waits for the settle delay once the detail requests drain, then runs [Merge]
//     - Searches the other server by provider IDs for records only one side knows
//
//  3. [Engine.Reconcile] : decide and apply
//     - The side with the later last-played date is authoritative; a tie favors RHS
//     - The target receives the source's user data and, if it differs, the favorite flag
//     - Each successful write is followed by a reload of the target item
//
// # Concurrency
//
// Requests run on their own goroutines and post completions to the engine, which handles
// them one at a time on the calling goroutine. A [Ledger] counts outstanding requests per
// [Kind]; a phase ends when the last request of its kind returns. [Engine.Cancel] stops
// new batches while in-flight requests drain.
//
// # Progress Reporting
//
// Progress goes to a [ProgressSink] and failures to a [MessageSink]. [ChannelSink] turns
// progress into non-blocking [ProgressUpdate] sends for the CLI and TUI.
//
// # Batches and Scheduling
//
// [BatchSync] runs one engine per user on a rate-limited worker pool. [Watcher] repeats
// a sync on a cron schedule.
package tasks
