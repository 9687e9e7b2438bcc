// Package ui implements an interactive terminal interface using bubbletea's Elm architecture.
//
// The TUI walks one user through a sync:
//  1. [UserListView] : Pick a user present on both servers
//  2. [LoadingView] : Watch played media load from both servers
//  3. [PlanView] : Review the planned changes, force a source side or toggle dry run
//  4. [ConfirmView] : Confirm the sync
//  5. [SyncView] : Monitor writes as they complete
//  6. [ResultView] : Display counts, failed writes and server messages
//
// The (view) [Model] implements bubbletea/Elm's standard Init/Update/View pattern, receiving messages via the Msg union type.
// Progress updates flow through a channel fed by the engine's progress sink, so long phases never block rendering.
//
// Keyboard navigation uses vim-style bindings (j/k, enter, esc, y/n, q) with contextual help displayed via charmbracelet/bubbles/help.
package ui
