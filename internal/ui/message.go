package ui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/desertthunder/embysync/internal/models"
	"github.com/desertthunder/embysync/internal/tasks"
)

// MsgKind enumerates all message types in the application.
type MsgKind int

// Msg represents all possible messages in the TUI (Elm-style message union).
type Msg struct {
	kind MsgKind
	data any
}

var (
	_ tea.Msg = Msg{}
)

const (
	MsgUsersLoaded MsgKind = iota
	MsgMediaLoaded
	MsgProgressUpdate
	MsgSyncComplete
)

type usersLoaded struct {
	users []*models.UserRecord
	err   error
}

type mediaLoaded struct {
	plan *tasks.Plan
	err  error
}

type syncComplete struct {
	report *tasks.ReconcileReport
	run    *models.SyncRun
	err    error
}

// usersLoadedMsg is the constructor for [MsgUsersLoaded]
func usersLoadedMsg(users []*models.UserRecord, err error) Msg {
	return Msg{kind: MsgUsersLoaded, data: usersLoaded{users, err}}
}

// mediaLoadedMsg is the constructor for [MsgMediaLoaded]
func mediaLoadedMsg(plan *tasks.Plan, err error) Msg {
	return Msg{kind: MsgMediaLoaded, data: mediaLoaded{plan, err}}
}

// progressUpdateMsg is the constructor for [MsgProgressUpdate]
func progressUpdateMsg(update tasks.ProgressUpdate) Msg {
	return Msg{kind: MsgProgressUpdate, data: update}
}

// syncCompleteMsg is the constructor for [MsgSyncComplete]
func syncCompleteMsg(report *tasks.ReconcileReport, run *models.SyncRun, err error) Msg {
	return Msg{kind: MsgSyncComplete, data: syncComplete{report, run, err}}
}
