package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"

	"github.com/desertthunder/embysync/internal/models"
	"github.com/desertthunder/embysync/internal/tasks"
)

var (
	_ list.Item = userItem{}
	_ list.Item = changeItem{}
)

// userItem wraps [models.UserRecord] to implement [list.Item].
type userItem struct {
	user *models.UserRecord
}

func (i userItem) FilterValue() string { return i.user.Name }
func (i userItem) Title() string       { return i.user.Name }
func (i userItem) Description() string {
	desc := fmt.Sprintf("lhs %s • rhs %s", i.user.UserID(models.LHS), i.user.UserID(models.RHS))
	if i.user.ConnectID != "" {
		desc = fmt.Sprintf("%s • %s", desc, i.user.ConnectID)
	}
	if i.user.IsAdmin() {
		desc += " • admin"
	}
	return desc
}

// changeItem wraps a [tasks.PlanEntry] that needs writes.
type changeItem struct {
	entry tasks.PlanEntry
	dur   func(*models.ServerState) string
}

func (i changeItem) FilterValue() string { return i.entry.Record.Name }
func (i changeItem) Title() string       { return i.entry.Record.Name }
func (i changeItem) Description() string {
	target, _ := i.entry.Direction.Target()
	src := i.entry.Record.State[target.Other()]

	parts := []string{fmt.Sprintf("%s → %s", styles.side(target.Other()), styles.side(target))}
	if src.Valid() {
		if src.Played {
			parts = append(parts, "played")
		}
		if src.IsFavorite {
			parts = append(parts, "favorite")
		}
		if i.dur != nil && src.PlaybackPositionTicks > 0 {
			parts = append(parts, i.dur(src))
		}
	}
	return strings.Join(parts, " • ")
}
