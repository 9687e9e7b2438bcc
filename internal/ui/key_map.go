package ui

import "github.com/charmbracelet/bubbles/key"

// keyMap holds the bindings for every view. List navigation and filtering
// keys belong to the [list.Model]s and are not repeated here.
type keyMap struct {
	enter   key.Binding
	sync    key.Binding
	back    key.Binding
	yes     key.Binding
	no      key.Binding
	source  key.Binding
	dryRun  key.Binding
	cancel  key.Binding
	restart key.Binding
	quit    key.Binding
}

func bind(help string, keys ...string) key.Binding {
	return key.NewBinding(key.WithKeys(keys...), key.WithHelp(keys[0], help))
}

func newKeyMap() keyMap {
	return keyMap{
		enter:   bind("select", "enter"),
		sync:    bind("sync", "enter"),
		back:    bind("users", "esc"),
		yes:     bind("confirm", "y"),
		no:      bind("back", "n", "esc"),
		source:  bind("cycle source", "s"),
		dryRun:  bind("toggle dry run", "d"),
		cancel:  bind("cancel", "c", "esc"),
		restart: bind("another user", "r"),
		quit:    bind("quit", "q", "ctrl+c"),
	}
}

// forView returns the bindings shown in the help line of v.
func (k keyMap) forView(v ViewState) []key.Binding {
	switch v {
	case UserListView:
		return []key.Binding{k.enter, k.quit}
	case LoadingView, SyncView:
		return []key.Binding{k.cancel}
	case PlanView:
		return []key.Binding{k.sync, k.source, k.dryRun, k.back, k.quit}
	case ConfirmView:
		return []key.Binding{k.yes, k.no}
	case ResultView:
		return []key.Binding{k.restart, k.quit}
	}
	return []key.Binding{k.quit}
}
