package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"

	"github.com/desertthunder/embysync/internal/formatter"
	"github.com/desertthunder/embysync/internal/models"
	"github.com/desertthunder/embysync/internal/services"
	"github.com/desertthunder/embysync/internal/shared"
	"github.com/desertthunder/embysync/internal/tasks"
)

// ViewState represents the current view in the TUI.
type ViewState int

const (
	UserListView ViewState = iota
	LoadingView
	PlanView
	ConfirmView
	SyncView
	ResultView
)

// Recorder stores finished reconciles. [repositories.HistoryRecorder] satisfies it.
type Recorder interface {
	Record(userName string, report *tasks.ReconcileReport, err error) (*models.SyncRun, error)
}

// Options configures [NewModel].
type Options struct {
	Engine    tasks.EngineOpts       // Progress and Messages are replaced by the model
	Allow     func(name string) bool // filters the user list; nil allows everyone
	Formatter *formatter.Formatter
	Recorder  Recorder
	DryRun    bool
	Source    *models.Side
}

// messageLog collects engine messages for the result view.
type messageLog struct {
	mu     sync.Mutex
	logger *log.Logger
	lines  []string
}

func (l *messageLog) Message(title, msg string, severity tasks.Severity) {
	tasks.LogSink{Logger: l.logger}.Message(title, msg, severity)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf("%s: %s", title, msg))
}

func (l *messageLog) drain() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.lines
	l.lines = nil
	return out
}

// Model represents the TUI application state.
type Model struct {
	ctx          context.Context
	view         ViewState
	engine       *tasks.Engine
	opts         Options
	format       *formatter.Formatter
	width        int
	height       int
	userList     list.Model
	changeList   list.Model
	selected     *models.UserRecord
	plan         *tasks.Plan
	source       *models.Side
	dryRun       bool
	progressChan chan tasks.ProgressUpdate
	progress     tasks.ProgressUpdate
	messages     *messageLog
	notices      []string
	report       *tasks.ReconcileReport
	run          *models.SyncRun
	err          error
	spinner      spinner.Model
	help         help.Model
	keys         keyMap
}

// NewModel creates a new TUI model syncing between lhs and rhs.
func NewModel(ctx context.Context, lhs, rhs services.MediaServer, opts Options) *Model {
	if opts.Engine.Logger == nil {
		opts.Engine.Logger = log.Default()
	}
	if opts.Formatter == nil {
		opts.Formatter = formatter.New(nil)
	}

	progressChan := make(chan tasks.ProgressUpdate, 50)
	messages := &messageLog{logger: opts.Engine.Logger}

	engineOpts := opts.Engine
	engineOpts.Progress = tasks.NewChannelSink(progressChan)
	engineOpts.Messages = messages

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = styles.title.UnsetMarginBottom()

	return &Model{
		ctx:          ctx,
		view:         LoadingView,
		userList:     list.New(nil, list.NewDefaultDelegate(), 0, 0),
		changeList:   list.New(nil, list.NewDefaultDelegate(), 0, 0),
		engine:       tasks.NewEngine(lhs, rhs, engineOpts),
		opts:         opts,
		format:       opts.Formatter,
		source:       opts.Source,
		dryRun:       opts.DryRun,
		progressChan: progressChan,
		messages:     messages,
		spinner:      s,
		help:         help.New(),
		keys:         newKeyMap(),
	}
}

// Init starts loading users from both servers.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.loadUsers(), m.waitForProgress(), m.spinner.Tick)
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.userList.SetSize(msg.Width-4, msg.Height-8)
		m.changeList.SetSize(msg.Width-4, msg.Height-12)
		return m, nil

	case tea.KeyMsg:
		switch m.view {
		case UserListView:
			return m.handleUserListKeys(msg)
		case LoadingView, SyncView:
			return m.handleBusyKeys(msg)
		case PlanView:
			return m.handlePlanKeys(msg)
		case ConfirmView:
			return m.handleConfirmKeys(msg)
		case ResultView:
			return m.handleResultKeys(msg)
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case Msg:
		return m.handleMsg(msg)
	}

	return m.updateLists(msg)
}

func (m *Model) handleMsg(msg Msg) (tea.Model, tea.Cmd) {
	switch msg.kind {
	case MsgUsersLoaded:
		data := msg.data.(usersLoaded)
		m.notices = append(m.notices, m.messages.drain()...)
		if data.err != nil {
			m.err = data.err
			m.view = ResultView
			return m, nil
		}
		if len(data.users) == 0 {
			m.err = fmt.Errorf("%w: no user exists on both servers", shared.ErrUserNotSynced)
			m.view = ResultView
			return m, nil
		}

		items := make([]list.Item, len(data.users))
		for i, u := range data.users {
			items[i] = userItem{user: u}
		}
		m.userList = list.New(items, list.NewDefaultDelegate(), 0, 0)
		m.userList.Title = fmt.Sprintf("Users on %s and %s", m.engine.Server(models.LHS).Name(), m.engine.Server(models.RHS).Name())
		m.userList.SetSize(m.width-4, m.height-8)
		m.view = UserListView
		return m, nil

	case MsgMediaLoaded:
		data := msg.data.(mediaLoaded)
		if data.err != nil {
			m.err = data.err
			m.view = ResultView
			return m, nil
		}
		m.setPlan(data.plan)
		m.view = PlanView
		return m, nil

	case MsgProgressUpdate:
		m.progress = msg.data.(tasks.ProgressUpdate)
		return m, m.waitForProgress()

	case MsgSyncComplete:
		data := msg.data.(syncComplete)
		m.report = data.report
		m.run = data.run
		m.err = data.err
		if errors.Is(data.err, shared.ErrCancelled) && data.report != nil {
			m.err = nil
		}
		m.notices = append(m.notices, m.messages.drain()...)
		m.view = ResultView
		return m, nil
	}
	return m, nil
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	switch m.view {
	case UserListView:
		return m.renderUserList()
	case LoadingView, SyncView:
		return m.renderBusy()
	case PlanView:
		return m.renderPlan()
	case ConfirmView:
		return m.renderConfirm()
	case ResultView:
		return m.renderResult()
	default:
		return ""
	}
}

func (m *Model) quit() (tea.Model, tea.Cmd) {
	m.engine.Cancel()
	return m, tea.Quit
}

func (m *Model) handleUserListKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.userList.FilterState() == list.Filtering {
		var cmd tea.Cmd
		m.userList, cmd = m.userList.Update(msg)
		return m, cmd
	}

	switch {
	case key.Matches(msg, m.keys.quit):
		return m.quit()
	case key.Matches(msg, m.keys.enter):
		if item, ok := m.userList.SelectedItem().(userItem); ok {
			m.selected = item.user
			m.err = nil
			m.view = LoadingView
			return m, m.loadMedia(item.user)
		}
	}

	var cmd tea.Cmd
	m.userList, cmd = m.userList.Update(msg)
	return m, cmd
}

func (m *Model) handleBusyKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case msg.String() == "ctrl+c":
		return m.quit()
	case key.Matches(msg, m.keys.cancel):
		m.engine.Cancel()
	}
	return m, nil
}

func (m *Model) handlePlanKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m.quit()
	case key.Matches(msg, m.keys.back):
		m.view = UserListView
		return m, nil
	case key.Matches(msg, m.keys.sync):
		m.view = ConfirmView
		return m, nil
	case key.Matches(msg, m.keys.source):
		m.source = nextSource(m.source)
		plan, err := m.engine.Plan(m.source)
		if err != nil {
			m.err = err
			return m, nil
		}
		m.setPlan(plan)
		return m, nil
	case key.Matches(msg, m.keys.dryRun):
		m.dryRun = !m.dryRun
		return m, nil
	}

	var cmd tea.Cmd
	m.changeList, cmd = m.changeList.Update(msg)
	return m, cmd
}

func (m *Model) handleConfirmKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case msg.String() == "ctrl+c":
		return m.quit()
	case key.Matches(msg, m.keys.no), msg.String() == "q":
		m.view = PlanView
	case key.Matches(msg, m.keys.yes):
		m.view = SyncView
		return m, m.startSync()
	}
	return m, nil
}

func (m *Model) handleResultKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m.quit()
	case key.Matches(msg, m.keys.restart):
		m.report = nil
		m.run = nil
		m.notices = nil
		m.err = nil
		if len(m.userList.Items()) == 0 {
			m.view = LoadingView
			return m, m.loadUsers()
		}
		m.view = UserListView
		return m, nil
	}
	return m, nil
}

func (m *Model) updateLists(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch m.view {
	case UserListView:
		m.userList, cmd = m.userList.Update(msg)
	case PlanView:
		m.changeList, cmd = m.changeList.Update(msg)
	}
	return m, cmd
}

func nextSource(cur *models.Side) *models.Side {
	switch {
	case cur == nil:
		side := models.LHS
		return &side
	case *cur == models.LHS:
		side := models.RHS
		return &side
	default:
		return nil
	}
}

func (m *Model) setPlan(plan *tasks.Plan) {
	m.plan = plan

	position := func(s *models.ServerState) string {
		return m.format.Duration(time.Duration(s.PlaybackPositionMSecs()) * time.Millisecond)
	}

	changes := plan.Changes()
	items := make([]list.Item, len(changes))
	for i, entry := range changes {
		items[i] = changeItem{entry: entry, dur: position}
	}
	m.changeList = list.New(items, list.NewDefaultDelegate(), 0, 0)
	m.changeList.Title = fmt.Sprintf("Changes for '%s'", plan.User)
	m.changeList.SetSize(m.width-4, m.height-12)
}

func (m *Model) loadUsers() tea.Cmd {
	return func() tea.Msg {
		users, err := m.engine.LoadUsers(m.ctx)
		if err != nil {
			return usersLoadedMsg(nil, err)
		}

		var out []*models.UserRecord
		for _, u := range users.Syncable() {
			if m.opts.Allow == nil || m.opts.Allow(u.Name) || (u.ConnectID != "" && m.opts.Allow(u.ConnectID)) {
				out = append(out, u)
			}
		}
		return usersLoadedMsg(out, nil)
	}
}

func (m *Model) loadMedia(user *models.UserRecord) tea.Cmd {
	source := m.source
	return func() tea.Msg {
		if _, err := m.engine.LoadUserMedia(m.ctx, user); err != nil {
			return mediaLoadedMsg(nil, err)
		}
		plan, err := m.engine.Plan(source)
		return mediaLoadedMsg(plan, err)
	}
}

func (m *Model) startSync() tea.Cmd {
	opts := tasks.ReconcileOpts{Source: m.source, DryRun: m.dryRun}
	user := m.selected.Name
	return func() tea.Msg {
		report, err := m.engine.Reconcile(m.ctx, opts)

		var run *models.SyncRun
		if m.opts.Recorder != nil {
			var recErr error
			if run, recErr = m.opts.Recorder.Record(user, report, err); recErr != nil {
				m.opts.Engine.Logger.Warn("failed to record sync run", "error", recErr)
			}
		}
		return syncCompleteMsg(report, run, err)
	}
}

func (m *Model) waitForProgress() tea.Cmd {
	return func() tea.Msg {
		select {
		case update := <-m.progressChan:
			return progressUpdateMsg(update)
		case <-m.ctx.Done():
			return nil
		}
	}
}

func sourceLabel(source *models.Side) string {
	if source == nil {
		return "newest wins"
	}
	return fmt.Sprintf("force %s", strings.ToUpper(source.String()))
}

func (m *Model) helpView() string {
	return m.help.ShortHelpView(m.keys.forView(m.view))
}

func (m *Model) renderUserList() string {
	return fmt.Sprintf("%s\n\n%s", m.userList.View(), m.helpView())
}

func (m *Model) renderBusy() string {
	title := "Connecting"
	if m.view == SyncView {
		title = "Syncing"
	} else if m.selected != nil {
		title = fmt.Sprintf("Loading '%s'", m.selected.Name)
	}

	var b strings.Builder
	b.WriteString(styles.title.Render(title))
	b.WriteString("\n\n")
	b.WriteString(fmt.Sprintf("%s %s\n", m.spinner.View(), m.progress.Message))
	if m.progress.Total > 0 {
		b.WriteString(fmt.Sprintf("%s %d/%d\n", progressBar(m.progress.Step, m.progress.Total, m.width/2), m.progress.Step, m.progress.Total))
	}
	b.WriteString("\n")
	b.WriteString(m.helpView())
	return b.String()
}

func (m *Model) renderCounts() string {
	counts := m.plan.Counts
	return fmt.Sprintf("In sync: %d   LHS → RHS: %d   RHS → LHS: %d   Unpaired: %d",
		counts[models.Equal], counts[models.NeedsPushToRHS], counts[models.NeedsPushToLHS], counts[models.NoPair])
}

func (m *Model) renderPlan() string {
	mode := sourceLabel(m.source)
	if m.dryRun {
		mode += " • dry run"
	}

	header := styles.box.Render(fmt.Sprintf("%s\n%s", m.renderCounts(), styles.help.Render(mode)))
	if m.err != nil {
		header += "\n" + styles.err.Render(m.err.Error())
	}

	body := m.changeList.View()
	if len(m.plan.Changes()) == 0 {
		body = styles.ok.Render("Everything is in sync.")
	}

	return fmt.Sprintf("%s\n%s\n\n%s", header, body, m.helpView())
}

func (m *Model) renderConfirm() string {
	verb := "Sync"
	if m.dryRun {
		verb = "Dry run"
	}
	title := styles.title.Render(fmt.Sprintf("%s '%s'?", verb, m.plan.User))
	info := fmt.Sprintf("\n%s\nWrites: %d (%s)\n", m.renderCounts(), m.plan.WriteCount(), sourceLabel(m.source))

	return fmt.Sprintf("%s\n%s\n%s", title, info, m.helpView())
}

func (m *Model) renderResult() string {
	helpView := m.helpView()

	if m.err != nil {
		out := styles.err.Render(fmt.Sprintf("Sync failed: %v", m.err))
		return fmt.Sprintf("%s%s\n\n%s", out, m.renderNotices(), helpView)
	}

	if m.report == nil {
		return styles.err.Render("No result available") + "\n\n" + helpView
	}

	title := styles.ok.Render("✓ Sync Complete!")
	switch {
	case m.report.Cancelled:
		title = styles.warn.Render("Sync cancelled")
	case m.report.Failed > 0:
		title = styles.warn.Render(fmt.Sprintf("Sync finished with %d failed writes", m.report.Failed))
	}

	summary, _ := m.format.ReportToText(m.report)
	out := fmt.Sprintf("%s\n\n%s", title, strings.TrimRight(string(summary), "\n"))
	if m.run != nil {
		out += "\n" + styles.help.Render(fmt.Sprintf("Recorded as run #%d", m.run.Sequence()))
	}
	return fmt.Sprintf("%s%s\n\n%s", out, m.renderNotices(), helpView)
}

func (m *Model) renderNotices() string {
	if len(m.notices) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n\n")
	b.WriteString(styles.warn.Render(fmt.Sprintf("%d server messages:", len(m.notices))))
	for _, n := range m.notices {
		b.WriteString("\n  • " + n)
	}
	return b.String()
}
