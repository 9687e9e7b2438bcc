package tasks

import (
	"fmt"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/embysync/internal/models"
)

// Phase is the engine's pipeline state.
type Phase int

const (
	Idle Phase = iota
	UsersLoading
	MediaListing
	MediaDetailing
	Merging
	MissingDiscovery
	Reconciling
	TestingServers
	CreatingCollection
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case UsersLoading:
		return "users_loading"
	case MediaListing:
		return "media_listing"
	case MediaDetailing:
		return "media_detailing"
	case Merging:
		return "merging"
	case MissingDiscovery:
		return "missing_discovery"
	case Reconciling:
		return "reconciling"
	case TestingServers:
		return "testing_servers"
	case CreatingCollection:
		return "creating_collection"
	default:
		return ""
	}
}

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI or UI layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Pipeline phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data for advanced UIs
}

// ProgressSink receives progress from the engine.
type ProgressSink interface {
	SetTitle(title string)
	SetMaximum(n int)
	Increment()
	Reset()
	WasCancelled() bool
}

// Severity of a user-facing message.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

// MessageSink receives user-facing messages, mostly remote failures.
type MessageSink interface {
	Message(title, msg string, severity Severity)
}

// Callbacks are invoked by the engine when a pipeline finishes.
type Callbacks struct {
	UsersLoaded       func(users *models.UserSet)
	UserMediaLoaded   func(user *models.UserRecord, catalog *Catalog)
	ReconcileFinished func(report *ReconcileReport)
}

type nopSink struct{}

func (nopSink) SetTitle(string)    {}
func (nopSink) SetMaximum(int)     {}
func (nopSink) Increment()         {}
func (nopSink) Reset()             {}
func (nopSink) WasCancelled() bool { return false }

// LogSink writes messages to a logger.
type LogSink struct {
	Logger *log.Logger
}

// Message logs msg at a level matching severity.
func (s LogSink) Message(title, msg string, severity Severity) {
	switch severity {
	case SeverityError:
		s.Logger.Error(msg, "title", title)
	case SeverityWarning:
		s.Logger.Warn(msg, "title", title)
	default:
		s.Logger.Info(msg, "title", title)
	}
}

// ChannelSink turns progress calls into [ProgressUpdate] values on a channel.
//
// Sends never block; updates are dropped when the channel is full.
type ChannelSink struct {
	ch        chan<- ProgressUpdate
	phase     Phase
	title     string
	step      int
	total     int
	cancelled atomic.Bool
}

// NewChannelSink creates a sink that reports to ch. A nil ch discards updates.
func NewChannelSink(ch chan<- ProgressUpdate) *ChannelSink {
	return &ChannelSink{ch: ch}
}

// SetPhase records the phase attached to subsequent updates.
func (s *ChannelSink) SetPhase(p Phase) {
	s.phase = p
}

func (s *ChannelSink) SetTitle(title string) {
	s.title = title
	s.send(titleUpdate(s.phase, s.step, s.total, title))
}

func (s *ChannelSink) SetMaximum(n int) {
	s.total = n
}

func (s *ChannelSink) Increment() {
	s.step++
	s.send(stepUpdate(s.phase, s.step, s.total, s.title))
}

func (s *ChannelSink) Reset() {
	s.step = 0
	s.total = 0
}

// Cancel marks the sink as cancelled; the engine stops issuing new batches.
func (s *ChannelSink) Cancel() {
	s.cancelled.Store(true)
}

func (s *ChannelSink) WasCancelled() bool {
	return s.cancelled.Load()
}

func (s *ChannelSink) send(update ProgressUpdate) {
	if s.ch == nil {
		return
	}
	select {
	case s.ch <- update:
	default:
	}
}

func titleUpdate(phase Phase, step, total int, title string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   phase,
		Step:    step,
		Total:   total,
		Message: title,
	}
}

func stepUpdate(phase Phase, step, total int, title string) ProgressUpdate {
	msg := title
	if total > 0 {
		msg = fmt.Sprintf("[%d/%d] %s", step, total, title)
	}
	return ProgressUpdate{
		Phase:   phase,
		Step:    step,
		Total:   total,
		Message: msg,
	}
}

func phaseTitle(p Phase, user string) string {
	switch p {
	case UsersLoading:
		return "Loading users"
	case MediaListing:
		return fmt.Sprintf("Loading played media for '%s'", user)
	case MediaDetailing:
		return fmt.Sprintf("Loading media details for '%s'", user)
	case Merging:
		return "Merging media data"
	case MissingDiscovery:
		return "Finding missing media"
	case Reconciling:
		return fmt.Sprintf("Syncing '%s'", user)
	case TestingServers:
		return "Testing servers"
	case CreatingCollection:
		return "Creating collection"
	default:
		return ""
	}
}
