package models

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// TicksPerMillisecond is the number of 100ns playback ticks in one millisecond.
const TicksPerMillisecond = 10000

// LastPlayedLayout is the UTC timestamp format written back to servers.
const LastPlayedLayout = "2006-01-02T15:04:05.000Z"

// Direction is the computed sync direction for one media record.
type Direction int

const (
	NoPair Direction = iota
	Equal
	NeedsPushToRHS
	NeedsPushToLHS
)

func (d Direction) String() string {
	switch d {
	case NoPair:
		return "no_pair"
	case Equal:
		return "equal"
	case NeedsPushToRHS:
		return "push_to_rhs"
	case NeedsPushToLHS:
		return "push_to_lhs"
	default:
		return ""
	}
}

// Target returns the side that receives writes. ok is false for [NoPair] and [Equal].
func (d Direction) Target() (side Side, ok bool) {
	switch d {
	case NeedsPushToRHS:
		return RHS, true
	case NeedsPushToLHS:
		return LHS, true
	}
	return LHS, false
}

// UserState is a user's watch state for one item on one server.
//
// A zero LastPlayed means the server reported no last-played date.
type UserState struct {
	IsFavorite            bool
	Played                bool
	PlayCount             int64
	PlaybackPositionTicks uint64
	LastPlayed            time.Time
}

// PlaybackPositionMSecs converts the playback position to milliseconds, truncating.
func (u UserState) PlaybackPositionMSecs() uint64 {
	return u.PlaybackPositionTicks / TicksPerMillisecond
}

// SetPlaybackPositionMSecs stores a millisecond position as ticks.
func (u *UserState) SetPlaybackPositionMSecs(ms uint64) {
	u.PlaybackPositionTicks = ms * TicksPerMillisecond
}

// WireTicks returns the playback position as a signed value safe to serialize.
func (u UserState) WireTicks() int64 {
	if u.PlaybackPositionTicks >= math.MaxInt64 {
		return math.MaxInt64 - 1
	}
	return int64(u.PlaybackPositionTicks)
}

// Equal reports whether favorite, played, position and last-played match.
//
// Last-played only participates when both sides have one.
func (u UserState) Equal(o UserState) bool {
	if u.IsFavorite != o.IsFavorite || u.Played != o.Played {
		return false
	}
	if u.PlaybackPositionTicks != o.PlaybackPositionTicks {
		return false
	}
	if !u.LastPlayed.IsZero() && !o.LastPlayed.IsZero() {
		return u.LastPlayed.Equal(o.LastPlayed)
	}
	return true
}

type userDataBody struct {
	IsFavorite            bool    `json:"IsFavorite"`
	Played                bool    `json:"Played"`
	PlayCount             int64   `json:"PlayCount"`
	LastPlayedDate        *string `json:"LastPlayedDate"`
	PlaybackPositionTicks int64   `json:"PlaybackPositionTicks"`
}

// UserDataJSON serializes the state as the body of an update-user-data request.
func (u UserState) UserDataJSON() ([]byte, error) {
	body := userDataBody{
		IsFavorite:            u.IsFavorite,
		Played:                u.Played,
		PlayCount:             u.PlayCount,
		PlaybackPositionTicks: u.WireTicks(),
	}
	if !u.LastPlayed.IsZero() {
		ts := u.LastPlayed.UTC().Format(LastPlayedLayout)
		body.LastPlayedDate = &ts
	}
	return json.Marshal(body)
}

// ParseLastPlayed parses a server timestamp. Unparseable or empty input yields the zero time.
func ParseLastPlayed(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t.UTC()
	}
	if t, err := time.Parse("2006-01-02T15:04:05.9999999", v); err == nil {
		return t.UTC()
	}
	return time.Time{}
}

// ServerState holds what one server knows about a media record.
type ServerState struct {
	MediaID string
	UserState
	Loaded bool
}

// Valid reports whether the server has a local ID for the record.
func (s *ServerState) Valid() bool {
	return s != nil && s.MediaID != ""
}

// MediaFields are the item attributes used to compute a display name.
type MediaFields struct {
	Name         string
	Type         string
	SeriesName   string
	SeasonName   string
	EpisodeTitle string
	IndexNumber  int
}

// ComputeName builds the stable display name used as a record's key.
//
// Episodes render as "Series - S01E05 - Episode Title - Name".
func ComputeName(f MediaFields) string {
	if f.Type != "Episode" {
		return f.Name
	}

	season := f.SeasonName
	if pos := strings.LastIndex(season, " "); pos != -1 {
		if n, err := strconv.Atoi(season[pos+1:]); err == nil {
			season = fmt.Sprintf("S%02d", n)
		}
	}

	name := fmt.Sprintf("%s - %sE%02d", f.SeriesName, season, f.IndexNumber)
	if f.EpisodeTitle != "" {
		name += " - " + f.EpisodeTitle
	}
	if f.Name != "" {
		name += " - " + f.Name
	}
	return name
}

// MediaRecord is one title as known to zero, one, or both servers.
type MediaRecord struct {
	Name         string
	Type         string
	ProviderIDs  map[string]string
	ExternalURLs map[string]string
	State        [2]*ServerState
}

// NewMediaRecord creates an empty record with the given display name and item type.
func NewMediaRecord(name, mediaType string) *MediaRecord {
	return &MediaRecord{
		Name:         name,
		Type:         mediaType,
		ProviderIDs:  map[string]string{},
		ExternalURLs: map[string]string{},
	}
}

// EnsureState returns the side's state, creating it when absent.
func (m *MediaRecord) EnsureState(side Side) *ServerState {
	if m.State[side] == nil {
		m.State[side] = &ServerState{}
	}
	return m.State[side]
}

// MediaID returns the side-local item ID or an empty string.
func (m *MediaRecord) MediaID(side Side) string {
	if m.State[side] == nil {
		return ""
	}
	return m.State[side].MediaID
}

// IsMissing reports whether the record has no media ID on side.
func (m *MediaRecord) IsMissing(side Side) bool {
	return !m.State[side].Valid()
}

// HasMissingInfo reports whether either side lacks the record.
func (m *MediaRecord) HasMissingInfo() bool {
	return m.IsMissing(LHS) || m.IsMissing(RHS)
}

// MissingSide returns the first side lacking the record.
func (m *MediaRecord) MissingSide() (Side, bool) {
	for _, side := range Sides {
		if m.IsMissing(side) {
			return side, true
		}
	}
	return LHS, false
}

// AddProvider records a provider ID, ignoring empty values.
func (m *MediaRecord) AddProvider(namespace, id string) {
	if namespace == "" || id == "" {
		return
	}
	if m.ProviderIDs == nil {
		m.ProviderIDs = map[string]string{}
	}
	m.ProviderIDs[namespace] = id
}

// HasProviderIDs reports whether the record can be matched across servers.
func (m *MediaRecord) HasProviderIDs() bool {
	return len(m.ProviderIDs) > 0
}

// ProviderNamespaces returns the provider namespaces in sorted order.
func (m *MediaRecord) ProviderNamespaces() []string {
	keys := make([]string, 0, len(m.ProviderIDs))
	for k := range m.ProviderIDs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ProviderList renders provider IDs as the AnyProviderIdEquals query value.
func (m *MediaRecord) ProviderList() string {
	parts := make([]string, 0, len(m.ProviderIDs))
	for _, ns := range m.ProviderNamespaces() {
		parts = append(parts, strings.ToLower(ns)+"."+strings.ToLower(m.ProviderIDs[ns]))
	}
	return strings.Join(parts, ",")
}

// UserDataEqual reports whether both sides exist and agree.
func (m *MediaRecord) UserDataEqual() bool {
	return m.Direction() == Equal
}

// Direction decides which side is authoritative for this record.
//
// The side with the later last-played wins; a missing date loses to any date and
// a tie makes the RHS authoritative.
func (m *MediaRecord) Direction() Direction {
	lhs, rhs := m.State[LHS], m.State[RHS]
	if !lhs.Valid() || !rhs.Valid() {
		return NoPair
	}
	if lhs.UserState.Equal(rhs.UserState) {
		return Equal
	}
	if lhs.LastPlayed.After(rhs.LastPlayed) {
		return NeedsPushToRHS
	}
	return NeedsPushToLHS
}
