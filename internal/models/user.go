package models

import (
	"sort"
	"strings"
)

// UserInfo is one server's view of a user.
type UserInfo struct {
	ID        string
	Name      string
	ConnectID string
	IsAdmin   bool
}

// Valid reports whether the info carries both a name and an ID.
func (u *UserInfo) Valid() bool {
	return u != nil && u.ID != "" && u.Name != ""
}

// UserRecord is one person, paired across servers by display name or connect name.
type UserRecord struct {
	Name      string
	ConnectID string
	Info      [2]*UserInfo
	Watched   [2][]string // media IDs listed for the user during the current run
}

// UserID returns the side-local user ID or an empty string.
func (u *UserRecord) UserID(side Side) string {
	if u.Info[side] == nil {
		return ""
	}
	return u.Info[side].ID
}

// OnSide reports whether the user has valid info on side.
func (u *UserRecord) OnSide(side Side) bool {
	return u.Info[side].Valid()
}

// CanBeSynced reports whether valid info exists for both sides.
func (u *UserRecord) CanBeSynced() bool {
	return u.OnSide(LHS) && u.OnSide(RHS)
}

// IsAdmin reports whether the user is an administrator on any side.
func (u *UserRecord) IsAdmin() bool {
	for _, info := range u.Info {
		if info != nil && info.IsAdmin {
			return true
		}
	}
	return false
}

// ClearWatched drops the media lists gathered by a previous run.
func (u *UserRecord) ClearWatched() {
	u.Watched = [2][]string{}
}

// UserSet pairs users reported by both servers.
type UserSet struct {
	users     []*UserRecord
	byName    map[string]*UserRecord
	byConnect map[string]*UserRecord
}

// NewUserSet creates an empty [UserSet].
func NewUserSet() *UserSet {
	return &UserSet{
		byName:    map[string]*UserRecord{},
		byConnect: map[string]*UserRecord{},
	}
}

// Add records a user reported by side and returns the (possibly paired) record.
//
// Users pair on connect name first, then on exact display name. Infos without a
// name or ID are ignored and yield nil.
func (s *UserSet) Add(side Side, info UserInfo) *UserRecord {
	if info.Name == "" || info.ID == "" {
		return nil
	}

	connect := strings.ToLower(info.ConnectID)

	var rec *UserRecord
	if connect != "" {
		rec = s.byConnect[connect]
	}
	if rec == nil {
		rec = s.byName[info.Name]
	}
	if rec != nil && rec.Info[side] != nil && rec.Info[side].ID != info.ID {
		rec = nil
	}

	if rec == nil {
		rec = &UserRecord{Name: info.Name}
		s.users = append(s.users, rec)
		if _, taken := s.byName[info.Name]; !taken {
			s.byName[info.Name] = rec
		}
	}

	rec.Info[side] = &info
	if connect != "" {
		rec.ConnectID = info.ConnectID
		s.byConnect[connect] = rec
	}
	return rec
}

// Find looks a user up by display name, falling back to connect name.
func (s *UserSet) Find(name string) *UserRecord {
	if rec, ok := s.byName[name]; ok {
		return rec
	}
	return s.byConnect[strings.ToLower(name)]
}

// All returns every user sorted by name.
func (s *UserSet) All() []*UserRecord {
	out := make([]*UserRecord, len(s.users))
	copy(out, s.users)
	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out
}

// Syncable returns the users present on both sides, sorted by name.
func (s *UserSet) Syncable() []*UserRecord {
	var out []*UserRecord
	for _, u := range s.All() {
		if u.CanBeSynced() {
			out = append(out, u)
		}
	}
	return out
}

// Len returns the number of distinct users.
func (s *UserSet) Len() int {
	return len(s.users)
}
