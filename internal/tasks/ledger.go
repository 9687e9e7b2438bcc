package tasks

import (
	"sort"

	"github.com/desertthunder/embysync/internal/models"
)

// Kind classifies an outstanding request.
type Kind int

const (
	KindUsers Kind = iota
	KindMediaList
	KindMediaDetail
	KindMissingSearch
	KindReload
	KindUpdateData
	KindUpdateFavorite
	KindTestServer
	KindCreateCollection
)

func (k Kind) String() string {
	switch k {
	case KindUsers:
		return "users"
	case KindMediaList:
		return "media_list"
	case KindMediaDetail:
		return "media_detail"
	case KindMissingSearch:
		return "missing_search"
	case KindReload:
		return "reload"
	case KindUpdateData:
		return "update_data"
	case KindUpdateFavorite:
		return "update_favorite"
	case KindTestServer:
		return "test_server"
	case KindCreateCollection:
		return "create_collection"
	default:
		return ""
	}
}

// Handle identifies one dispatched request.
type Handle uint64

// Tag is what the engine remembers about a request while it is in flight.
//
// Payload carries the media ID, record ID or user name the response belongs to.
type Tag struct {
	Side    models.Side
	Kind    Kind
	Payload string
}

// Ledger tracks in-flight requests and how many of each kind remain.
//
// A phase is complete when the count for its kind drops to zero; [Ledger.Complete]
// reports that transition exactly once.
type Ledger struct {
	next    Handle
	pending map[Handle]Tag
	counts  map[Kind]int
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		pending: map[Handle]Tag{},
		counts:  map[Kind]int{},
	}
}

// Register records tag and returns its handle.
func (l *Ledger) Register(tag Tag) Handle {
	l.next++
	l.pending[l.next] = tag
	l.counts[tag.Kind]++
	return l.next
}

// Complete removes h. last is true when it was the final outstanding request of its kind.
// ok is false for unknown or already completed handles.
func (l *Ledger) Complete(h Handle) (tag Tag, last bool, ok bool) {
	tag, ok = l.pending[h]
	if !ok {
		return Tag{}, false, false
	}
	delete(l.pending, h)

	l.counts[tag.Kind]--
	if l.counts[tag.Kind] <= 0 {
		delete(l.counts, tag.Kind)
		return tag, true, true
	}
	return tag, false, true
}

// Lookup returns the tag for h without completing it.
func (l *Ledger) Lookup(h Handle) (Tag, bool) {
	tag, ok := l.pending[h]
	return tag, ok
}

// Count returns the outstanding requests of kind.
func (l *Ledger) Count(kind Kind) int {
	return l.counts[kind]
}

// CountSide returns the outstanding requests of kind sent to side.
func (l *Ledger) CountSide(kind Kind, side models.Side) int {
	n := 0
	for _, tag := range l.pending {
		if tag.Kind == kind && tag.Side == side {
			n++
		}
	}
	return n
}

// Len returns the number of outstanding requests.
func (l *Ledger) Len() int {
	return len(l.pending)
}

// Pending returns outstanding tags in dispatch order.
func (l *Ledger) Pending() []Tag {
	handles := make([]Handle, 0, len(l.pending))
	for h := range l.pending {
		handles = append(handles, h)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })

	tags := make([]Tag, len(handles))
	for i, h := range handles {
		tags[i] = l.pending[h]
	}
	return tags
}

// Reset forgets every outstanding request. Handles keep increasing.
func (l *Ledger) Reset() {
	l.pending = map[Handle]Tag{}
	l.counts = map[Kind]int{}
}
