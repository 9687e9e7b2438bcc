package tasks

import (
	"sort"
	"strings"

	"github.com/desertthunder/embysync/internal/models"
)

// RecordID indexes a record in the catalog arena.
type RecordID int

// NoRecord is returned by lookups that find nothing.
const NoRecord RecordID = -1

// Catalog holds one user's media across both servers.
//
// Records live in an arena; per-side maps from media ID to [RecordID] and the
// provider index refer to records by ID. Records folded away by [Merge] become nil.
type Catalog struct {
	records   []*models.MediaRecord
	byMedia   [2]map[string]RecordID
	order     [2][]string
	providers [2]map[string]map[string]RecordID
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	c := &Catalog{}
	c.Clear()
	return c
}

// Clear drops every record and index entry.
func (c *Catalog) Clear() {
	c.records = nil
	for _, side := range models.Sides {
		c.byMedia[side] = map[string]RecordID{}
		c.order[side] = nil
		c.providers[side] = map[string]map[string]RecordID{}
	}
}

// Insert adds rec under its media ID on side, or returns the record already stored there.
func (c *Catalog) Insert(side models.Side, rec *models.MediaRecord) RecordID {
	key := rec.MediaID(side)
	if id, ok := c.byMedia[side][key]; ok && c.Record(id) != nil {
		return id
	}

	id := RecordID(len(c.records))
	c.records = append(c.records, rec)
	if key != "" {
		c.attach(side, key, id)
	}
	return id
}

// Attach stores id under mediaID on side, e.g. once a missing item has been found.
func (c *Catalog) Attach(side models.Side, mediaID string, id RecordID) {
	if mediaID == "" || c.Record(id) == nil {
		return
	}
	c.attach(side, mediaID, id)
}

func (c *Catalog) attach(side models.Side, key string, id RecordID) {
	if _, exists := c.byMedia[side][key]; !exists {
		c.order[side] = append(c.order[side], key)
	}
	c.byMedia[side][key] = id
}

// Record returns the record for id, or nil when id is unknown or folded.
func (c *Catalog) Record(id RecordID) *models.MediaRecord {
	if id < 0 || int(id) >= len(c.records) {
		return nil
	}
	return c.records[id]
}

// Lookup finds the record stored under mediaID on side.
func (c *Catalog) Lookup(side models.Side, mediaID string) (RecordID, *models.MediaRecord) {
	id, ok := c.byMedia[side][mediaID]
	if !ok {
		return NoRecord, nil
	}
	rec := c.Record(id)
	if rec == nil {
		return NoRecord, nil
	}
	return id, rec
}

// Keys returns side's media IDs in insertion order.
func (c *Catalog) Keys(side models.Side) []string {
	keys := make([]string, len(c.order[side]))
	copy(keys, c.order[side])
	return keys
}

// SideLen returns the number of media IDs known for side.
func (c *Catalog) SideLen(side models.Side) int {
	return len(c.byMedia[side])
}

// IDs returns the IDs of live records sorted by name.
func (c *Catalog) IDs() []RecordID {
	var ids []RecordID
	for i, rec := range c.records {
		if rec != nil {
			ids = append(ids, RecordID(i))
		}
	}
	sort.SliceStable(ids, func(i, j int) bool {
		return strings.ToLower(c.records[ids[i]].Name) < strings.ToLower(c.records[ids[j]].Name)
	})
	return ids
}

// Records returns the live records sorted by name.
func (c *Catalog) Records() []*models.MediaRecord {
	ids := c.IDs()
	out := make([]*models.MediaRecord, len(ids))
	for i, id := range ids {
		out[i] = c.records[id]
	}
	return out
}

// Len returns the number of live records.
func (c *Catalog) Len() int {
	n := 0
	for _, rec := range c.records {
		if rec != nil {
			n++
		}
	}
	return n
}

func providerKey(namespace, id string) (string, string) {
	return strings.ToLower(namespace), strings.ToLower(id)
}

// FindProvider resolves a provider ID in side's index to a live record.
func (c *Catalog) FindProvider(side models.Side, namespace, id string) RecordID {
	ns, pid := providerKey(namespace, id)
	rid, ok := c.providers[side][ns][pid]
	if !ok || c.Record(rid) == nil {
		return NoRecord
	}
	return rid
}

// SetProvider points a provider ID in side's index at id.
func (c *Catalog) SetProvider(side models.Side, namespace, pid string, id RecordID) {
	ns, key := providerKey(namespace, pid)
	if c.providers[side][ns] == nil {
		c.providers[side][ns] = map[string]RecordID{}
	}
	c.providers[side][ns][key] = id
}

// RegisterProviders indexes every provider ID of id on side. Existing live entries win.
func (c *Catalog) RegisterProviders(side models.Side, id RecordID) {
	rec := c.Record(id)
	if rec == nil {
		return
	}
	for _, ns := range rec.ProviderNamespaces() {
		if c.FindProvider(side, ns, rec.ProviderIDs[ns]) != NoRecord {
			continue
		}
		c.SetProvider(side, ns, rec.ProviderIDs[ns], id)
	}
}

// replace moves dup's state for side onto canonical, overwriting it, then absorbs
// whatever else canonical lacks.
func (c *Catalog) replace(dup, canonical RecordID, side models.Side) {
	from, into := c.Record(dup), c.Record(canonical)
	if from == nil || into == nil || dup == canonical {
		return
	}

	if state := from.State[side]; state.Valid() {
		copied := *state
		into.State[side] = &copied
	}
	c.absorb(dup, canonical)
}

// absorb copies the states and external URLs canonical lacks from dup, then folds dup.
func (c *Catalog) absorb(dup, canonical RecordID) {
	from, into := c.Record(dup), c.Record(canonical)
	if from == nil || into == nil || dup == canonical {
		return
	}

	for _, side := range models.Sides {
		if state := from.State[side]; state.Valid() && !into.State[side].Valid() {
			copied := *state
			into.State[side] = &copied
		}
	}

	if into.ExternalURLs == nil {
		into.ExternalURLs = map[string]string{}
	}
	for name, url := range from.ExternalURLs {
		if _, ok := into.ExternalURLs[name]; !ok {
			into.ExternalURLs[name] = url
		}
	}

	c.fold(dup, canonical)
}

// fold replaces dup with canonical in every index and tombstones dup.
func (c *Catalog) fold(dup, canonical RecordID) {
	for _, side := range models.Sides {
		for key, id := range c.byMedia[side] {
			if id == dup {
				c.byMedia[side][key] = canonical
			}
		}
		for _, ids := range c.providers[side] {
			for pid, id := range ids {
				if id == dup {
					ids[pid] = canonical
				}
			}
		}
	}
	c.records[dup] = nil
}
