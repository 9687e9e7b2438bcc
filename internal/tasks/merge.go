package tasks

import "github.com/desertthunder/embysync/internal/models"

// MergeStats summarizes one [Merge] call.
type MergeStats struct {
	Folded int // records folded into another record
	Paired int // live records present on both sides afterwards
}

type replacement struct {
	key       string
	dup       RecordID
	canonical RecordID
}

// Merge pairs records that share provider IDs, LHS first and then RHS.
//
// For each record of the side being processed, in insertion order and with
// provider namespaces sorted, a provider ID that this side's index maps to a
// different live record marks the record as a duplicate of that one. Otherwise
// the record is registered in the other side's index so the other side's pass
// can find it. Duplicates are folded into their canonical record afterwards,
// and the duplicate's state for the processed side replaces the canonical one.
//
// Records without provider IDs are never merged. Calling Merge again on its own
// output changes nothing.
func Merge(c *Catalog) MergeStats {
	var stats MergeStats
	for _, side := range models.Sides {
		stats.Folded += mergeSide(c, side)
	}

	for _, rec := range c.records {
		if rec != nil && rec.State[models.LHS].Valid() && rec.State[models.RHS].Valid() {
			stats.Paired++
		}
	}
	return stats
}

func mergeSide(c *Catalog, side models.Side) int {
	other := side.Other()

	var replacements []replacement
	visited := map[RecordID]bool{}
	for _, key := range c.order[side] {
		id, ok := c.byMedia[side][key]
		rec := c.Record(id)
		if !ok || rec == nil || visited[id] {
			continue
		}
		visited[id] = true

		for _, ns := range rec.ProviderNamespaces() {
			pid := rec.ProviderIDs[ns]

			if own := c.FindProvider(side, ns, pid); own != NoRecord && own != id {
				replacements = append(replacements, replacement{key: key, dup: id, canonical: own})
				break
			}

			if c.FindProvider(other, ns, pid) != id {
				c.SetProvider(other, ns, pid, id)
			}
		}
	}

	folded := map[RecordID]RecordID{}
	resolve := func(id RecordID) RecordID {
		for i := 0; i <= len(folded); i++ {
			next, ok := folded[id]
			if !ok {
				break
			}
			id = next
		}
		return id
	}

	count := 0
	for _, r := range replacements {
		canonicalID := resolve(r.canonical)
		if canonicalID == r.dup {
			continue
		}

		if c.Record(r.dup) == nil || c.Record(canonicalID) == nil {
			continue
		}

		delete(c.byMedia[side], r.key)
		c.byMedia[side][r.key] = canonicalID
		c.replace(r.dup, canonicalID, side)
		folded[r.dup] = canonicalID
		count++
	}
	return count
}
