// Package position keeps the 1-based, gap-free ordering of a case's
// conditions, considerations, terms and informatives. All functions are pure
// and return new collections; persisting the result is the caller's job.
package position

import (
	"errors"
	"fmt"
	"sort"
)

var ErrUnknownEntry = errors.New("entry not in collection")

// Entry is the ordering view of one record.
type Entry struct {
	ID       string
	Position int
}

// Collection is an ordered set of entries belonging to one owner.
type Collection []Entry

// Sorted returns the entries ordered by position. Ties keep their input order.
func Sorted(c Collection) Collection {
	out := append(Collection(nil), c...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

// Move places id at the clamped target position and renumbers the rest.
func Move(c Collection, id string, to int) (Collection, error) {
	rest, _, err := without(c, id)
	if err != nil {
		return nil, err
	}
	if to < 1 {
		to = 1
	}
	if to > len(rest)+1 {
		to = len(rest) + 1
	}
	return renumber(splice(rest, id, to-1)), nil
}

// Insert adds id at position at, shifting later entries down. at <= 0 or past
// the end appends.
func Insert(c Collection, id string, at int) (Collection, error) {
	for _, e := range c {
		if e.ID == id {
			return nil, fmt.Errorf("entry %s already in collection", id)
		}
	}
	cur := Sorted(c)
	if at <= 0 || at > len(cur)+1 {
		at = len(cur) + 1
	}
	return renumber(splice(cur, id, at-1)), nil
}

// Remove drops id and closes the gap it leaves.
func Remove(c Collection, id string) (Collection, error) {
	rest, _, err := without(c, id)
	if err != nil {
		return nil, err
	}
	return renumber(rest), nil
}

// Validate checks that positions are exactly 1..N with no duplicates.
func Validate(c Collection) error {
	for i, e := range Sorted(c) {
		if e.Position != i+1 {
			return fmt.Errorf("entry %s at position %d, expected %d", e.ID, e.Position, i+1)
		}
	}
	return nil
}

// Diff returns the new position of every entry whose position differs from before.
// Entries absent from before are included.
func Diff(before, after Collection) map[string]int {
	old := make(map[string]int, len(before))
	for _, e := range before {
		old[e.ID] = e.Position
	}
	changed := map[string]int{}
	for _, e := range after {
		if p, ok := old[e.ID]; !ok || p != e.Position {
			changed[e.ID] = e.Position
		}
	}
	return changed
}

func without(c Collection, id string) (Collection, Entry, error) {
	cur := Sorted(c)
	for i, e := range cur {
		if e.ID == id {
			rest := append(Collection(nil), cur[:i]...)
			return append(rest, cur[i+1:]...), e, nil
		}
	}
	return nil, Entry{}, fmt.Errorf("%w: %s", ErrUnknownEntry, id)
}

func splice(c Collection, id string, idx int) Collection {
	out := make(Collection, 0, len(c)+1)
	out = append(out, c[:idx]...)
	out = append(out, Entry{ID: id})
	return append(out, c[idx:]...)
}

func renumber(c Collection) Collection {
	for i := range c {
		c[i].Position = i + 1
	}
	return c
}
