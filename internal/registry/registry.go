package registry

import (
	"strings"
	"sync"

	"github.com/openviewer/gridman/internal/grid"
	"github.com/openviewer/gridman/internal/logger"
)

// MergeOutcome is the result of applying a record against the registry.
type MergeOutcome int

const (
	// MergeRejected means the incoming record was refused: the key is a
	// system grid, a fallback-deprecated key, or the record is invalid.
	MergeRejected MergeOutcome = iota
	// MergeUnchanged means an equal-or-newer record was already present.
	MergeUnchanged
	// MergeChanged means the registry was mutated.
	MergeChanged
)

func (o MergeOutcome) String() string {
	switch o {
	case MergeRejected:
		return "rejected"
	case MergeUnchanged:
		return "unchanged"
	case MergeChanged:
		return "changed"
	default:
		return "unknown"
	}
}

// Registry is the ordered mapping from grid key to record, merged from
// the compiled system grids, the shipped fallback file and the user
// file. It is the only shared mutable state of the subsystem: all
// mutations are whole-record replacements under one mutex, and readers
// always receive clones.
type Registry struct {
	mu     sync.RWMutex
	grids  map[string]*grid.Record
	order  []string
	logger logger.Logger
}

// New creates an empty registry.
func New(log logger.Logger) *Registry {
	return &Registry{
		grids:  make(map[string]*grid.Record),
		logger: log,
	}
}

// SeedSystemGrids installs the compiled trusted grids. Called once at
// startup, before any file or network data is merged; these keys are
// immutable for the rest of the process lifetime.
func (r *Registry) SeedSystemGrids(records []*grid.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range records {
		c := rec.Clone()
		c.IsSystemGrid = true
		if _, exists := r.grids[c.Key]; !exists {
			r.order = append(r.order, c.Key)
		}
		r.grids[c.Key] = c
		r.logger.Debug("seeded system grid",
			logger.String("key", c.Key),
			logger.String("label", c.Label))
	}
}

// Lookup returns a copy of the record for key, if present.
func (r *Registry) Lookup(key string) (*grid.Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.grids[key]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// Upsert applies the merge policy for an incoming record. The exact
// ordering below decides whether a user's manual edits survive a
// shipped-file update, so it must not be reordered:
//
//  1. fallback-deprecated keys reject everything
//  2. an incoming user-deletion tombstone replaces the entry
//  3. an existing entry without LastModified (fallback-sourced) always
//     loses
//  4. a strictly newer LastModified wins
//  5. otherwise the existing entry stays
//
// System grids are immutable regardless of the incoming data.
func (r *Registry) Upsert(rec *grid.Record) MergeOutcome {
	if rec == nil || rec.Key == "" {
		return MergeRejected
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Network and user data can never grant themselves system status.
	incoming := rec.Clone()
	incoming.IsSystemGrid = false

	existing, ok := r.grids[incoming.Key]
	if !ok {
		if incoming.MarkedDeleted {
			// nothing to tombstone
			return MergeUnchanged
		}
		r.grids[incoming.Key] = incoming
		r.order = append(r.order, incoming.Key)
		r.logger.Debug("adding new grid entry", logger.String("key", incoming.Key))
		return MergeChanged
	}

	if existing.IsSystemGrid {
		r.logger.Warn("refusing to override system grid", logger.String("key", incoming.Key))
		return MergeRejected
	}

	if existing.DeprecatedFallback {
		r.logger.Debug("skipping entry deprecated by the fallback list",
			logger.String("key", incoming.Key))
		return MergeRejected
	}

	if incoming.MarkedDeleted {
		// Fallback entries can't be erased, hide them behind a tombstone.
		r.grids[incoming.Key] = incoming
		r.logger.Debug("grid entry marked for deletion", logger.String("key", incoming.Key))
		return MergeChanged
	}

	if existing.LastModified == nil {
		// No LastModified means the existing entry came from the
		// fallback list; it is implicitly oldest.
		r.grids[incoming.Key] = incoming
		r.logger.Debug("overriding fallback grid entry", logger.String("key", incoming.Key))
		return MergeChanged
	}

	if incoming.LastModified != nil && incoming.LastModified.After(*existing.LastModified) {
		r.grids[incoming.Key] = incoming
		r.logger.Debug("updating grid entry", logger.String("key", incoming.Key))
		return MergeChanged
	}

	r.logger.Debug("same or newer grid entry already present",
		logger.String("key", incoming.Key))
	return MergeUnchanged
}

// Remove converts the entry for key into a user-deletion tombstone.
// System grids cannot be removed. Returns false when nothing changed.
func (r *Registry) Remove(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.grids[key]
	if !ok {
		return false
	}
	if existing.IsSystemGrid {
		r.logger.Warn("refusing to remove system grid", logger.String("key", key))
		return false
	}

	r.grids[key] = grid.Tombstone(key)
	r.logger.Info("grid removed", logger.String("key", key))
	return true
}

// All returns copies of every record in insertion order, tombstones and
// deprecated markers included.
func (r *Registry) All() []*grid.Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*grid.Record, 0, len(r.order))
	for _, key := range r.order {
		if rec, ok := r.grids[key]; ok {
			out = append(out, rec.Clone())
		}
	}
	return out
}

// PersistList returns the records eligible for the user grid file:
// everything except system grids, temporaries and fallback-deprecated
// markers. Tombstones are included so deletions survive a restart.
// Entries that came straight from the fallback file are written too,
// duplicating shipped data; their missing timestamp means a later
// resolution still replaces them on merge, so the duplication is
// harmless and keeps the writer simple.
func (r *Registry) PersistList() []*grid.Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*grid.Record, 0, len(r.order))
	for _, key := range r.order {
		rec, ok := r.grids[key]
		if !ok || rec.IsSystemGrid || rec.IsTemporary || rec.DeprecatedFallback {
			continue
		}
		out = append(out, rec.Clone())
	}
	return out
}

// KeyByLabel returns the key of the first record whose label matches
// case-insensitively, or "".
func (r *Registry) KeyByLabel(label string) string {
	return r.keyByAttribute(label, func(rec *grid.Record) string { return rec.Label })
}

// KeyByNickname returns the key of the first record whose nickname
// matches case-insensitively, or "".
func (r *Registry) KeyByNickname(nick string) string {
	return r.keyByAttribute(nick, func(rec *grid.Record) string { return rec.Nickname })
}

// KeyByHostname returns the key of the first record whose key matches
// case-insensitively, or "".
func (r *Registry) KeyByHostname(host string) string {
	return r.keyByAttribute(host, func(rec *grid.Record) string { return rec.Key })
}

func (r *Registry) keyByAttribute(value string, attr func(*grid.Record) string) string {
	if value == "" {
		return ""
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	// First match in insertion order; labels and nicknames are not
	// guaranteed unique across grids.
	for _, key := range r.order {
		rec, ok := r.grids[key]
		if !ok || rec.MarkedDeleted {
			continue
		}
		if got := attr(rec); got != "" && strings.EqualFold(got, value) {
			return key
		}
	}
	return ""
}

// Count returns the number of entries, including hidden ones.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.grids)
}
