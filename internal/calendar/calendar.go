// Package calendar implements the Calendar Store: the seam between the
// engine and external calendar adapters (Google/Outlook sync, local ICS
// files — all out of scope per spec §1, consumed here only through the
// Source interface). Grounded on the teacher's provider-contract shape
// (pkg/provider/stt.Provider, pkg/provider/translate.Engine): a small
// interface the caller queries, with no assumption about how an
// implementation reaches its backing system.
//
// spec.md §4.10 says the store "wraps adapters" but leaves multi-source
// composition unspecified; SPEC_FULL.md §11 resolves this: the store holds
// an ordered list of Sources, queries all of them per call, and persists
// results keyed by (source, id) so IDs from different sources never
// collide or shadow one another.
package calendar

import (
	"context"
	"log/slog"
	"time"

	"github.com/echonote/engine/internal/errs"
	"github.com/echonote/engine/internal/store"
)

// Source is the external seam spec.md §4.10 describes: a calendar provider
// (local store, Google sync, Outlook sync) that can list events in a window
// and fetch one by id. Implementations are expected to tolerate being
// queried repeatedly and to not assume read consistency across calls.
type Source interface {
	// Name identifies the source; it is the namespace half of an event's
	// (source, id) composite key, so two sources must never share a name.
	Name() string

	// GetEvents returns events visible to this source whose window overlaps
	// [from, to).
	GetEvents(ctx context.Context, from, to time.Time) ([]store.CalendarEvent, error)

	// GetEvent returns a single event by id, or a NotFound error.
	GetEvent(ctx context.Context, id string) (*store.CalendarEvent, error)
}

// Store composes an ordered list of Sources over the Persistent Store. It
// is the caller-facing "Calendar Store" of spec.md §2/§4.10: the Timeline
// Aggregator and the Auto-Task Scheduler both read through it rather than
// talking to Sources or the persistent store directly.
type Store struct {
	db      *store.Store
	sources []Source
}

// New returns a Store that queries sources in the given order and persists
// what it finds into db. db is both the durability layer and the
// deduplication authority: UpsertEvent's (source, id) uniqueness
// constraint is what "later sources never shadow earlier ones" relies on.
func New(db *store.Store, sources ...Source) *Store {
	return &Store{db: db, sources: sources}
}

// GetEvents queries every configured source for [from, to), upserts
// whatever each source returns into the persistent store, and then reads
// back the merged, de-duplicated window. A source error is logged and
// skipped — per spec.md §4.10's "tolerate external changes between calls"
// tolerance, one flaky adapter must not fail the whole call when the
// persisted cache can still answer from other sources plus prior polls.
func (s *Store) GetEvents(ctx context.Context, from, to time.Time) ([]store.CalendarEvent, error) {
	for _, src := range s.sources {
		events, err := src.GetEvents(ctx, from, to)
		if err != nil {
			slog.Warn("calendar: source query failed, serving from cache", "source", src.Name(), "error", err)
			continue
		}
		for _, e := range events {
			e.Source = src.Name()
			if err := s.db.UpsertEvent(ctx, e); err != nil {
				slog.Warn("calendar: failed to persist event", "source", src.Name(), "event_id", e.ID, "error", err)
			}
		}
	}

	out, err := s.db.ListEventsInRange(ctx, from, to)
	if err != nil {
		return nil, errs.Transientf("calendar: list events in range: %w", err)
	}
	return out, nil
}

// GetEvent returns a single event by (source, id), consulting the
// persistent cache first and falling back to a live source query (and
// caching the result) on a cache miss.
func (s *Store) GetEvent(ctx context.Context, source, id string) (*store.CalendarEvent, error) {
	e, err := s.db.GetEvent(ctx, source, id)
	if err == nil {
		return e, nil
	}
	if !errs.Is(err, errs.NotFound) {
		return nil, err
	}

	for _, src := range s.sources {
		if src.Name() != source {
			continue
		}
		live, err := src.GetEvent(ctx, id)
		if err != nil {
			return nil, errs.NotFoundf("calendar: event %s/%s: %w", source, id, err)
		}
		live.Source = source
		if err := s.db.UpsertEvent(ctx, *live); err != nil {
			slog.Warn("calendar: failed to cache fetched event", "source", source, "event_id", id, "error", err)
		}
		return live, nil
	}
	return nil, errs.NotFoundf("calendar: no source named %q configured", source)
}

// Sources returns the configured source names, in query order.
func (s *Store) Sources() []string {
	names := make([]string, len(s.sources))
	for i, src := range s.sources {
		names[i] = src.Name()
	}
	return names
}
