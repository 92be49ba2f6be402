// Package timeline implements the Timeline Aggregator: the past/future
// event window the Auto-Task Scheduler polls and the UI's calendar view
// renders. Alongside the windowed event query it loads each past event's
// attachments and each future event's auto-task config with one store
// query per event, issued concurrently; these lookups are not batched into
// a single query.
package timeline

import (
	"context"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/echonote/engine/internal/errs"
	"github.com/echonote/engine/internal/store"
)

// Default bounds for the attachment-text search augmentation (spec §4.9).
const (
	MaxTranscriptCandidates      = 50
	TranscriptCandidateWindowDays = 30
	SearchContextCharsBefore     = 60
	SearchContextCharsAfter      = 120
)

// CalendarSource is the narrow slice of calendar.Store the aggregator
// needs: a windowed event query. Declared locally (rather than importing
// the calendar package) so the aggregator only depends on the one method
// it actually calls.
type CalendarSource interface {
	GetEvents(ctx context.Context, from, to time.Time) ([]store.CalendarEvent, error)
}

// Filters narrows a timeline query to a date range, matching the UI's
// single-day or range date picker. Both fields must be set for the filter
// to apply; either alone is ignored.
type Filters struct {
	StartDate *time.Time
	EndDate   *time.Time
}

func (f Filters) dayRange(loc *time.Location) (start, end time.Time, ok bool) {
	if f.StartDate == nil || f.EndDate == nil {
		return time.Time{}, time.Time{}, false
	}
	s := f.StartDate.In(loc)
	e := f.EndDate.In(loc)
	start = time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, loc)
	end = time.Date(e.Year(), e.Month(), e.Day(), 23, 59, 59, 999999999, loc)
	return start, end, true
}

// PastEvent is one item of a timeline page's past partition: the event
// plus its attachments, projected into a kind-keyed map for easy lookup.
type PastEvent struct {
	Event     store.CalendarEvent
	Artifacts map[store.AttachmentKind]store.EventAttachment
}

// FutureEvent is one item of a timeline page's future partition: the event
// plus its auto-task config (default-filled when the event has none yet).
type FutureEvent struct {
	Event    store.CalendarEvent
	AutoTask store.AutoTaskConfig
}

// Page is one page of GetTimelineEvents: a paginated past partition and a
// (page-0-only) complete future partition.
type Page struct {
	Past      []PastEvent
	PastTotal int
	Future    []FutureEvent
}

// Aggregator implements spec §4.9's get_timeline_events and search_events
// over a CalendarSource and the Persistent Store.
type Aggregator struct {
	cal CalendarSource
	db  *store.Store
	loc *time.Location
}

// New returns an Aggregator. loc is the canonical timezone filter dates are
// converted into before the overlap comparison; nil defaults to time.Local.
func New(cal CalendarSource, db *store.Store, loc *time.Location) *Aggregator {
	if loc == nil {
		loc = time.Local
	}
	return &Aggregator{cal: cal, db: db, loc: loc}
}

// GetTimelineEvents returns one page of the timeline centered on center:
// the past partition (newest-first, paginated) and, on page 0 only, the
// complete future partition (farthest-first, so the entry nearest "now"
// renders adjacent to the now-marker).
func (a *Aggregator) GetTimelineEvents(ctx context.Context, center time.Time, pastDays, futureDays, page, pageSize int, filters Filters) (Page, error) {
	center = center.In(a.loc)
	from := center.AddDate(0, 0, -pastDays)
	to := center.AddDate(0, 0, futureDays)

	if fStart, fEnd, ok := filters.dayRange(a.loc); ok {
		if fStart.After(from) {
			from = fStart
		}
		if fEnd.Before(to) {
			to = fEnd
		}
	}

	events, err := a.cal.GetEvents(ctx, from, to)
	if err != nil {
		return Page{}, errs.Transientf("timeline: get events: %w", err)
	}

	var pastAll, futureAll []store.CalendarEvent
	for _, e := range events {
		if eventEnd(e).Before(center) {
			pastAll = append(pastAll, e)
		} else {
			futureAll = append(futureAll, e)
		}
	}

	// Past: newest-first.
	sort.Slice(pastAll, func(i, j int) bool { return pastAll[i].Start.After(pastAll[j].Start) })
	// Future: farthest-first, so the event closest to "now" sits last,
	// adjacent to wherever the UI draws its now-marker.
	sort.Slice(futureAll, func(i, j int) bool { return futureAll[i].Start.After(futureAll[j].Start) })

	pastTotal := len(pastAll)
	pastPage := paginate(pastAll, page, pageSize)

	var futurePage []store.CalendarEvent
	if page == 0 {
		futurePage = futureAll
	}

	// Each page's per-event lookups are fanned out via errgroup, which
	// aborts the rest on the first error, same shape as the teacher's
	// concurrent hot-context assembly. The Persistent Store serves them on
	// its single pooled connection, so they do not run in parallel.
	pastViews := make([]PastEvent, len(pastPage))
	{
		eg, egCtx := errgroup.WithContext(ctx)
		for i, e := range pastPage {
			eg.Go(func() error {
				attachments, err := a.db.ListAttachments(egCtx, e.Source, e.ID)
				if err != nil {
					return errs.Transientf("timeline: list attachments for %s/%s: %w", e.Source, e.ID, err)
				}
				m := make(map[store.AttachmentKind]store.EventAttachment, len(attachments))
				for _, att := range attachments {
					m[att.Kind] = att
				}
				pastViews[i] = PastEvent{Event: e, Artifacts: m}
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return Page{}, err
		}
	}

	futureViews := make([]FutureEvent, len(futurePage))
	{
		eg, egCtx := errgroup.WithContext(ctx)
		for i, e := range futurePage {
			eg.Go(func() error {
				cfg, err := a.db.GetAutoTaskConfig(egCtx, e.Source, e.ID)
				if err != nil {
					return errs.Transientf("timeline: get auto-task config for %s/%s: %w", e.Source, e.ID, err)
				}
				futureViews[i] = FutureEvent{Event: e, AutoTask: cfg}
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return Page{}, err
		}
	}

	return Page{Past: pastViews, PastTotal: pastTotal, Future: futureViews}, nil
}

func paginate(all []store.CalendarEvent, page, pageSize int) []store.CalendarEvent {
	if pageSize <= 0 {
		return nil
	}
	start := page * pageSize
	if start >= len(all) {
		return nil
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end]
}

func eventEnd(e store.CalendarEvent) time.Time {
	if e.End != nil {
		return *e.End
	}
	return e.Start
}

// SearchResult is one match from search_events: the event, its known
// artifacts, and the rendered match snippet.
type SearchResult struct {
	Event        store.CalendarEvent
	Artifacts    map[store.AttachmentKind]store.EventAttachment
	MatchSnippet string

	// AutoTask is populated only for events that have not started yet, and
	// only when SearchEvents was called with includeFutureAutoTasks=true.
	AutoTask *store.AutoTaskConfig
}

// SearchEvents runs query against title/description (via SQL LIKE) and,
// within a bounded candidate window, against transcript/translation
// attachment file contents. includeFutureAutoTasks additionally loads the
// stored AutoTaskConfig of each matched event whose start is still in the
// future and attaches it as SearchResult.AutoTask.
func (a *Aggregator) SearchEvents(ctx context.Context, query string, filters Filters, includeFutureAutoTasks bool) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errs.Validationf("timeline: search query must not be empty")
	}

	from, to, ok := filters.dayRange(a.loc)
	if !ok {
		now := time.Now().In(a.loc)
		from = now.AddDate(0, 0, -TranscriptCandidateWindowDays)
		to = now.AddDate(0, 0, TranscriptCandidateWindowDays)
	}

	titleDescMatches, err := a.db.SearchEventsByText(ctx, query, from, to)
	if err != nil {
		return nil, errs.Transientf("timeline: search events by text: %w", err)
	}

	candidates, err := a.cal.GetEvents(ctx, from, to)
	if err != nil {
		return nil, errs.Transientf("timeline: get candidate events: %w", err)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Start.After(candidates[j].Start) })
	if len(candidates) > MaxTranscriptCandidates {
		slog.Warn("timeline: search candidate window exceeds bound, truncating",
			"candidates", len(candidates), "bound", MaxTranscriptCandidates)
		candidates = candidates[:MaxTranscriptCandidates]
	}

	seen := make(map[string]bool, len(titleDescMatches)+len(candidates))
	var results []SearchResult

	for _, e := range titleDescMatches {
		key := e.Source + "/" + e.ID
		if seen[key] {
			continue
		}
		seen[key] = true
		snippet := titleDescSnippet(e, query)
		results = append(results, a.buildResult(ctx, e, snippet, includeFutureAutoTasks))
	}

	for _, e := range candidates {
		key := e.Source + "/" + e.ID
		if seen[key] {
			continue
		}
		attachments, err := a.db.ListAttachments(ctx, e.Source, e.ID)
		if err != nil {
			slog.Warn("timeline: list attachments during search", "event", key, "error", err)
			continue
		}
		snippet, matched := attachmentSnippet(attachments, query)
		if !matched {
			continue
		}
		seen[key] = true
		results = append(results, a.buildResult(ctx, e, snippet, includeFutureAutoTasks))
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Event.Start.After(results[j].Event.Start) })
	return results, nil
}

func (a *Aggregator) buildResult(ctx context.Context, e store.CalendarEvent, snippet string, includeFutureAutoTasks bool) SearchResult {
	attachments, err := a.db.ListAttachments(ctx, e.Source, e.ID)
	if err != nil {
		slog.Warn("timeline: list attachments for search result", "event", e.Source+"/"+e.ID, "error", err)
	}
	m := make(map[store.AttachmentKind]store.EventAttachment, len(attachments))
	for _, att := range attachments {
		m[att.Kind] = att
	}

	result := SearchResult{Event: e, Artifacts: m, MatchSnippet: snippet}
	if includeFutureAutoTasks && e.Start.After(time.Now().In(a.loc)) {
		cfg, err := a.db.GetAutoTaskConfig(ctx, e.Source, e.ID)
		if err != nil {
			slog.Warn("timeline: get auto-task config for search result", "event", e.Source+"/"+e.ID, "error", err)
		} else {
			result.AutoTask = &cfg
		}
	}
	return result
}

func titleDescSnippet(e store.CalendarEvent, query string) string {
	if idx := caseInsensitiveIndex(e.Title, query); idx >= 0 {
		return "Title: " + snippetAround(e.Title, idx, len(query))
	}
	if idx := caseInsensitiveIndex(e.Description, query); idx >= 0 {
		return "Description: " + snippetAround(e.Description, idx, len(query))
	}
	return ""
}

func attachmentSnippet(attachments []store.EventAttachment, query string) (string, bool) {
	labels := map[store.AttachmentKind]string{
		store.AttachmentTranscript:  "Transcript",
		store.AttachmentTranslation: "Translation",
	}
	// Deterministic order: transcript before translation.
	for _, kind := range []store.AttachmentKind{store.AttachmentTranscript, store.AttachmentTranslation} {
		var att *store.EventAttachment
		for i := range attachments {
			if attachments[i].Kind == kind {
				att = &attachments[i]
				break
			}
		}
		if att == nil {
			continue
		}
		data, err := os.ReadFile(att.FilePath)
		if err != nil {
			slog.Warn("timeline: failed to read attachment for search", "path", att.FilePath, "error", err)
			continue
		}
		text := string(data)
		if !utf8.ValidString(text) {
			slog.Warn("timeline: attachment is not valid UTF-8, skipping", "path", att.FilePath)
			continue
		}
		if idx := caseInsensitiveIndex(text, query); idx >= 0 {
			return labels[kind] + ": " + snippetAround(text, idx, len(query)), true
		}
	}
	return "", false
}

func caseInsensitiveIndex(haystack, needle string) int {
	if needle == "" {
		return -1
	}
	return strings.Index(strings.ToLower(haystack), strings.ToLower(needle))
}

// snippetAround renders up to SearchContextCharsBefore/After bytes of
// context around a match at byte offset idx of length matchLen in s; the
// cut is made on byte offsets, not character boundaries.
func snippetAround(s string, idx, matchLen int) string {
	start := idx - SearchContextCharsBefore
	if start < 0 {
		start = 0
	}
	end := idx + matchLen + SearchContextCharsAfter
	if end > len(s) {
		end = len(s)
	}
	snippet := s[start:end]
	if start > 0 {
		snippet = "…" + snippet
	}
	if end < len(s) {
		snippet = snippet + "…"
	}
	return snippet
}
