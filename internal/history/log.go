package history

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// EventKind classifies one canvas mutation.
type EventKind string

const (
	KindCreate EventKind = "create"
	KindUpdate EventKind = "update"
	KindDelete EventKind = "delete"
)

// RollbackActor marks compensating events appended by a rollback.
const RollbackActor = "system-rollback"

// ErrNothingToRollback is returned when no event lies past the target
// sequence. This is a user-correctable condition, not an internal fault.
var ErrNothingToRollback = errors.New("no changes to rollback")

// Event is one immutable entry of a board's canvas history. Seq is assigned
// at append time, starts at 1 and never repeats or leaves gaps.
type Event struct {
	ID        string         `json:"id"`
	Seq       int64          `json:"sequence_num"`
	Kind      EventKind      `json:"event_type"`
	ObjectID  string         `json:"object_id"`
	Previous  map[string]any `json:"previous_state"`
	New       map[string]any `json:"new_state"`
	Actor     string         `json:"actor"`
	CreatedAt time.Time      `json:"created_at"`
}

// Snapshot is the materialized object state at a point in history.
type Snapshot struct {
	Objects map[string]map[string]any
	Seq     int64
	At      time.Time
}

// TimelineBucket aggregates events within one fixed time window.
type TimelineBucket struct {
	Timestamp        string `json:"timestamp"`
	SequenceStart    int64  `json:"sequence_start"`
	SequenceEnd      int64  `json:"sequence_end"`
	EventCount       int    `json:"event_count"`
	Creates          int    `json:"creates"`
	Updates          int    `json:"updates"`
	Deletes          int    `json:"deletes"`
	ContributorCount int    `json:"contributor_count"`
}

// Log is the append-only event history of one board. Appends are serialized;
// the stored slice is the canonical ordering and is never rewritten, rollback
// included.
type Log struct {
	mu     sync.RWMutex
	events []*Event
	now    func() time.Time
}

// NewLog creates an empty board log.
func NewLog() *Log {
	return &Log{now: time.Now}
}

// Append records a new event and assigns it the next sequence number.
func (l *Log) Append(kind EventKind, objectID string, previous, newState map[string]any, actor string) *Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendLocked(kind, objectID, previous, newState, actor)
}

func (l *Log) appendLocked(kind EventKind, objectID string, previous, newState map[string]any, actor string) *Event {
	seq := int64(len(l.events)) + 1
	event := &Event{
		ID:        fmt.Sprintf("evt-%06d", seq),
		Seq:       seq,
		Kind:      kind,
		ObjectID:  objectID,
		Previous:  previous,
		New:       newState,
		Actor:     actor,
		CreatedAt: l.now().UTC(),
	}
	l.events = append(l.events, event)
	return event
}

// List returns events newest-first, optionally filtered by kind, with
// offset/limit pagination over the filtered set.
func (l *Log) List(kind EventKind, limit, offset int) (events []*Event, total int, hasMore bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	filtered := make([]*Event, 0, len(l.events))
	for i := len(l.events) - 1; i >= 0; i-- {
		e := l.events[i]
		if kind != "" && e.Kind != kind {
			continue
		}
		filtered = append(filtered, e)
	}

	total = len(filtered)
	if offset >= total {
		return []*Event{}, total, false
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return filtered[offset:end], total, end < total
}

// Len returns the current event count (== highest assigned sequence).
func (l *Log) Len() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return int64(len(l.events))
}

// SnapshotAt replays the history up to a cutoff and returns the resulting
// object map. atSeq > 0 cuts by sequence, else a non-zero atTime cuts by
// timestamp, else the full history is replayed. An empty qualifying set
// yields sequence 0 and no objects.
func (l *Log) SnapshotAt(atSeq int64, atTime time.Time) Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	objects := make(map[string]map[string]any)
	var lastSeq int64
	var lastAt time.Time

	for _, e := range l.events {
		if atSeq > 0 && e.Seq > atSeq {
			break
		}
		if atSeq <= 0 && !atTime.IsZero() && e.CreatedAt.After(atTime) {
			break
		}
		applyEvent(objects, e)
		lastSeq = e.Seq
		lastAt = e.CreatedAt
	}

	if lastSeq == 0 {
		lastAt = l.now().UTC()
	}
	return Snapshot{Objects: objects, Seq: lastSeq, At: lastAt}
}

// applyEvent folds one event into a replayed object map. Updates merge
// shallowly: new fields overwrite, untouched fields survive.
func applyEvent(objects map[string]map[string]any, e *Event) {
	switch e.Kind {
	case KindCreate:
		if e.ObjectID == "" {
			return
		}
		state := make(map[string]any, len(e.New))
		for k, v := range e.New {
			state[k] = v
		}
		objects[e.ObjectID] = state
	case KindUpdate:
		existing, ok := objects[e.ObjectID]
		if e.ObjectID == "" || !ok {
			return
		}
		for k, v := range e.New {
			existing[k] = v
		}
	case KindDelete:
		delete(objects, e.ObjectID)
	}
}

// Rollback undoes every event past targetSeq by appending compensating
// events in reverse source order: create becomes delete, update restores the
// previous state, delete recreates the object. History is only ever extended;
// prior events keep their sequence numbers. The appended events are returned
// so the caller can apply them to the live index and broadcast them.
func (l *Log) Rollback(targetSeq int64) ([]*Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	toUndo := make([]*Event, 0)
	for _, e := range l.events {
		if e.Seq > targetSeq {
			toUndo = append(toUndo, e)
		}
	}
	if len(toUndo) == 0 {
		return nil, ErrNothingToRollback
	}

	sort.Slice(toUndo, func(i, j int) bool { return toUndo[i].Seq > toUndo[j].Seq })

	compensating := make([]*Event, 0, len(toUndo))
	for _, e := range toUndo {
		switch e.Kind {
		case KindCreate:
			compensating = append(compensating,
				l.appendLocked(KindDelete, e.ObjectID, e.New, nil, RollbackActor))
		case KindUpdate:
			compensating = append(compensating,
				l.appendLocked(KindUpdate, e.ObjectID, e.New, e.Previous, RollbackActor))
		case KindDelete:
			compensating = append(compensating,
				l.appendLocked(KindCreate, e.ObjectID, nil, e.Previous, RollbackActor))
		}
	}
	return compensating, nil
}

// Timeline groups the history into fixed time buckets for the UI. Pure
// aggregation, no side effects.
func (l *Log) Timeline(granularity string) []TimelineBucket {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var layout string
	switch granularity {
	case "hour":
		layout = "2006-01-02 15:00"
	case "day":
		layout = "2006-01-02"
	default: // minute
		layout = "2006-01-02 15:04"
	}

	type bucketAgg struct {
		TimelineBucket
		contributors map[string]struct{}
	}

	buckets := make(map[string]*bucketAgg)
	for _, e := range l.events {
		key := e.CreatedAt.Format(layout)
		b, ok := buckets[key]
		if !ok {
			b = &bucketAgg{
				TimelineBucket: TimelineBucket{
					Timestamp:     key,
					SequenceStart: e.Seq,
					SequenceEnd:   e.Seq,
				},
				contributors: make(map[string]struct{}),
			}
			buckets[key] = b
		}
		b.EventCount++
		if e.Seq > b.SequenceEnd {
			b.SequenceEnd = e.Seq
		}
		switch e.Kind {
		case KindCreate:
			b.Creates++
		case KindUpdate:
			b.Updates++
		case KindDelete:
			b.Deletes++
		}
		if e.Actor != "" {
			b.contributors[e.Actor] = struct{}{}
		}
	}

	timeline := make([]TimelineBucket, 0, len(buckets))
	for _, b := range buckets {
		b.ContributorCount = len(b.contributors)
		timeline = append(timeline, b.TimelineBucket)
	}
	sort.Slice(timeline, func(i, j int) bool { return timeline[i].Timestamp < timeline[j].Timestamp })
	return timeline
}

// Registry hands out one Log per board, created lazily.
type Registry struct {
	mu   sync.Mutex
	logs map[string]*Log
}

// NewRegistry creates an empty log registry.
func NewRegistry() *Registry {
	return &Registry{logs: make(map[string]*Log)}
}

// Get returns the board's log, creating it on first reference.
func (r *Registry) Get(boardID string) *Log {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.logs[boardID]
	if !ok {
		l = NewLog()
		r.logs[boardID] = l
	}
	return l
}

// Drop removes a board's log entirely.
func (r *Registry) Drop(boardID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.logs, boardID)
}
