package history

import (
	"errors"
	"testing"
	"time"
)

func TestAppendAssignsSequentialIDs(t *testing.T) {
	l := NewLog()

	e1 := l.Append(KindCreate, "obj-1", nil, map[string]any{"x": 1.0}, "alice")
	e2 := l.Append(KindUpdate, "obj-1", map[string]any{"x": 1.0}, map[string]any{"x": 2.0}, "bob")

	if e1.Seq != 1 || e2.Seq != 2 {
		t.Fatalf("sequences %d, %d; want 1, 2", e1.Seq, e2.Seq)
	}
	if e1.ID != "evt-000001" || e2.ID != "evt-000002" {
		t.Fatalf("ids %s, %s", e1.ID, e2.ID)
	}
	if l.Len() != 2 {
		t.Fatalf("Len = %d, want 2", l.Len())
	}
}

func TestListNewestFirstWithFilterAndPaging(t *testing.T) {
	l := NewLog()
	l.Append(KindCreate, "a", nil, nil, "u")
	l.Append(KindUpdate, "a", nil, nil, "u")
	l.Append(KindCreate, "b", nil, nil, "u")
	l.Append(KindDelete, "a", nil, nil, "u")

	events, total, hasMore := l.List("", 2, 0)
	if total != 4 || !hasMore {
		t.Fatalf("total=%d hasMore=%v", total, hasMore)
	}
	if events[0].Seq != 4 || events[1].Seq != 3 {
		t.Fatalf("expected newest first, got %d, %d", events[0].Seq, events[1].Seq)
	}

	creates, total, hasMore := l.List(KindCreate, 10, 0)
	if total != 2 || hasMore || len(creates) != 2 {
		t.Fatalf("create filter: total=%d hasMore=%v len=%d", total, hasMore, len(creates))
	}
	if creates[0].ObjectID != "b" {
		t.Fatalf("newest create should be b, got %s", creates[0].ObjectID)
	}

	if events, _, _ := l.List("", 10, 99); len(events) != 0 {
		t.Fatalf("offset past end should be empty, got %d", len(events))
	}
}

func TestSnapshotReplay(t *testing.T) {
	l := NewLog()
	l.Append(KindCreate, "x", nil, map[string]any{"id": "x", "color": "blue", "size": 3.0}, "u")
	l.Append(KindUpdate, "x", map[string]any{"color": "blue"}, map[string]any{"color": "red"}, "u")
	l.Append(KindDelete, "x", map[string]any{"id": "x", "color": "red", "size": 3.0}, nil, "u")

	mid := l.SnapshotAt(2, time.Time{})
	if mid.Seq != 2 {
		t.Fatalf("snapshot seq = %d, want 2", mid.Seq)
	}
	state := mid.Objects["x"]
	if state == nil {
		t.Fatal("x missing from snapshot at seq 2")
	}
	if state["color"] != "red" || state["size"] != 3.0 {
		t.Fatalf("merge lost fields: %v", state)
	}

	full := l.SnapshotAt(0, time.Time{})
	if len(full.Objects) != 0 {
		t.Fatalf("full replay should end empty (x deleted), got %v", full.Objects)
	}
	if full.Seq != 3 {
		t.Fatalf("full snapshot seq = %d, want 3", full.Seq)
	}
}

func TestSnapshotUpdateOnMissingObjectIsNoOp(t *testing.T) {
	l := NewLog()
	l.Append(KindUpdate, "ghost", nil, map[string]any{"color": "red"}, "u")

	snap := l.SnapshotAt(0, time.Time{})
	if len(snap.Objects) != 0 {
		t.Fatalf("update before create should not materialize an object: %v", snap.Objects)
	}
}

func TestRollbackAppendsCompensatingEvents(t *testing.T) {
	l := NewLog()
	l.Append(KindCreate, "x", nil, map[string]any{"id": "x", "color": "blue"}, "alice")
	l.Append(KindUpdate, "x", map[string]any{"color": "blue"}, map[string]any{"color": "red"}, "alice")
	l.Append(KindDelete, "x", map[string]any{"id": "x", "color": "red"}, nil, "alice")

	compensating, err := l.Rollback(1)
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if len(compensating) != 2 {
		t.Fatalf("got %d compensating events, want 2", len(compensating))
	}

	// Undone in reverse: the delete first (recreate), then the update.
	if compensating[0].Kind != KindCreate || compensating[0].Seq != 4 {
		t.Fatalf("first compensating event %s seq %d", compensating[0].Kind, compensating[0].Seq)
	}
	if compensating[1].Kind != KindUpdate || compensating[1].Seq != 5 {
		t.Fatalf("second compensating event %s seq %d", compensating[1].Kind, compensating[1].Seq)
	}
	for _, e := range compensating {
		if e.Actor != RollbackActor {
			t.Fatalf("compensating actor %q", e.Actor)
		}
	}

	// Replay after rollback: x exists with its pre-update state.
	snap := l.SnapshotAt(0, time.Time{})
	state := snap.Objects["x"]
	if state == nil {
		t.Fatal("x missing after rollback")
	}
	if state["color"] != "blue" {
		t.Fatalf("rollback did not restore pre-update state: %v", state)
	}

	// Prior events keep their sequence numbers.
	if l.Len() != 5 {
		t.Fatalf("Len = %d, want 5", l.Len())
	}
}

func TestRollbackNothingToUndo(t *testing.T) {
	l := NewLog()
	l.Append(KindCreate, "x", nil, map[string]any{"id": "x"}, "u")

	if _, err := l.Rollback(1); !errors.Is(err, ErrNothingToRollback) {
		t.Fatalf("expected ErrNothingToRollback, got %v", err)
	}
	if _, err := l.Rollback(99); !errors.Is(err, ErrNothingToRollback) {
		t.Fatalf("expected ErrNothingToRollback, got %v", err)
	}
}

func TestRollbackOfCreateDeletes(t *testing.T) {
	l := NewLog()
	l.Append(KindCreate, "x", nil, map[string]any{"id": "x"}, "u")
	l.Append(KindCreate, "y", nil, map[string]any{"id": "y"}, "u")

	compensating, err := l.Rollback(1)
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if len(compensating) != 1 || compensating[0].Kind != KindDelete || compensating[0].ObjectID != "y" {
		t.Fatalf("unexpected compensation: %+v", compensating)
	}

	snap := l.SnapshotAt(0, time.Time{})
	if _, ok := snap.Objects["y"]; ok {
		t.Fatal("y should be gone after rollback")
	}
	if _, ok := snap.Objects["x"]; !ok {
		t.Fatal("x should survive rollback to seq 1")
	}
}

func TestTimelineBuckets(t *testing.T) {
	l := NewLog()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	clock := base
	l.now = func() time.Time { return clock }

	l.Append(KindCreate, "a", nil, nil, "alice")
	l.Append(KindUpdate, "a", nil, nil, "bob")
	clock = base.Add(90 * time.Second)
	l.Append(KindDelete, "a", nil, nil, "alice")

	timeline := l.Timeline("minute")
	if len(timeline) != 2 {
		t.Fatalf("got %d minute buckets, want 2", len(timeline))
	}
	first := timeline[0]
	if first.EventCount != 2 || first.Creates != 1 || first.Updates != 1 {
		t.Fatalf("first bucket %+v", first)
	}
	if first.ContributorCount != 2 {
		t.Fatalf("contributor count %d, want 2", first.ContributorCount)
	}
	if first.SequenceStart != 1 || first.SequenceEnd != 2 {
		t.Fatalf("first bucket sequence range %d..%d", first.SequenceStart, first.SequenceEnd)
	}

	hourly := l.Timeline("hour")
	if len(hourly) != 1 || hourly[0].EventCount != 3 {
		t.Fatalf("hour buckets %+v", hourly)
	}
}
