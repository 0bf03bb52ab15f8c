package spatial

import (
	"sort"
	"testing"
)

func obj(id string, x, y, w, h float64) Object {
	return Object{"id": id, "x": x, "y": y, "width": w, "height": h}
}

func chunkIDsOf(idx *Index, objectID string) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	ids := make([]string, 0)
	for chunkID, members := range idx.chunks {
		if _, ok := members[objectID]; ok {
			ids = append(ids, chunkID)
		}
	}
	sort.Strings(ids)
	return ids
}

func TestChunkFromWorldFloorsNegatives(t *testing.T) {
	cases := []struct {
		x, y float64
		want string
	}{
		{0, 0, "0:0"},
		{999.9, 999.9, "0:0"},
		{1000, 0, "1:0"},
		{-1, -1, "-1:-1"},
		{-1000, -1, "-1:-1"},
		{-1000.5, 0, "-2:0"},
	}
	for _, tc := range cases {
		got := ChunkFromWorld(tc.x, tc.y, 1000).ID()
		if got != tc.want {
			t.Errorf("ChunkFromWorld(%v, %v) = %s, want %s", tc.x, tc.y, got, tc.want)
		}
	}
}

func TestParseChunkIDRoundTrip(t *testing.T) {
	coord, err := ParseChunkID("-3:7")
	if err != nil {
		t.Fatalf("ParseChunkID: %v", err)
	}
	if coord.X != -3 || coord.Y != 7 {
		t.Fatalf("got %+v, want {-3 7}", coord)
	}
	if coord.ID() != "-3:7" {
		t.Fatalf("round trip produced %s", coord.ID())
	}

	if _, err := ParseChunkID("nonsense"); err == nil {
		t.Fatal("expected error for malformed id")
	}
}

func TestUpsertSpanningObjectInAllTouchedChunks(t *testing.T) {
	idx := NewIndex(1000)
	idx.Upsert("wide", obj("wide", 900, 900, 200, 200))

	got := chunkIDsOf(idx, "wide")
	want := []string{"0:0", "0:1", "1:0", "1:1"}
	if len(got) != len(want) {
		t.Fatalf("object in chunks %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("object in chunks %v, want %v", got, want)
		}
	}
}

func TestUpsertIsIdempotent(t *testing.T) {
	idx := NewIndex(1000)
	payload := obj("a", 100, 100, 50, 50)

	idx.Upsert("a", payload)
	first := idx.Stats()
	idx.Upsert("a", payload)
	second := idx.Stats()

	if first != second {
		t.Fatalf("stats changed on repeated upsert: %+v -> %+v", first, second)
	}
	if second.TotalObjects != 1 || second.NonEmptyChunks != 1 {
		t.Fatalf("unexpected stats %+v", second)
	}
}

func TestUpsertMovePurgesOldMembership(t *testing.T) {
	idx := NewIndex(1000)
	idx.Upsert("mover", obj("mover", 100, 100, 50, 50))

	if got := chunkIDsOf(idx, "mover"); len(got) != 1 || got[0] != "0:0" {
		t.Fatalf("before move: %v", got)
	}

	idx.Upsert("mover", obj("mover", 1100, 1100, 50, 50))

	got := chunkIDsOf(idx, "mover")
	if len(got) != 1 || got[0] != "1:1" {
		t.Fatalf("after move: %v, want [1:1]", got)
	}
	if ids := idx.NonEmptyChunkIDs(); len(ids) != 1 {
		t.Fatalf("stale chunk left behind: %v", ids)
	}

	byChunk := idx.QueryChunks([]string{"0:0", "1:1"})
	if len(byChunk["0:0"]) != 0 {
		t.Fatalf("old chunk still returns the object: %v", byChunk["0:0"])
	}
	if len(byChunk["1:1"]) != 1 || byChunk["1:1"][0]["id"] != "mover" {
		t.Fatalf("new chunk query: %v", byChunk["1:1"])
	}
}

func TestRemove(t *testing.T) {
	idx := NewIndex(1000)
	idx.Upsert("a", obj("a", 10, 10, 5, 5))

	data, ok := idx.Remove("a")
	if !ok {
		t.Fatal("Remove reported missing object")
	}
	if data["id"] != "a" {
		t.Fatalf("Remove returned wrong payload: %v", data)
	}
	if _, ok := idx.Get("a"); ok {
		t.Fatal("object still present after Remove")
	}
	if len(idx.NonEmptyChunkIDs()) != 0 {
		t.Fatal("chunk membership survived Remove")
	}

	if _, ok := idx.Remove("a"); ok {
		t.Fatal("second Remove should report not found")
	}
}

func TestQueryViewportDeduplicates(t *testing.T) {
	idx := NewIndex(1000)
	// Spans four chunks; the viewport covers all of them.
	idx.Upsert("wide", obj("wide", 900, 900, 200, 200))
	idx.Upsert("outside", obj("outside", 5000, 5000, 10, 10))

	viewport := BoundingBox{MinX: 0, MinY: 0, MaxX: 2000, MaxY: 2000}
	result := idx.QueryViewport(viewport)
	if len(result) != 1 {
		t.Fatalf("got %d objects, want 1 (deduplicated)", len(result))
	}
	if result[0]["id"] != "wide" {
		t.Fatalf("wrong object: %v", result[0])
	}

	ids := idx.ViewportChunkIDs(viewport)
	if len(ids) != 9 {
		t.Fatalf("viewport spans %d chunks, want 9", len(ids))
	}
}

func TestQueryChunksUnknownIDsAreEmpty(t *testing.T) {
	idx := NewIndex(1000)
	idx.Upsert("a", obj("a", 10, 10, 5, 5))

	result := idx.QueryChunks([]string{"0:0", "42:42"})
	if len(result["0:0"]) != 1 {
		t.Fatalf("chunk 0:0 has %d objects, want 1", len(result["0:0"]))
	}
	if objects, ok := result["42:42"]; !ok || len(objects) != 0 {
		t.Fatalf("unknown chunk should map to empty slice, got %v", result["42:42"])
	}
}

func TestRegistryIsolatesBoards(t *testing.T) {
	reg := NewRegistry(1000)
	reg.Get("board-a").Upsert("a", obj("a", 0, 0, 10, 10))

	if reg.Get("board-b").Stats().TotalObjects != 0 {
		t.Fatal("boards share index state")
	}
	if reg.Get("board-a") != reg.Get("board-a") {
		t.Fatal("registry returned different instances for the same board")
	}

	reg.Drop("board-a")
	if reg.Get("board-a").Stats().TotalObjects != 0 {
		t.Fatal("Drop did not reset board state")
	}
}
