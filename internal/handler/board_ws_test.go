package handler

import (
	"errors"
	"sync"
	"testing"

	"canvas-backend/internal/history"
	"canvas-backend/internal/hub"
	"canvas-backend/internal/spatial"
)

type fakeConn struct {
	mu   sync.Mutex
	sent []map[string]any
	fail bool
}

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("connection closed")
	}
	if m, ok := v.(map[string]any); ok {
		c.sent = append(c.sent, m)
	}
	return nil
}

func (c *fakeConn) ofType(msgType string) []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []map[string]any
	for _, m := range c.sent {
		if m["type"] == msgType {
			out = append(out, m)
		}
	}
	return out
}

type dispatchFixture struct {
	handler *BoardWSHandler
	hub     *hub.Hub
	spatial *spatial.Registry
	history *history.Registry
	alice   *fakeConn
	bob     *fakeConn
}

func newDispatchFixture(t *testing.T) *dispatchFixture {
	t.Helper()
	h := hub.New()
	sp := spatial.NewRegistry(1000)
	hist := history.NewRegistry()

	f := &dispatchFixture{
		handler: NewBoardWSHandler(h, sp, hist, nil, nil),
		hub:     h,
		spatial: sp,
		history: hist,
		alice:   &fakeConn{},
		bob:     &fakeConn{},
	}
	h.Connect("board-1", "alice", "Alice", f.alice)
	h.Connect("board-1", "bob", "Bob", f.bob)
	return f
}

func TestDispatchObjectCreate(t *testing.T) {
	f := newDispatchFixture(t)

	f.handler.dispatch("board-1", "alice", []byte(`{
		"type": "object_create",
		"object": {"id": "obj-1", "x": 100, "y": 200, "width": 50, "height": 50}
	}`))

	if f.history.Get("board-1").Len() != 1 {
		t.Fatalf("log length %d, want 1", f.history.Get("board-1").Len())
	}
	events, _, _ := f.history.Get("board-1").List("", 10, 0)
	if events[0].Kind != history.KindCreate || events[0].Actor != "alice" {
		t.Fatalf("event %+v", events[0])
	}

	if _, ok := f.spatial.Get("board-1").Get("obj-1"); !ok {
		t.Fatal("object missing from index")
	}

	if len(f.bob.ofType("object_created")) != 1 {
		t.Fatal("bob did not receive object_created")
	}
	if len(f.alice.ofType("object_created")) != 0 {
		t.Fatal("sender received its own object_created")
	}
}

func TestDispatchObjectCreateGeneratesMissingID(t *testing.T) {
	f := newDispatchFixture(t)

	f.handler.dispatch("board-1", "alice", []byte(`{
		"type": "object_create",
		"object": {"x": 0, "y": 0}
	}`))

	msgs := f.bob.ofType("object_created")
	if len(msgs) != 1 {
		t.Fatal("bob did not receive object_created")
	}
	obj := msgs[0]["object"].(map[string]any)
	id, _ := obj["id"].(string)
	if id == "" {
		t.Fatal("no id generated for the object")
	}
	if _, ok := f.spatial.Get("board-1").Get(id); !ok {
		t.Fatal("generated id not in index")
	}
}

func TestDispatchObjectUpdateMerges(t *testing.T) {
	f := newDispatchFixture(t)
	f.spatial.Get("board-1").Upsert("obj-1", map[string]any{"id": "obj-1", "x": 10.0, "color": "blue"})

	f.handler.dispatch("board-1", "alice", []byte(`{
		"type": "object_update",
		"objectId": "obj-1",
		"changes": {"color": "red"},
		"previousState": {"id": "obj-1", "x": 10, "color": "blue"}
	}`))

	obj, _ := f.spatial.Get("board-1").Get("obj-1")
	if obj["color"] != "red" {
		t.Fatalf("change not applied: %v", obj)
	}
	if obj["x"] != 10.0 {
		t.Fatalf("untouched field lost in merge: %v", obj)
	}

	if f.history.Get("board-1").Len() != 1 {
		t.Fatal("update not logged")
	}
	if len(f.bob.ofType("object_updated")) != 1 {
		t.Fatal("bob did not receive object_updated")
	}
}

func TestDispatchObjectUpdateWithoutIDIsDropped(t *testing.T) {
	f := newDispatchFixture(t)

	f.handler.dispatch("board-1", "alice", []byte(`{"type": "object_update", "changes": {"color": "red"}}`))

	if f.history.Get("board-1").Len() != 0 {
		t.Fatal("malformed update reached the log")
	}
	if len(f.bob.ofType("object_updated")) != 0 {
		t.Fatal("malformed update was broadcast")
	}
}

func TestDispatchObjectDelete(t *testing.T) {
	f := newDispatchFixture(t)
	f.spatial.Get("board-1").Upsert("obj-1", map[string]any{"id": "obj-1", "x": 0.0})

	f.handler.dispatch("board-1", "alice", []byte(`{
		"type": "object_delete",
		"objectId": "obj-1",
		"previousState": {"id": "obj-1", "x": 0}
	}`))

	if _, ok := f.spatial.Get("board-1").Get("obj-1"); ok {
		t.Fatal("object survived delete")
	}
	events, _, _ := f.history.Get("board-1").List("", 10, 0)
	if len(events) != 1 || events[0].Kind != history.KindDelete {
		t.Fatalf("events %+v", events)
	}
	if len(f.bob.ofType("object_deleted")) != 1 {
		t.Fatal("bob did not receive object_deleted")
	}
}

func TestDispatchBoardPublishSkipsLog(t *testing.T) {
	f := newDispatchFixture(t)

	f.handler.dispatch("board-1", "alice", []byte(`{
		"type": "board_publish",
		"objects": [
			{"id": "a", "x": 0, "y": 0},
			{"id": "b", "x": 1500, "y": 0},
			{"x": 99, "y": 99}
		]
	}`))

	if f.spatial.Get("board-1").Stats().TotalObjects != 2 {
		t.Fatalf("stats %+v, want 2 objects (id-less entry skipped)", f.spatial.Get("board-1").Stats())
	}
	if f.history.Get("board-1").Len() != 0 {
		t.Fatal("publish produced log events")
	}
	if len(f.bob.ofType("board_sync")) != 1 {
		t.Fatal("bob did not receive board_sync")
	}
	if len(f.alice.ofType("board_sync")) != 0 {
		t.Fatal("publisher received its own board_sync")
	}
}

func TestDispatchCursorMove(t *testing.T) {
	f := newDispatchFixture(t)

	f.handler.dispatch("board-1", "alice", []byte(`{"type": "cursor_move", "x": 42, "y": 7}`))

	msgs := f.bob.ofType("cursor_update")
	if len(msgs) != 1 {
		t.Fatal("bob did not receive cursor_update")
	}
	if msgs[0]["x"] != 42.0 || msgs[0]["y"] != 7.0 {
		t.Fatalf("cursor payload %v", msgs[0])
	}
	if len(f.alice.ofType("cursor_update")) != 0 {
		t.Fatal("sender received its own cursor_update")
	}
}

func TestDispatchPing(t *testing.T) {
	f := newDispatchFixture(t)

	f.handler.dispatch("board-1", "alice", []byte(`{"type": "ping"}`))

	if len(f.alice.ofType("pong")) != 1 {
		t.Fatal("sender did not receive pong")
	}
	if len(f.bob.ofType("pong")) != 0 {
		t.Fatal("pong leaked to other sessions")
	}
}

func TestDispatchVoiceChannelLifecycle(t *testing.T) {
	f := newDispatchFixture(t)

	f.handler.dispatch("board-1", "alice", []byte(`{
		"type": "voice_channel_create",
		"channel": {"id": "voice-x", "name": "Standup"}
	}`))
	// Channel broadcasts include the acting user.
	if len(f.alice.ofType("voice_channel_created")) != 1 || len(f.bob.ofType("voice_channel_created")) != 1 {
		t.Fatal("voice_channel_created not broadcast to everyone")
	}

	f.handler.dispatch("board-1", "bob", []byte(`{"type": "voice_channel_join", "channelId": "voice-x"}`))
	if got := f.hub.VoiceUser("board-1", "bob"); got != "voice-x" {
		t.Fatalf("bob in %q, want voice-x", got)
	}

	f.handler.dispatch("board-1", "alice", []byte(`{"type": "voice_channel_delete", "channelId": "voice-x"}`))
	if got := f.hub.VoiceUser("board-1", "bob"); got != hub.DefaultVoiceChannelID {
		t.Fatalf("bob not moved to default after delete, in %q", got)
	}
}

func TestDispatchVoiceChannelMoveUnknownTargetIsNoOp(t *testing.T) {
	f := newDispatchFixture(t)

	f.handler.dispatch("board-1", "alice", []byte(`{
		"type": "voice_channel_move",
		"channelId": "voice-x",
		"targetUserId": "ghost"
	}`))

	if len(f.bob.ofType("voice_channel_join")) != 0 {
		t.Fatal("move of unknown user was broadcast")
	}
}

func TestDispatchSignalingUnicast(t *testing.T) {
	f := newDispatchFixture(t)

	f.handler.dispatch("board-1", "alice", []byte(`{
		"type": "webrtc_offer",
		"targetUserId": "bob",
		"sdp": "v=0..."
	}`))

	msgs := f.bob.ofType("webrtc_offer")
	if len(msgs) != 1 {
		t.Fatal("bob did not receive the offer")
	}
	if msgs[0]["userId"] != "alice" || msgs[0]["sdp"] != "v=0..." {
		t.Fatalf("offer payload %v", msgs[0])
	}
	if len(f.alice.ofType("webrtc_offer")) != 0 {
		t.Fatal("offer echoed to sender")
	}

	// Unresolved target degrades to a silent no-op.
	f.handler.dispatch("board-1", "alice", []byte(`{
		"type": "webrtc_answer",
		"targetUserId": "ghost"
	}`))
	if len(f.bob.ofType("webrtc_answer")) != 0 {
		t.Fatal("answer for unknown target leaked")
	}
}

func TestDispatchUserProfileBroadcastsOnlyChanges(t *testing.T) {
	f := newDispatchFixture(t)

	f.handler.dispatch("board-1", "alice", []byte(`{"type": "user_profile", "displayName": "Alicia"}`))
	if len(f.bob.ofType("user_profile_update")) != 1 {
		t.Fatal("profile change not broadcast")
	}

	f.handler.dispatch("board-1", "alice", []byte(`{"type": "user_profile", "displayName": "Alicia"}`))
	if len(f.bob.ofType("user_profile_update")) != 1 {
		t.Fatal("no-op profile update was broadcast")
	}
}

func TestDispatchWorkspaceRegions(t *testing.T) {
	f := newDispatchFixture(t)

	f.handler.dispatch("board-1", "alice", []byte(`{
		"type": "workspace_region_create",
		"region": {"id": "r1", "name": "Planning", "x": 0, "y": 0}
	}`))
	if len(f.bob.ofType("workspace_region_created")) != 1 {
		t.Fatal("region create not broadcast")
	}
	if len(f.alice.ofType("workspace_region_created")) != 0 {
		t.Fatal("region create echoed to sender")
	}

	f.handler.dispatch("board-1", "bob", []byte(`{"type": "workspace_region_delete", "regionId": "r1"}`))
	if len(f.alice.ofType("workspace_region_deleted")) != 1 {
		t.Fatal("region delete not broadcast")
	}
	if regions := f.hub.Regions("board-1"); len(regions) != 0 {
		t.Fatalf("region survived delete: %v", regions)
	}

	// Deleting again is a silent no-op.
	f.handler.dispatch("board-1", "bob", []byte(`{"type": "workspace_region_delete", "regionId": "r1"}`))
	if len(f.alice.ofType("workspace_region_deleted")) != 1 {
		t.Fatal("no-op delete was broadcast")
	}
}

func TestDispatchMalformedJSONKeepsGoing(t *testing.T) {
	f := newDispatchFixture(t)

	f.handler.dispatch("board-1", "alice", []byte(`{not json`))
	f.handler.dispatch("board-1", "alice", []byte(`{"type": "ping"}`))

	if len(f.alice.ofType("pong")) != 1 {
		t.Fatal("dispatch stopped working after malformed frame")
	}
}

func TestRollbackAppliesToIndexAndBroadcasts(t *testing.T) {
	f := newDispatchFixture(t)
	hh := NewHistoryHandler(f.history, f.spatial, f.hub, 200)

	f.handler.dispatch("board-1", "alice", []byte(`{
		"type": "object_create",
		"object": {"id": "obj-1", "x": 0, "y": 0, "color": "blue"}
	}`))
	f.handler.dispatch("board-1", "alice", []byte(`{
		"type": "object_update",
		"objectId": "obj-1",
		"changes": {"color": "red"},
		"previousState": {"color": "blue"}
	}`))

	compensating, err := f.history.Get("board-1").Rollback(1)
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	for _, e := range compensating {
		hh.applyAndBroadcast("board-1", e)
	}

	obj, ok := f.spatial.Get("board-1").Get("obj-1")
	if !ok {
		t.Fatal("object gone after rollback")
	}
	if obj["color"] != "blue" {
		t.Fatalf("rollback did not restore index state: %v", obj)
	}

	// Compensating mutations reach every session, the original actor too.
	if len(f.alice.ofType("object_updated")) != 1 {
		t.Fatal("alice did not receive the compensating update")
	}
	if len(f.bob.ofType("object_updated")) != 2 {
		t.Fatalf("bob received %d object_updated, want organic + compensating", len(f.bob.ofType("object_updated")))
	}
}
