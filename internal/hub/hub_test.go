package hub

import (
	"errors"
	"sync"
	"testing"
)

// fakeConn records everything written to it and can be told to fail.
type fakeConn struct {
	mu   sync.Mutex
	sent []any
	fail bool
}

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("connection closed")
	}
	c.sent = append(c.sent, v)
	return nil
}

func (c *fakeConn) messages() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]any, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *fakeConn) messagesOfType(msgType string) []map[string]any {
	var out []map[string]any
	for _, raw := range c.messages() {
		if m, ok := raw.(map[string]any); ok && m["type"] == msgType {
			out = append(out, m)
		}
	}
	return out
}

func TestConnectAssignsDistinctColors(t *testing.T) {
	h := New()

	s1 := h.Connect("b", "u1", "Alice", &fakeConn{})
	s2 := h.Connect("b", "u2", "Bob", &fakeConn{})

	if s1.Color == s2.Color {
		t.Fatalf("both sessions got color %s", s1.Color)
	}
	if s1.Color != cursorColors[0] {
		t.Fatalf("first session color %s, want %s", s1.Color, cursorColors[0])
	}
}

func TestConnectColorWrapsWhenPaletteExhausted(t *testing.T) {
	h := New()
	for i := 0; i < len(cursorColors); i++ {
		h.Connect("b", string(rune('a'+i)), "user", &fakeConn{})
	}

	s := h.Connect("b", "overflow", "user", &fakeConn{})
	if s.Color != cursorColors[0] {
		t.Fatalf("overflow session color %s, want palette reuse of %s", s.Color, cursorColors[0])
	}
}

func TestConnectSendsPresenceSyncAndAnnouncesJoin(t *testing.T) {
	h := New()
	first := &fakeConn{}
	h.Connect("b", "u1", "Alice", first)

	second := &fakeConn{}
	h.Connect("b", "u2", "Bob", second)

	// The newcomer gets the four sync messages.
	for _, want := range []string{"users_list", "voice_channels_sync", "voice_channel_users", "workspace_regions_sync"} {
		if len(second.messagesOfType(want)) != 1 {
			t.Fatalf("newcomer missing %s", want)
		}
	}
	users := second.messagesOfType("users_list")[0]["users"].([]map[string]any)
	if len(users) != 1 || users[0]["userId"] != "u1" {
		t.Fatalf("users_list %v", users)
	}

	// The existing session hears about the join; the newcomer does not.
	if len(first.messagesOfType("user_joined")) != 1 {
		t.Fatal("existing session did not receive user_joined")
	}
	if len(second.messagesOfType("user_joined")) != 0 {
		t.Fatal("newcomer received its own join notice")
	}
}

func TestDefaultVoiceChannelMembership(t *testing.T) {
	h := New()
	h.Connect("b", "u1", "Alice", &fakeConn{})

	if got := h.VoiceUser("b", "u1"); got != DefaultVoiceChannelID {
		t.Fatalf("membership %q, want %q", got, DefaultVoiceChannelID)
	}

	channels := h.VoiceChannels("b")
	if len(channels) != 1 || channels[0]["id"] != DefaultVoiceChannelID {
		t.Fatalf("channels %v", channels)
	}
}

func TestBroadcastExcludesSender(t *testing.T) {
	h := New()
	conns := map[string]*fakeConn{}
	for _, id := range []string{"u1", "u2", "u3"} {
		c := &fakeConn{}
		conns[id] = c
		h.Connect("b", id, id, c)
	}

	h.Broadcast("b", map[string]any{"type": "probe"}, "u2")

	if len(conns["u1"].messagesOfType("probe")) != 1 || len(conns["u3"].messagesOfType("probe")) != 1 {
		t.Fatal("recipients did not receive broadcast")
	}
	if len(conns["u2"].messagesOfType("probe")) != 0 {
		t.Fatal("excluded sender received broadcast")
	}
}

func TestBroadcastReapsDeadConnections(t *testing.T) {
	h := New()
	alive := &fakeConn{}
	dead := &fakeConn{fail: true}
	h.Connect("b", "alive", "A", alive)
	h.Connect("b", "dead", "D", dead)

	h.Broadcast("b", map[string]any{"type": "probe"}, "")

	// The dead session is gone; delivery to the live one still happened.
	if len(alive.messagesOfType("probe")) != 1 {
		t.Fatal("live session missed the broadcast")
	}
	if h.HasSession("b", "dead") {
		t.Fatal("dead session was not reaped")
	}
	if !h.HasSession("b", "alive") {
		t.Fatal("live session was reaped")
	}
}

func TestDisconnectReturnsChannelAndPrunesBoard(t *testing.T) {
	h := New()
	h.Connect("b", "u1", "Alice", &fakeConn{})
	h.SetVoiceUser("b", "u1", "voice-custom")

	channelID := h.Disconnect("b", "u1")
	if channelID != "voice-custom" {
		t.Fatalf("Disconnect returned %q, want voice-custom", channelID)
	}
	if h.SessionCount("b") != 0 {
		t.Fatal("session survived disconnect")
	}

	// Only the lazily-created default channel remained, so the board state
	// is pruned entirely.
	h.mu.RLock()
	_, exists := h.boards["b"]
	h.mu.RUnlock()
	if exists {
		t.Fatal("empty board state was not pruned")
	}

	if got := h.Disconnect("b", "u1"); got != "" {
		t.Fatalf("second disconnect returned %q", got)
	}
}

func TestBoardSurvivesDisconnectWhileRegistriesHoldContent(t *testing.T) {
	h := New()
	h.Connect("b", "u1", "Alice", &fakeConn{})
	h.UpsertRegion("b", map[string]any{"id": "r1", "name": "Planning"})

	h.Disconnect("b", "u1")

	if regions := h.Regions("b"); len(regions) != 1 {
		t.Fatalf("regions lost on disconnect: %v", regions)
	}
}

func TestRemoveVoiceChannelFallsMembersBack(t *testing.T) {
	h := New()
	h.Connect("b", "u1", "Alice", &fakeConn{})
	h.UpsertVoiceChannel("b", map[string]any{"id": "voice-x", "name": "X"})
	h.SetVoiceUser("b", "u1", "voice-x")

	if !h.RemoveVoiceChannel("b", "voice-x") {
		t.Fatal("RemoveVoiceChannel reported failure")
	}
	if got := h.VoiceUser("b", "u1"); got != DefaultVoiceChannelID {
		t.Fatalf("member not moved to default, in %q", got)
	}

	if h.RemoveVoiceChannel("b", DefaultVoiceChannelID) {
		t.Fatal("default channel must not be removable")
	}
}

func TestUpdateProfileReportsChange(t *testing.T) {
	h := New()
	h.Connect("b", "u1", "Alice", &fakeConn{})

	name := "Alicia"
	profile, changed := h.UpdateProfile("b", "u1", &name, nil)
	if !changed || profile.DisplayName != "Alicia" {
		t.Fatalf("changed=%v profile=%+v", changed, profile)
	}

	if _, changed := h.UpdateProfile("b", "u1", &name, nil); changed {
		t.Fatal("identical update reported a change")
	}

	if _, changed := h.UpdateProfile("b", "ghost", &name, nil); changed {
		t.Fatal("unknown session reported a change")
	}
}

func TestLastConnectWins(t *testing.T) {
	h := New()
	old := &fakeConn{}
	h.Connect("b", "u1", "Alice", old)
	replacement := &fakeConn{}
	h.Connect("b", "u1", "Alice", replacement)

	if h.SessionCount("b") != 1 {
		t.Fatalf("session count %d, want 1", h.SessionCount("b"))
	}

	h.Broadcast("b", map[string]any{"type": "probe"}, "")
	if len(replacement.messagesOfType("probe")) != 1 {
		t.Fatal("replacement connection did not receive broadcast")
	}
}

func TestSendToUnknownUserIsNoOp(t *testing.T) {
	h := New()
	h.SendTo("nope", "ghost", map[string]any{"type": "probe"})
	// Reaching here without panic is the assertion.
}
