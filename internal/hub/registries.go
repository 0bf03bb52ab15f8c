package hub

import "sort"

// Voice channels and workspace regions are weakly-typed, board-scoped
// registries: last write wins, existence is presence in the map. They carry
// no history.

func (b *boardState) voiceChannelListLocked() []map[string]any {
	channels := make([]map[string]any, 0, len(b.voiceChannels))
	for _, ch := range b.voiceChannels {
		channels = append(channels, ch)
	}
	sort.Slice(channels, func(i, j int) bool {
		ci, _ := channels[i]["id"].(string)
		cj, _ := channels[j]["id"].(string)
		return ci < cj
	})
	return channels
}

func (b *boardState) voiceUserListLocked() []map[string]any {
	users := make([]map[string]any, 0, len(b.voiceUsers))
	for userID, channelID := range b.voiceUsers {
		users = append(users, map[string]any{
			"userId":    userID,
			"channelId": channelID,
		})
	}
	return users
}

func (b *boardState) regionListLocked() []map[string]any {
	regions := make([]map[string]any, 0, len(b.regions))
	for _, r := range b.regions {
		regions = append(regions, r)
	}
	return regions
}

// VoiceChannels lists the board's channels, ensuring the default exists.
func (h *Hub) VoiceChannels(boardID string) []map[string]any {
	b := h.board(boardID)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ensureDefaultChannelLocked()
	return b.voiceChannelListLocked()
}

// UpsertVoiceChannel stores a channel keyed by its "id" field. A payload
// without an id is ignored; the return reports whether anything was stored.
func (h *Hub) UpsertVoiceChannel(boardID string, channel map[string]any) bool {
	id, _ := channel["id"].(string)
	if id == "" {
		return false
	}
	b := h.board(boardID)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ensureDefaultChannelLocked()
	b.voiceChannels[id] = channel
	return true
}

// RemoveVoiceChannel deletes a channel, reporting whether it existed. The
// default channel id is reserved and cannot be removed.
func (h *Hub) RemoveVoiceChannel(boardID, channelID string) bool {
	if channelID == "" || channelID == DefaultVoiceChannelID {
		return false
	}
	b := h.peek(boardID)
	if b == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.voiceChannels[channelID]; !ok {
		return false
	}
	delete(b.voiceChannels, channelID)
	// Members of a removed channel fall back to the default.
	for userID, cid := range b.voiceUsers {
		if cid == channelID {
			b.voiceUsers[userID] = DefaultVoiceChannelID
		}
	}
	return true
}

// SetVoiceUser records a user's channel membership.
func (h *Hub) SetVoiceUser(boardID, userID, channelID string) {
	if userID == "" || channelID == "" {
		return
	}
	b := h.board(boardID)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.voiceUsers[userID] = channelID
}

// VoiceUser returns the channel a user is in, or "" when unknown.
func (h *Hub) VoiceUser(boardID, userID string) string {
	b := h.peek(boardID)
	if b == nil {
		return ""
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.voiceUsers[userID]
}

// VoiceUsers lists the board's channel memberships.
func (h *Hub) VoiceUsers(boardID string) []map[string]any {
	b := h.peek(boardID)
	if b == nil {
		return []map[string]any{}
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.voiceUserListLocked()
}

// UpsertRegion stores a workspace region keyed by its "id" field.
func (h *Hub) UpsertRegion(boardID string, region map[string]any) bool {
	id, _ := region["id"].(string)
	if id == "" {
		return false
	}
	b := h.board(boardID)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.regions[id] = region
	return true
}

// RemoveRegion deletes a workspace region, reporting whether it existed.
func (h *Hub) RemoveRegion(boardID, regionID string) bool {
	b := h.peek(boardID)
	if b == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.regions[regionID]; !ok {
		return false
	}
	delete(b.regions, regionID)
	return true
}

// Regions lists the board's workspace regions.
func (h *Hub) Regions(boardID string) []map[string]any {
	b := h.peek(boardID)
	if b == nil {
		return []map[string]any{}
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.regionListLocked()
}

// Drop removes every registry of a board, e.g. on board deletion.
func (h *Hub) Drop(boardID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.boards, boardID)
}
