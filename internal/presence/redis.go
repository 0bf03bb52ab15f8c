package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// PresenceData is the roster entry mirrored to Redis for one connected user.
// The hub stays authoritative for the live process; this mirror exists so
// boards spread over several servers can still report who is online.
type PresenceData struct {
	BoardID       string `json:"board_id"`
	UserID        string `json:"user_id"`
	DisplayName   string `json:"display_name"`
	Color         string `json:"color"`
	ServerID      string `json:"server_id"`
	LastHeartbeat int64  `json:"last_heartbeat"`
}

// Manager mirrors board presence into Redis with a TTL per entry, so crashed
// servers age out of the roster without cleanup passes.
type Manager struct {
	client   *redis.Client
	serverID string
	ttl      time.Duration
}

// NewManager connects the presence mirror.
func NewManager(addr, password string, db int, serverID string) *Manager {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &Manager{
		client:   rdb,
		serverID: serverID,
		ttl:      60 * time.Second,
	}
}

func (m *Manager) userKey(boardID, userID string) string {
	return fmt.Sprintf("presence:board:%s:user:%s", boardID, userID)
}

func (m *Manager) boardPattern(boardID string) string {
	return fmt.Sprintf("presence:board:%s:user:*", boardID)
}

// SetPresence records a connect (or refreshes a heartbeat).
func (m *Manager) SetPresence(ctx context.Context, boardID, userID, displayName, color string) error {
	data := PresenceData{
		BoardID:       boardID,
		UserID:        userID,
		DisplayName:   displayName,
		Color:         color,
		ServerID:      m.serverID,
		LastHeartbeat: time.Now().Unix(),
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return m.client.Set(ctx, m.userKey(boardID, userID), jsonData, m.ttl).Err()
}

// UpdateHeartbeat extends the TTL of an existing entry.
func (m *Manager) UpdateHeartbeat(ctx context.Context, boardID, userID string) error {
	ok, err := m.client.Expire(ctx, m.userKey(boardID, userID), m.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("user %s not present on board %s", userID, boardID)
	}
	return nil
}

// RemovePresence records a disconnect.
func (m *Manager) RemovePresence(ctx context.Context, boardID, userID string) error {
	return m.client.Del(ctx, m.userKey(boardID, userID)).Err()
}

// GetBoardPresence lists the roster of one board across all servers.
func (m *Manager) GetBoardPresence(ctx context.Context, boardID string) ([]PresenceData, error) {
	var keys []string
	iter := m.client.Scan(ctx, 0, m.boardPattern(boardID), 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return []PresenceData{}, nil
	}

	results, err := m.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	roster := make([]PresenceData, 0, len(results))
	for _, result := range results {
		strVal, ok := result.(string)
		if !ok {
			continue // entry expired between SCAN and MGET
		}
		var data PresenceData
		if err := json.Unmarshal([]byte(strVal), &data); err == nil {
			roster = append(roster, data)
		}
	}
	return roster, nil
}

// PublishPresence announces a roster change to other servers.
func (m *Manager) PublishPresence(ctx context.Context, data PresenceData) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return m.client.Publish(ctx, "presence_updates", jsonData).Err()
}

// SubscribePresence subscribes to roster changes.
func (m *Manager) SubscribePresence(ctx context.Context) *redis.PubSub {
	return m.client.Subscribe(ctx, "presence_updates")
}

// Close shuts down the connection pool.
func (m *Manager) Close() error {
	return m.client.Close()
}
