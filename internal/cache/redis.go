package cache

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// ChatMessage is one cached chat entry of a board.
type ChatMessage struct {
	BoardID     string    `json:"boardId"`
	GroupID     string    `json:"groupId,omitempty"`
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
}

// RedisClient wraps the Redis client for the per-board chat backlog. Chat is
// ephemeral signaling, not canvas history; the backlog only exists so late
// joiners can catch up, and it expires on its own.
type RedisClient struct {
	client  *redis.Client
	backlog int64
}

// NewRedisClient connects and pings Redis.
func NewRedisClient(addr, password string, db, backlog int) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	log.Printf("[Redis] Connected to %s", addr)
	return &RedisClient{client: client, backlog: int64(backlog)}, nil
}

func chatKey(boardID string) string {
	return "board:" + boardID + ":chat"
}

// AddChatMessage appends a message to the board backlog, trims it to the
// configured size and refreshes the 24h TTL.
func (r *RedisClient) AddChatMessage(ctx context.Context, boardID string, msg *ChatMessage) error {
	key := chatKey(boardID)
	msg.Timestamp = time.Now()

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	if err := r.client.RPush(ctx, key, data).Err(); err != nil {
		log.Printf("[Redis] Failed to add chat message: %v", err)
		return err
	}
	if r.backlog > 0 {
		r.client.LTrim(ctx, key, -r.backlog, -1)
	}
	r.client.Expire(ctx, key, 24*time.Hour)

	return nil
}

// GetRecentChatMessages returns the last count messages of a board.
func (r *RedisClient) GetRecentChatMessages(ctx context.Context, boardID string, count int64) ([]ChatMessage, error) {
	results, err := r.client.LRange(ctx, chatKey(boardID), -count, -1).Result()
	if err != nil {
		return nil, err
	}

	messages := make([]ChatMessage, 0, len(results))
	for _, data := range results {
		var m ChatMessage
		if err := json.Unmarshal([]byte(data), &m); err != nil {
			continue
		}
		messages = append(messages, m)
	}
	return messages, nil
}

// ChatMessageCount returns the backlog length of a board.
func (r *RedisClient) ChatMessageCount(ctx context.Context, boardID string) (int64, error) {
	return r.client.LLen(ctx, chatKey(boardID)).Result()
}

// FlushBoard drops the board's chat backlog, e.g. on board deletion.
func (r *RedisClient) FlushBoard(ctx context.Context, boardID string) error {
	return r.client.Del(ctx, chatKey(boardID)).Err()
}

// Close shuts down the connection pool.
func (r *RedisClient) Close() error {
	return r.client.Close()
}
