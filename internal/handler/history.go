package handler

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"canvas-backend/internal/history"
	"canvas-backend/internal/hub"
	"canvas-backend/internal/spatial"
)

// HistoryHandler serves the event-log REST surface. Rollback is the one
// mutating endpoint: its compensating events flow into the spatial index and
// out to connected sessions, the same path organic edits take.
type HistoryHandler struct {
	history   *history.Registry
	spatial   *spatial.Registry
	hub       *hub.Hub
	pageLimit int
}

func NewHistoryHandler(hist *history.Registry, sp *spatial.Registry, h *hub.Hub, pageLimit int) *HistoryHandler {
	if pageLimit <= 0 {
		pageLimit = 200
	}
	return &HistoryHandler{history: hist, spatial: sp, hub: h, pageLimit: pageLimit}
}

// ListEvents returns a page of the board's history, newest first.
func (h *HistoryHandler) ListEvents(c *fiber.Ctx) error {
	boardID := c.Params("boardId")

	limit := c.QueryInt("limit", 50)
	if limit < 1 {
		limit = 1
	}
	if limit > h.pageLimit {
		limit = h.pageLimit
	}
	offset := c.QueryInt("offset", 0)
	if offset < 0 {
		offset = 0
	}

	kind := history.EventKind(c.Query("event_type"))
	switch kind {
	case "", history.KindCreate, history.KindUpdate, history.KindDelete:
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid event_type filter"})
	}

	events, total, hasMore := h.history.Get(boardID).List(kind, limit, offset)
	return c.JSON(fiber.Map{
		"boardId":  boardID,
		"events":   events,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
		"has_more": hasMore,
	})
}

// GetSnapshot replays the log up to at_sequence or at_time and returns the
// materialized object set.
func (h *HistoryHandler) GetSnapshot(c *fiber.Ctx) error {
	boardID := c.Params("boardId")

	atSeq := int64(c.QueryInt("at_sequence", 0))
	var atTime time.Time
	if raw := c.Query("at_time"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "at_time must be RFC3339"})
		}
		atTime = parsed
	}

	snapshot := h.history.Get(boardID).SnapshotAt(atSeq, atTime)
	return c.JSON(fiber.Map{
		"boardId":      boardID,
		"objects":      snapshot.Objects,
		"object_count": len(snapshot.Objects),
		"sequence_num": snapshot.Seq,
		"timestamp":    snapshot.At,
	})
}

type RollbackRequest struct {
	TargetSequence int64 `json:"target_sequence"`
}

// Rollback appends compensating events undoing everything past the target
// sequence, applies them to the live index and broadcasts each one.
func (h *HistoryHandler) Rollback(c *fiber.Ctx) error {
	boardID := c.Params("boardId")

	var req RollbackRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if req.TargetSequence < 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "target_sequence must be >= 0"})
	}

	log := h.history.Get(boardID)
	compensating, err := log.Rollback(req.TargetSequence)
	if err != nil {
		if errors.Is(err, history.ErrNothingToRollback) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "No changes to rollback"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Rollback failed"})
	}

	for _, e := range compensating {
		h.applyAndBroadcast(boardID, e)
	}

	return c.JSON(fiber.Map{
		"boardId":             boardID,
		"target_sequence":     req.TargetSequence,
		"events_undone":       len(compensating),
		"new_sequence":        log.Len(),
		"compensating_events": compensating,
	})
}

// applyAndBroadcast pushes one compensating event through the same index
// mutation and fan-out an organic edit would trigger.
func (h *HistoryHandler) applyAndBroadcast(boardID string, e *history.Event) {
	idx := h.spatial.Get(boardID)

	switch e.Kind {
	case history.KindCreate:
		state := make(map[string]any, len(e.New)+1)
		for k, v := range e.New {
			state[k] = v
		}
		state["id"] = e.ObjectID
		idx.Upsert(e.ObjectID, state)
		h.hub.Broadcast(boardID, map[string]any{
			"type":   "object_created",
			"userId": e.Actor,
			"object": state,
		}, "")

	case history.KindUpdate:
		base, ok := idx.Get(e.ObjectID)
		if !ok {
			base = e.Previous
		}
		merged := make(map[string]any, len(base)+len(e.New))
		for k, v := range base {
			merged[k] = v
		}
		for k, v := range e.New {
			merged[k] = v
		}
		merged["id"] = e.ObjectID
		idx.Upsert(e.ObjectID, merged)
		h.hub.Broadcast(boardID, map[string]any{
			"type":     "object_updated",
			"userId":   e.Actor,
			"objectId": e.ObjectID,
			"changes":  e.New,
		}, "")

	case history.KindDelete:
		idx.Remove(e.ObjectID)
		h.hub.Broadcast(boardID, map[string]any{
			"type":     "object_deleted",
			"userId":   e.Actor,
			"objectId": e.ObjectID,
		}, "")
	}
}

// GetTimeline returns per-bucket activity aggregates for the history UI.
func (h *HistoryHandler) GetTimeline(c *fiber.Ctx) error {
	boardID := c.Params("boardId")

	granularity := c.Query("granularity", "minute")
	switch granularity {
	case "minute", "hour", "day":
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "granularity must be minute, hour or day"})
	}

	return c.JSON(fiber.Map{
		"boardId":     boardID,
		"granularity": granularity,
		"timeline":    h.history.Get(boardID).Timeline(granularity),
	})
}
