package handler

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"canvas-backend/internal/spatial"
)

// ChunkHandler serves the read-only chunk query surface over the spatial
// index. None of these endpoints mutate the index.
type ChunkHandler struct {
	spatial *spatial.Registry
}

func NewChunkHandler(sp *spatial.Registry) *ChunkHandler {
	return &ChunkHandler{spatial: sp}
}

type ViewportRequest struct {
	MinX float64 `json:"minX"`
	MinY float64 `json:"minY"`
	MaxX float64 `json:"maxX"`
	MaxY float64 `json:"maxY"`
}

// QueryViewport returns every object intersecting the viewport, the chunk
// ids the viewport spans, and current index stats.
func (h *ChunkHandler) QueryViewport(c *fiber.Ctx) error {
	boardID := c.Params("boardId")

	var req ViewportRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if req.MaxX < req.MinX || req.MaxY < req.MinY {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Viewport bounds are inverted"})
	}

	idx := h.spatial.Get(boardID)
	viewport := spatial.BoundingBox{MinX: req.MinX, MinY: req.MinY, MaxX: req.MaxX, MaxY: req.MaxY}

	return c.JSON(fiber.Map{
		"boardId":  boardID,
		"objects":  idx.QueryViewport(viewport),
		"chunkIds": idx.ViewportChunkIDs(viewport),
		"stats":    idx.Stats(),
	})
}

// ListChunks returns every non-empty chunk with its world bounds and
// object count.
func (h *ChunkHandler) ListChunks(c *fiber.Ctx) error {
	boardID := c.Params("boardId")
	idx := h.spatial.Get(boardID)

	chunkIDs := idx.NonEmptyChunkIDs()
	contents := idx.QueryChunks(chunkIDs)

	chunks := make([]fiber.Map, 0, len(chunkIDs))
	for _, id := range chunkIDs {
		coord, err := spatial.ParseChunkID(id)
		if err != nil {
			continue
		}
		chunks = append(chunks, fiber.Map{
			"chunkId":     id,
			"coord":       coord,
			"bounds":      coord.Bounds(idx.ChunkSize()),
			"objectCount": len(contents[id]),
		})
	}

	return c.JSON(fiber.Map{
		"boardId": boardID,
		"chunks":  chunks,
	})
}

// GetChunksByIDs returns the objects of the requested chunks, keyed by
// chunk id. Unknown or empty chunks come back as empty lists.
func (h *ChunkHandler) GetChunksByIDs(c *fiber.Ctx) error {
	boardID := c.Params("boardId")

	idsParam := c.Query("ids")
	if idsParam == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "ids query parameter is required"})
	}

	var chunkIDs []string
	for _, id := range strings.Split(idsParam, ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, err := spatial.ParseChunkID(id); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid chunk id: " + id})
		}
		chunkIDs = append(chunkIDs, id)
	}

	return c.JSON(fiber.Map{
		"boardId": boardID,
		"chunks":  h.spatial.Get(boardID).QueryChunks(chunkIDs),
	})
}

// GetChunksAround returns the square of chunks centered on a world point.
// The radius is clamped to [0, 5] to bound the response.
func (h *ChunkHandler) GetChunksAround(c *fiber.Ctx) error {
	boardID := c.Params("boardId")

	x := c.QueryFloat("x")
	y := c.QueryFloat("y")
	radius := c.QueryInt("radius", 1)
	if radius < 0 {
		radius = 0
	}
	if radius > 5 {
		radius = 5
	}

	idx := h.spatial.Get(boardID)
	center := spatial.ChunkFromWorld(x, y, idx.ChunkSize())

	var chunkIDs []string
	for cy := center.Y - radius; cy <= center.Y+radius; cy++ {
		for cx := center.X - radius; cx <= center.X+radius; cx++ {
			chunkIDs = append(chunkIDs, spatial.ChunkCoord{X: cx, Y: cy}.ID())
		}
	}

	return c.JSON(fiber.Map{
		"boardId":     boardID,
		"centerChunk": center.ID(),
		"radius":      radius,
		"chunks":      idx.QueryChunks(chunkIDs),
	})
}

// GetStats returns the index stats of a board.
func (h *ChunkHandler) GetStats(c *fiber.Ctx) error {
	boardID := c.Params("boardId")
	return c.JSON(fiber.Map{
		"boardId": boardID,
		"stats":   h.spatial.Get(boardID).Stats(),
	})
}
