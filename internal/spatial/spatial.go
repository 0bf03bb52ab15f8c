package spatial

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DefaultChunkSize is the edge length of one grid cell in world units.
const DefaultChunkSize = 1000

// BoundingBox is an axis-aligned rectangle in world coordinates.
type BoundingBox struct {
	MinX float64 `json:"minX"`
	MinY float64 `json:"minY"`
	MaxX float64 `json:"maxX"`
	MaxY float64 `json:"maxY"`
}

func (b BoundingBox) Width() float64  { return b.MaxX - b.MinX }
func (b BoundingBox) Height() float64 { return b.MaxY - b.MinY }

// Center returns the midpoint of the box.
func (b BoundingBox) Center() (float64, float64) {
	return (b.MinX + b.MaxX) / 2, (b.MinY + b.MaxY) / 2
}

// Intersects reports whether two boxes overlap (touching edges count).
func (b BoundingBox) Intersects(other BoundingBox) bool {
	return !(b.MaxX < other.MinX ||
		b.MinX > other.MaxX ||
		b.MaxY < other.MinY ||
		b.MinY > other.MaxY)
}

// ContainsPoint reports whether the point lies within the box.
func (b BoundingBox) ContainsPoint(x, y float64) bool {
	return b.MinX <= x && x <= b.MaxX && b.MinY <= y && y <= b.MaxY
}

// Expand returns a copy grown by margin on every side.
func (b BoundingBox) Expand(margin float64) BoundingBox {
	return BoundingBox{
		MinX: b.MinX - margin,
		MinY: b.MinY - margin,
		MaxX: b.MaxX + margin,
		MaxY: b.MaxY + margin,
	}
}

// ChunkCoord identifies one grid cell of the infinite canvas.
type ChunkCoord struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// ID returns the canonical "x:y" chunk id.
func (c ChunkCoord) ID() string {
	return fmt.Sprintf("%d:%d", c.X, c.Y)
}

// ParseChunkID parses a "x:y" chunk id.
func ParseChunkID(id string) (ChunkCoord, error) {
	parts := strings.SplitN(id, ":", 2)
	if len(parts) != 2 {
		return ChunkCoord{}, fmt.Errorf("invalid chunk id %q", id)
	}
	x, err := strconv.Atoi(parts[0])
	if err != nil {
		return ChunkCoord{}, fmt.Errorf("invalid chunk id %q: %w", id, err)
	}
	y, err := strconv.Atoi(parts[1])
	if err != nil {
		return ChunkCoord{}, fmt.Errorf("invalid chunk id %q: %w", id, err)
	}
	return ChunkCoord{X: x, Y: y}, nil
}

// ChunkFromWorld maps a world position to its chunk coordinate.
// Floor division keeps negative coordinates in the right cell.
func ChunkFromWorld(x, y float64, chunkSize int) ChunkCoord {
	size := float64(chunkSize)
	return ChunkCoord{
		X: int(math.Floor(x / size)),
		Y: int(math.Floor(y / size)),
	}
}

// Bounds returns the world-space box covered by this chunk.
func (c ChunkCoord) Bounds(chunkSize int) BoundingBox {
	size := float64(chunkSize)
	return BoundingBox{
		MinX: float64(c.X) * size,
		MinY: float64(c.Y) * size,
		MaxX: float64(c.X+1) * size,
		MaxY: float64(c.Y+1) * size,
	}
}
