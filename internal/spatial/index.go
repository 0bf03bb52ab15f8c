package spatial

import "sync"

// Object is a canvas object payload as it travels over the wire. The index
// only interprets the x/y/width/height fields; everything else is opaque.
type Object = map[string]any

// Stats describes the current shape of an index.
type Stats struct {
	TotalObjects   int `json:"total_objects"`
	TotalChunks    int `json:"total_chunks"`
	NonEmptyChunks int `json:"non_empty_chunks"`
	ChunkSize      int `json:"chunk_size"`
}

// Index is the in-memory chunk index for one board. An object belongs to
// exactly the set of chunks its bounding box overlaps; boxes spanning a
// chunk border appear in every chunk they touch.
type Index struct {
	chunkSize int

	mu           sync.RWMutex
	chunks       map[string]map[string]struct{} // chunk id -> object ids
	objects      map[string]Object              // object id -> payload
	objectChunks map[string]map[string]struct{} // object id -> chunk ids
}

// NewIndex creates an index with the given chunk size (DefaultChunkSize when
// size is not positive). The chunk size is fixed for the index lifetime;
// re-chunking a live board would invalidate chunk ids held by clients.
func NewIndex(chunkSize int) *Index {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Index{
		chunkSize:    chunkSize,
		chunks:       make(map[string]map[string]struct{}),
		objects:      make(map[string]Object),
		objectChunks: make(map[string]map[string]struct{}),
	}
}

// ChunkSize returns the fixed chunk edge length.
func (idx *Index) ChunkSize() int { return idx.chunkSize }

func objectBounds(data Object) BoundingBox {
	x := numberField(data, "x")
	y := numberField(data, "y")
	w := numberField(data, "width")
	h := numberField(data, "height")
	return BoundingBox{MinX: x, MinY: y, MaxX: x + w, MaxY: y + h}
}

func numberField(data Object, key string) float64 {
	switch v := data[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

// chunkRange walks every chunk id overlapped by the box.
func (idx *Index) chunkRange(box BoundingBox, visit func(id string)) {
	minChunk := ChunkFromWorld(box.MinX, box.MinY, idx.chunkSize)
	maxChunk := ChunkFromWorld(box.MaxX, box.MaxY, idx.chunkSize)
	for cx := minChunk.X; cx <= maxChunk.X; cx++ {
		for cy := minChunk.Y; cy <= maxChunk.Y; cy++ {
			visit(ChunkCoord{X: cx, Y: cy}.ID())
		}
	}
}

// Upsert adds or replaces an object. Stale chunk memberships from a previous
// geometry are purged before the new ones are recorded, so calling Upsert
// twice with the same payload leaves the index unchanged.
func (idx *Index) Upsert(objectID string, data Object) {
	if objectID == "" {
		return
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if old, ok := idx.objectChunks[objectID]; ok {
		for chunkID := range old {
			if members, ok := idx.chunks[chunkID]; ok {
				delete(members, objectID)
				if len(members) == 0 {
					delete(idx.chunks, chunkID)
				}
			}
		}
	}

	newChunks := make(map[string]struct{})
	idx.chunkRange(objectBounds(data), func(chunkID string) {
		newChunks[chunkID] = struct{}{}
		members, ok := idx.chunks[chunkID]
		if !ok {
			members = make(map[string]struct{})
			idx.chunks[chunkID] = members
		}
		members[objectID] = struct{}{}
	})

	idx.objects[objectID] = data
	idx.objectChunks[objectID] = newChunks
}

// Remove purges an object from every chunk it occupies and returns its last
// payload. Removing an unknown id reports ok=false without an error.
func (idx *Index) Remove(objectID string) (Object, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	data, ok := idx.objects[objectID]
	if !ok {
		return nil, false
	}

	for chunkID := range idx.objectChunks[objectID] {
		if members, ok := idx.chunks[chunkID]; ok {
			delete(members, objectID)
			if len(members) == 0 {
				delete(idx.chunks, chunkID)
			}
		}
	}
	delete(idx.objectChunks, objectID)
	delete(idx.objects, objectID)
	return data, true
}

// QueryViewport returns every object whose chunk range overlaps the viewport.
// This is a superset of objects whose exact geometry overlaps; callers that
// need precise clipping filter on their side.
func (idx *Index) QueryViewport(viewport BoundingBox) []Object {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	seen := make(map[string]struct{})
	result := make([]Object, 0)
	idx.chunkRange(viewport, func(chunkID string) {
		for objectID := range idx.chunks[chunkID] {
			if _, dup := seen[objectID]; dup {
				continue
			}
			seen[objectID] = struct{}{}
			if data, ok := idx.objects[objectID]; ok {
				result = append(result, data)
			}
		}
	})
	return result
}

// ViewportChunkIDs lists the chunk ids a viewport query touches, whether or
// not they hold content.
func (idx *Index) ViewportChunkIDs(viewport BoundingBox) []string {
	ids := make([]string, 0)
	idx.chunkRange(viewport, func(chunkID string) {
		ids = append(ids, chunkID)
	})
	return ids
}

// QueryChunks returns the objects of each requested chunk id. Unknown chunks
// map to an empty slice.
func (idx *Index) QueryChunks(chunkIDs []string) map[string][]Object {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	result := make(map[string][]Object, len(chunkIDs))
	for _, chunkID := range chunkIDs {
		objects := make([]Object, 0)
		for objectID := range idx.chunks[chunkID] {
			if data, ok := idx.objects[objectID]; ok {
				objects = append(objects, data)
			}
		}
		result[chunkID] = objects
	}
	return result
}

// NonEmptyChunkIDs lists every chunk currently holding at least one object.
func (idx *Index) NonEmptyChunkIDs() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	ids := make([]string, 0, len(idx.chunks))
	for chunkID, members := range idx.chunks {
		if len(members) > 0 {
			ids = append(ids, chunkID)
		}
	}
	return ids
}

// AllObjects returns every indexed payload (full board sync on connect).
func (idx *Index) AllObjects() []Object {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	objects := make([]Object, 0, len(idx.objects))
	for _, data := range idx.objects {
		objects = append(objects, data)
	}
	return objects
}

// Get returns the current payload of one object.
func (idx *Index) Get(objectID string) (Object, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	data, ok := idx.objects[objectID]
	return data, ok
}

// Stats reports index occupancy.
func (idx *Index) Stats() Stats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	nonEmpty := 0
	for _, members := range idx.chunks {
		if len(members) > 0 {
			nonEmpty++
		}
	}
	return Stats{
		TotalObjects:   len(idx.objects),
		TotalChunks:    len(idx.chunks),
		NonEmptyChunks: nonEmpty,
		ChunkSize:      idx.chunkSize,
	}
}

// Clear drops all index state, e.g. when a board is deleted.
func (idx *Index) Clear() {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.chunks = make(map[string]map[string]struct{})
	idx.objects = make(map[string]Object)
	idx.objectChunks = make(map[string]map[string]struct{})
}

// Registry hands out one Index per board, created lazily. It is injected
// into handlers so tests can run against isolated instances.
type Registry struct {
	chunkSize int

	mu      sync.Mutex
	indexes map[string]*Index
}

// NewRegistry creates a registry whose indexes use the given chunk size.
func NewRegistry(chunkSize int) *Registry {
	return &Registry{
		chunkSize: chunkSize,
		indexes:   make(map[string]*Index),
	}
}

// Get returns the board's index, creating it on first reference.
func (r *Registry) Get(boardID string) *Index {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, ok := r.indexes[boardID]
	if !ok {
		idx = NewIndex(r.chunkSize)
		r.indexes[boardID] = idx
	}
	return idx
}

// Drop removes a board's index entirely.
func (r *Registry) Drop(boardID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.indexes, boardID)
}
