package video

import (
	"container/list"
	"context"
	"sync"
)

// DefaultCacheCapacity bounds the frame cache when no capacity is configured.
// Decoded frames run hundreds of KB each, so the store holds at most this
// many before evicting the least recently used.
const DefaultCacheCapacity = 100

// FrameStore wraps a Source with a bounded LRU cache keyed by frame index.
// Entries carry the decoded frame and, once computed, its embedding, so a
// frame revisited during refinement costs neither a decode nor an embed.
// All methods are safe for concurrent use.
type FrameStore struct {
	mu       sync.Mutex
	src      Source
	capacity int
	order    *list.List               // front is most recently used
	items    map[int]*list.Element    // frame index -> element in order
	decodes  int
}

type cacheEntry struct {
	frame     *Frame
	embedding []float32
}

// NewFrameStore builds a FrameStore over src. capacity <= 0 selects
// DefaultCacheCapacity.
func NewFrameStore(src Source, capacity int) *FrameStore {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	return &FrameStore{
		src:      src,
		capacity: capacity,
		order:    list.New(),
		items:    make(map[int]*list.Element),
	}
}

// Info returns the underlying stream metadata.
func (fs *FrameStore) Info() Info {
	return fs.src.Info()
}

// Frame returns the frame at index, decoding on miss. A hit refreshes the
// entry's recency; a miss that grows the store past capacity evicts the
// least recently used entry together with its embedding.
func (fs *FrameStore) Frame(ctx context.Context, index int) (*Frame, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if elem, ok := fs.items[index]; ok {
		fs.order.MoveToFront(elem)
		return elem.Value.(*cacheEntry).frame, nil
	}

	frame, err := fs.src.Decode(ctx, index)
	if err != nil {
		return nil, err
	}
	fs.decodes++

	elem := fs.order.PushFront(&cacheEntry{frame: frame})
	fs.items[index] = elem

	if fs.order.Len() > fs.capacity {
		oldest := fs.order.Back()
		fs.order.Remove(oldest)
		delete(fs.items, oldest.Value.(*cacheEntry).frame.Index)
	}

	return frame, nil
}

// Embedding returns the cached embedding for index, if the frame is resident
// and has one attached. It does not decode and does not refresh recency.
func (fs *FrameStore) Embedding(index int) ([]float32, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	elem, ok := fs.items[index]
	if !ok {
		return nil, false
	}
	entry := elem.Value.(*cacheEntry)
	if entry.embedding == nil {
		return nil, false
	}
	return entry.embedding, true
}

// SetEmbedding attaches an embedding to the resident entry for index. If the
// frame has been evicted the call is a no-op; the embedding will be
// recomputed on the next visit.
func (fs *FrameStore) SetEmbedding(index int, embedding []float32) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if elem, ok := fs.items[index]; ok {
		elem.Value.(*cacheEntry).embedding = embedding
	}
}

// Decodes reports how many frames have been decoded from the source. Cache
// hits do not count.
func (fs *FrameStore) Decodes() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.decodes
}

// Len reports the number of resident frames.
func (fs *FrameStore) Len() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.order.Len()
}

// Capacity reports the configured cache bound.
func (fs *FrameStore) Capacity() int {
	return fs.capacity
}

// Close releases the underlying source and drops all cached frames.
func (fs *FrameStore) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.order.Init()
	fs.items = make(map[int]*list.Element)
	return fs.src.Close()
}
