package memory

import "sync"

// DefaultWorkingCapacity is the working memory size.
const DefaultWorkingCapacity = 10

// WorkingMemory is a bounded FIFO of recent audio and mental content.
type WorkingMemory struct {
	mu       sync.Mutex
	capacity int
	items    []Item
}

// NewWorkingMemory creates a working memory holding at most capacity items.
func NewWorkingMemory(capacity int) *WorkingMemory {
	if capacity <= 0 {
		capacity = DefaultWorkingCapacity
	}
	return &WorkingMemory{capacity: capacity}
}

// Add appends text, evicting the oldest item when full.
func (w *WorkingMemory) Add(text string, ch Channel) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.items) >= w.capacity {
		w.items = w.items[1:]
	}
	w.items = append(w.items, Item{Text: text, Channel: ch})
}

// Items returns the stored texts, oldest first.
func (w *WorkingMemory) Items() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.items))
	for i, it := range w.items {
		out[i] = it.Text
	}
	return out
}

// Latest returns the most recent text, or "" when empty.
func (w *WorkingMemory) Latest() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.items) == 0 {
		return ""
	}
	return w.items[len(w.items)-1].Text
}

// Clear drops everything except the most recent item.
func (w *WorkingMemory) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if n := len(w.items); n > 1 {
		w.items = []Item{w.items[n-1]}
	}
}

// Size returns the number of stored items.
func (w *WorkingMemory) Size() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.items)
}

// Capacity returns the maximum number of items.
func (w *WorkingMemory) Capacity() int { return w.capacity }

func (w *WorkingMemory) snapshot() []Item {
	w.mu.Lock()
	defer w.mu.Unlock()
	return cloneItems(w.items)
}

func (w *WorkingMemory) restore(items []Item) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(items) > w.capacity {
		items = items[len(items)-w.capacity:]
	}
	w.items = cloneItems(items)
}
