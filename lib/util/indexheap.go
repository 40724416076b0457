// Package util
//
// This file provides IndexHeap, a min-heap of log indices combined with a hash map.
//
// The heap keeps the oldest (lowest) index on top, the map gives O(1) access by index.
// The data cache uses it to evict the oldest payload first and to drop arbitrary ranges
// of indices on acknowledgement or log truncation.
//
// Time Complexity:
//   - O(log n) for Add, PopMin and Remove
//   - O(1) for Peek, Contains and Get
//
// Concurrency Considerations:
//   - This implementation is not thread-safe, external synchronization must be applied
package util

import (
	"container/heap"
	"strconv"
)

// indexItem is a cached log index together with the number of bytes stored for it
type indexItem struct {
	Index uint64 // Log index, used as key and priority
	Size  int    // Size of the payload stored for the index
	pos   int    // Position in the heap, maintained by heap package
}

func (i *indexItem) String() string {
	return "{Index: " + strconv.FormatUint(i.Index, 10) + ", Size: " + strconv.Itoa(i.Size) + "}"
}

// indexItems implements heap.Interface
type indexItems []*indexItem

func (h indexItems) Len() int           { return len(h) }
func (h indexItems) Less(i, j int) bool { return h[i].Index < h[j].Index }
func (h indexItems) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].pos = i
	h[j].pos = j
}

func (h *indexItems) Push(x interface{}) {
	it := x.(*indexItem)
	it.pos = len(*h)
	*h = append(*h, it)
}

func (h *indexItems) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil // Avoid memory leak
	it.pos = -1
	*h = old[:n-1]
	return it
}

// IndexHeap orders log indices and tracks the total size stored for them
type IndexHeap struct {
	items indexItems
	byIdx map[uint64]*indexItem
	total int
}

// NewIndexHeap creates an empty heap
func NewIndexHeap() *IndexHeap {
	return &IndexHeap{
		items: make(indexItems, 0),
		byIdx: make(map[uint64]*indexItem),
	}
}

// Len returns the number of indices in the heap
func (h *IndexHeap) Len() int { return len(h.items) }

// TotalSize returns the sum of all sizes in the heap
func (h *IndexHeap) TotalSize() int { return h.total }

// Add inserts an index or updates the size of an existing one
func (h *IndexHeap) Add(index uint64, size int) {
	if it, ok := h.byIdx[index]; ok {
		h.total += size - it.Size
		it.Size = size
		return
	}
	it := &indexItem{Index: index, Size: size}
	heap.Push(&h.items, it)
	h.byIdx[index] = it
	h.total += size
}

// Remove removes an index, it returns the size that was stored for it
func (h *IndexHeap) Remove(index uint64) (int, bool) {
	it, ok := h.byIdx[index]
	if !ok {
		return 0, false
	}
	heap.Remove(&h.items, it.pos)
	delete(h.byIdx, index)
	h.total -= it.Size
	return it.Size, true
}

// Peek returns the lowest index without removing it
func (h *IndexHeap) Peek() (index uint64, size int, ok bool) {
	if len(h.items) == 0 {
		return 0, 0, false
	}
	return h.items[0].Index, h.items[0].Size, true
}

// PopMin removes and returns the lowest index
func (h *IndexHeap) PopMin() (index uint64, size int, ok bool) {
	if len(h.items) == 0 {
		return 0, 0, false
	}
	it := heap.Pop(&h.items).(*indexItem)
	delete(h.byIdx, it.Index)
	h.total -= it.Size
	return it.Index, it.Size, true
}

// Contains checks if an index is in the heap
func (h *IndexHeap) Contains(index uint64) bool {
	_, ok := h.byIdx[index]
	return ok
}

// Indices returns all indices matching the filter (unordered)
func (h *IndexHeap) Indices(filter func(index uint64) bool) []uint64 {
	var out []uint64
	for idx := range h.byIdx {
		if filter(idx) {
			out = append(out, idx)
		}
	}
	return out
}
