package book

import "github.com/nairex/nairex/pkg/fixed"

// maxPriceHeap tracks bid price levels, highest on top.
type maxPriceHeap []fixed.Fixed6

func (h maxPriceHeap) Len() int           { return len(h) }
func (h maxPriceHeap) Less(i, j int) bool { return h[i] > h[j] }
func (h maxPriceHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *maxPriceHeap) Push(x interface{}) {
	*h = append(*h, x.(fixed.Fixed6))
}

func (h *maxPriceHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}

func (h maxPriceHeap) Peek() fixed.Fixed6 {
	if len(h) == 0 {
		return 0
	}
	return h[0]
}

// minPriceHeap tracks ask price levels, lowest on top.
type minPriceHeap []fixed.Fixed6

func (h minPriceHeap) Len() int           { return len(h) }
func (h minPriceHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h minPriceHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *minPriceHeap) Push(x interface{}) {
	*h = append(*h, x.(fixed.Fixed6))
}

func (h *minPriceHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}

func (h minPriceHeap) Peek() fixed.Fixed6 {
	if len(h) == 0 {
		return 0
	}
	return h[0]
}
