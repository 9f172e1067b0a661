package matcher

import (
	"container/heap"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/querycore/internal/index"
)

type candidate struct {
	did         index.DocID
	weight      float64
	sortKey     string
	collapseKey string
	// slot is the candidate's heap index, -1 while it is not held.
	slot int
}

type bucket struct {
	members []*candidate
	removed uint32
}

// collector keeps the best limit candidates seen so far in a heap whose
// root is the worst of them, applying collapse limits as candidates
// arrive.
type collector struct {
	limit       int
	better      func(a, b *candidate) bool
	h           candidateHeap
	collapseMax int
	buckets     map[string]*bucket
	collapsed   uint32
}

func newCollector(limit int, better func(a, b *candidate) bool, collapseMax int) *collector {
	c := &collector{
		limit:       limit,
		better:      better,
		collapseMax: collapseMax,
		buckets:     make(map[string]*bucket),
	}
	c.h.better = better
	heap.Init(&c.h)
	return c
}

func (c *collector) full() bool { return c.limit > 0 && c.h.Len() >= c.limit }

// worstWeight is the weight a new document must reach to have any chance
// of entering a full heap.
func (c *collector) worstWeight() float64 { return c.h.items[0].weight }

func (c *collector) worstDocID() index.DocID { return c.h.items[0].did }

func (c *collector) add(cand *candidate) {
	cand.slot = -1
	if c.collapseMax > 0 && cand.collapseKey != "" {
		b := c.buckets[cand.collapseKey]
		if b == nil {
			b = &bucket{}
			c.buckets[cand.collapseKey] = b
		}
		if len(b.members) >= c.collapseMax {
			wi := 0
			for i, m := range b.members {
				if c.better(b.members[wi], m) {
					wi = i
				}
			}
			b.removed++
			c.collapsed++
			worst := b.members[wi]
			if !c.better(cand, worst) {
				return
			}
			b.members[wi] = cand
			if worst.slot >= 0 {
				heap.Remove(&c.h, worst.slot)
				worst.slot = -1
			}
		} else {
			b.members = append(b.members, cand)
		}
	}
	c.offer(cand)
}

func (c *collector) offer(cand *candidate) {
	if c.limit <= 0 {
		return
	}
	if c.h.Len() < c.limit {
		heap.Push(&c.h, cand)
		return
	}
	if c.better(cand, c.h.items[0]) {
		evicted := heap.Pop(&c.h).(*candidate)
		evicted.slot = -1
		heap.Push(&c.h, cand)
	}
}

// results returns the held candidates, best first.
func (c *collector) results() []*candidate {
	out := make([]*candidate, len(c.h.items))
	copy(out, c.h.items)
	sort.Slice(out, func(i, j int) bool { return c.better(out[i], out[j]) })
	return out
}

func (c *collector) collapseCount(cand *candidate) uint32 {
	if b := c.buckets[cand.collapseKey]; b != nil && cand.collapseKey != "" {
		return b.removed
	}
	return 0
}

type candidateHeap struct {
	items  []*candidate
	better func(a, b *candidate) bool
}

func (h candidateHeap) Len() int { return len(h.items) }

func (h candidateHeap) Less(i, j int) bool { return h.better(h.items[j], h.items[i]) }

func (h candidateHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].slot = i
	h.items[j].slot = j
}

func (h *candidateHeap) Push(x any) {
	c := x.(*candidate)
	c.slot = len(h.items)
	h.items = append(h.items, c)
}

func (h *candidateHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	item.slot = -1
	return item
}
