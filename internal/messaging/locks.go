package messaging

import (
	"sort"
	"sync"
)

const lockStripes = 256

// convLocks serializes mutations per conversation so that store commits and the
// dispatch of their events happen in the same order.
type convLocks struct {
	stripes [lockStripes]sync.Mutex
}

func stripe(conversationID int64) int {
	return int(uint64(conversationID) % lockStripes)
}

func (l *convLocks) lock(conversationID int64) func() {
	m := &l.stripes[stripe(conversationID)]
	m.Lock()
	return m.Unlock
}

// lockMany locks the stripes of several conversations in ascending order.
func (l *convLocks) lockMany(conversationIDs []int64) func() {
	seen := make(map[int]struct{}, len(conversationIDs))
	var idx []int
	for _, id := range conversationIDs {
		s := stripe(id)
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		idx = append(idx, s)
	}
	sort.Ints(idx)
	for _, s := range idx {
		l.stripes[s].Lock()
	}
	return func() {
		for i := len(idx) - 1; i >= 0; i-- {
			l.stripes[idx[i]].Unlock()
		}
	}
}
