package ordersync

import (
	"container/list"
	"fmt"
	"time"
)

// seenSet remembers the most recent (stream, order, timestamp) keys, evicting the
// oldest once full.
type seenSet struct {
	capacity int
	order    *list.List
	keys     map[string]*list.Element
}

func newSeenSet(capacity int) *seenSet {
	return &seenSet{capacity: capacity, order: list.New(), keys: make(map[string]*list.Element, capacity)}
}

// add records the key and reports whether it was new.
func (s *seenSet) add(stream, orderID string, ts time.Time) bool {
	k := fmt.Sprintf("%s/%s/%d", stream, orderID, ts.UnixMicro())
	if _, ok := s.keys[k]; ok {
		return false
	}
	s.keys[k] = s.order.PushBack(k)
	for s.order.Len() > s.capacity {
		oldest := s.order.Front()
		s.order.Remove(oldest)
		delete(s.keys, oldest.Value.(string))
	}
	return true
}

func (s *seenSet) len() int { return s.order.Len() }
