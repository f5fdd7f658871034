package cache

// lruEntry is one node in the recency list. Entries inserted at the front,
// evicted from the back; a fresh access moves the node to the front, so ties
// between never-reaccessed entries fall back to insertion order.
type lruEntry struct {
	key   string
	entry *Entry
	prev  *lruEntry
	next  *lruEntry
}

// lruList is a doubly linked list with sentinel head/tail nodes.
type lruList struct {
	head *lruEntry
	tail *lruEntry
}

func newLRUList() *lruList {
	l := &lruList{
		head: &lruEntry{},
		tail: &lruEntry{},
	}
	l.head.next = l.tail
	l.tail.prev = l.head
	return l
}

func (l *lruList) pushFront(e *lruEntry) {
	e.prev = l.head
	e.next = l.head.next
	l.head.next.prev = e
	l.head.next = e
}

func (l *lruList) remove(e *lruEntry) {
	if e.prev == nil || e.next == nil {
		return // not linked
	}
	e.prev.next = e.next
	e.next.prev = e.prev
	e.prev = nil
	e.next = nil
}

func (l *lruList) moveToFront(e *lruEntry) {
	l.remove(e)
	l.pushFront(e)
}

// back returns the least recently used entry, or nil when empty.
func (l *lruList) back() *lruEntry {
	if l.tail.prev == l.head {
		return nil
	}
	return l.tail.prev
}
