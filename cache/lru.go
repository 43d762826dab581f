package cache

// node is an intrusive doubly linked list element embedded in item. A
// sentinel-based list (fakeHead/fakeTail, never nil) means link/unlink
// never have to special-case an empty list or a list's ends.
type node struct {
	prev, next *node
	it         *item
}

func (n *node) link(after *node) {
	n.prev = after
	n.next = after.next
	after.next.prev = n
	after.next = n
}

func (n *node) unlink() {
	n.prev.next = n.next
	n.next.prev = n.prev
	n.prev, n.next = nil, nil
}

type list struct {
	fakeHead, fakeTail node
	length             int
}

func newList() *list {
	l := &list{}
	l.fakeHead.next = &l.fakeTail
	l.fakeTail.prev = &l.fakeHead
	return l
}

func (l *list) pushFront(n *node) {
	n.link(&l.fakeHead)
	l.length++
}

func (l *list) remove(n *node) {
	n.unlink()
	l.length--
}

func (l *list) moveToFront(n *node) {
	n.unlink()
	n.link(&l.fakeHead)
}

// back returns the least recently promoted node, the next candidate for
// demotion or, in the cold list, for eviction. Nil if the list is empty.
func (l *list) back() *node {
	if l.length == 0 {
		return nil
	}
	return l.fakeTail.prev
}

func (l *list) Len() int { return l.length }
