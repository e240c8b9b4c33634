package ir

// arenaPageSize bounds the backing array size of one arena page. Fixed-size
// pages avoid a reallocation-on-grow cost for the common case of a block
// with a modest instruction count.
const arenaPageSize = 128

// arena allocates Inst values out of fixed-size pages and hands back stable
// InstID indices rather than pointers, so the allocator and the constant
// propagation pass can reference instructions without holding raw pointers
// into a slice that might later be reallocated.
type arena struct {
	pages []*[arenaPageSize]Inst
	next  int
}

// allocate reserves the next Inst slot in the arena and returns its InstID.
func (a *arena) allocate() InstID {
	page, slot := a.next/arenaPageSize, a.next%arenaPageSize
	if page >= len(a.pages) {
		a.pages = append(a.pages, new([arenaPageSize]Inst))
	}
	id := InstID(a.next)
	a.next++
	a.pages[page][slot] = Inst{id: id}
	return id
}

// view returns a pointer to the Inst named by id. The pointer remains valid
// for the lifetime of the arena (pages are never moved or freed until
// reset).
func (a *arena) view(id InstID) *Inst {
	page, slot := int(id)/arenaPageSize, int(id)%arenaPageSize
	return &a.pages[page][slot]
}

// reset releases all pages in one step at end of block.
func (a *arena) reset() {
	a.pages = nil
	a.next = 0
}
