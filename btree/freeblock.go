package btree

import "encoding/binary"

// Free-block list: an intra-page linked list threaded through reclaimed
// value-slot regions of a leaf page. Each node occupies
// the reclaimed region itself and stores {nextOffset(2), size(2)} at its
// head; offsets are relative to the page base, 0 is the terminator, and the
// list is kept sorted by increasing offset.

func readFreeBlockNode(p *Page, offset uint16) (next uint16, size uint16) {
	b := p.data[offset:]
	return binary.BigEndian.Uint16(b[0:]), binary.BigEndian.Uint16(b[2:])
}

func writeFreeBlockNode(p *Page, offset uint16, next uint16, size uint16) {
	b := p.data[offset:]
	binary.BigEndian.PutUint16(b[0:], next)
	binary.BigEndian.PutUint16(b[2:], size)
	p.dirty = true
}

// FreeRow splices the region at addr (size RowSize bytes) into the
// page's free-block list, keeping the list ordered by offset.
func (p *Page) FreeRow(addr uint16) {
	head := p.FreeBlockHead()
	if head == 0 {
		writeFreeBlockNode(p, addr, 0, RowSize)
		p.SetFreeBlockHead(addr)
		return
	}

	if addr < head {
		writeFreeBlockNode(p, addr, head, RowSize)
		p.SetFreeBlockHead(addr)
		return
	}

	pred := head
	predNext, _ := readFreeBlockNode(p, pred)
	for predNext != 0 && predNext < addr {
		pred = predNext
		predNext, _ = readFreeBlockNode(p, pred)
	}

	writeFreeBlockNode(p, addr, predNext, RowSize)
	_, predSize := readFreeBlockNode(p, pred)
	writeFreeBlockNode(p, pred, addr, predSize)
}

// AllocateValueSlot returns the offset of a row-sized region to write a new
// row into: the tail of the free-block list if nonempty, otherwise the
// next never-used downward-growing default slot.
func (p *Page) AllocateValueSlot() uint16 {
	head := p.FreeBlockHead()
	if head == 0 {
		n := p.nextDefaultSlot()
		p.setNextDefaultSlot(n + 1)
		return defaultSlotOffset(n)
	}

	nextOfHead, _ := readFreeBlockNode(p, head)
	if nextOfHead == 0 {
		// head is the only node; it is the tail.
		p.SetFreeBlockHead(0)
		return head
	}

	pred := head
	cur := nextOfHead
	for {
		nextOfCur, _ := readFreeBlockNode(p, cur)
		if nextOfCur == 0 {
			break
		}
		pred = cur
		cur = nextOfCur
	}

	_, predSize := readFreeBlockNode(p, pred)
	writeFreeBlockNode(p, pred, 0, predSize)
	return cur
}
