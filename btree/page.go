// Package btree implements the disk-backed B+-tree storage engine: page
// layout, free-block reclamation, the tree operators, the write-ahead log,
// and the pager that ties them to a single database file.
package btree

import (
	"encoding/binary"

	"github.com/redixhumayun/databases/common"
)

// PageSize is the fixed on-disk and in-memory unit of storage.
const PageSize = 4096

// NodeOrder is the canonical branching factor: at most NodeOrder leaf
// cells, and NodeOrder-1 internal keys.
const NodeOrder = 10

// MaxNumOfPages bounds the pager's fixed page array.
const MaxNumOfPages = 100

// Page type tags, stored at offset 0 of every page.
const (
	PageTypeInternal byte = 1
	PageTypeLeaf     byte = 2
)

// Common header, present on every page, regardless of variant.
// [type(1)][initialized(1)][isRoot(1)][parent(4)][freeBlockHead(2)] = 9 bytes
const (
	commonHeaderOffsetType          = 0
	commonHeaderOffsetInitialized   = 1
	commonHeaderOffsetIsRoot        = 2
	commonHeaderOffsetParent        = 3
	commonHeaderOffsetFreeBlockHead = 7
	commonHeaderSize                = 9
)

// Internal-node header, following the common header.
// [numKeys(4)][rightChild(4)] = 8 bytes
const (
	internalHeaderOffsetNumKeys    = commonHeaderSize
	internalHeaderOffsetRightChild = commonHeaderSize + 4
	internalHeaderSize             = commonHeaderSize + 8

	internalCellSize        = 8 // childRef(4) + key(4)
	internalCellOffsetChild = 0
	internalCellOffsetKey   = 4
)

// Leaf-node header, following the common header.
// [numCells(4)][rightSibling(4)][nextDefaultSlot(2)] = 10 bytes
//
// nextDefaultSlot counts default (never-reclaimed) value slots handed out
// so far. It cannot be derived from numCells alone because MVCC update()
// appends a new row to an existing cell's chain without creating a new
// cell.
const (
	leafHeaderOffsetNumCells        = commonHeaderSize
	leafHeaderOffsetRightSibling    = commonHeaderSize + 4
	leafHeaderOffsetNextDefaultSlot = commonHeaderSize + 8
	leafHeaderSize                  = commonHeaderSize + 10

	leafCellSize        = 6 // key(4) + valueOffset(2)
	leafCellOffsetKey   = 0
	leafCellOffsetValue = 4
)

// RowSize is the fixed encoded size of a Row record:
// id(4) + isDeleted(1) + xmin(4) + xmax(4) + data(4) + prevPage(4) + prevOffset(2)
const RowSize = 4 + 1 + 4 + 4 + 4 + 4 + 2

// Page is an in-memory representation of one 4096-byte page buffer, owned
// uniquely by the pager. Tree operators borrow it transiently.
type Page struct {
	id    uint32
	data  [PageSize]byte
	dirty bool
}

// newRawPage allocates a zero-filled, uninitialized page buffer, for lazy
// zero-initialization of out-of-range pages.
func newRawPage(id uint32) *Page {
	return &Page{id: id}
}

// LoadPage wraps existing on-disk bytes (already PageSize long) as a Page.
func LoadPage(id uint32, data []byte) *Page {
	p := &Page{id: id}
	copy(p.data[:], data)
	return p
}

func (p *Page) ID() uint32    { return p.id }
func (p *Page) IsDirty() bool { return p.dirty }
func (p *Page) MarkDirty()    { p.dirty = true }
func (p *Page) ClearDirty()   { p.dirty = false }
func (p *Page) Bytes() []byte { return p.data[:] }

func (p *Page) Type() byte { return p.data[commonHeaderOffsetType] }
func (p *Page) IsLeaf() bool {
	return p.data[commonHeaderOffsetType] == PageTypeLeaf
}
func (p *Page) IsInternal() bool {
	return p.data[commonHeaderOffsetType] == PageTypeInternal
}

func (p *Page) Initialized() bool {
	return p.data[commonHeaderOffsetInitialized] == 1
}

func (p *Page) IsRoot() bool {
	return p.data[commonHeaderOffsetIsRoot] == 1
}

func (p *Page) SetIsRoot(isRoot bool) {
	if isRoot {
		p.data[commonHeaderOffsetIsRoot] = 1
	} else {
		p.data[commonHeaderOffsetIsRoot] = 0
	}
	p.dirty = true
}

func (p *Page) Parent() uint32 {
	return binary.BigEndian.Uint32(p.data[commonHeaderOffsetParent:])
}

func (p *Page) SetParent(pageNum uint32) {
	binary.BigEndian.PutUint32(p.data[commonHeaderOffsetParent:], pageNum)
	p.dirty = true
}

func (p *Page) FreeBlockHead() uint16 {
	return binary.BigEndian.Uint16(p.data[commonHeaderOffsetFreeBlockHead:])
}

func (p *Page) SetFreeBlockHead(offset uint16) {
	binary.BigEndian.PutUint16(p.data[commonHeaderOffsetFreeBlockHead:], offset)
	p.dirty = true
}

// InitLeaf turns an uninitialized page into an empty leaf node.
func (p *Page) InitLeaf() {
	p.data[commonHeaderOffsetType] = PageTypeLeaf
	p.data[commonHeaderOffsetInitialized] = 1
	p.data[commonHeaderOffsetIsRoot] = 0
	binary.BigEndian.PutUint32(p.data[commonHeaderOffsetParent:], common.NullPage)
	p.SetFreeBlockHead(0)
	p.setNumCells(0)
	p.SetRightSibling(common.NullPage)
	p.setNextDefaultSlot(0)
	p.dirty = true
}

// InitInternal turns an uninitialized page into an empty internal node.
func (p *Page) InitInternal() {
	p.data[commonHeaderOffsetType] = PageTypeInternal
	p.data[commonHeaderOffsetInitialized] = 1
	p.data[commonHeaderOffsetIsRoot] = 0
	binary.BigEndian.PutUint32(p.data[commonHeaderOffsetParent:], common.NullPage)
	p.SetFreeBlockHead(0)
	p.setNumKeys(0)
	p.SetRightChild(common.NullPage)
	p.dirty = true
}

// ---- Leaf header accessors ----

func (p *Page) NumCells() uint32 {
	return binary.BigEndian.Uint32(p.data[leafHeaderOffsetNumCells:])
}

func (p *Page) setNumCells(n uint32) {
	binary.BigEndian.PutUint32(p.data[leafHeaderOffsetNumCells:], n)
	p.dirty = true
}

func (p *Page) RightSibling() uint32 {
	return binary.BigEndian.Uint32(p.data[leafHeaderOffsetRightSibling:])
}

func (p *Page) SetRightSibling(pageNum uint32) {
	binary.BigEndian.PutUint32(p.data[leafHeaderOffsetRightSibling:], pageNum)
	p.dirty = true
}

func (p *Page) nextDefaultSlot() uint16 {
	return binary.BigEndian.Uint16(p.data[leafHeaderOffsetNextDefaultSlot:])
}

func (p *Page) setNextDefaultSlot(n uint16) {
	binary.BigEndian.PutUint16(p.data[leafHeaderOffsetNextDefaultSlot:], n)
	p.dirty = true
}

// ---- Internal header accessors ----

func (p *Page) NumKeys() uint32 {
	return binary.BigEndian.Uint32(p.data[internalHeaderOffsetNumKeys:])
}

func (p *Page) setNumKeys(n uint32) {
	binary.BigEndian.PutUint32(p.data[internalHeaderOffsetNumKeys:], n)
	p.dirty = true
}

func (p *Page) RightChild() uint32 {
	return binary.BigEndian.Uint32(p.data[internalHeaderOffsetRightChild:])
}

func (p *Page) SetRightChild(pageNum uint32) {
	binary.BigEndian.PutUint32(p.data[internalHeaderOffsetRightChild:], pageNum)
	p.dirty = true
}

// ---- Leaf cell access ----
// Leaf cells grow upward from leafHeaderSize: [key(4)][valueOffset(2)] * numCells

func leafCellOffset(i uint32) int {
	return leafHeaderSize + int(i)*leafCellSize
}

func (p *Page) LeafCellKey(i uint32) uint32 {
	off := leafCellOffset(i)
	return binary.BigEndian.Uint32(p.data[off+leafCellOffsetKey:])
}

func (p *Page) LeafCellValueOffset(i uint32) uint16 {
	off := leafCellOffset(i)
	return binary.BigEndian.Uint16(p.data[off+leafCellOffsetValue:])
}

func (p *Page) setLeafCell(i uint32, key uint32, valueOffset uint16) {
	off := leafCellOffset(i)
	binary.BigEndian.PutUint32(p.data[off+leafCellOffsetKey:], key)
	binary.BigEndian.PutUint16(p.data[off+leafCellOffsetValue:], valueOffset)
	p.dirty = true
}

// InsertLeafCellAt shifts cells [i, numCells) right by one slot and writes
// a new cell at i.
func (p *Page) InsertLeafCellAt(i uint32, key uint32, valueOffset uint16) {
	n := p.NumCells()
	for j := n; j > i; j-- {
		k := p.LeafCellKey(j - 1)
		v := p.LeafCellValueOffset(j - 1)
		p.setLeafCell(j, k, v)
	}
	p.setLeafCell(i, key, valueOffset)
	p.setNumCells(n + 1)
}

// SetLeafCellValueOffset repoints an existing cell's value reference
// (used by update() to point at a newly appended row).
func (p *Page) SetLeafCellValueOffset(i uint32, valueOffset uint16) {
	off := leafCellOffset(i)
	binary.BigEndian.PutUint16(p.data[off+leafCellOffsetValue:], valueOffset)
	p.dirty = true
}

// DeleteLeafCellAt shifts cells [i+1, numCells) left by one slot, erasing
// cell i.
func (p *Page) DeleteLeafCellAt(i uint32) {
	n := p.NumCells()
	for j := i; j+1 < n; j++ {
		k := p.LeafCellKey(j + 1)
		v := p.LeafCellValueOffset(j + 1)
		p.setLeafCell(j, k, v)
	}
	p.setNumCells(n - 1)
	p.dirty = true
}

// TruncateCells sets the leaf's cell count directly, without touching the
// cells themselves — used after a split has copied the upper half of
// cells to a sibling page.
func (p *Page) TruncateCells(n uint32) {
	p.setNumCells(n)
}

// LeafCellCapacity is the number of leaf cells that currently fit before a
// split is required.
func (p *Page) LeafCellCapacity() uint32 {
	return NodeOrder
}

// IsLeafFull reports whether the next insert must split.
func (p *Page) IsLeafFull() bool {
	return p.NumCells() >= p.LeafCellCapacity()
}

// ---- Internal cell access ----
// Internal cells grow upward from internalHeaderSize: [childRef(4)][key(4)] * numKeys

func internalCellOffset(i uint32) int {
	return internalHeaderSize + int(i)*internalCellSize
}

func (p *Page) InternalCellChild(i uint32) uint32 {
	off := internalCellOffset(i)
	return binary.BigEndian.Uint32(p.data[off+internalCellOffsetChild:])
}

func (p *Page) InternalCellKey(i uint32) uint32 {
	off := internalCellOffset(i)
	return binary.BigEndian.Uint32(p.data[off+internalCellOffsetKey:])
}

func (p *Page) setInternalCell(i uint32, child uint32, key uint32) {
	off := internalCellOffset(i)
	binary.BigEndian.PutUint32(p.data[off+internalCellOffsetChild:], child)
	binary.BigEndian.PutUint32(p.data[off+internalCellOffsetKey:], key)
	p.dirty = true
}

// InsertInternalCellAt shifts cells [i, numKeys) right by one and writes a
// new (child, key) cell at i.
func (p *Page) InsertInternalCellAt(i uint32, child uint32, key uint32) {
	n := p.NumKeys()
	for j := n; j > i; j-- {
		c := p.InternalCellChild(j - 1)
		k := p.InternalCellKey(j - 1)
		p.setInternalCell(j, c, k)
	}
	p.setInternalCell(i, child, key)
	p.setNumKeys(n + 1)
}

func (p *Page) SetInternalCellChild(i uint32, child uint32) {
	off := internalCellOffset(i)
	binary.BigEndian.PutUint32(p.data[off+internalCellOffsetChild:], child)
	p.dirty = true
}

// ResetInternalCells clears the internal node's key/child-cell array
// (used when rebuilding a node's cells in place after a split).
func (p *Page) ResetInternalCells() {
	p.setNumKeys(0)
}

func (p *Page) InternalCellCapacity() uint32 {
	return NodeOrder - 1
}

func (p *Page) IsInternalFull() bool {
	return p.NumKeys() >= p.InternalCellCapacity()
}

// ---- Row (value) region ----
// Rows live in a downward-growing region at the end of the page. A row's
// slot is addressed by a byte offset from the page base, stored either in
// a leaf cell's value reference or in another row's prev field.

func defaultSlotOffset(n uint16) uint16 {
	return uint16(PageSize - (int(n)+1)*RowSize)
}

func (p *Page) readRowAt(offset uint16) common.Row {
	b := p.data[offset:]
	var r common.Row
	r.ID = binary.BigEndian.Uint32(b[0:])
	r.IsDeleted = b[4] != 0
	r.XMin = binary.BigEndian.Uint32(b[5:])
	r.XMax = binary.BigEndian.Uint32(b[9:])
	r.Data = binary.BigEndian.Uint32(b[13:])
	r.PrevPage = binary.BigEndian.Uint32(b[17:])
	r.PrevOffset = binary.BigEndian.Uint16(b[21:])
	return r
}

func (p *Page) writeRowAt(offset uint16, r common.Row) {
	b := p.data[offset:]
	binary.BigEndian.PutUint32(b[0:], r.ID)
	if r.IsDeleted {
		b[4] = 1
	} else {
		b[4] = 0
	}
	binary.BigEndian.PutUint32(b[5:], r.XMin)
	binary.BigEndian.PutUint32(b[9:], r.XMax)
	binary.BigEndian.PutUint32(b[13:], r.Data)
	binary.BigEndian.PutUint32(b[17:], r.PrevPage)
	binary.BigEndian.PutUint16(b[21:], r.PrevOffset)
	p.dirty = true
}

// ReadRow returns the row stored at the given in-page offset.
func (p *Page) ReadRow(offset uint16) common.Row {
	return p.readRowAt(offset)
}

// WriteRow overwrites the row stored at the given in-page offset.
func (p *Page) WriteRow(offset uint16, r common.Row) {
	p.writeRowAt(offset, r)
}

// MarkRowDeleted sets is_deleted and xmax on the row at offset, in place.
func (p *Page) MarkRowDeleted(offset uint16, xmax uint32) {
	r := p.readRowAt(offset)
	r.IsDeleted = true
	r.XMax = xmax
	p.writeRowAt(offset, r)
}

// ZeroRow clears a row's bytes (used by delete() before reclaiming).
func (p *Page) ZeroRow(offset uint16) {
	for i := 0; i < RowSize; i++ {
		p.data[int(offset)+i] = 0
	}
	p.dirty = true
}

// ---- Search ----

// SearchCell binary-searches leaf cells by key: on a hit, returns
// -(mid+1); on a miss, returns the non-negative insertion index.
func (p *Page) SearchCell(key uint32) int {
	n := int(p.NumCells())
	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		k := p.LeafCellKey(uint32(mid))
		switch {
		case k == key:
			return -(mid + 1)
		case k < key:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return lo
}

// FindChildIndex binary-searches internal keys for the leftmost index i
// such that InternalCellKey(i) >= key. Routing keys are strict upper
// bounds of their left subtree: index == NumKeys() means key is greater
// than every routing key (follow the right-child reference), and exact
// equality routes to the child just right of cell i (the right-child
// reference when i is the last cell).
func (p *Page) FindChildIndex(key uint32) (index int, exact bool) {
	n := int(p.NumKeys())
	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		k := p.InternalCellKey(uint32(mid))
		if k < key {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < n && p.InternalCellKey(uint32(lo)) == key {
		return lo, true
	}
	return lo, false
}
