package btree

import "github.com/redixhumayun/databases/common"

// copyRowChain copies the full version chain rooted at (src, srcOffset)
// onto dst, allocating a fresh slot for each version and relinking prev
// pointers to the new page. Rows are owned by their containing leaf
// page's value region, so when a cell migrates to a new page during a
// split, its whole chain must migrate with it, not just the head
// version. Returns the offset of the copied head row on dst.
func copyRowChain(src *Page, srcOffset uint16, dst *Page) uint16 {
	row := src.ReadRow(srcOffset)

	var newPrevPage = common.NullPage
	var newPrevOffset uint16
	if row.PrevPage != common.NullPage {
		// Prior versions are only ever written on the same physical page
		// as their successor (insert/update always allocate within the
		// leaf being mutated), so a chain's earlier links live on src too.
		newPrevOffset = copyRowChain(src, row.PrevOffset, dst)
		newPrevPage = dst.ID()
	}

	dstOffset := dst.AllocateValueSlot()
	row.PrevPage = newPrevPage
	row.PrevOffset = newPrevOffset
	dst.WriteRow(dstOffset, row)
	return dstOffset
}

// insertIntoLeaf inserts (key, value) into a leaf already known not to
// contain key, splitting (and recursively promoting) as necessary.
func insertIntoLeaf(pager *Pager, leaf *Page, key uint32, value uint32, txID uint32, rowIDSource RowIDSource) error {
	if !leaf.IsLeafFull() {
		idx := leaf.SearchCell(key)
		if idx < 0 {
			idx = -(idx + 1)
		}
		offset := leaf.AllocateValueSlot()
		leaf.WriteRow(offset, newRow(rowIDSource.NextID(), txID, value))
		leaf.InsertLeafCellAt(uint32(idx), key, offset)
		return nil
	}
	return splitLeafAndInsert(pager, leaf, key, value, txID, rowIDSource)
}

func splitLeafAndInsert(pager *Pager, leaf *Page, key uint32, value uint32, txID uint32, rowIDSource RowIDSource) error {
	sibling, err := pager.NewPage()
	if err != nil {
		return err
	}
	sibling.InitLeaf()
	sibling.SetParent(leaf.Parent())

	n := leaf.NumCells()
	mid := n / 2

	for i := mid; i < n; i++ {
		k := leaf.LeafCellKey(i)
		off := leaf.LeafCellValueOffset(i)
		newOff := copyRowChain(leaf, off, sibling)
		sibling.InsertLeafCellAt(sibling.NumCells(), k, newOff)
	}
	leaf.TruncateCells(mid)

	sibling.SetRightSibling(leaf.RightSibling())
	leaf.SetRightSibling(sibling.ID())

	siblingFirstKey := sibling.LeafCellKey(0)

	target := leaf
	if key > siblingFirstKey {
		target = sibling
	}
	idx := target.SearchCell(key)
	if idx < 0 {
		idx = -(idx + 1)
	}
	offset := target.AllocateValueSlot()
	target.WriteRow(offset, newRow(rowIDSource.NextID(), txID, value))
	target.InsertLeafCellAt(uint32(idx), key, offset)

	return promoteSplit(pager, leaf, sibling, siblingFirstKey)
}

// promoteSplit installs the split boundary key in left's parent, creating
// a new root if left currently has none.
func promoteSplit(pager *Pager, left *Page, right *Page, promoteKey uint32) error {
	if left.Parent() == common.NullPage {
		return createNewRoot(pager, left, right, promoteKey)
	}

	parent, err := pager.GetPage(left.Parent())
	if err != nil {
		return err
	}
	right.SetParent(parent.ID())
	return insertIntoInternalWithSplit(pager, parent, promoteKey, left.ID(), right.ID())
}

func createNewRoot(pager *Pager, left *Page, right *Page, promoteKey uint32) error {
	newRootPage, err := pager.NewPage()
	if err != nil {
		return err
	}
	newRootPage.InitInternal()
	newRootPage.SetIsRoot(true)

	left.SetIsRoot(false)
	right.SetIsRoot(false)
	left.SetParent(newRootPage.ID())
	right.SetParent(newRootPage.ID())

	newRootPage.InsertInternalCellAt(0, left.ID(), promoteKey)
	newRootPage.SetRightChild(right.ID())

	return pager.SetRootPageID(newRootPage.ID())
}

// insertIntoInternalWithSplit installs a (promoteKey, leftID, rightID)
// split result into node: leftID takes the new cell at the routing
// position for promoteKey, and whatever previously occupied that routing
// position (which used to stand in for leftID alone) is repointed to
// rightID.
func insertIntoInternalWithSplit(pager *Pager, node *Page, promoteKey uint32, leftID uint32, rightID uint32) error {
	if !node.IsInternalFull() {
		installPromotedKey(node, promoteKey, leftID, rightID)
		return nil
	}
	return splitInternalAndInsert(pager, node, promoteKey, leftID, rightID)
}

func installPromotedKey(node *Page, promoteKey uint32, leftID uint32, rightID uint32) {
	oldNumKeys := node.NumKeys()
	idx, _ := node.FindChildIndex(promoteKey)
	node.InsertInternalCellAt(uint32(idx), leftID, promoteKey)

	if uint32(idx) == oldNumKeys {
		node.SetRightChild(rightID)
	} else {
		node.SetInternalCellChild(uint32(idx)+1, rightID)
	}
}

// splitInternalAndInsert implements the symmetric internal-split
// routine: conceptually insert (promoteKey, leftID, rightID) into the
// already-full node, then split the resulting NodeOrder-key node in
// half, promoting the middle key upward.
func splitInternalAndInsert(pager *Pager, node *Page, promoteKey uint32, leftID uint32, rightID uint32) error {
	oldNumKeys := node.NumKeys()

	origKeys := make([]uint32, oldNumKeys)
	origChildren := make([]uint32, oldNumKeys+1)
	for i := uint32(0); i < oldNumKeys; i++ {
		origKeys[i] = node.InternalCellKey(i)
		origChildren[i] = node.InternalCellChild(i)
	}
	origChildren[oldNumKeys] = node.RightChild()

	idx, _ := node.FindChildIndex(promoteKey)

	newKeys := make([]uint32, 0, oldNumKeys+1)
	newKeys = append(newKeys, origKeys[:idx]...)
	newKeys = append(newKeys, promoteKey)
	newKeys = append(newKeys, origKeys[idx:]...)

	newChildren := make([]uint32, 0, oldNumKeys+2)
	newChildren = append(newChildren, origChildren[:idx]...)
	newChildren = append(newChildren, leftID)
	newChildren = append(newChildren, rightID)
	newChildren = append(newChildren, origChildren[idx+1:]...)

	mid := len(newKeys) / 2
	promoted := newKeys[mid]

	leftKeys := newKeys[:mid]
	leftChildren := newChildren[:mid+1]
	rightKeys := newKeys[mid+1:]
	rightChildren := newChildren[mid+1:]

	node.ResetInternalCells()
	for i, k := range leftKeys {
		node.InsertInternalCellAt(uint32(i), leftChildren[i], k)
	}
	node.SetRightChild(leftChildren[len(leftChildren)-1])
	if err := reparentChildren(pager, leftChildren, node.ID()); err != nil {
		return err
	}

	siblingPage, err := pager.NewPage()
	if err != nil {
		return err
	}
	siblingPage.InitInternal()
	siblingPage.SetParent(node.Parent())
	for i, k := range rightKeys {
		siblingPage.InsertInternalCellAt(uint32(i), rightChildren[i], k)
	}
	siblingPage.SetRightChild(rightChildren[len(rightChildren)-1])
	if err := reparentChildren(pager, rightChildren, siblingPage.ID()); err != nil {
		return err
	}

	return promoteSplit(pager, node, siblingPage, promoted)
}

func reparentChildren(pager *Pager, children []uint32, parentID uint32) error {
	for _, childID := range children {
		child, err := pager.GetPage(childID)
		if err != nil {
			return err
		}
		child.SetParent(parentID)
	}
	return nil
}
