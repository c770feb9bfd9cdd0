package btree

import "github.com/redixhumayun/databases/common"

// searchTree descends from root to the leaf that would contain key: at
// each internal node, the child at the first routing key > the search key
// is followed, or the right-child reference when no routing key is greater.
// An exact routing-key match therefore follows the child just right of
// that key, since a leaf split promotes its right sibling's first key.
// Returns the leaf page number, the cell
// index (a hit index if found, else the insertion point), and whether the
// key was found.
func searchTree(pager *Pager, key uint32) (leafPageID uint32, cellIndex uint32, found bool, err error) {
	pageID := pager.RootPageID()

	for {
		page, err := pager.GetPage(pageID)
		if err != nil {
			return 0, 0, false, err
		}

		if page.IsLeaf() {
			idx := page.SearchCell(key)
			if idx < 0 {
				return pageID, uint32(-(idx + 1)), true, nil
			}
			return pageID, uint32(idx), false, nil
		}

		childIdx, exact := page.FindChildIndex(key)
		if exact {
			childIdx++
		}
		if childIdx == int(page.NumKeys()) {
			pageID = page.RightChild()
			continue
		}
		pageID = page.InternalCellChild(uint32(childIdx))
	}
}

// newRow builds a fresh, live row version for an insert or update.
func newRow(id uint32, txID uint32, value uint32) common.Row {
	return common.Row{
		ID:         id,
		IsDeleted:  false,
		XMin:       txID,
		XMax:       common.MaxTransactionID,
		Data:       value,
		PrevPage:   common.NullPage,
		PrevOffset: 0,
	}
}
