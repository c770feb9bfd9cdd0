package btree

import (
	"github.com/go-logr/logr"

	"github.com/redixhumayun/databases/common"
)

// updateLeafCell is the MVCC-aware rewrite of an existing key, used both
// for an explicit update and for an insert() that discovers the key
// already exists.
//
// The xmin write-skew precondition is checked, and the WAL record is
// written, before any page bytes are mutated. This ordering is applied
// uniformly across insert/update/delete so a refused operation never
// produces an orphan WAL record.
func updateLeafCell(pager *Pager, leaf *Page, cellIndex uint32, value uint32, txID uint32, rowIDSource RowIDSource, log logr.Logger) error {
	headOffset := leaf.LeafCellValueOffset(cellIndex)
	head := leaf.ReadRow(headOffset)

	if head.XMin > txID {
		log.Info("write skew refusal", "key_cell", cellIndex, "row_xmin", head.XMin, "tx_id", txID)
		return common.ErrWriteSkew
	}

	if err := pager.WAL().WalWrite(txID, common.TransactionInsert, value); err != nil {
		return err
	}

	newOffset := leaf.AllocateValueSlot()
	newRowVal := common.Row{
		ID:         head.ID,
		IsDeleted:  false,
		XMin:       txID,
		XMax:       common.MaxTransactionID,
		Data:       value,
		PrevPage:   leaf.ID(),
		PrevOffset: headOffset,
	}
	leaf.WriteRow(newOffset, newRowVal)
	leaf.SetLeafCellValueOffset(cellIndex, newOffset)

	// headOffset is left allocated rather than freed: newRowVal.PrevOffset
	// still points at it, and any reader whose snapshot falls inside
	// [head.XMin, head.XMax] reaches it through that link. Freeing it here
	// would let a later AllocateValueSlot on this page hand it to an
	// unrelated row and corrupt that reader's view.
	leaf.MarkRowDeleted(headOffset, txID)

	return nil
}

// deleteLeafCell erases the leaf cell entirely and reclaims its head
// row's region. The version chain (any prior versions reachable via
// prev) becomes unreachable and is not separately reclaimed: delete
// does not dismantle the version chain.
func deleteLeafCell(pager *Pager, leaf *Page, cellIndex uint32, key uint32, txID uint32, log logr.Logger) error {
	if err := pager.WAL().WalWrite(txID, common.TransactionDelete, key); err != nil {
		return err
	}

	offset := leaf.LeafCellValueOffset(cellIndex)
	leaf.DeleteLeafCellAt(cellIndex)
	leaf.ZeroRow(offset)
	leaf.FreeRow(offset)

	log.V(1).Info("deleted key", "key", key, "tx_id", txID)
	return nil
}

// VisibleRow pairs a logical key with the physical row version visible to
// a given reader.
type VisibleRow struct {
	Key uint32
	Row common.Row
}

// selectAll is a recursive descent yielding, for every leaf cell, the
// single version in its chain whose [xmin, xmax] interval contains
// txID, if any.
func selectAll(pager *Pager, rootPageID uint32, txID uint32) ([]VisibleRow, error) {
	var out []VisibleRow
	if err := selectAllRecurse(pager, rootPageID, txID, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func selectAllRecurse(pager *Pager, pageID uint32, txID uint32, out *[]VisibleRow) error {
	page, err := pager.GetPage(pageID)
	if err != nil {
		return err
	}

	if page.IsInternal() {
		n := page.NumKeys()
		for i := uint32(0); i < n; i++ {
			if err := selectAllRecurse(pager, page.InternalCellChild(i), txID, out); err != nil {
				return err
			}
		}
		return selectAllRecurse(pager, page.RightChild(), txID, out)
	}

	n := page.NumCells()
	for i := uint32(0); i < n; i++ {
		key := page.LeafCellKey(i)
		curPage := page
		curOffset := page.LeafCellValueOffset(i)

		for {
			row := curPage.ReadRow(curOffset)
			if row.XMin <= txID && txID <= row.XMax {
				*out = append(*out, VisibleRow{Key: key, Row: row})
				break
			}
			if row.PrevPage == common.NullPage {
				break
			}
			prevPage, err := pager.GetPage(row.PrevPage)
			if err != nil {
				return err
			}
			curPage = prevPage
			curOffset = row.PrevOffset
		}
	}
	return nil
}
