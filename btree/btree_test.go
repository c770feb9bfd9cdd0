package btree

import (
	"testing"

	"github.com/redixhumayun/databases/common"
	"github.com/redixhumayun/databases/common/testutil"
)

func setupTestEngine(t *testing.T) (*Engine, func()) {
	dir := testutil.TempDir(t)
	cfg := DefaultConfig(dir + "/test.db")
	engine, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	cleanup := func() {
		engine.Close()
	}

	return engine, cleanup
}

func TestBasicInsertAndGet(t *testing.T) {
	engine, cleanup := setupTestEngine(t)
	defer cleanup()

	if _, err := engine.Insert(3, 3); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	value, err := engine.Get(3)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if value != 3 {
		t.Fatalf("expected 3, got %d", value)
	}

	if _, err := engine.Get(999); err != common.ErrKeyNotFound {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestInsertDuplicateKeyUpdates(t *testing.T) {
	engine, cleanup := setupTestEngine(t)
	defer cleanup()

	if _, err := engine.Insert(5, 50); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if _, err := engine.Insert(5, 51); err != nil {
		t.Fatalf("duplicate insert (update) failed: %v", err)
	}

	value, err := engine.Get(5)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if value != 51 {
		t.Fatalf("expected 51, got %d", value)
	}
}

func TestDeleteThenGetNotFound(t *testing.T) {
	engine, cleanup := setupTestEngine(t)
	defer cleanup()

	engine.Insert(3, 3)
	if _, err := engine.Delete(3); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	if _, err := engine.Get(3); err != common.ErrKeyNotFound {
		t.Fatalf("expected ErrKeyNotFound after delete, got %v", err)
	}
}

func TestDeleteNonExistentKeyIsNoop(t *testing.T) {
	engine, cleanup := setupTestEngine(t)
	defer cleanup()

	if _, err := engine.Delete(404); err != nil {
		t.Fatalf("delete of missing key should be a no-op, got %v", err)
	}
}

func TestSelectAllOrdering(t *testing.T) {
	engine, cleanup := setupTestEngine(t)
	defer cleanup()

	engine.Insert(9, 9)
	engine.Insert(3, 3)
	engine.Insert(6, 6)

	xid, err := engine.LatestXID()
	if err != nil {
		t.Fatalf("LatestXID failed: %v", err)
	}

	rows, err := engine.SelectAll(xid)
	if err != nil {
		t.Fatalf("select_all failed: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}

	wantKeys := []uint32{3, 6, 9}
	for i, want := range wantKeys {
		if rows[i].Key != want {
			t.Fatalf("row %d: expected key %d, got %d", i, want, rows[i].Key)
		}
		if rows[i].Row.Data != want {
			t.Fatalf("row %d: expected value %d, got %d", i, want, rows[i].Row.Data)
		}
	}
}

func TestUpdateVisibilityAcrossTransactions(t *testing.T) {
	engine, cleanup := setupTestEngine(t)
	defer cleanup()

	insertXID, err := engine.Insert(5, 50)
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	updateXID, err := engine.Insert(5, 51) // duplicate key -> update
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}

	rowsAtInsert, err := engine.SelectAll(insertXID)
	if err != nil {
		t.Fatalf("select_all at insert xid failed: %v", err)
	}
	if len(rowsAtInsert) != 1 || rowsAtInsert[0].Row.Data != 50 {
		t.Fatalf("expected value 50 visible at insert's xid, got %+v", rowsAtInsert)
	}

	rowsAtUpdate, err := engine.SelectAll(updateXID)
	if err != nil {
		t.Fatalf("select_all at update xid failed: %v", err)
	}
	if len(rowsAtUpdate) != 1 || rowsAtUpdate[0].Row.Data != 51 {
		t.Fatalf("expected value 51 visible at update's xid, got %+v", rowsAtUpdate)
	}
}

func TestLeafSplitOnOverflow(t *testing.T) {
	engine, cleanup := setupTestEngine(t)
	defer cleanup()

	// Fill one leaf to capacity (NodeOrder cells).
	for i := uint32(1); i <= NodeOrder; i++ {
		if _, err := engine.Insert(i*10, i); err != nil {
			t.Fatalf("insert failed for key %d: %v", i*10, err)
		}
	}

	// One more insert at the beginning triggers a split.
	if _, err := engine.Insert(1, 100); err != nil {
		t.Fatalf("insert triggering split failed: %v", err)
	}

	root, err := engine.pager.GetPage(engine.pager.RootPageID())
	if err != nil {
		t.Fatalf("failed to load root: %v", err)
	}
	if !root.IsInternal() {
		t.Fatalf("expected root to be promoted to an internal node after split")
	}

	for i := uint32(1); i <= NodeOrder; i++ {
		v, err := engine.Get(i * 10)
		if err != nil {
			t.Fatalf("get failed for key %d: %v", i*10, err)
		}
		if v != i {
			t.Fatalf("expected value %d for key %d, got %d", i, i*10, v)
		}
	}
	v, err := engine.Get(1)
	if err != nil {
		t.Fatalf("get failed for key 1: %v", err)
	}
	if v != 100 {
		t.Fatalf("expected 100 for key 1, got %d", v)
	}
}

func TestManyKeysAcrossMultipleSplits(t *testing.T) {
	engine, cleanup := setupTestEngine(t)
	defer cleanup()

	const numKeys = 200
	for i := uint32(1); i <= numKeys; i++ {
		if _, err := engine.Insert(i, i*2); err != nil {
			t.Fatalf("insert failed for key %d: %v", i, err)
		}
	}

	for i := uint32(1); i <= numKeys; i++ {
		v, err := engine.Get(i)
		if err != nil {
			t.Fatalf("get failed for key %d: %v", i, err)
		}
		if v != i*2 {
			t.Fatalf("expected %d for key %d, got %d", i*2, i, v)
		}
	}
}

func TestFreeBlockSlotReuse(t *testing.T) {
	engine, cleanup := setupTestEngine(t)
	defer cleanup()

	engine.Insert(1, 1)
	engine.Insert(2, 2)
	engine.Delete(1)

	leafID, _, _, err := searchTree(engine.pager, 2)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	leaf, err := engine.pager.GetPage(leafID)
	if err != nil {
		t.Fatalf("get page failed: %v", err)
	}
	if leaf.FreeBlockHead() == 0 {
		t.Fatalf("expected a free block after delete")
	}

	if _, err := engine.Insert(3, 3); err != nil {
		t.Fatalf("insert after delete failed: %v", err)
	}

	v, err := engine.Get(3)
	if err != nil || v != 3 {
		t.Fatalf("expected 3, got %d, err %v", v, err)
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir := testutil.TempDir(t)
	path := dir + "/test.db"

	engine, err := New(DefaultConfig(path))
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	if _, err := engine.Insert(7, 7); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if err := engine.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	engine2, err := New(DefaultConfig(path))
	if err != nil {
		t.Fatalf("failed to reopen engine: %v", err)
	}
	defer engine2.Close()

	xid, err := engine2.LatestXID()
	if err != nil {
		t.Fatalf("LatestXID after reopen failed: %v", err)
	}

	rows, err := engine2.SelectAll(xid)
	if err != nil {
		t.Fatalf("select_all after reopen failed: %v", err)
	}
	if len(rows) != 1 || rows[0].Key != 7 || rows[0].Row.Data != 7 {
		t.Fatalf("expected [7->7] after reopen, got %+v", rows)
	}
}

func TestPersistenceAcrossReopenAfterRootSplit(t *testing.T) {
	dir := testutil.TempDir(t)
	path := dir + "/test.db"

	engine, err := New(DefaultConfig(path))
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	const numKeys = 50
	for i := uint32(1); i <= numKeys; i++ {
		if _, err := engine.Insert(i, i*10); err != nil {
			t.Fatalf("insert failed for key %d: %v", i, err)
		}
	}

	rootBeforeClose := engine.pager.RootPageID()
	if rootBeforeClose == 0 {
		t.Fatalf("expected root to have split off page 0 after %d inserts", numKeys)
	}

	if err := engine.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	engine2, err := New(DefaultConfig(path))
	if err != nil {
		t.Fatalf("failed to reopen engine: %v", err)
	}
	defer engine2.Close()

	if got := engine2.pager.RootPageID(); got != rootBeforeClose {
		t.Fatalf("expected root page id %d after reopen, got %d", rootBeforeClose, got)
	}

	for i := uint32(1); i <= numKeys; i++ {
		v, err := engine2.Get(i)
		if err != nil {
			t.Fatalf("get failed for key %d after reopen: %v", i, err)
		}
		if v != i*10 {
			t.Fatalf("expected %d for key %d after reopen, got %d", i*10, i, v)
		}
	}
}

func TestXIDMonotonicAcrossReopen(t *testing.T) {
	dir := testutil.TempDir(t)
	path := dir + "/test.db"

	engine, err := New(DefaultConfig(path))
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	lastXID, err := engine.Insert(1, 1)
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	engine.Close()

	engine2, err := New(DefaultConfig(path))
	if err != nil {
		t.Fatalf("failed to reopen engine: %v", err)
	}
	defer engine2.Close()

	nextXID, err := engine2.Insert(2, 2)
	if err != nil {
		t.Fatalf("insert after reopen failed: %v", err)
	}
	if nextXID <= lastXID {
		t.Fatalf("expected xid after reopen (%d) to exceed last xid before close (%d)", nextXID, lastXID)
	}
}

func TestConcurrentLoadFixture(t *testing.T) {
	engine, cleanup := setupTestEngine(t)
	defer cleanup()

	keys := []uint32{3, 6, 9, 3, 12}
	done := make(chan error, len(keys)+1)

	for _, k := range keys {
		k := k
		go func() {
			_, err := engine.Insert(k, k)
			done <- err
		}()
	}
	go func() {
		_, err := engine.Delete(15)
		done <- err
	}()

	for i := 0; i < len(keys)+1; i++ {
		if err := <-done; err != nil {
			t.Fatalf("concurrent operation failed: %v", err)
		}
	}

	xid, err := engine.LatestXID()
	if err != nil {
		t.Fatalf("LatestXID failed: %v", err)
	}
	rows, err := engine.SelectAll(xid)
	if err != nil {
		t.Fatalf("select_all failed: %v", err)
	}
	seen := map[uint32]bool{}
	for _, r := range rows {
		seen[r.Key] = true
	}
	for _, k := range []uint32{3, 6, 9, 12} {
		if !seen[k] {
			t.Fatalf("expected key %d to be visible after concurrent load, rows=%+v", k, rows)
		}
	}
}

func TestStats(t *testing.T) {
	engine, cleanup := setupTestEngine(t)
	defer cleanup()

	for i := uint32(0); i < 10; i++ {
		engine.Insert(i, i)
	}
	for i := uint32(0); i < 10; i++ {
		engine.Get(i)
	}

	stats := engine.Stats()
	if stats.NumKeys != 10 {
		t.Errorf("expected 10 keys, got %d", stats.NumKeys)
	}
	if stats.WriteCount != 10 {
		t.Errorf("expected 10 writes, got %d", stats.WriteCount)
	}
	if stats.ReadCount != 10 {
		t.Errorf("expected 10 reads, got %d", stats.ReadCount)
	}

	t.Logf("stats: %+v", stats)
}

func TestWriteSkewRefusal(t *testing.T) {
	engine, cleanup := setupTestEngine(t)
	defer cleanup()

	if _, err := engine.Insert(5, 50); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	leafID, cellIndex, found, err := searchTree(engine.pager, 5)
	if err != nil || !found {
		t.Fatalf("search failed: found=%v err=%v", found, err)
	}
	leaf, err := engine.pager.GetPage(leafID)
	if err != nil {
		t.Fatalf("get page failed: %v", err)
	}

	newXID, err := engine.pager.WAL().GetNextXID()
	if err != nil {
		t.Fatalf("get next xid failed: %v", err)
	}
	if err := updateLeafCell(engine.pager, leaf, cellIndex, 51, newXID, engine.rowIDSource, engine.log); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	staleXID := newXID - 1
	err = updateLeafCell(engine.pager, leaf, cellIndex, 999, staleXID, engine.rowIDSource, engine.log)
	if err != common.ErrWriteSkew {
		t.Fatalf("expected ErrWriteSkew, got %v", err)
	}

	v, err := engine.Get(5)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if v != 51 {
		t.Fatalf("refused update must not have modified the chain, expected 51, got %d", v)
	}
}
