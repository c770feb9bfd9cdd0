package btree

import (
	"testing"

	"github.com/go-logr/logr"

	"github.com/redixhumayun/databases/common/testutil"
)

func TestNewPageAllocatesSequentially(t *testing.T) {
	dir := testutil.TempDir(t)
	pager, err := OpenDatabaseFile(dir+"/test.db", logr.Discard())
	if err != nil {
		t.Fatalf("open database file failed: %v", err)
	}
	defer pager.Close()

	p0, err := pager.NewPage()
	if err != nil {
		t.Fatalf("new page failed: %v", err)
	}
	p1, err := pager.NewPage()
	if err != nil {
		t.Fatalf("new page failed: %v", err)
	}
	if p0.ID() != 0 || p1.ID() != 1 {
		t.Fatalf("expected sequential page ids 0, 1, got %d, %d", p0.ID(), p1.ID())
	}
	if pager.NumPages() != 2 {
		t.Fatalf("expected 2 pages, got %d", pager.NumPages())
	}
}

func TestGetPageOutOfRangeZeroInitializes(t *testing.T) {
	dir := testutil.TempDir(t)
	pager, err := OpenDatabaseFile(dir+"/test.db", logr.Discard())
	if err != nil {
		t.Fatalf("open database file failed: %v", err)
	}
	defer pager.Close()

	page, err := pager.GetPage(5)
	if err != nil {
		t.Fatalf("get page failed: %v", err)
	}
	if page.Initialized() {
		t.Fatalf("expected lazily allocated page to be uninitialized")
	}
}

func TestRootPageIDPersistsAcrossReopen(t *testing.T) {
	dir := testutil.TempDir(t)
	path := dir + "/test.db"

	pager, err := OpenDatabaseFile(path, logr.Discard())
	if err != nil {
		t.Fatalf("open database file failed: %v", err)
	}
	root, err := pager.NewPage()
	if err != nil {
		t.Fatalf("new page failed: %v", err)
	}
	root.InitLeaf()
	root.SetIsRoot(true)
	if err := pager.SetRootPageID(root.ID()); err != nil {
		t.Fatalf("set root page id failed: %v", err)
	}
	if err := pager.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	pager2, err := OpenDatabaseFile(path, logr.Discard())
	if err != nil {
		t.Fatalf("reopen database file failed: %v", err)
	}
	defer pager2.Close()

	if pager2.RootPageID() != root.ID() {
		t.Fatalf("expected root page id %d after reopen, got %d", root.ID(), pager2.RootPageID())
	}

	reopenedRoot, err := pager2.GetPage(pager2.RootPageID())
	if err != nil {
		t.Fatalf("get root page failed: %v", err)
	}
	if !reopenedRoot.IsLeaf() || !reopenedRoot.Initialized() {
		t.Fatalf("expected reopened root to be an initialized leaf")
	}
}

func TestFlushPersistsDirtyPages(t *testing.T) {
	dir := testutil.TempDir(t)
	path := dir + "/test.db"

	pager, err := OpenDatabaseFile(path, logr.Discard())
	if err != nil {
		t.Fatalf("open database file failed: %v", err)
	}
	page, err := pager.NewPage()
	if err != nil {
		t.Fatalf("new page failed: %v", err)
	}
	page.InitLeaf()
	offset := page.AllocateValueSlot()
	page.WriteRow(offset, newRow(1, 1, 123))

	if err := pager.Flush(); err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	if page.IsDirty() {
		t.Fatalf("expected page to be clean after flush")
	}
	pager.Close()

	pager2, err := OpenDatabaseFile(path, logr.Discard())
	if err != nil {
		t.Fatalf("reopen database file failed: %v", err)
	}
	defer pager2.Close()

	reread, err := pager2.GetPage(page.ID())
	if err != nil {
		t.Fatalf("get page failed: %v", err)
	}
	row := reread.ReadRow(offset)
	if row.Data != 123 {
		t.Fatalf("expected persisted value 123, got %d", row.Data)
	}
}
