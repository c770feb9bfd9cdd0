package btree

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"

	"github.com/redixhumayun/databases/common"
)

// Config configures an Engine.
type Config struct {
	Path        string
	RowIDSeed   int64
	Log         logr.Logger
}

// DefaultConfig returns a Config for opening (or creating) a database at
// path, with a logr.Discard() logger (callers running under the CLI
// replace this with a stdr-backed logger).
func DefaultConfig(path string) Config {
	return Config{
		Path:      path,
		RowIDSeed: 1,
		Log:       logr.Discard(),
	}
}

// Engine is the transaction runner: it drives one INSERT or DELETE
// end-to-end under the tree/WAL contracts, holding the process-wide
// locks that make concurrent transactions safe.
type Engine struct {
	pagerMu     sync.Mutex // guards GetPage's slot allocation inside Pager itself; exposed here only for documentation, Pager owns its own mutex.
	rowInsertMu sync.Mutex
	rowUpdateMu sync.Mutex

	pager       *Pager
	rowIDSource RowIDSource
	log         logr.Logger
	closed      atomic.Bool

	stats struct {
		numKeys     atomic.Int64
		writeCount  atomic.Int64
		readCount   atomic.Int64
		deleteCount atomic.Int64
	}
}

// New opens (or creates) the database file and its WAL at cfg.Path.
func New(cfg Config) (*Engine, error) {
	log := cfg.Log
	if log.GetSink() == nil {
		log = logr.Discard()
	}

	pager, err := OpenDatabaseFile(cfg.Path, log)
	if err != nil {
		return nil, err
	}

	return &Engine{
		pager:       pager,
		rowIDSource: NewRandomRowIDSource(cfg.RowIDSeed),
		log:         log,
	}, nil
}

func (e *Engine) ensureRootInitialized() error {
	rootID := e.pager.RootPageID()
	root, err := e.pager.GetPage(rootID)
	if err != nil {
		return err
	}
	if !root.Initialized() {
		root.InitLeaf()
		root.SetIsRoot(true)
	}
	return nil
}

// StartTransaction assigns a transaction ID from the WAL and runs t's
// mutation end-to-end.
func (e *Engine) StartTransaction(t common.Transaction) (common.Transaction, error) {
	if e.closed.Load() {
		return t, common.ErrClosed
	}

	txID, err := e.pager.WAL().GetNextXID()
	if err != nil {
		return t, err
	}
	t.TxID = txID

	switch t.Type {
	case common.TransactionInsert:
		err = e.insert(t.Key, t.Value, txID)
	case common.TransactionDelete:
		err = e.delete(t.Key, txID)
	default:
		err = fmt.Errorf("unknown transaction type %v", t.Type)
	}
	return t, err
}

// Insert runs an INSERT transaction for (key, value), returning the
// assigned transaction ID.
func (e *Engine) Insert(key, value uint32) (uint32, error) {
	t, err := e.StartTransaction(common.Transaction{Type: common.TransactionInsert, Key: key, Value: value})
	return t.TxID, err
}

// Delete runs a DELETE transaction for key, returning the assigned
// transaction ID.
func (e *Engine) Delete(key uint32) (uint32, error) {
	t, err := e.StartTransaction(common.Transaction{Type: common.TransactionDelete, Key: key})
	return t.TxID, err
}

func (e *Engine) insert(key, value uint32, txID uint32) error {
	if err := e.ensureRootInitialized(); err != nil {
		return err
	}

	leafID, cellIndex, found, err := searchTree(e.pager, key)
	if err != nil {
		return err
	}

	leaf, err := e.pager.GetPage(leafID)
	if err != nil {
		return err
	}

	if found {
		e.rowUpdateMu.Lock()
		defer e.rowUpdateMu.Unlock()
		err = updateLeafCell(e.pager, leaf, cellIndex, value, txID, e.rowIDSource, e.log)
		if err == nil {
			e.stats.writeCount.Add(1)
		}
		return err
	}

	e.rowInsertMu.Lock()
	defer e.rowInsertMu.Unlock()

	if err := e.pager.WAL().WalWrite(txID, common.TransactionInsert, value); err != nil {
		return err
	}
	if err := insertIntoLeaf(e.pager, leaf, key, value, txID, e.rowIDSource); err != nil {
		return err
	}

	e.stats.numKeys.Add(1)
	e.stats.writeCount.Add(1)
	return nil
}

func (e *Engine) delete(key uint32, txID uint32) error {
	leafID, cellIndex, found, err := searchTree(e.pager, key)
	if err != nil {
		return err
	}
	if !found {
		e.log.V(1).Info("delete: key not found, no-op", "key", key)
		return nil
	}

	leaf, err := e.pager.GetPage(leafID)
	if err != nil {
		return err
	}

	e.rowInsertMu.Lock()
	defer e.rowInsertMu.Unlock()

	if err := deleteLeafCell(e.pager, leaf, cellIndex, key, txID, e.log); err != nil {
		return err
	}

	e.stats.numKeys.Add(-1)
	e.stats.deleteCount.Add(1)
	return nil
}

// Get returns the live value for key, visible to the latest transaction
// ID issued so far.
func (e *Engine) Get(key uint32) (uint32, error) {
	if e.closed.Load() {
		return 0, common.ErrClosed
	}

	leafID, cellIndex, found, err := searchTree(e.pager, key)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, common.ErrKeyNotFound
	}

	leaf, err := e.pager.GetPage(leafID)
	if err != nil {
		return 0, err
	}

	e.stats.readCount.Add(1)
	offset := leaf.LeafCellValueOffset(cellIndex)
	row := leaf.ReadRow(offset)
	if row.IsDeleted {
		return 0, common.ErrKeyNotFound
	}
	return row.Data, nil
}

// SelectAll returns every row visible to txID, in ascending key order.
func (e *Engine) SelectAll(txID uint32) ([]VisibleRow, error) {
	if e.closed.Load() {
		return nil, common.ErrClosed
	}
	rows, err := selectAll(e.pager, e.pager.RootPageID(), txID)
	if err == nil {
		e.stats.readCount.Add(int64(len(rows)))
	}
	return rows, err
}

// LatestXID issues and returns a new transaction ID, greater than every
// ID issued before it, suitable as the txID argument to SelectAll for a
// "read everything committed so far" snapshot.
func (e *Engine) LatestXID() (uint32, error) {
	return e.pager.WAL().GetNextXID()
}

// Sync flushes the pager and WAL to stable storage without closing.
func (e *Engine) Sync() error {
	if err := e.pager.Flush(); err != nil {
		return err
	}
	return e.pager.WAL().Sync()
}

// Close flushes and closes the pager (and its WAL).
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return common.ErrClosed
	}
	return e.pager.Close()
}

// Stats reports basic operation counters.
func (e *Engine) Stats() common.Stats {
	return common.Stats{
		NumKeys:     e.stats.numKeys.Load(),
		NumPages:    int64(e.pager.NumPages()),
		WriteCount:  e.stats.writeCount.Load(),
		ReadCount:   e.stats.readCount.Load(),
		DeleteCount: e.stats.deleteCount.Load(),
	}
}
