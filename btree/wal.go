package btree

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/go-logr/logr"

	"github.com/redixhumayun/databases/common"
)

// WAL is the append-only log of mutation records: a 4-byte header
// counting records, followed by a packed array of 16-byte records. It
// also mints monotonically increasing transaction IDs, recovering the
// next one from the last record on open.
type WAL struct {
	mu         sync.Mutex
	xidMu      sync.Mutex // distinct mutex from mu; GetNextXID takes mu briefly while holding xidMu, and nothing takes xidMu while holding mu.
	file       *os.File
	numRecords uint32
	nextXid    uint32
	xidInit    bool
	log        logr.Logger
}

// walHeaderSize is sizeof(WalHeader): {num_of_records uint32}.
const walHeaderSize = 4

// walRecordSize is sizeof(WalRecord): {size, transaction_type, tx_id, value} uint32 each.
const walRecordSize = 16

// OpenWAL opens (or creates) the WAL file without truncating it, so
// transaction IDs and the mutation log survive a clean restart.
func OpenWAL(path string, log logr.Logger) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}

	w := &WAL{file: f, log: log}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("wal: stat %s: %w", path, err)
	}

	if stat.Size() == 0 {
		w.numRecords = 0
		if err := w.writeHeader(); err != nil {
			f.Close()
			return nil, err
		}
	} else {
		header := make([]byte, walHeaderSize)
		if _, err := f.ReadAt(header, 0); err != nil && err != io.EOF {
			f.Close()
			return nil, fmt.Errorf("wal: read header: %w", err)
		}
		w.numRecords = binary.BigEndian.Uint32(header)
	}

	return w, nil
}

func (w *WAL) writeHeader() error {
	header := make([]byte, walHeaderSize)
	binary.BigEndian.PutUint32(header, w.numRecords)
	_, err := w.file.WriteAt(header, 0)
	return err
}

func (w *WAL) recordOffset(index uint32) int64 {
	return walHeaderSize + int64(index)*walRecordSize
}

// GetNextXID returns the next monotonically increasing transaction ID,
// recovering from the last on-disk record the first time it is called
// against an existing WAL file.
func (w *WAL) GetNextXID() (uint32, error) {
	w.xidMu.Lock()
	defer w.xidMu.Unlock()

	if w.file == nil {
		return 0, common.ErrWALNotInitialized
	}

	if w.xidInit {
		w.nextXid++
		return w.nextXid, nil
	}

	w.mu.Lock()
	numRecords := w.numRecords
	w.mu.Unlock()

	if numRecords == 0 {
		w.nextXid = 1
		w.xidInit = true
		return w.nextXid, nil
	}

	buf := make([]byte, walRecordSize)
	if _, err := w.file.ReadAt(buf, w.recordOffset(numRecords-1)); err != nil {
		return 0, fmt.Errorf("wal: read last record: %w", err)
	}
	lastTxID := binary.BigEndian.Uint32(buf[8:12])

	w.nextXid = lastTxID
	w.xidInit = true
	w.nextXid++
	return w.nextXid, nil
}

// WalWrite appends one mutation record and advances the header counter.
// Must be called before the corresponding tree mutation is applied, and
// only after the operation's existence/xmin precondition has already
// been checked, so a refused operation never produces an orphan record.
func (w *WAL) WalWrite(txID uint32, txType common.TransactionType, value uint32) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return common.ErrWALNotInitialized
	}

	buf := make([]byte, walRecordSize)
	binary.BigEndian.PutUint32(buf[0:4], walRecordSize)
	binary.BigEndian.PutUint32(buf[4:8], uint32(txType))
	binary.BigEndian.PutUint32(buf[8:12], txID)
	binary.BigEndian.PutUint32(buf[12:16], value)

	offset := w.recordOffset(w.numRecords)
	if _, err := w.file.WriteAt(buf, offset); err != nil {
		return fmt.Errorf("wal: append record: %w", err)
	}

	w.numRecords++
	if err := w.writeHeader(); err != nil {
		return fmt.Errorf("wal: update header: %w", err)
	}

	w.log.V(1).Info("wal append", "tx_id", txID, "type", txType.String(), "value", value)
	return nil
}

// Sync flushes the WAL file to stable storage.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.file.Sync()
}

// Close closes the WAL file descriptor.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}
