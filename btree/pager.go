package btree

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/go-logr/logr"

	"github.com/redixhumayun/databases/common"
)

// Pager is the lazy cache between page numbers and 4096-byte buffers,
// backed by a single file. It holds a fixed-capacity array of up to
// MaxNumOfPages buffers: bounded, and never evicts.
type Pager struct {
	mu sync.Mutex

	file       *os.File
	fileLength int64
	numPages   uint32
	pages      [MaxNumOfPages]*Page
	rootPageID uint32

	wal *WAL
	log logr.Logger
}

// fileHeaderSize reserves a region at the start of the database file for
// pager metadata, physically disjoint from every page's byte range
// (page N lives at [fileHeaderSize+N*PageSize, fileHeaderSize+(N+1)*PageSize)).
// Without this separation a root pointer written at a fixed in-page
// offset would eventually fall inside live cell data once enough keys
// accumulate on that page, and a later Flush would silently overwrite it.
const fileHeaderSize = 64

// rootPointerOffset is where the root page number is persisted within
// the file header, so a reopen can recover it without a dedicated
// metadata page or a WAL replay.
const rootPointerOffset = 0

// pageOffset returns the file offset of pageNum's 4096-byte buffer,
// shifted past the reserved file header.
func pageOffset(pageNum uint32) int64 {
	return fileHeaderSize + int64(pageNum)*PageSize
}

// OpenDatabaseFile opens (or creates) the database file and its adjacent
// WAL, without truncating either — so a reopen sees the tree and
// transaction ID sequence exactly as they were left at the last clean
// close.
func OpenDatabaseFile(path string, log logr.Logger) (*Pager, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("pager: open %s: %w", path, err)
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("pager: stat %s: %w", path, err)
	}

	var numPagesOnDisk uint32
	if stat.Size() > fileHeaderSize {
		numPagesOnDisk = uint32((stat.Size() - fileHeaderSize) / PageSize)
	}

	p := &Pager{
		file:       f,
		fileLength: stat.Size(),
		numPages:   numPagesOnDisk,
		rootPageID: 0,
		log:        log,
	}

	if stat.Size() > 0 {
		rootBuf := make([]byte, 4)
		if _, err := f.ReadAt(rootBuf, rootPointerOffset); err == nil {
			p.rootPageID = binary.BigEndian.Uint32(rootBuf)
		}
	}

	wal, err := OpenWAL(path+".wal", log)
	if err != nil {
		f.Close()
		return nil, err
	}
	p.wal = wal

	return p, nil
}

// WAL returns the pager's write-ahead log.
func (p *Pager) WAL() *WAL { return p.wal }

// RootPageID returns the current root page number.
func (p *Pager) RootPageID() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rootPageID
}

// SetRootPageID installs a new root page number, persisted eagerly in
// the file header so a reopen can recover it without replay.
func (p *Pager) SetRootPageID(pageID uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rootPageID = pageID

	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, pageID)
	if _, err := p.file.WriteAt(buf, rootPointerOffset); err != nil {
		return fmt.Errorf("pager: persist root pointer: %w", err)
	}
	return nil
}

// GetPage returns the buffer for pageNum, reading it from disk on first
// access and zero-initializing it if it lies beyond the on-disk range.
func (p *Pager) GetPage(pageNum uint32) (*Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.getPageLocked(pageNum)
}

func (p *Pager) getPageLocked(pageNum uint32) (*Page, error) {
	if pageNum >= MaxNumOfPages {
		return nil, common.ErrPagerFull
	}

	if p.pages[pageNum] != nil {
		return p.pages[pageNum], nil
	}

	page := newRawPage(pageNum)

	var numPagesOnDisk uint32
	if p.fileLength > fileHeaderSize {
		numPagesOnDisk = uint32((p.fileLength - fileHeaderSize) / PageSize)
	}
	if pageNum < numPagesOnDisk {
		buf := make([]byte, PageSize)
		if _, err := p.file.ReadAt(buf, pageOffset(pageNum)); err != nil {
			return nil, fmt.Errorf("pager: read page %d: %w", pageNum, err)
		}
		page = LoadPage(pageNum, buf)
	}

	p.pages[pageNum] = page
	if pageNum >= p.numPages {
		p.numPages = pageNum + 1
	}

	return page, nil
}

// NewPage allocates the next page number beyond the current count and
// returns its (zero-initialized) buffer.
func (p *Pager) NewPage() (*Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.numPages >= MaxNumOfPages {
		return nil, common.ErrPagerFull
	}

	pageNum := p.numPages
	page := newRawPage(pageNum)
	p.pages[pageNum] = page
	p.numPages++

	p.log.V(1).Info("pager allocated page", "page", pageNum)
	return page, nil
}

// NumPages returns the current logical page count.
func (p *Pager) NumPages() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.numPages
}

// flushPage writes one page's full buffer to its offset in the file.
func (p *Pager) flushPage(page *Page) error {
	offset := pageOffset(page.ID())
	if _, err := p.file.WriteAt(page.Bytes(), offset); err != nil {
		return fmt.Errorf("pager: flush page %d: %w", page.ID(), err)
	}
	if offset+PageSize > p.fileLength {
		p.fileLength = offset + PageSize
	}
	page.ClearDirty()
	return nil
}

// Flush writes every dirty page to disk.
func (p *Pager) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, page := range p.pages {
		if page == nil || !page.IsDirty() {
			continue
		}
		if err := p.flushPage(page); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes every dirty page, frees the in-memory slots, and closes
// both the database file and the WAL.
func (p *Pager) Close() error {
	if err := p.Flush(); err != nil {
		return err
	}

	p.mu.Lock()
	for i := range p.pages {
		p.pages[i] = nil
	}
	file := p.file
	p.file = nil
	p.mu.Unlock()

	if err := p.wal.Close(); err != nil {
		return err
	}

	if file == nil {
		return nil
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("pager: sync on close: %w", err)
	}
	return file.Close()
}
