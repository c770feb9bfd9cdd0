package common

import "errors"

var (
	// ErrKeyNotFound is returned by Get when search() yields NOT_FOUND.
	// Delete of a missing key is a no-op and returns nil.
	ErrKeyNotFound = errors.New("key not found")

	// ErrClosed is returned when the engine is used after Close.
	ErrClosed = errors.New("storage engine closed")

	// ErrWriteSkew is returned when an update is refused because the row's
	// xmin is newer than the updating transaction's tx_id.
	ErrWriteSkew = errors.New("write skew: row has a newer xmin than this transaction")

	// ErrWALNotInitialized is returned when WalWrite/GetNextXID are called
	// after the WAL file has been closed.
	ErrWALNotInitialized = errors.New("wal not initialized")

	// ErrPagerFull is returned when a page allocation would exceed
	// MAX_NUM_OF_PAGES.
	ErrPagerFull = errors.New("pager: maximum page count exceeded")

	// ErrInvalidPage names a page reference that does not resolve to an
	// allocated, initialized page of the expected type. No function in
	// this module returns it; page references are not validated.
	ErrInvalidPage = errors.New("invalid or uninitialized page")

	// ErrFreeBlockCorrupt names a free-block list that fails its ordering
	// invariant. No function in this module returns it; the list is not
	// checked when walked.
	ErrFreeBlockCorrupt = errors.New("free-block list is not ordered by offset")
)
