package tiles

import (
	"errors"
	"fmt"
)

var (
	// ErrTileFetchFailed marks a network or decode failure for a tile. Failures are cached.
	ErrTileFetchFailed = errors.New("tile fetch failed")
	// ErrTileFetchCancelled is returned to waiters of a cancelled fetch. Nothing is cached.
	ErrTileFetchCancelled = errors.New("tile fetch cancelled")
	ErrUnknownLayer       = errors.New("unknown tile layer")
	ErrInvalidTile        = errors.New("invalid tile coordinates")
)

// FetchError wraps the cause of a failed tile fetch. It matches ErrTileFetchFailed.
type FetchError struct {
	Key TileKey
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch tile %s: %v", e.Key, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func (e *FetchError) Is(target error) bool {
	return target == ErrTileFetchFailed
}

// HTTPStatusError is returned when the tile server answers with a non-2xx status.
type HTTPStatusError struct {
	Code int
	Body string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("Code %d: %s", e.Code, e.Body)
}
