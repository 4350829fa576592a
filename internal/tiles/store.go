package tiles

import (
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// Status is the lifecycle state of a cache entry.
type Status int

const (
	Pending Status = iota
	Loaded
	Failed
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Loaded:
		return "loaded"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Entry is the cached state of one tile. Image is set only when Loaded, Err only when Failed.
type Entry struct {
	Status    Status
	Image     *Image
	Err       error
	UpdatedAt time.Time
}

// Store holds tile entries for the lifetime of the process. There is no size bound:
// entries go away only through Delete or Clear.
type Store struct {
	entries cmap.ConcurrentMap[string, Entry]
}

func NewStore() *Store {
	return &Store{entries: cmap.New[Entry]()}
}

func (s *Store) Get(key TileKey) (Entry, bool) {
	return s.entries.Get(key.String())
}

// Put replaces any prior entry for key.
func (s *Store) Put(key TileKey, e Entry) {
	s.entries.Set(key.String(), e)
}

func (s *Store) Delete(key TileKey) {
	s.entries.Remove(key.String())
}

func (s *Store) Clear() {
	s.entries.Clear()
}

func (s *Store) Len() int {
	return s.entries.Count()
}
