package catalog

import "time"

// Catalog is the read model over the ring. Consumers depend on this interface
// rather than *DB so that tests can substitute it.
type Catalog interface {
	UpsertSpecter(row SpecterRow, body string, urls []string) error
	DeleteSpecter(id string) error
	UpsertOperation(row OperationRow) error
	DeleteOperation(id string) error
	ReplaceChronology(entries []ChronologyRow) error
	GetSpecter(id string) (*SpecterRow, error)
	ListSpecters(f Filter, limit, offset int) ([]SpecterRow, int, error)
	Search(query string, limit int) ([]SearchResult, error)
	Consumers(id string) ([]string, error)
	Mentions(url string) ([]string, error)
	AllChecksums() (map[string]string, error)
	AllOperations() (map[string]struct{}, error)
	Close() error
}

var _ Catalog = (*DB)(nil)

// Ring names which ring a row was mirrored from.
const (
	RingLive     = "live"
	RingArchived = "archived"
)

// Variant names the specter body.
const (
	VariantEntity  = "entity"
	VariantPhantom = "phantom"
)

// SpecterRow is one row of the specters table.
type SpecterRow struct {
	ID         string    `json:"id"`
	Ord        uint64    `json:"ord"`
	Kind       string    `json:"kind"`
	Ext        string    `json:"ext"`
	Variant    string    `json:"variant"`
	Provenance string    `json:"provenance,omitempty"`
	Operation  string    `json:"operation,omitempty"`
	Ring       string    `json:"ring"`
	Path       string    `json:"path"`
	Actualized bool      `json:"actualized"`
	Title      string    `json:"title,omitempty"`
	Tags       []string  `json:"tags"`
	Checksum   string    `json:"checksum"`
	CreatedAt  time.Time `json:"created_at"`
}

// OperationRow is one row of the operations table plus its ordered bases.
type OperationRow struct {
	ID      string   `json:"id"`
	Kind    string   `json:"kind"`
	Attr    string   `json:"attr,omitempty"`
	Specter string   `json:"specter"`
	Ring    string   `json:"ring"`
	Base    []string `json:"base"`
}

// ChronologyRow is one registration event.
type ChronologyRow struct {
	Base string
	Time time.Time
}

// Filter narrows ListSpecters. Empty fields match everything.
type Filter struct {
	Ring    string
	Kind    string
	Variant string
	Tag     string
}

// SearchResult represents one search hit.
type SearchResult struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}
