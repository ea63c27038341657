package index

// DocumentIndex is the query and mutation surface of the registry mirror.
type DocumentIndex interface {
	UpsertDocument(d DocumentRow, body string, deps []string) error
	DeleteDocument(id string) error
	AllChecksums() (map[string]string, error)
	Search(query string, limit int) ([]SearchResult, error)
	Dependents(key string) ([]string, error)
	Dependencies(id string) ([]string, error)
	Close() error
}

var _ DocumentIndex = (*DB)(nil)
