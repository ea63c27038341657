package index

import (
	"fmt"
	"log/slog"

	"github.com/starford/scriptorium/internal/models"
	"github.com/starford/scriptorium/internal/parser"
)

// Reader reads document content from the store.
type Reader interface {
	Read(path string) ([]byte, error)
}

// Syncer keeps the index in step with the registry. It satisfies the
// registry's post-drain indexer hook.
type Syncer struct {
	db     *DB
	files  Reader
	logger *slog.Logger
}

// NewSyncer returns a Syncer writing to db. files may be nil, in which case
// only registry metadata is indexed.
func NewSyncer(db *DB, files Reader, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{db: db, files: files, logger: logger}
}

// SyncRegistry brings the index up to date with reg:
//   - new documents and documents whose checksum changed are re-read and upserted
//   - unchanged documents only have metadata and dependencies refreshed
//   - documents no longer registered are removed
func (s *Syncer) SyncRegistry(reg *models.Registry) error {
	indexed, err := s.db.AllChecksums()
	if err != nil {
		return err
	}

	live := make(map[string]struct{}, reg.DocumentCount)
	var failed int
	for _, bucket := range reg.Documents {
		for _, doc := range bucket {
			row := rowFor(doc)
			id := row.ID()
			live[id] = struct{}{}

			cs, known := indexed[id]
			if known && cs == doc.Checksum && doc.Checksum != "" {
				if err := s.db.SetDependencies(id, doc.Dependencies); err != nil {
					failed++
					s.logger.Warn("sync: dependencies failed", slog.String("id", id), slog.String("error", err.Error()))
				}
				continue
			}

			body := s.body(doc, &row)
			if err := s.db.UpsertDocument(row, body, doc.Dependencies); err != nil {
				failed++
				s.logger.Warn("sync: index failed", slog.String("id", id), slog.String("error", err.Error()))
				continue
			}
			s.logger.Debug("sync: indexed", slog.String("id", id))
		}
	}

	for id := range indexed {
		if _, ok := live[id]; ok {
			continue
		}
		if err := s.db.DeleteDocument(id); err != nil {
			failed++
			s.logger.Warn("sync: delete failed", slog.String("id", id), slog.String("error", err.Error()))
		} else {
			s.logger.Debug("sync: removed stale", slog.String("id", id))
		}
	}

	if failed > 0 {
		return fmt.Errorf("index: sync: %d documents failed", failed)
	}
	return nil
}

// body reads and parses the verbose file, filling tags on row. Unreadable
// files index metadata only.
func (s *Syncer) body(doc *models.Document, row *DocumentRow) string {
	if s.files == nil {
		return ""
	}
	data, err := s.files.Read(doc.Representations.Verbose)
	if err != nil {
		s.logger.Debug("sync: read failed", slog.String("path", doc.Representations.Verbose), slog.String("error", err.Error()))
		return ""
	}
	res, err := parser.Parse(data)
	if err != nil {
		return string(data)
	}
	row.Tags = res.Tags
	return res.Body
}

func rowFor(doc *models.Document) DocumentRow {
	return DocumentRow{
		Category:      doc.Category,
		Key:           doc.Key,
		Subcategory:   doc.Subcategory,
		VerbosePath:   doc.Representations.Verbose,
		CompactPath:   doc.Representations.Compact,
		Summary:       doc.Summary,
		OwningAgent:   doc.OwningAgent,
		Checksum:      doc.Checksum,
		VerboseTokens: doc.TokenCounts.Verbose,
		CompactTokens: doc.TokenCounts.Compact,
		ModifiedAt:    doc.ModifiedAt,
	}
}
