package catalog

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/starford/mioring/internal/checksum"
	"github.com/starford/mioring/internal/parser"
	"github.com/starford/mioring/internal/ring"
)

// Sync brings the catalog up to date with both rings of m:
//   - new or changed specters are upserted, text content parsed for metadata
//   - specters and operations no longer held by either ring are deleted
//   - the chronology table is rewritten
func Sync(db Catalog, m *ring.Mio, logger *slog.Logger) error {
	checksums, err := db.AllChecksums()
	if err != nil {
		return err
	}
	ops, err := db.AllOperations()
	if err != nil {
		return err
	}

	seen := make(map[string]struct{}, m.Ring.Len()+m.Archived.Len())
	seenOps := make(map[string]struct{}, len(m.Ring.Operations)+len(m.Archived.Operations))
	for _, rr := range []struct {
		name string
		r    *ring.Ring
	}{{RingLive, m.Ring}, {RingArchived, m.Archived}} {
		for _, e := range rr.r.Entities {
			row := SpecterRow{
				Variant:    VariantEntity,
				Provenance: string(e.Body.Provenance),
			}
			syncSpecter(db, m, e, row, rr.name, checksums, seen, logger)
		}
		for _, s := range rr.r.Specters {
			row := SpecterRow{
				Variant:   VariantPhantom,
				Operation: s.Body.Operation.Stem(),
			}
			syncSpecter(db, m, s, row, rr.name, checksums, seen, logger)
		}
		for id, op := range rr.r.Operations {
			seenOps[id.Stem()] = struct{}{}
			if err := db.UpsertOperation(operationRow(op, rr.name)); err != nil {
				logger.Warn("sync: operation upsert failed", slog.String("id", id.Stem()), slog.String("error", err.Error()))
			}
		}
	}

	for id := range checksums {
		if _, ok := seen[id]; ok {
			continue
		}
		if err := db.DeleteSpecter(id); err != nil {
			logger.Warn("sync: delete failed", slog.String("id", id), slog.String("error", err.Error()))
		} else {
			logger.Debug("sync: removed stale", slog.String("id", id))
		}
	}
	for id := range ops {
		if _, ok := seenOps[id]; ok {
			continue
		}
		if err := db.DeleteOperation(id); err != nil {
			logger.Warn("sync: operation delete failed", slog.String("id", id), slog.String("error", err.Error()))
		}
	}

	chron := make([]ChronologyRow, 0, len(m.Chronology))
	for _, e := range m.Chronology {
		chron = append(chron, ChronologyRow{Base: e.Base.Stem(), Time: e.Time})
	}
	return db.ReplaceChronology(chron)
}

func syncSpecter(db Catalog, m *ring.Mio, node ring.Specterish, row SpecterRow, ringName string,
	checksums map[string]string, seen map[string]struct{}, logger *slog.Logger,
) {
	id := node.Identifier()
	row.ID = id.Stem()
	row.Ord = id.Ord
	row.Kind = string(node.Kind())
	row.Ext = string(node.Extension())
	row.Ring = ringName
	row.CreatedAt = id.Time()
	seen[row.ID] = struct{}{}

	dirs := m.Dirs()
	path, err := node.Locate(dirs)
	if err != nil {
		logger.Warn("sync: locate failed", slog.String("id", row.ID), slog.String("error", err.Error()))
		return
	}
	row.Path = path
	row.Actualized = node.Exists(dirs)

	var (
		body    string
		urls    []string
		content string
	)
	if row.Actualized {
		if node.Kind() == ring.KindText {
			data, err := node.Read(dirs)
			if err != nil {
				logger.Warn("sync: read failed", slog.String("id", row.ID), slog.String("error", err.Error()))
				return
			}
			content = checksum.Sum(data)
			res, _ := parser.Parse(data)
			row.Title, row.Tags, body, urls = res.Title, res.Tags, res.Body, res.URLs
		} else if content, err = checksum.SumFile(path); err != nil {
			logger.Warn("sync: checksum failed", slog.String("id", row.ID), slog.String("error", err.Error()))
			return
		}
	}
	row.Checksum = fingerprint(row, content)
	if checksums[row.ID] == row.Checksum {
		return
	}

	if err := db.UpsertSpecter(row, body, urls); err != nil {
		logger.Warn("sync: upsert failed", slog.String("id", row.ID), slog.String("error", err.Error()))
		return
	}
	logger.Debug("sync: indexed", slog.String("id", row.ID), slog.String("ring", ringName))
}

// fingerprint covers the mutable parts of a row so that unchanged specters
// are skipped without rewriting them.
func fingerprint(r SpecterRow, content string) string {
	return checksum.Sum([]byte(strings.Join([]string{
		r.Ext, r.Variant, r.Provenance, r.Operation, r.Ring,
		strconv.FormatBool(r.Actualized), content,
	}, "|")))
}

func operationRow(op *ring.Operation, ringName string) OperationRow {
	base := make([]string, 0, len(op.Base))
	for _, b := range op.Base {
		base = append(base, b.Stem())
	}
	return OperationRow{
		ID:      op.ID.Stem(),
		Kind:    op.Kind.String(),
		Attr:    string(op.Attr),
		Specter: op.Specter.Stem(),
		Ring:    ringName,
		Base:    base,
	}
}
