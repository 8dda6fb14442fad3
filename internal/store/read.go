package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/perchlabs/fieldtrial/experiment"
)

// Catalog slots. The applied slot holds the experiment list the current
// enrollment state was computed from; the pending slot holds a fetched
// list that has not been applied yet.
const (
	slotApplied = "applied"
	slotPending = "pending"
)

const metaKeyParticipation = "user-participation"

// ReadParticipation returns the global participation flag. A database
// that has never recorded a choice reports true.
func (s *Store) ReadParticipation(ctx context.Context) (bool, error) {
	db, err := s.handle()
	if err != nil {
		return false, err
	}

	var value string
	err = db.QueryRowContext(ctx, `
		SELECT value FROM meta WHERE key = ?
	`, metaKeyParticipation).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("query participation: %w", err)
	}

	switch value {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, &CorruptError{Key: "meta/" + metaKeyParticipation, Err: fmt.Errorf("unexpected value %q", value)}
	}
}

// ReadAppliedCatalog returns the experiment list the current enrollment
// state was computed from. Returns an empty slice if nothing has been
// applied yet.
func (s *Store) ReadAppliedCatalog(ctx context.Context) ([]experiment.Experiment, error) {
	experiments, _, err := s.readCatalog(ctx, slotApplied)
	return experiments, err
}

// ReadPendingCatalog returns the fetched-but-not-applied experiment list.
// present reports whether the slot holds a catalog at all; an empty
// fetched list is distinct from no fetch.
func (s *Store) ReadPendingCatalog(ctx context.Context) (experiments []experiment.Experiment, present bool, err error) {
	return s.readCatalog(ctx, slotPending)
}

func (s *Store) readCatalog(ctx context.Context, slot string) ([]experiment.Experiment, bool, error) {
	db, err := s.handle()
	if err != nil {
		return nil, false, err
	}

	var payload string
	err = db.QueryRowContext(ctx, `
		SELECT payload FROM catalogs WHERE slot = ?
	`, slot).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return []experiment.Experiment{}, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query %s catalog: %w", slot, err)
	}

	experiments, err := unmarshalCatalog(slot, payload)
	if err != nil {
		return nil, false, err
	}
	if experiments == nil {
		experiments = []experiment.Experiment{}
	}
	return experiments, true, nil
}

// ReadEnrollments returns every stored enrollment record keyed by
// experiment slug. Returns an empty map if none exist.
func (s *Store) ReadEnrollments(ctx context.Context) (map[string]experiment.EnrollmentRecord, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT slug, record FROM enrollments
	`)
	if err != nil {
		return nil, fmt.Errorf("query enrollments: %w", err)
	}
	defer rows.Close()

	records := make(map[string]experiment.EnrollmentRecord)
	for rows.Next() {
		var slug, payload string
		if err := rows.Scan(&slug, &payload); err != nil {
			return nil, fmt.Errorf("scan enrollment: %w", err)
		}
		record, err := unmarshalRecord(slug, payload)
		if err != nil {
			return nil, err
		}
		records[slug] = record
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate enrollments: %w", err)
	}

	return records, nil
}
