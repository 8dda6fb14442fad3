package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/perchlabs/fieldtrial/experiment"
)

// WriteParticipation records the global participation flag.
func (s *Store) WriteParticipation(ctx context.Context, participating bool) error {
	db, err := s.handle()
	if err != nil {
		return err
	}

	value := "false"
	if participating {
		value = "true"
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO meta (key, value)
		VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, metaKeyParticipation, value)
	if err != nil {
		return fmt.Errorf("write participation: %w", err)
	}

	return nil
}

// WritePendingCatalog stores a fetched experiment list in the pending
// slot, replacing whatever was fetched before. The applied slot and the
// enrollment records are untouched until CommitApplied.
func (s *Store) WritePendingCatalog(ctx context.Context, experiments []experiment.Experiment) error {
	db, err := s.handle()
	if err != nil {
		return err
	}

	payload, err := marshalCatalog(experiments)
	if err != nil {
		return fmt.Errorf("write pending catalog: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO catalogs (slot, payload)
		VALUES (?, ?)
		ON CONFLICT(slot) DO UPDATE SET payload = excluded.payload, updated_at = unixepoch()
	`, slotPending, payload)
	if err != nil {
		return fmt.Errorf("write pending catalog: %w", err)
	}

	return nil
}

// WriteEnrollment upserts a single enrollment record. Used for targeted
// updates (opt-in, opt-out) that touch one experiment without recomputing
// the rest.
func (s *Store) WriteEnrollment(ctx context.Context, record experiment.EnrollmentRecord) error {
	db, err := s.handle()
	if err != nil {
		return err
	}

	payload, err := marshalRecord(record)
	if err != nil {
		return fmt.Errorf("write enrollment: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO enrollments (slug, record)
		VALUES (?, ?)
		ON CONFLICT(slug) DO UPDATE SET record = excluded.record
	`, record.Slug, payload)
	if err != nil {
		return fmt.Errorf("write enrollment: %w", err)
	}

	return nil
}

// CommitApplied atomically records the outcome of applying a catalog: the
// applied slot takes the new experiment list, the pending slot is
// cleared, and the enrollment records are replaced wholesale. A crash
// leaves either the previous snapshot or this one.
func (s *Store) CommitApplied(ctx context.Context, experiments []experiment.Experiment, records map[string]experiment.EnrollmentRecord) error {
	db, err := s.handle()
	if err != nil {
		return err
	}

	payload, err := marshalCatalog(experiments)
	if err != nil {
		return fmt.Errorf("commit applied: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("commit applied: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	_, err = tx.ExecContext(ctx, `
		INSERT INTO catalogs (slot, payload)
		VALUES (?, ?)
		ON CONFLICT(slot) DO UPDATE SET payload = excluded.payload, updated_at = unixepoch()
	`, slotApplied, payload)
	if err != nil {
		return fmt.Errorf("commit applied: write catalog: %w", err)
	}

	// Applying consumes the pending catalog
	_, err = tx.ExecContext(ctx, `
		DELETE FROM catalogs WHERE slot = ?
	`, slotPending)
	if err != nil {
		return fmt.Errorf("commit applied: clear pending: %w", err)
	}

	if err := replaceEnrollments(ctx, tx, records); err != nil {
		return fmt.Errorf("commit applied: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit applied: commit: %w", err)
	}

	return nil
}

// CommitParticipation atomically records a participation change together
// with the enrollment records it produced.
func (s *Store) CommitParticipation(ctx context.Context, participating bool, records map[string]experiment.EnrollmentRecord) error {
	db, err := s.handle()
	if err != nil {
		return err
	}

	value := "false"
	if participating {
		value = "true"
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("commit participation: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	_, err = tx.ExecContext(ctx, `
		INSERT INTO meta (key, value)
		VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, metaKeyParticipation, value)
	if err != nil {
		return fmt.Errorf("commit participation: write flag: %w", err)
	}

	if err := replaceEnrollments(ctx, tx, records); err != nil {
		return fmt.Errorf("commit participation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit participation: commit: %w", err)
	}

	return nil
}

// replaceEnrollments swaps the full enrollment table for records within
// an open transaction.
func replaceEnrollments(ctx context.Context, tx *sql.Tx, records map[string]experiment.EnrollmentRecord) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM enrollments`); err != nil {
		return fmt.Errorf("clear enrollments: %w", err)
	}

	for slug, record := range records {
		payload, err := marshalRecord(record)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", slug, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO enrollments (slug, record)
			VALUES (?, ?)
		`, slug, payload)
		if err != nil {
			return fmt.Errorf("insert %s: %w", slug, err)
		}
	}

	return nil
}
