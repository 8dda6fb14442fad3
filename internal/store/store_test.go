package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/perchlabs/fieldtrial/experiment"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	// Verify file was created
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_OpensExistingDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	// Create database
	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open() failed: %v", err)
	}
	s1.Close()

	// Reopen database
	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open() failed: %v", err)
	}
	defer s2.Close()

	// Verify we can query it
	var count int
	err = s2.db.QueryRow("SELECT COUNT(*) FROM enrollments").Scan(&count)
	if err != nil {
		t.Errorf("query failed: %v", err)
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	// Open multiple times
	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	// Final open should work
	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	// Verify schema is intact
	tables := []string{"meta", "catalogs", "enrollments"}
	for _, table := range tables {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	// Try to open in non-existent directory
	path := "/nonexistent/dir/test.db"

	_, err := Open(path)
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestOpen_NewerSchemaVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if _, err := s.db.Exec("PRAGMA user_version = 99"); err != nil {
		t.Fatalf("failed to bump user_version: %v", err)
	}
	s.Close()

	_, err = Open(path)
	if err == nil {
		t.Fatal("expected error opening newer-schema database, got nil")
	}
	var verr *SchemaVersionError
	if !errors.As(err, &verr) {
		t.Fatalf("expected SchemaVersionError, got %v", err)
	}
	if verr.Version != 99 || verr.Supported != currentSchemaVersion {
		t.Errorf("SchemaVersionError = %+v, want version 99 supported %d", verr, currentSchemaVersion)
	}
}

func TestClose_OperationsReturnNotReady(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if err := s.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	// Second close is a no-op
	if err := s.Close(); err != nil {
		t.Errorf("second Close() failed: %v", err)
	}

	if _, err := s.ReadParticipation(ctx); !errors.Is(err, ErrNotReady) {
		t.Errorf("ReadParticipation after Close = %v, want ErrNotReady", err)
	}
	if _, err := s.ReadAppliedCatalog(ctx); !errors.Is(err, ErrNotReady) {
		t.Errorf("ReadAppliedCatalog after Close = %v, want ErrNotReady", err)
	}
	if _, err := s.ReadEnrollments(ctx); !errors.Is(err, ErrNotReady) {
		t.Errorf("ReadEnrollments after Close = %v, want ErrNotReady", err)
	}
	if err := s.WriteParticipation(ctx, false); !errors.Is(err, ErrNotReady) {
		t.Errorf("WriteParticipation after Close = %v, want ErrNotReady", err)
	}
	if err := s.CommitApplied(ctx, nil, nil); !errors.Is(err, ErrNotReady) {
		t.Errorf("CommitApplied after Close = %v, want ErrNotReady", err)
	}
}

func TestReadParticipation_DefaultsTrue(t *testing.T) {
	s := createTestStore(t)

	participating, err := s.ReadParticipation(context.Background())
	if err != nil {
		t.Fatalf("ReadParticipation() failed: %v", err)
	}
	if !participating {
		t.Error("fresh database should default to participating")
	}
}

func TestParticipation_Roundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	if err := s.WriteParticipation(ctx, false); err != nil {
		t.Fatalf("WriteParticipation(false) failed: %v", err)
	}
	participating, err := s.ReadParticipation(ctx)
	if err != nil {
		t.Fatalf("ReadParticipation() failed: %v", err)
	}
	if participating {
		t.Error("expected participation false after write")
	}
	s.Close()

	// Survives reopen
	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()

	participating, err = s.ReadParticipation(ctx)
	if err != nil {
		t.Fatalf("ReadParticipation() after reopen failed: %v", err)
	}
	if participating {
		t.Error("participation flag did not survive reopen")
	}

	if err := s.WriteParticipation(ctx, true); err != nil {
		t.Fatalf("WriteParticipation(true) failed: %v", err)
	}
	participating, err = s.ReadParticipation(ctx)
	if err != nil {
		t.Fatalf("ReadParticipation() failed: %v", err)
	}
	if !participating {
		t.Error("expected participation true after write")
	}
}

func TestReadAppliedCatalog_EmptyWhenAbsent(t *testing.T) {
	s := createTestStore(t)

	experiments, err := s.ReadAppliedCatalog(context.Background())
	if err != nil {
		t.Fatalf("ReadAppliedCatalog() failed: %v", err)
	}
	if experiments == nil {
		t.Error("expected empty slice, got nil")
	}
	if len(experiments) != 0 {
		t.Errorf("expected no experiments, got %d", len(experiments))
	}
}

func TestReadPendingCatalog_AbsentVersusEmpty(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	// Absent: nothing fetched yet
	_, present, err := s.ReadPendingCatalog(ctx)
	if err != nil {
		t.Fatalf("ReadPendingCatalog() failed: %v", err)
	}
	if present {
		t.Error("fresh database should have no pending catalog")
	}

	// An empty fetched list is still a fetch
	if err := s.WritePendingCatalog(ctx, []experiment.Experiment{}); err != nil {
		t.Fatalf("WritePendingCatalog() failed: %v", err)
	}
	experiments, present, err := s.ReadPendingCatalog(ctx)
	if err != nil {
		t.Fatalf("ReadPendingCatalog() failed: %v", err)
	}
	if !present {
		t.Error("pending catalog should be present after write")
	}
	if len(experiments) != 0 {
		t.Errorf("expected empty pending catalog, got %d experiments", len(experiments))
	}
}

func TestWritePendingCatalog_ReplacesPrevious(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	first := []experiment.Experiment{createTestExperiment("exp-one")}
	second := []experiment.Experiment{createTestExperiment("exp-two"), createTestExperiment("exp-three")}

	if err := s.WritePendingCatalog(ctx, first); err != nil {
		t.Fatalf("first WritePendingCatalog() failed: %v", err)
	}
	if err := s.WritePendingCatalog(ctx, second); err != nil {
		t.Fatalf("second WritePendingCatalog() failed: %v", err)
	}

	experiments, present, err := s.ReadPendingCatalog(ctx)
	if err != nil {
		t.Fatalf("ReadPendingCatalog() failed: %v", err)
	}
	if !present {
		t.Fatal("pending catalog should be present")
	}
	if len(experiments) != 2 {
		t.Fatalf("expected 2 experiments, got %d", len(experiments))
	}
	if experiments[0].Slug != "exp-two" || experiments[1].Slug != "exp-three" {
		t.Errorf("unexpected slugs %q, %q", experiments[0].Slug, experiments[1].Slug)
	}
}

func TestWriteEnrollment_Upsert(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	record := createTestRecord("exp-upsert", "control")
	if err := s.WriteEnrollment(ctx, record); err != nil {
		t.Fatalf("WriteEnrollment() failed: %v", err)
	}

	// Overwrite with a disqualification
	record = record.Disqualify(experiment.ReasonOptOut)
	if err := s.WriteEnrollment(ctx, record); err != nil {
		t.Fatalf("WriteEnrollment() overwrite failed: %v", err)
	}

	records, err := s.ReadEnrollments(ctx)
	if err != nil {
		t.Fatalf("ReadEnrollments() failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	got := records["exp-upsert"]
	if got.Status != experiment.StatusDisqualified {
		t.Errorf("status = %q, want %q", got.Status, experiment.StatusDisqualified)
	}
	if got.Reason != experiment.ReasonOptOut {
		t.Errorf("reason = %q, want %q", got.Reason, experiment.ReasonOptOut)
	}
	if got.EnrollmentID != record.EnrollmentID {
		t.Errorf("enrollment id changed across upsert: %q != %q", got.EnrollmentID, record.EnrollmentID)
	}
}

func TestCommitApplied_ReplacesSnapshot(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	// Seed state that the commit must replace
	if err := s.WritePendingCatalog(ctx, []experiment.Experiment{createTestExperiment("exp-pending")}); err != nil {
		t.Fatalf("WritePendingCatalog() failed: %v", err)
	}
	if err := s.WriteEnrollment(ctx, createTestRecord("exp-stale", "control")); err != nil {
		t.Fatalf("WriteEnrollment() failed: %v", err)
	}

	applied := []experiment.Experiment{createTestExperiment("exp-live")}
	records := map[string]experiment.EnrollmentRecord{
		"exp-live": createTestRecord("exp-live", "treatment"),
	}
	if err := s.CommitApplied(ctx, applied, records); err != nil {
		t.Fatalf("CommitApplied() failed: %v", err)
	}

	// Applied slot holds the new catalog
	gotApplied, err := s.ReadAppliedCatalog(ctx)
	if err != nil {
		t.Fatalf("ReadAppliedCatalog() failed: %v", err)
	}
	if len(gotApplied) != 1 || gotApplied[0].Slug != "exp-live" {
		t.Errorf("applied catalog = %+v, want single exp-live", gotApplied)
	}

	// Applying consumed the pending slot
	_, present, err := s.ReadPendingCatalog(ctx)
	if err != nil {
		t.Fatalf("ReadPendingCatalog() failed: %v", err)
	}
	if present {
		t.Error("pending catalog should be cleared by CommitApplied")
	}

	// Old records are gone, new ones are in
	gotRecords, err := s.ReadEnrollments(ctx)
	if err != nil {
		t.Fatalf("ReadEnrollments() failed: %v", err)
	}
	if len(gotRecords) != 1 {
		t.Fatalf("expected 1 record, got %d", len(gotRecords))
	}
	if _, ok := gotRecords["exp-stale"]; ok {
		t.Error("stale record survived CommitApplied")
	}
	if got := gotRecords["exp-live"]; got.Branch != "treatment" {
		t.Errorf("branch = %q, want treatment", got.Branch)
	}
}

func TestCommitParticipation_FlagAndRecordsTogether(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if err := s.WriteEnrollment(ctx, createTestRecord("exp-active", "control")); err != nil {
		t.Fatalf("WriteEnrollment() failed: %v", err)
	}

	disqualified := createTestRecord("exp-active", "control").Disqualify(experiment.ReasonOptOut)
	records := map[string]experiment.EnrollmentRecord{"exp-active": disqualified}
	if err := s.CommitParticipation(ctx, false, records); err != nil {
		t.Fatalf("CommitParticipation() failed: %v", err)
	}

	participating, err := s.ReadParticipation(ctx)
	if err != nil {
		t.Fatalf("ReadParticipation() failed: %v", err)
	}
	if participating {
		t.Error("participation flag should be false after commit")
	}

	gotRecords, err := s.ReadEnrollments(ctx)
	if err != nil {
		t.Fatalf("ReadEnrollments() failed: %v", err)
	}
	if got := gotRecords["exp-active"]; got.Status != experiment.StatusDisqualified {
		t.Errorf("status = %q, want %q", got.Status, experiment.StatusDisqualified)
	}
}

func TestReadEnrollments_CorruptRecord(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.db.Exec(`INSERT INTO enrollments (slug, record) VALUES ('exp-bad', 'not json')`)
	if err != nil {
		t.Fatalf("failed to seed corrupt row: %v", err)
	}

	_, err = s.ReadEnrollments(ctx)
	var cerr *CorruptError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected CorruptError, got %v", err)
	}
	if cerr.Key != "enrollments/exp-bad" {
		t.Errorf("CorruptError.Key = %q, want enrollments/exp-bad", cerr.Key)
	}
}

func TestReadParticipation_CorruptValue(t *testing.T) {
	s := createTestStore(t)

	_, err := s.db.Exec(`INSERT INTO meta (key, value) VALUES (?, 'maybe')`, metaKeyParticipation)
	if err != nil {
		t.Fatalf("failed to seed corrupt flag: %v", err)
	}

	_, err = s.ReadParticipation(context.Background())
	var cerr *CorruptError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected CorruptError, got %v", err)
	}
}

func TestReadPendingCatalog_CorruptPayload(t *testing.T) {
	s := createTestStore(t)

	_, err := s.db.Exec(`INSERT INTO catalogs (slot, payload) VALUES ('pending', '{broken')`)
	if err != nil {
		t.Fatalf("failed to seed corrupt catalog: %v", err)
	}

	_, _, err = s.ReadPendingCatalog(context.Background())
	var cerr *CorruptError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected CorruptError, got %v", err)
	}
	if cerr.Key != "catalogs/pending" {
		t.Errorf("CorruptError.Key = %q, want catalogs/pending", cerr.Key)
	}
}
