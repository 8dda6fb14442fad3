package store

import (
	"path/filepath"
	"testing"

	"github.com/perchlabs/fieldtrial/experiment"
)

// createTestStore creates a store backed by a temp file for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestExperiment creates an experiment with minimal required fields.
func createTestExperiment(slug string) experiment.Experiment {
	return experiment.Experiment{
		SchemaVersion: "1.0.0",
		Slug:          slug,
		BucketConfig: experiment.BucketConfig{
			RandomizationUnit: "client_id",
			Namespace:         slug,
			Start:             0,
			Count:             10000,
			Total:             10000,
		},
		Branches: []experiment.Branch{
			{Slug: "control", Ratio: 1},
			{Slug: "treatment", Ratio: 1},
		},
		ReferenceBranch: "control",
	}
}

// createTestRecord creates an enrolled record for a slug.
func createTestRecord(slug, branch string) experiment.EnrollmentRecord {
	return experiment.EnrollmentRecord{
		Slug:         slug,
		Status:       experiment.StatusEnrolled,
		Branch:       branch,
		EnrollmentID: "e-" + slug,
		Reason:       experiment.ReasonQualified,
	}
}
