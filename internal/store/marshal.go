package store

import (
	"encoding/json"
	"fmt"

	"github.com/perchlabs/fieldtrial/experiment"
)

// CorruptError reports stored bytes that no longer decode. It marks the
// difference between state that is absent (zero values) and state that is
// present but unreadable.
type CorruptError struct {
	Key string
	Err error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("corrupt stored value for %s: %v", e.Key, e.Err)
}

func (e *CorruptError) Unwrap() error {
	return e.Err
}

// marshalCatalog converts an experiment list to JSON TEXT for a catalog
// slot.
func marshalCatalog(experiments []experiment.Experiment) (string, error) {
	data, err := json.Marshal(experiments)
	if err != nil {
		return "", fmt.Errorf("marshal catalog: %w", err)
	}
	return string(data), nil
}

// unmarshalCatalog parses a catalog slot payload back to an experiment
// list.
func unmarshalCatalog(slot, payload string) ([]experiment.Experiment, error) {
	var experiments []experiment.Experiment
	if err := json.Unmarshal([]byte(payload), &experiments); err != nil {
		return nil, &CorruptError{Key: "catalogs/" + slot, Err: err}
	}
	return experiments, nil
}

// marshalRecord converts an enrollment record to JSON TEXT for storage.
func marshalRecord(record experiment.EnrollmentRecord) (string, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("marshal record: %w", err)
	}
	return string(data), nil
}

// unmarshalRecord parses a stored enrollment row back to a record.
func unmarshalRecord(slug, payload string) (experiment.EnrollmentRecord, error) {
	var record experiment.EnrollmentRecord
	if err := json.Unmarshal([]byte(payload), &record); err != nil {
		return experiment.EnrollmentRecord{}, &CorruptError{Key: "enrollments/" + slug, Err: err}
	}
	return record, nil
}
