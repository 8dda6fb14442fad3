package experiment

// ChangeKind classifies an enrollment-state transition.
type ChangeKind string

const (
	ChangeEnrollment       ChangeKind = "enrollment"
	ChangeDisqualification ChangeKind = "disqualification"
	ChangeUnenrollment     ChangeKind = "unenrollment"
)

// ChangeEvent is one audit-trail entry describing an enrollment-state
// transition. Events are returned to the caller for telemetry forwarding
// and are never persisted; the store keeps records, not history.
type ChangeEvent struct {
	ExperimentSlug string     `json:"experiment_slug"`
	BranchSlug     string     `json:"branch_slug"`
	EnrollmentID   string     `json:"enrollment_id"`
	Reason         string     `json:"reason,omitempty"`
	Change         ChangeKind `json:"change"`
}

// ChangeEvent returns the audit event describing the transition that
// produced this record, if the record's status is one that transitions emit
// events for. Not-enrolled records never produce events.
func (r EnrollmentRecord) ChangeEvent() (ChangeEvent, bool) {
	switch r.Status {
	case StatusEnrolled:
		return ChangeEvent{
			ExperimentSlug: r.Slug,
			BranchSlug:     r.Branch,
			EnrollmentID:   r.EnrollmentID,
			Change:         ChangeEnrollment,
		}, true
	case StatusDisqualified:
		return ChangeEvent{
			ExperimentSlug: r.Slug,
			BranchSlug:     r.Branch,
			EnrollmentID:   r.EnrollmentID,
			Reason:         r.Reason,
			Change:         ChangeDisqualification,
		}, true
	case StatusWasEnrolled:
		return ChangeEvent{
			ExperimentSlug: r.Slug,
			BranchSlug:     r.Branch,
			EnrollmentID:   r.EnrollmentID,
			Reason:         ReasonNotInCatalog,
			Change:         ChangeUnenrollment,
		}, true
	default:
		return ChangeEvent{}, false
	}
}
