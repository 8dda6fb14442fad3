package experiment

// Status is the lifecycle state of an EnrollmentRecord. The persisted
// strings are a storage contract; renaming one is a migration.
type Status string

const (
	// StatusEnrolled means the device is actively assigned to a branch.
	StatusEnrolled Status = "enrolled"

	// StatusDisqualified means the device was enrolled and has since been
	// removed (opt-out, targeting change, or error) while the experiment
	// is still in the catalog. The enrollment identity is retained.
	StatusDisqualified Status = "disqualified"

	// StatusNotEnrolled means the device evaluated the experiment and was
	// not (or is no longer eligible to be) assigned.
	StatusNotEnrolled Status = "not-enrolled"

	// StatusWasEnrolled means the experiment left the catalog while the
	// device held an enrollment identity. The record is retained for audit
	// until garbage collection.
	StatusWasEnrolled Status = "was-enrolled"
)

// Reason codes recorded on EnrollmentRecords and echoed on ChangeEvents.
// Like Status values they are persisted, so they are part of the storage
// contract.
const (
	// ReasonQualified: enrolled by passing targeting and bucketing.
	ReasonQualified = "qualified"

	// ReasonOptIn: enrolled through the explicit developer opt-in flow.
	ReasonOptIn = "opt-in"

	// ReasonOptOut: excluded or disqualified by a global or per-experiment
	// opt-out.
	ReasonOptOut = "opt-out"

	// ReasonNotSelected: in the target population but outside the
	// experiment's bucket range.
	ReasonNotSelected = "not-selected"

	// ReasonNotTargeted: the targeting expression (or the application /
	// randomization-unit requirements) excluded this device.
	ReasonNotTargeted = "not-targeted"

	// ReasonEnrollmentsPaused: the experiment is not accepting new
	// enrollments.
	ReasonEnrollmentsPaused = "enrollments-paused"

	// ReasonError: evaluation failed; details go to the log, not the
	// record.
	ReasonError = "error"

	// ReasonTargeting: disqualified because the targeting expression no
	// longer matches.
	ReasonTargeting = "targeting"

	// ReasonNotInCatalog: unenrolled because the experiment disappeared
	// from the catalog.
	ReasonNotInCatalog = "experiment-not-in-catalog"
)

// EnrollmentRecord is the persisted per-experiment state for this device.
// Every experiment in the applied catalog has one, even when the device is
// not enrolled.
//
// EnrollmentID is generated once per continuous enrolled period and is
// preserved through Disqualified and WasEnrolled so audit events stay
// correlated. It changes only when the device newly enrolls after holding
// no active record.
type EnrollmentRecord struct {
	Slug         string `json:"slug"`
	Status       Status `json:"status"`
	Branch       string `json:"branch,omitempty"`
	EnrollmentID string `json:"enrollment_id,omitempty"`
	Reason       string `json:"reason,omitempty"`

	// EndedAt is the unix-seconds timestamp at which the experiment left
	// the catalog. Set only on was-enrolled records; drives garbage
	// collection.
	EndedAt int64 `json:"ended_at,omitempty"`
}

// NewEnrolled builds an enrolled record.
func NewEnrolled(slug, branch, enrollmentID, reason string) EnrollmentRecord {
	return EnrollmentRecord{
		Slug:         slug,
		Status:       StatusEnrolled,
		Branch:       branch,
		EnrollmentID: enrollmentID,
		Reason:       reason,
	}
}

// NewNotEnrolled builds a not-enrolled record.
func NewNotEnrolled(slug, reason string) EnrollmentRecord {
	return EnrollmentRecord{Slug: slug, Status: StatusNotEnrolled, Reason: reason}
}

// Disqualify returns the record moved to disqualified with the given
// reason, keeping branch and enrollment identity.
func (r EnrollmentRecord) Disqualify(reason string) EnrollmentRecord {
	r.Status = StatusDisqualified
	r.Reason = reason
	return r
}

// End returns the record moved to was-enrolled at the given unix-seconds
// timestamp, keeping branch and enrollment identity.
func (r EnrollmentRecord) End(endedAt int64) EnrollmentRecord {
	r.Status = StatusWasEnrolled
	r.Reason = ""
	r.EndedAt = endedAt
	return r
}

// IsEnrolled reports whether the record is actively enrolled.
func (r EnrollmentRecord) IsEnrolled() bool {
	return r.Status == StatusEnrolled
}

// IsActive reports whether the record carries a live enrollment identity,
// meaning the device is enrolled or disqualified-but-present.
func (r EnrollmentRecord) IsActive() bool {
	return r.Status == StatusEnrolled || r.Status == StatusDisqualified
}
