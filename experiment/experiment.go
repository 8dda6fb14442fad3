package experiment

// Experiment is one server-defined experiment as delivered in a catalog
// payload. Experiments are immutable once received and are replaced
// wholesale on each fetch/apply cycle; nothing in this module ever edits
// one in place.
type Experiment struct {
	// SchemaVersion is the payload schema version (semver). Only major
	// version 1 payloads are accepted; see internal/schema.
	SchemaVersion string `json:"schemaVersion"`

	// Slug uniquely identifies the experiment and keys its
	// EnrollmentRecord.
	Slug string `json:"slug"`

	// AppID restricts the experiment to a specific application when set.
	AppID string `json:"appId,omitempty"`

	// Channel restricts the experiment to a release channel when set.
	Channel string `json:"channel,omitempty"`

	UserFacingName        string `json:"userFacingName"`
	UserFacingDescription string `json:"userFacingDescription"`

	// IsEnrollmentPaused blocks new enrollments while true. Devices that
	// are already enrolled are unaffected.
	IsEnrollmentPaused bool `json:"isEnrollmentPaused"`

	// Targeting is an optional eligibility expression evaluated against
	// the device's targeting attributes. Empty means eligible.
	Targeting string `json:"targeting,omitempty"`

	// BucketConfig selects which slice of the population may enroll.
	BucketConfig BucketConfig `json:"bucketConfig"`

	// Branches lists the experiment's variants in server order. The order
	// is significant: branch assignment walks it accumulating ratios.
	Branches []Branch `json:"branches"`

	// ReferenceBranch names the control branch, when the server marks one.
	ReferenceBranch string `json:"referenceBranch,omitempty"`
}

// Branch is one variant of an experiment with a relative weight.
type Branch struct {
	Slug string `json:"slug"`

	// Ratio is the branch's relative weight. Ratios may be zero for
	// individual branches, but the sum across an experiment must be
	// positive.
	Ratio int `json:"ratio"`

	// Feature optionally ties the branch to a feature configuration.
	Feature *FeatureConfig `json:"feature,omitempty"`
}

// FeatureConfig gates a host-application feature on branch assignment.
type FeatureConfig struct {
	FeatureID string `json:"featureId"`
	Enabled   bool   `json:"enabled"`
}

// BucketConfig describes the population slice an experiment addresses.
// A device is in the slice when its bucket point, computed from the named
// randomization unit, falls in [Start, Start+Count) of Total buckets.
type BucketConfig struct {
	// RandomizationUnit names the device identifier to bucket on
	// (a key into the client's RandomizationUnits map).
	RandomizationUnit string `json:"randomizationUnit"`

	// Namespace salts the bucket point so unrelated experiments sharing a
	// randomization unit get independent assignments.
	Namespace string `json:"namespace"`

	Start int `json:"start"`
	Count int `json:"count"`
	Total int `json:"total"`
}

// HasBranch reports whether the experiment defines a branch with the slug.
func (e *Experiment) HasBranch(slug string) bool {
	return e.FindBranch(slug) != nil
}

// FindBranch returns the branch with the slug, or nil.
func (e *Experiment) FindBranch(slug string) *Branch {
	for i := range e.Branches {
		if e.Branches[i].Slug == slug {
			return &e.Branches[i]
		}
	}
	return nil
}

// AppliesTo reports whether the experiment addresses the given application
// identity. Unset AppID/Channel fields on the experiment match anything.
func (e *Experiment) AppliesTo(ctx *AppContext) bool {
	if e.AppID != "" && e.AppID != ctx.AppID {
		return false
	}
	if e.Channel != "" && e.Channel != ctx.Channel {
		return false
	}
	return true
}

// EnrolledExperiment is the read-model row returned for each active
// enrollment. It joins the persisted record with the applied catalog entry
// it belongs to.
type EnrolledExperiment struct {
	Slug                  string   `json:"slug"`
	UserFacingName        string   `json:"user_facing_name"`
	UserFacingDescription string   `json:"user_facing_description"`
	BranchSlug            string   `json:"branch_slug"`
	EnrollmentID          string   `json:"enrollment_id"`
	FeatureIDs            []string `json:"feature_ids,omitempty"`
}
